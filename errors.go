package rxfer

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyCompleted is returned by any operation on a completed transfer.
	ErrAlreadyCompleted = errors.New("rxfer: transfer already completed")
	// ErrAlreadySuspended is returned by Suspend on a suspended transfer.
	ErrAlreadySuspended = errors.New("rxfer: transfer already suspended")
	// ErrAlreadyTerminated is returned by any operation on a terminated transfer.
	ErrAlreadyTerminated = errors.New("rxfer: transfer already terminated")
	// ErrNotStarted is returned by Suspend and Terminate before the transfer ran.
	ErrNotStarted = errors.New("rxfer: transfer not started")
	// ErrLocalSourceInvalid is matched by every *LocalSourceError.
	ErrLocalSourceInvalid = errors.New("rxfer: local source invalid")
	// ErrResourceModified means the remote resource changed since the transfer
	// began. The persisted state is discarded, the transfer must start over.
	ErrResourceModified = errors.New("rxfer: remote resource modified during transfer")
	// ErrIntegrityViolation means the bytes already transferred no longer
	// match the persisted integrity token. The persisted state is discarded.
	ErrIntegrityViolation = errors.New("rxfer: integrity of transferred bytes not assured")
	// ErrRangeNotSatisfiable means the backend rejected a byte range.
	ErrRangeNotSatisfiable = errors.New("rxfer: range not satisfiable")
	// ErrDuplicateInProgress means another transfer of the same resource,
	// direction and local path is running.
	ErrDuplicateInProgress = errors.New("rxfer: duplicate transfer in progress")
	// ErrOwnershipViolation means no identity is active, or the state belongs
	// to another identity.
	ErrOwnershipViolation = errors.New("rxfer: ownership violation")
	// ErrTransientTransport wraps retryable backend failures. The persisted
	// state stays valid, calling Transfer again resumes.
	ErrTransientTransport = errors.New("rxfer: transient transport failure")
	// ErrTransferSuspended is returned by Transfer when it stopped on a
	// suspend request.
	ErrTransferSuspended = errors.New("rxfer: transfer suspended")
	// ErrTransferTerminated is returned by Transfer when it stopped on a
	// terminate request.
	ErrTransferTerminated = errors.New("rxfer: transfer terminated")
)

// LocalSourceReason tells why a local file cannot take part in a transfer.
type LocalSourceReason int

const (
	ReasonInvalidPath LocalSourceReason = iota + 1
	ReasonNotExist
	ReasonDirectory
	ReasonZeroSize
	ReasonNotWritable
	ReasonRuleViolation
)

var localSourceReasons = map[LocalSourceReason]string{
	ReasonInvalidPath:   "invalid path",
	ReasonNotExist:      "file does not exist",
	ReasonDirectory:     "path is a directory",
	ReasonZeroSize:      "file is empty",
	ReasonNotWritable:   "destination not writable",
	ReasonRuleViolation: "file rule violation",
}

func (r LocalSourceReason) String() string {
	if s, ok := localSourceReasons[r]; ok {
		return s
	}
	return fmt.Sprintf("LocalSourceReason(%d)", int(r))
}

// LocalSourceError describes an unusable local file.
type LocalSourceError struct {
	Path   string
	Reason LocalSourceReason
	Err    error
}

func (e *LocalSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rxfer: local source %q: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("rxfer: local source %q: %s", e.Path, e.Reason)
}

func (e *LocalSourceError) Unwrap() error {
	return e.Err
}

func (e *LocalSourceError) Is(target error) bool {
	return target == ErrLocalSourceInvalid
}

func localSourceError(path string, reason LocalSourceReason, err error) error {
	return &LocalSourceError{Path: path, Reason: reason, Err: err}
}

// discardsState reports whether err invalidated the persisted state.
func discardsState(err error) bool {
	return errors.Is(err, ErrResourceModified) || errors.Is(err, ErrIntegrityViolation)
}
