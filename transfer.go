package rxfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/derektruong/rxfer/internal/integrity"
	"github.com/derektruong/rxfer/remote"
	"github.com/derektruong/rxfer/state"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// side is the direction specific half of a transfer.
type side interface {
	// open checks the local file and opens it for the run. size is the
	// current length of the file. file is nil when a download destination
	// does not exist yet.
	open() (file afero.File, size int64, err error)

	// moveChunk transfers chunk between file and the endpoint and returns
	// the bytes of the chunk.
	moveChunk(ctx context.Context, file afero.File, chunk remote.Chunk) (data []byte, err error)

	// finish completes the transfer once every chunk is committed.
	finish(ctx context.Context, file afero.File, total uint64) (err error)
}

// creator is implemented by the sides writing to the local file.
type creator interface {
	// create creates the local file, truncating it if it exists.
	create() (file afero.File, err error)
}

// transfer is the chunk engine shared by Uploader and Downloader.
type transfer struct {
	logger logr.Logger
	client *Client
	side   side
	key    state.Key

	mu                 sync.Mutex
	phase              Phase
	info               Info
	suspendRequested   bool
	terminateRequested bool
}

func newTransfer(c *Client, key state.Key, s side) *transfer {
	return &transfer{
		logger: c.logger.WithName(key.Direction.String()).WithValues(
			"resourceRef", key.ResourceRef,
			"localPath", key.LocalPath,
		),
		client: c,
		side:   s,
		key:    key,
		phase:  PhaseCreated,
		info: Info{
			TotalBytes: state.SizeUnknown,
			Status:     state.StatusNoEntry,
			Phase:      PhaseCreated,
		},
	}
}

// bind loads the persisted state of the transfer, if any, so that Info
// reflects it before the first run.
func (t *transfer) bind(ctx context.Context) (err error) {
	var (
		st    state.TransferState
		found bool
	)
	if st, found, err = t.load(ctx); err != nil || !found {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if st.Status == state.StatusSuspended {
		t.phase = PhaseSuspended
	}
	t.info = infoOf(st, t.phase)
	return
}

// Info returns the last progress snapshot. It never blocks on I/O.
func (t *transfer) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// LocalPath returns the local file of the transfer. For uploads of an
// in-memory body it is the spooled copy of the body.
func (t *transfer) LocalPath() string {
	return t.key.LocalPath
}

// ResourceRef returns the remote resource of the transfer.
func (t *transfer) ResourceRef() string {
	return t.key.ResourceRef
}

// Transfer starts or resumes the transfer and blocks until it completes,
// fails, or stops at a chunk boundary on a Suspend or Terminate request.
// progress, if not nil, receives a snapshot after every committed chunk.
//
// Returns:
//   - info: the last snapshot
//   - err: nil once completed, ErrTransferSuspended or ErrTransferTerminated
//     when stopped on request, otherwise the failure
func (t *transfer) Transfer(ctx context.Context, progress ProgressFunc) (info Info, err error) {
	if err = t.begin(); err != nil {
		info = t.Info()
		return
	}
	return t.execute(ctx, progress)
}

// TransferAsync moves the transfer to PhaseRunning, then runs it on a new
// goroutine and hands its outcome to completion. Suspend and Terminate can
// be called as soon as it returns.
func (t *transfer) TransferAsync(ctx context.Context, progress ProgressFunc, completion CompletionFunc) {
	if completion == nil {
		completion = func(Info, error) {}
	}
	if err := t.begin(); err != nil {
		info := t.Info()
		go completion(info, err)
		return
	}
	go func() {
		completion(t.execute(ctx, progress))
	}()
}

// execute runs a transfer begin moved to PhaseRunning.
func (t *transfer) execute(ctx context.Context, progress ProgressFunc) (info Info, err error) {
	defer t.client.release(t.key)

	err = t.run(ctx, progress)
	info = t.end(err)
	if err != nil && !errors.Is(err, ErrTransferSuspended) && !errors.Is(err, ErrTransferTerminated) {
		t.logger.Info("transfer failed", "errorMessage", err.Error(),
			"completedBytes", info.CompletedBytes)
	}
	return
}

// Suspend asks a running transfer to stop at the next chunk boundary. It
// does not wait for the boundary, Transfer returns ErrTransferSuspended
// once reached.
func (t *transfer) Suspend() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.phase {
	case PhaseRunning:
		if t.terminateRequested {
			return ErrAlreadyTerminated
		}
		t.suspendRequested = true
	case PhaseSuspended:
		err = ErrAlreadySuspended
	case PhaseCompleted:
		err = ErrAlreadyCompleted
	case PhaseTerminated:
		err = ErrAlreadyTerminated
	default:
		err = ErrNotStarted
	}
	return
}

// Terminate ends the transfer for good and discards its persisted state. A
// running transfer stops at the next chunk boundary, any other transfer
// holding persisted state is terminated at once.
func (t *transfer) Terminate(ctx context.Context) (err error) {
	t.mu.Lock()
	switch t.phase {
	case PhaseRunning:
		t.terminateRequested = true
		t.mu.Unlock()
		return
	case PhaseCompleted:
		t.mu.Unlock()
		return ErrAlreadyCompleted
	case PhaseTerminated:
		t.mu.Unlock()
		return ErrAlreadyTerminated
	}
	t.mu.Unlock()

	if err = t.checkOwner(); err != nil {
		return
	}
	if !t.client.acquire(t.key) {
		return ErrDuplicateInProgress
	}
	defer t.client.release(t.key)

	var found bool
	if _, found, err = t.load(ctx); err != nil {
		return
	}
	if !found {
		return ErrNotStarted
	}
	if err = t.discardState(ctx); err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = PhaseTerminated
	t.info.Status = state.StatusNoEntry
	t.info.Phase = PhaseTerminated
	t.logger.Info("transfer terminated")
	return
}

// begin moves the transfer to PhaseRunning.
func (t *transfer) begin() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.phase {
	case PhaseCompleted:
		return ErrAlreadyCompleted
	case PhaseTerminated:
		return ErrAlreadyTerminated
	case PhaseRunning:
		return ErrDuplicateInProgress
	}
	if err = t.checkOwner(); err != nil {
		return
	}
	if !t.client.acquire(t.key) {
		return ErrDuplicateInProgress
	}
	t.phase = PhaseRunning
	t.info.Phase = PhaseRunning
	t.suspendRequested = false
	t.terminateRequested = false
	return
}

// end moves the transfer out of PhaseRunning according to the outcome of
// the run and returns the final snapshot.
func (t *transfer) end(err error) Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err == nil:
		t.phase = PhaseCompleted
	case errors.Is(err, ErrTransferSuspended):
		t.phase = PhaseSuspended
	case errors.Is(err, ErrTransferTerminated):
		t.phase = PhaseTerminated
	default:
		t.phase = PhaseFailed
	}
	if err != nil && (discardsState(err) || errors.Is(err, ErrTransferTerminated)) {
		t.info.Status = state.StatusNoEntry
	}
	t.info.Phase = t.phase
	t.suspendRequested = false
	t.terminateRequested = false
	return t.info
}

func (t *transfer) checkOwner() error {
	if owner, ok := t.client.ids.CurrentIdentity(); !ok || owner != t.key.Owner {
		return ErrOwnershipViolation
	}
	return nil
}

// checkpoint returns the request to honor at a chunk boundary, nil if none.
func (t *transfer) checkpoint() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.terminateRequested:
		return ErrTransferTerminated
	case t.suspendRequested:
		return ErrTransferSuspended
	}
	return nil
}

// publish records st as the latest snapshot and returns it.
func (t *transfer) publish(st state.TransferState) Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info = infoOf(st, t.phase)
	return t.info
}

func (t *transfer) run(ctx context.Context, progress ProgressFunc) (err error) {
	var (
		file afero.File
		size int64
	)
	if file, size, err = t.side.open(); err != nil {
		return
	}
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()

	var (
		st    state.TransferState
		found bool
	)
	if st, found, err = t.load(ctx); err != nil {
		return
	}

	var meta remote.Metadata
	if err = t.retry(ctx, "fetch metadata", func() (err error) {
		meta, err = t.client.endpoint.FetchMetadata(ctx, t.key.ResourceRef, t.key.Direction)
		return
	}); err != nil {
		switch {
		case errors.Is(err, remote.ErrNotFound) && found:
			err = t.discard(ctx, errors.Join(ErrResourceModified, err))
		case errors.Is(err, remote.ErrNotFound):
			err = errors.Join(ErrRangeNotSatisfiable, err)
		default:
			err = errors.Join(ErrTransientTransport, err)
		}
		return
	}

	var hasher *integrity.Hasher
	if found {
		hasher, err = t.resume(ctx, &st, file, size, meta)
	} else {
		st, hasher, file, err = t.start(ctx, file, size, meta)
	}
	if err != nil {
		return
	}
	return t.loop(ctx, file, st, hasher, progress)
}

// load returns the persisted state of the transfer. Records that cannot be
// resumed are dropped.
func (t *transfer) load(ctx context.Context) (st state.TransferState, found bool, err error) {
	if st, err = t.client.store.Get(ctx, t.key); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			err = nil
		} else {
			err = fmt.Errorf("unable to load transfer state: %w", err)
		}
		return
	}
	if st.Owner != t.key.Owner {
		err = ErrOwnershipViolation
		return
	}
	if !st.Status.Resumable() {
		err = t.client.store.Delete(ctx, t.key)
		return
	}
	found = true
	return
}

// start creates the persisted state of a new transfer.
func (t *transfer) start(
	ctx context.Context,
	file afero.File,
	size int64,
	meta remote.Metadata,
) (st state.TransferState, hasher *integrity.Hasher, opened afero.File, err error) {
	opened = file
	total := meta.TotalBytes
	if t.key.Direction == state.Upload {
		total = uint64(size)
	} else if total == 0 || total == state.SizeUnknown {
		err = fmt.Errorf("%w: remote resource %q is empty", ErrRangeNotSatisfiable, t.key.ResourceRef)
		return
	}

	alg := t.client.options.checksumAlgorithm
	if hasher, err = integrity.New(alg); err != nil {
		return
	}
	now := time.Now().UTC()
	st = state.TransferState{
		ID:             uuid.NewString(),
		Owner:          t.key.Owner,
		ResourceRef:    t.key.ResourceRef,
		LocalPath:      t.key.LocalPath,
		Direction:      t.key.Direction,
		ChunkSize:      t.client.options.chunkSize,
		IntegrityToken: hasher.Token(),
		Algorithm:      int(alg),
		TotalBytes:     total,
		Status:         state.StatusOngoing,
		StartedAt:      now,
		UpdatedAt:      now,
		ModifiedMarker: meta.Marker,
	}

	if t.key.Direction == state.Download {
		if opened, err = t.create(file); err != nil {
			return
		}
	}
	if err = t.client.store.Create(ctx, st); err != nil {
		if errors.Is(err, state.ErrAlreadyExists) {
			err = ErrDuplicateInProgress
		}
		return
	}
	t.publish(st)
	t.logger.Info("starting transfer", "totalSize", total, "chunkSize", st.ChunkSize)
	return
}

// create empties the download destination, creating it when file is nil.
func (t *transfer) create(file afero.File) (afero.File, error) {
	if file != nil {
		if err := file.Truncate(0); err != nil {
			return file, localSourceError(t.key.LocalPath, ReasonNotWritable, err)
		}
		return file, nil
	}
	c, ok := t.side.(creator)
	if !ok {
		return nil, localSourceError(t.key.LocalPath, ReasonNotExist, nil)
	}
	return c.create()
}

// resume validates the persisted state against the remote resource and the
// local file before the chunk loop continues from it.
func (t *transfer) resume(
	ctx context.Context,
	st *state.TransferState,
	file afero.File,
	size int64,
	meta remote.Metadata,
) (hasher *integrity.Hasher, err error) {
	if meta.Marker != st.ModifiedMarker {
		err = t.discard(ctx, fmt.Errorf("%w: marker %q is now %q",
			ErrResourceModified, st.ModifiedMarker, meta.Marker))
		return
	}
	switch t.key.Direction {
	case state.Download:
		if meta.TotalBytes != st.TotalBytes {
			err = t.discard(ctx, fmt.Errorf("%w: size %d is now %d",
				ErrResourceModified, st.TotalBytes, meta.TotalBytes))
			return
		}
	case state.Upload:
		if uint64(size) != st.TotalBytes {
			err = t.discard(ctx, fmt.Errorf("%w: local size %d is now %d",
				ErrIntegrityViolation, st.TotalBytes, size))
			return
		}
	}

	if file == nil {
		err = t.discard(ctx, fmt.Errorf("%w: local file %q is missing", ErrIntegrityViolation, t.key.LocalPath))
		return
	}
	if hasher, err = integrity.Compute(integrity.Algorithm(st.Algorithm), file, st.CompletedRanges); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, integrity.ErrUnknownAlgorithm) {
			err = t.discard(ctx, errors.Join(ErrIntegrityViolation, err))
		} else {
			err = localSourceError(t.key.LocalPath, ReasonInvalidPath, err)
		}
		return
	}
	if hasher.Token() != st.IntegrityToken {
		err = t.discard(ctx, fmt.Errorf("%w: token %s is now %s",
			ErrIntegrityViolation, st.IntegrityToken, hasher.Token()))
		return
	}

	if reporter, ok := t.client.endpoint.(remote.RangeReporter); ok && t.key.Direction == state.Upload {
		var confirmed state.RangeSet
		if err = t.retry(ctx, "confirm ranges", func() (err error) {
			confirmed, err = reporter.ConfirmedRanges(ctx, t.key.ResourceRef, st.ChunkSize)
			return
		}); err != nil {
			err = errors.Join(ErrTransientTransport, err)
			return
		}
		if !confirmed.Contains(st.CompletedRanges) {
			err = fmt.Errorf("%w: server confirmed %v of %v",
				ErrRangeNotSatisfiable, confirmed, st.CompletedRanges)
			return
		}
	}

	st.Status = state.StatusOngoing
	st.UpdatedAt = time.Now().UTC()
	if err = t.client.store.Put(ctx, *st); err != nil {
		err = errors.Join(ErrTransientTransport, err)
		return
	}
	t.publish(*st)
	t.logger.Info("resuming transfer",
		"fromOffset", st.CompletedRanges.End(), "toOffset", st.TotalBytes)
	return
}

func (t *transfer) loop(
	ctx context.Context,
	file afero.File,
	st state.TransferState,
	hasher *integrity.Hasher,
	progress ProgressFunc,
) (err error) {
	for {
		if request := t.checkpoint(); request != nil {
			return t.stop(ctx, st, request)
		}
		next, ok := st.CompletedRanges.Next(st.ChunkSize, st.TotalBytes)
		if !ok {
			break
		}
		chunk := remote.Chunk{
			Index: next.Start / uint64(st.ChunkSize),
			Range: next,
		}

		var data []byte
		if err = t.retry(ctx, "transfer chunk", func() (err error) {
			data, err = t.side.moveChunk(ctx, file, chunk)
			return
		}); err != nil {
			return t.classify(ctx, err)
		}

		_, _ = hasher.Write(data)
		committed := st.Clone()
		committed.CompletedRanges = committed.CompletedRanges.Add(next)
		committed.IntegrityToken = hasher.Token()
		committed.UpdatedAt = time.Now().UTC()
		if err = t.client.store.Put(ctx, committed); err != nil {
			return errors.Join(ErrTransientTransport, fmt.Errorf("unable to persist chunk %s: %w", next, err))
		}
		st = committed

		t.client.chunksCommitted.Add(1)
		t.client.bytesCommitted.Add(int64(next.Len()))
		info := t.publish(st)
		t.logger.V(1).Info("committed chunk", "index", chunk.Index, "range", next.String(),
			"completedBytes", info.CompletedBytes, "totalBytes", info.TotalBytes)
		if progress != nil {
			progress(info)
		}
	}
	return t.complete(ctx, file, st)
}

// stop honors a suspend or terminate request at a chunk boundary.
func (t *transfer) stop(ctx context.Context, st state.TransferState, request error) (err error) {
	if errors.Is(request, ErrTransferTerminated) {
		if err = t.discardState(ctx); err != nil {
			return
		}
		t.logger.Info("transfer terminated", "completedBytes", st.CompletedBytes())
		return request
	}

	st.Status = state.StatusSuspended
	st.UpdatedAt = time.Now().UTC()
	if err = t.client.store.Put(ctx, st); err != nil {
		return errors.Join(ErrTransientTransport, err)
	}
	t.publish(st)
	t.logger.Info("transfer suspended", "completedBytes", st.CompletedBytes(), "totalBytes", st.TotalBytes)
	return request
}

func (t *transfer) complete(ctx context.Context, file afero.File, st state.TransferState) (err error) {
	if err = t.retry(ctx, "finish transfer", func() error {
		return t.side.finish(ctx, file, st.TotalBytes)
	}); err != nil {
		return t.classify(ctx, err)
	}
	if err = t.client.store.Delete(ctx, t.key); err != nil {
		return errors.Join(ErrTransientTransport, err)
	}
	st.Status = state.StatusNoEntry
	t.publish(st)
	t.removeSpooled()
	t.logger.Info("transfer finished", "totalSize", st.TotalBytes)
	return
}

// removeSpooled removes the spooled body of an upload once nothing can
// resume from it.
func (t *transfer) removeSpooled() {
	if t.key.Direction != state.Upload || !t.client.spooled(t.key.LocalPath) {
		return
	}
	if err := t.client.options.fs.Remove(t.key.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		t.logger.Error(err, "unable to remove spooled body")
	}
}

// classify maps a chunk or finish failure to the error taxonomy.
func (t *transfer) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrIntegrityViolation):
		return t.discard(ctx, err)
	case errors.Is(err, ErrLocalSourceInvalid):
		return err
	case errors.Is(err, remote.ErrNotFound):
		return t.discard(ctx, errors.Join(ErrResourceModified, err))
	case errors.Is(err, remote.ErrRangeNotSatisfiable):
		return errors.Join(ErrRangeNotSatisfiable, err)
	}
	return errors.Join(ErrTransientTransport, err)
}

// discard drops the persisted state and returns cause.
func (t *transfer) discard(ctx context.Context, cause error) error {
	if err := t.discardState(ctx); err != nil {
		t.logger.Error(err, "unable to discard transfer state")
	}
	return cause
}

// discardState deletes the persisted state and aborts the remote upload
// session when the endpoint supports it.
func (t *transfer) discardState(ctx context.Context) (err error) {
	err = t.client.store.Delete(ctx, t.key)
	t.removeSpooled()
	if aborter, ok := t.client.endpoint.(remote.Aborter); ok && t.key.Direction == state.Upload {
		if abortErr := aborter.Abort(ctx, t.key.ResourceRef); abortErr != nil {
			err = errors.Join(err, abortErr)
		}
	}
	return
}

func (t *transfer) retry(ctx context.Context, action string, fn func() error) (err error) {
	if t.client.options.disabledRetry {
		return fn()
	}
	config := t.client.options.retryConfig
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Delay(config.InitialDelay),
		retry.MaxDelay(config.MaxDelay),
		retry.Attempts(uint(config.MaxRetryAttempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Info("retrying "+action,
				"errorMessage", err.Error(),
				"retryAttempts", n+1)
		}),
	)
}

// isRetryable reports whether err is a transient backend failure.
func isRetryable(err error) bool {
	for _, permanent := range []error{
		ErrIntegrityViolation,
		ErrLocalSourceInvalid,
		remote.ErrNotFound,
		remote.ErrRangeNotSatisfiable,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
