package rxfer

import (
	"fmt"
	"math"
	"time"

	"github.com/derektruong/rxfer/state"
)

// Phase is the in-memory lifecycle phase of a transfer instance.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseRunning
	PhaseSuspended
	PhaseCompleted
	PhaseFailed
	PhaseTerminated
)

var phaseNames = map[Phase]string{
	PhaseCreated:    "Created",
	PhaseRunning:    "Running",
	PhaseSuspended:  "Suspended",
	PhaseCompleted:  "Completed",
	PhaseFailed:     "Failed",
	PhaseTerminated: "Terminated",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether no operation is allowed in the phase anymore.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseTerminated
}

const (
	// finalizingProgress is reported while every byte is moved but the
	// transfer is not acknowledged yet
	finalizingProgress = 99
	// finishedProgress is the progress value of a completed transfer
	finishedProgress = 100
)

// Info is an immutable progress snapshot of one transfer.
type Info struct {
	// CompletedBytes is the number of bytes committed so far
	CompletedBytes uint64

	// TotalBytes is state.SizeUnknown until the first metadata round-trip
	TotalBytes uint64

	// Status is the status of the persisted state
	Status state.Status

	// Phase is the phase of the instance the snapshot was taken from
	Phase Phase

	StartedAt time.Time
	UpdatedAt time.Time
}

// Percentage returns the completion percentage, capped at 99 until the
// transfer is completed.
func (i Info) Percentage() int {
	if i.Phase == PhaseCompleted {
		return finishedProgress
	}
	if i.TotalBytes == 0 || i.TotalBytes == state.SizeUnknown {
		return 0
	}
	percentage := int(math.Min(
		finishedProgress,
		math.Round(float64(i.CompletedBytes)/float64(i.TotalBytes)*100),
	))
	if percentage == finishedProgress {
		percentage = finalizingProgress
	}
	return percentage
}

// Speed returns the average number of bytes committed per second since
// StartedAt.
func (i Info) Speed() int64 {
	if i.StartedAt.IsZero() {
		return 0
	}
	elapsed := math.Max(1, i.UpdatedAt.Sub(i.StartedAt).Seconds())
	return int64(float64(i.CompletedBytes) / elapsed)
}

func infoOf(st state.TransferState, phase Phase) Info {
	return Info{
		CompletedBytes: st.CompletedBytes(),
		TotalBytes:     st.TotalBytes,
		Status:         st.Status,
		Phase:          phase,
		StartedAt:      st.StartedAt,
		UpdatedAt:      st.UpdatedAt,
	}
}

// ProgressFunc receives a snapshot after every committed chunk. It runs on
// the transfer goroutine.
type ProgressFunc func(info Info)

// CompletionFunc receives the outcome of TransferAsync.
type CompletionFunc func(info Info, err error)
