// Package statetest provides fake transfer states and the behavior suite every
// state.Store implementation is expected to pass.
package statetest

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/derektruong/rxfer/state"
	"github.com/google/uuid"
)

// TransferStateFactory returns a random, internally consistent transfer state
// with editFn applied.
func TransferStateFactory(editFn func(st *state.TransferState)) (st state.TransferState) {
	chunkSize := uint32(gofakeit.Number(1, 64)) * 1024
	chunks := uint64(gofakeit.Number(4, 100))
	completed := uint64(gofakeit.Number(1, 3)) * uint64(chunkSize)
	startedAt := gofakeit.PastDate().UTC()

	st = state.TransferState{
		ID:          uuid.NewString(),
		Owner:       gofakeit.Username(),
		ResourceRef: fmt.Sprintf("%s/%s.%s", gofakeit.Word(), gofakeit.Word(), gofakeit.FileExtension()),
		LocalPath:   filepath.Join("/tmp", gofakeit.UUID()+".bin"),
		Direction:   state.Direction(gofakeit.RandomInt([]int{int(state.Upload), int(state.Download)})),
		ChunkSize:   chunkSize,
		CompletedRanges: state.RangeSet{
			{Start: 0, End: completed},
		},
		IntegrityToken: fmt.Sprintf("%08x", gofakeit.Uint32()),
		Algorithm:      1,
		TotalBytes:     chunks * uint64(chunkSize),
		Status:         state.StatusOngoing,
		StartedAt:      startedAt,
		UpdatedAt:      startedAt.Add(time.Duration(gofakeit.Number(1, 3600)) * time.Second),
		ModifiedMarker: gofakeit.UUID(),
	}
	if editFn != nil {
		editFn(&st)
	}
	return
}
