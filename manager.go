package rxfer

import (
	"context"

	"github.com/derektruong/rxfer/identity"
	"github.com/derektruong/rxfer/state"
	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// TransferEntry summarizes one resumable transfer.
type TransferEntry struct {
	ID          string
	ResourceRef string
	LocalPath   string
	Direction   state.Direction
	ChunkSize   uint32
	Info        Info
}

// Manager lists the resumable transfers of the identity it was created for.
// It is obtained from Client.TransferManager.
type Manager struct {
	logger logr.Logger
	ids    identity.Provider
	store  state.Store
	owner  string
}

// Owner returns the identity the Manager is bound to.
func (m *Manager) Owner() string {
	return m.owner
}

// ListUploads returns the ongoing and suspended uploads, oldest first.
//
// Returns:
//   - entries: the uploads, empty when there is none
//   - err: ErrOwnershipViolation if the active identity is not the owner of
//     the Manager or the store returned a foreign record, nil otherwise
func (m *Manager) ListUploads(ctx context.Context) (entries []TransferEntry, err error) {
	return m.list(ctx, state.Upload)
}

// ListDownloads returns the ongoing and suspended downloads, oldest first.
func (m *Manager) ListDownloads(ctx context.Context) (entries []TransferEntry, err error) {
	return m.list(ctx, state.Download)
}

// List returns the uploads and the downloads, fetched concurrently.
func (m *Manager) List(ctx context.Context) (uploads, downloads []TransferEntry, err error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		uploads, err = m.list(egCtx, state.Upload)
		return
	})
	eg.Go(func() (err error) {
		downloads, err = m.list(egCtx, state.Download)
		return
	})
	if err = eg.Wait(); err != nil {
		uploads, downloads = nil, nil
	}
	return
}

func (m *Manager) list(ctx context.Context, direction state.Direction) (entries []TransferEntry, err error) {
	if owner, ok := m.ids.CurrentIdentity(); !ok || owner != m.owner {
		err = ErrOwnershipViolation
		return
	}
	var states []state.TransferState
	if states, err = m.store.List(ctx, m.owner, direction); err != nil {
		return
	}
	if _, foreign := lo.Find(states, func(st state.TransferState) bool {
		return st.Owner != m.owner || st.Direction != direction
	}); foreign {
		m.logger.Info("store returned a foreign transfer state", "owner", m.owner, "direction", direction.String())
		err = ErrOwnershipViolation
		return
	}

	states = lo.Filter(states, func(st state.TransferState, _ int) bool {
		return st.Status.Resumable()
	})
	slices.SortFunc(states, func(a, b state.TransferState) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	entries = lo.Map(states, func(st state.TransferState, _ int) TransferEntry {
		phase := PhaseCreated
		if st.Status == state.StatusSuspended {
			phase = PhaseSuspended
		}
		return TransferEntry{
			ID:          st.ID,
			ResourceRef: st.ResourceRef,
			LocalPath:   st.LocalPath,
			Direction:   st.Direction,
			ChunkSize:   st.ChunkSize,
			Info:        infoOf(st, phase),
		}
	})
	return
}

