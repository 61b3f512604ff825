package statetest

import (
	"context"
	"time"

	"github.com/derektruong/rxfer/state"
	"github.com/onsi/gomega/gstruct"
	"github.com/onsi/gomega/types"
	"golang.org/x/sync/errgroup"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// MatchState matches a transfer state field by field, comparing timestamps
// by instant so that encoders dropping the monotonic clock or the location
// still match.
func MatchState(expected state.TransferState) types.GomegaMatcher {
	return gstruct.MatchAllFields(gstruct.Fields{
		"ID":              Equal(expected.ID),
		"Owner":           Equal(expected.Owner),
		"ResourceRef":     Equal(expected.ResourceRef),
		"LocalPath":       Equal(expected.LocalPath),
		"Direction":       Equal(expected.Direction),
		"ChunkSize":       Equal(expected.ChunkSize),
		"CompletedRanges": Equal(expected.CompletedRanges),
		"IntegrityToken":  Equal(expected.IntegrityToken),
		"Algorithm":       Equal(expected.Algorithm),
		"TotalBytes":      Equal(expected.TotalBytes),
		"Status":          Equal(expected.Status),
		"StartedAt":       BeTemporally("==", expected.StartedAt),
		"UpdatedAt":       BeTemporally("==", expected.UpdatedAt),
		"ModifiedMarker":  Equal(expected.ModifiedMarker),
	})
}

// StoreBehaviors declares the specs every state.Store must satisfy. newStore
// is called once per spec and must return an empty store.
func StoreBehaviors(newStore func() state.Store) {
	Describe("state.Store behaviors", func() {
		var store state.Store

		BeforeEach(func() {
			store = newStore()
			DeferCleanup(store.Close)
		})

		Describe("Get", func() {
			It("should return ErrNotFound for a missing key", func(ctx context.Context) {
				st := TransferStateFactory(nil)
				_, err := store.Get(ctx, st.Key())
				Expect(err).To(MatchError(state.ErrNotFound))
			}, NodeTimeout(10*time.Second))
		})

		Describe("Create", func() {
			It("should store a new record", func(ctx context.Context) {
				st := TransferStateFactory(nil)
				Expect(store.Create(ctx, st)).To(Succeed())

				got, err := store.Get(ctx, st.Key())
				Expect(err).ToNot(HaveOccurred())
				Expect(got).To(MatchState(st))
			}, NodeTimeout(10*time.Second))

			It("should reject a second record for the same key", func(ctx context.Context) {
				st := TransferStateFactory(nil)
				Expect(store.Create(ctx, st)).To(Succeed())

				other := TransferStateFactory(func(o *state.TransferState) {
					o.Owner = st.Owner
					o.ResourceRef = st.ResourceRef
					o.Direction = st.Direction
					o.LocalPath = st.LocalPath
				})
				Expect(store.Create(ctx, other)).To(MatchError(state.ErrAlreadyExists))

				got, err := store.Get(ctx, st.Key())
				Expect(err).ToNot(HaveOccurred())
				Expect(got.ID).To(Equal(st.ID))
			}, NodeTimeout(10*time.Second))

			It("should accept the same tuple for another owner", func(ctx context.Context) {
				st := TransferStateFactory(nil)
				Expect(store.Create(ctx, st)).To(Succeed())
				other := st
				other.Owner = st.Owner + "-other"
				Expect(store.Create(ctx, other)).To(Succeed())
			}, NodeTimeout(10*time.Second))
		})

		Describe("Put", func() {
			It("should create a missing record", func(ctx context.Context) {
				st := TransferStateFactory(nil)
				Expect(store.Put(ctx, st)).To(Succeed())

				got, err := store.Get(ctx, st.Key())
				Expect(err).ToNot(HaveOccurred())
				Expect(got).To(MatchState(st))
			}, NodeTimeout(10*time.Second))

			It("should replace an existing record", func(ctx context.Context) {
				st := TransferStateFactory(nil)
				Expect(store.Create(ctx, st)).To(Succeed())

				st.CompletedRanges = st.CompletedRanges.Add(state.Range{
					Start: st.CompletedRanges.End(),
					End:   st.CompletedRanges.End() + uint64(st.ChunkSize),
				})
				st.Status = state.StatusSuspended
				st.IntegrityToken = "deadbeef"
				Expect(store.Put(ctx, st)).To(Succeed())

				got, err := store.Get(ctx, st.Key())
				Expect(err).ToNot(HaveOccurred())
				Expect(got).To(MatchState(st))
			}, NodeTimeout(10*time.Second))
		})

		Describe("Delete", func() {
			It("should remove the record", func(ctx context.Context) {
				st := TransferStateFactory(nil)
				Expect(store.Create(ctx, st)).To(Succeed())
				Expect(store.Delete(ctx, st.Key())).To(Succeed())

				_, err := store.Get(ctx, st.Key())
				Expect(err).To(MatchError(state.ErrNotFound))
				Expect(store.Create(ctx, st)).To(Succeed())
			}, NodeTimeout(10*time.Second))

			It("should not fail for a missing record", func(ctx context.Context) {
				st := TransferStateFactory(nil)
				Expect(store.Delete(ctx, st.Key())).To(Succeed())
			}, NodeTimeout(10*time.Second))
		})

		Describe("List", func() {
			It("should only return records of the owner and direction", func(ctx context.Context) {
				owner := TransferStateFactory(nil).Owner
				uploads := make([]state.TransferState, 3)
				for i := range uploads {
					uploads[i] = TransferStateFactory(func(st *state.TransferState) {
						st.Owner = owner
						st.Direction = state.Upload
					})
					Expect(store.Create(ctx, uploads[i])).To(Succeed())
				}
				Expect(store.Create(ctx, TransferStateFactory(func(st *state.TransferState) {
					st.Owner = owner
					st.Direction = state.Download
				}))).To(Succeed())
				Expect(store.Create(ctx, TransferStateFactory(func(st *state.TransferState) {
					st.Owner = owner + "-other"
					st.Direction = state.Upload
				}))).To(Succeed())

				got, err := store.List(ctx, owner, state.Upload)
				Expect(err).ToNot(HaveOccurred())
				Expect(got).To(ConsistOf(
					MatchState(uploads[0]),
					MatchState(uploads[1]),
					MatchState(uploads[2]),
				))
			}, NodeTimeout(10*time.Second))

			It("should return an empty result for an unknown owner", func(ctx context.Context) {
				got, err := store.List(ctx, TransferStateFactory(nil).Owner, state.Download)
				Expect(err).ToNot(HaveOccurred())
				Expect(got).To(BeEmpty())
			}, NodeTimeout(10*time.Second))
		})

		It("should serve unrelated records concurrently", func(ctx context.Context) {
			owner := TransferStateFactory(nil).Owner
			eg, egCtx := errgroup.WithContext(ctx)
			for range 8 {
				st := TransferStateFactory(func(st *state.TransferState) {
					st.Owner = owner
					st.Direction = state.Download
				})
				eg.Go(func() (err error) {
					if err = store.Create(egCtx, st); err != nil {
						return
					}
					for i := range 5 {
						st.CompletedRanges = st.CompletedRanges.Add(state.Range{
							Start: st.CompletedRanges.End(),
							End:   st.CompletedRanges.End() + uint64(i+1),
						})
						if err = store.Put(egCtx, st); err != nil {
							return
						}
					}
					return
				})
			}
			Expect(eg.Wait()).To(Succeed())

			got, err := store.List(ctx, owner, state.Download)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(HaveLen(8))
		}, NodeTimeout(10*time.Second))

		It("should refuse operations once closed", func(ctx context.Context) {
			st := TransferStateFactory(nil)
			Expect(store.Close()).To(Succeed())
			Expect(store.Put(ctx, st)).To(MatchError(state.ErrStoreClosed))
			_, err := store.Get(ctx, st.Key())
			Expect(err).To(MatchError(state.ErrStoreClosed))
			Expect(store.Close()).To(Succeed())
		}, NodeTimeout(10*time.Second))
	})
}
