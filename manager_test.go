package rxfer_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/derektruong/rxfer"
	"github.com/derektruong/rxfer/state"
	mock_state "github.com/derektruong/rxfer/state/mock"
	"github.com/derektruong/rxfer/state/statetest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Manager", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture()
	})

	// suspendUpload leaves a suspended upload of ref behind after its first
	// chunk.
	suspendUpload := func(ctx context.Context, client *rxfer.Client, ref string) string {
		GinkgoHelper()
		localPath := filepath.Join(f.workDir, gofakeit.UUID()+".bin")
		Expect(os.WriteFile(localPath, []byte(gofakeit.LetterN(250)), 0644)).To(Succeed())
		uploader, err := client.Uploader(ctx, rxfer.UploadCommand{ResourceRef: ref, LocalPath: localPath})
		Expect(err).ToNot(HaveOccurred())
		_, err = uploader.Transfer(ctx, suspendAt(uploader, 100))
		Expect(err).To(MatchError(rxfer.ErrTransferSuspended))
		return localPath
	}

	It("should list the resumable transfers of the owner, oldest first", func(ctx context.Context) {
		first := suspendUpload(ctx, f.client, "a.bin")
		second := suspendUpload(ctx, f.client, "b.bin")

		remotePath := filepath.Join(f.root, "c.bin")
		Expect(os.WriteFile(remotePath, []byte(gofakeit.LetterN(300)), 0644)).To(Succeed())
		downloader, err := f.client.Downloader(ctx, rxfer.DownloadCommand{
			ResourceRef: "c.bin",
			LocalPath:   filepath.Join(f.workDir, "c.bin"),
		})
		Expect(err).ToNot(HaveOccurred())
		_, err = downloader.Transfer(ctx, suspendAt(downloader, 200))
		Expect(err).To(MatchError(rxfer.ErrTransferSuspended))

		manager, err := f.client.TransferManager()
		Expect(err).ToNot(HaveOccurred())
		Expect(manager.Owner()).To(Equal("alice"))

		uploads, err := manager.ListUploads(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(uploads).To(HaveLen(2))
		Expect(uploads[0]).To(And(
			HaveField("ResourceRef", "a.bin"),
			HaveField("LocalPath", first),
			HaveField("Direction", state.Upload),
			HaveField("ChunkSize", uint32(100)),
			HaveField("Info.CompletedBytes", uint64(100)),
			HaveField("Info.TotalBytes", uint64(250)),
			HaveField("Info.Status", state.StatusSuspended),
			HaveField("Info.Phase", rxfer.PhaseSuspended),
		))
		Expect(uploads[0].ID).ToNot(BeEmpty())
		Expect(uploads[1].LocalPath).To(Equal(second))

		downloads, err := manager.ListDownloads(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(downloads).To(HaveLen(1))
		Expect(downloads[0].Info.CompletedBytes).To(Equal(uint64(200)))
		Expect(downloads[0].Info.TotalBytes).To(Equal(uint64(300)))

		allUploads, allDownloads, err := manager.List(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(allUploads).To(Equal(uploads))
		Expect(allDownloads).To(Equal(downloads))
	}, NodeTimeout(10*time.Second))

	It("should leave completed and terminated transfers out", func(ctx context.Context) {
		suspendUpload(ctx, f.client, "kept.bin")

		completedPath := filepath.Join(f.workDir, "done.bin")
		Expect(os.WriteFile(completedPath, []byte(gofakeit.LetterN(150)), 0644)).To(Succeed())
		uploader, err := f.client.Uploader(ctx, rxfer.UploadCommand{ResourceRef: "done.bin", LocalPath: completedPath})
		Expect(err).ToNot(HaveOccurred())
		_, err = uploader.Transfer(ctx, nil)
		Expect(err).ToNot(HaveOccurred())

		terminatedPath := suspendUpload(ctx, f.client, "gone.bin")
		terminated, err := f.client.Uploader(ctx, rxfer.UploadCommand{ResourceRef: "gone.bin", LocalPath: terminatedPath})
		Expect(err).ToNot(HaveOccurred())
		Expect(terminated.Terminate(ctx)).To(Succeed())

		manager, err := f.client.TransferManager()
		Expect(err).ToNot(HaveOccurred())
		uploads, err := manager.ListUploads(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(uploads).To(HaveLen(1))
		Expect(uploads[0].ResourceRef).To(Equal("kept.bin"))
	}, NodeTimeout(10*time.Second))

	It("should return an empty list when there is nothing to resume", func(ctx context.Context) {
		manager, err := f.client.TransferManager()
		Expect(err).ToNot(HaveOccurred())
		Expect(manager.ListUploads(ctx)).To(BeEmpty())
		Expect(manager.ListDownloads(ctx)).To(BeEmpty())
	}, NodeTimeout(10*time.Second))

	It("should isolate the transfers of each identity", func(ctx context.Context) {
		suspendUpload(ctx, f.client, "alice.bin")

		f.session.SignIn("bob")
		suspendUpload(ctx, f.client, "bob.bin")
		bobManager, err := f.client.TransferManager()
		Expect(err).ToNot(HaveOccurred())
		uploads, err := bobManager.ListUploads(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(uploads).To(HaveLen(1))
		Expect(uploads[0].ResourceRef).To(Equal("bob.bin"))

		f.session.SignIn("alice")
		_, err = bobManager.ListUploads(ctx)
		Expect(err).To(MatchError(rxfer.ErrOwnershipViolation))
		_, _, err = bobManager.List(ctx)
		Expect(err).To(MatchError(rxfer.ErrOwnershipViolation))

		aliceManager, err := f.client.TransferManager()
		Expect(err).ToNot(HaveOccurred())
		uploads, err = aliceManager.ListUploads(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(uploads).To(HaveLen(1))
		Expect(uploads[0].ResourceRef).To(Equal("alice.bin"))
	}, NodeTimeout(10*time.Second))

	It("should require an active identity", func(ctx context.Context) {
		manager, err := f.client.TransferManager()
		Expect(err).ToNot(HaveOccurred())

		f.session.SignOut()
		_, err = manager.ListDownloads(ctx)
		Expect(err).To(MatchError(rxfer.ErrOwnershipViolation))
		_, err = f.client.TransferManager()
		Expect(err).To(MatchError(rxfer.ErrOwnershipViolation))
	}, NodeTimeout(10*time.Second))

	It("should refuse a store leaking foreign records", func(ctx context.Context) {
		ctrl := gomock.NewController(GinkgoT())
		store := mock_state.NewMockStore(ctrl)
		store.EXPECT().List(gomock.Any(), "alice", state.Upload).Return([]state.TransferState{
			statetest.TransferStateFactory(func(st *state.TransferState) {
				st.Owner = "alice"
				st.Direction = state.Upload
			}),
			statetest.TransferStateFactory(func(st *state.TransferState) {
				st.Owner = "mallory"
				st.Direction = state.Upload
			}),
		}, nil)

		client, err := rxfer.NewClient(GinkgoLogr, f.session, store, f.endpoint)
		Expect(err).ToNot(HaveOccurred())
		manager, err := client.TransferManager()
		Expect(err).ToNot(HaveOccurred())
		_, err = manager.ListUploads(ctx)
		Expect(err).To(MatchError(rxfer.ErrOwnershipViolation))
	}, NodeTimeout(10*time.Second))
})
