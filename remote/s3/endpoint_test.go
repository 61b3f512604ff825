package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/derektruong/rxfer/internal/xferfile"
	"github.com/derektruong/rxfer/internal/xferfile/xferfiletest"
	"github.com/derektruong/rxfer/remote"
	mock_s3 "github.com/derektruong/rxfer/remote/s3/mock"
	"github.com/derektruong/rxfer/state"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Endpoint", func() {
	var (
		err       error
		mockCtrl  *gomock.Controller
		mockS3API *mock_s3.MockS3API
		endpoint  *Endpoint
		fileInfo  xferfile.Info
		infoKey   string
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		DeferCleanup(mockCtrl.Finish)
		mockS3API = mock_s3.NewMockS3API(mockCtrl)
		endpoint, err = NewEndpoint(GinkgoLogr, mockS3API, bucketName)
		Expect(err).ToNot(HaveOccurred())
		fileInfo = xferfiletest.InfoFactory(nil)

		infoKey, err = xferfile.GenerateInfoPath(fileInfo.Key)
		Expect(err).ToNot(HaveOccurred())
	})

	// expectInfo makes the next info object read return fileInfo.
	expectInfo := func() *gomock.Call {
		return mockS3API.EXPECT().GetObject(gomock.Any(), gomock.Any()).
			DoAndReturn(func(
				ctx context.Context,
				input *awss3.GetObjectInput,
				opts ...func(*awss3.Options),
			) (*awss3.GetObjectOutput, error) {
				Expect(*input.Bucket).To(Equal(bucketName))
				Expect(*input.Key).To(Equal(infoKey))
				infoBytes, err := json.Marshal(fileInfo)
				Expect(err).ToNot(HaveOccurred())
				return &awss3.GetObjectOutput{
					Body: io.NopCloser(bytes.NewReader(infoBytes)),
				}, nil
			})
	}

	expectNoInfo := func() *gomock.Call {
		return mockS3API.EXPECT().GetObject(gomock.Any(), gomock.Any()).
			Do(func(ctx context.Context, input *awss3.GetObjectInput, opts ...func(*awss3.Options)) {
				Expect(*input.Key).To(Equal(infoKey))
			}).
			Return(nil, &types.NoSuchKey{})
	}

	Describe("FetchMetadata", func() {
		It("should report size and ETag of a download", func(ctx context.Context) {
			mockS3API.EXPECT().HeadObject(ctx, &awss3.HeadObjectInput{
				Bucket: aws.String(bucketName),
				Key:    aws.String(fileInfo.Key),
			}).Return(&awss3.HeadObjectOutput{
				ContentLength: aws.Int64(250),
				ETag:          aws.String(`"etag-1"`),
			}, nil)

			meta, err := endpoint.FetchMetadata(ctx, fileInfo.Key, state.Download)
			Expect(err).ToNot(HaveOccurred())
			Expect(meta).To(Equal(remote.Metadata{TotalBytes: 250, Marker: `"etag-1"`}))
		}, NodeTimeout(10*time.Second))

		It("should fall back to size and modification time without ETag", func(ctx context.Context) {
			modTime := gofakeit.PastDate()
			mockS3API.EXPECT().HeadObject(ctx, gomock.Any()).Return(&awss3.HeadObjectOutput{
				ContentLength: aws.Int64(100),
				LastModified:  aws.Time(modTime),
			}, nil)

			meta, err := endpoint.FetchMetadata(ctx, fileInfo.Key, state.Download)
			Expect(err).ToNot(HaveOccurred())
			Expect(meta.TotalBytes).To(Equal(uint64(100)))
			Expect(meta.Marker).To(HavePrefix("100-"))
		}, NodeTimeout(10*time.Second))

		DescribeTable("should map missing objects to ErrNotFound",
			func(ctx context.Context, awsErr error) {
				mockS3API.EXPECT().HeadObject(ctx, gomock.Any()).Return(nil, awsErr)
				_, err := endpoint.FetchMetadata(ctx, fileInfo.Key, state.Download)
				Expect(err).To(MatchError(remote.ErrNotFound))
			},
			Entry("typed NotFound", &types.NotFound{}),
			Entry("NotFound code", &smithy.GenericAPIError{Code: "NotFound"}),
			Entry("NoSuchKey", &types.NoSuchKey{}),
		)

		It("should keep other HEAD errors", func(ctx context.Context) {
			mockS3API.EXPECT().HeadObject(ctx, gomock.Any()).Return(nil, &smithy.GenericAPIError{Code: "SlowDown"})
			_, err := endpoint.FetchMetadata(ctx, fileInfo.Key, state.Download)
			Expect(err).To(HaveOccurred())
			Expect(err).ToNot(MatchError(remote.ErrNotFound))
		}, NodeTimeout(10*time.Second))

		It("should create a multipart upload when no session exists", func(ctx context.Context) {
			gomock.InOrder(
				expectNoInfo(),
				mockS3API.EXPECT().CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
					Bucket: aws.String(bucketName),
					Key:    aws.String(fileInfo.Key),
				}).Return(&awss3.CreateMultipartUploadOutput{
					UploadId: aws.String("upload-1"),
				}, nil),
				mockS3API.EXPECT().PutObject(ctx, gomock.Any()).
					DoAndReturn(func(
						ctx context.Context,
						input *awss3.PutObjectInput,
						opts ...func(*awss3.Options),
					) (*awss3.PutObjectOutput, error) {
						Expect(*input.Key).To(Equal(infoKey))
						var stored xferfile.Info
						Expect(json.NewDecoder(input.Body).Decode(&stored)).To(Succeed())
						Expect(stored.SessionID).To(Equal("upload-1"))
						Expect(stored.Key).To(Equal(fileInfo.Key))
						Expect(stored.Metadata).To(And(
							HaveKeyWithValue(bucketMeta, bucketName),
							HaveKeyWithValue(multipartIDMeta, "upload-1"),
						))
						return &awss3.PutObjectOutput{}, nil
					}),
			)

			meta, err := endpoint.FetchMetadata(ctx, fileInfo.Key, state.Upload)
			Expect(err).ToNot(HaveOccurred())
			Expect(meta).To(Equal(remote.Metadata{TotalBytes: state.SizeUnknown, Marker: "upload-1"}))
		}, NodeTimeout(10*time.Second))

		It("should reuse the stored session", func(ctx context.Context) {
			expectInfo()

			meta, err := endpoint.FetchMetadata(ctx, fileInfo.Key, state.Upload)
			Expect(err).ToNot(HaveOccurred())
			Expect(meta.Marker).To(Equal(fileInfo.SessionID))
			Expect(meta.TotalBytes).To(Equal(state.SizeUnknown))
		}, NodeTimeout(10*time.Second))

		It("should reject references escaping the bucket", func(ctx context.Context) {
			_, err := endpoint.FetchMetadata(ctx, "../secret", state.Download)
			Expect(err).To(HaveOccurred())
		}, NodeTimeout(10*time.Second))
	})

	Describe("UploadChunk", func() {
		It("should store chunk n as part n+1", func(ctx context.Context) {
			payload := []byte(gofakeit.LetterN(100))
			gomock.InOrder(
				expectInfo(),
				mockS3API.EXPECT().UploadPart(ctx, gomock.Any()).
					DoAndReturn(func(
						ctx context.Context,
						input *awss3.UploadPartInput,
						opts ...func(*awss3.Options),
					) (*awss3.UploadPartOutput, error) {
						Expect(*input.Bucket).To(Equal(bucketName))
						Expect(*input.Key).To(Equal(fileInfo.Key))
						Expect(*input.UploadId).To(Equal(fileInfo.SessionID))
						Expect(*input.PartNumber).To(BeNumerically("==", 2))
						Expect(*input.ContentLength).To(BeNumerically("==", 100))
						Expect(io.ReadAll(input.Body)).To(Equal(payload))
						return &awss3.UploadPartOutput{ETag: aws.String("etag-2")}, nil
					}),
			)

			chunk := remote.Chunk{Index: 1, Range: state.Range{Start: 100, End: 200}}
			Expect(endpoint.UploadChunk(ctx, fileInfo.Key, chunk, bytes.NewReader(payload))).To(Succeed())
			Expect(endpoint.BytesTransferred()).To(BeNumerically("==", 100))
		}, NodeTimeout(10*time.Second))

		It("should not send a part shorter than the chunk", func(ctx context.Context) {
			expectInfo()
			chunk := remote.Chunk{Index: 0, Range: state.Range{Start: 0, End: 100}}
			err := endpoint.UploadChunk(ctx, fileInfo.Key, chunk, strings.NewReader("short"))
			Expect(err).To(HaveOccurred())
		}, NodeTimeout(10*time.Second))

		It("should reject a chunk without session", func(ctx context.Context) {
			expectNoInfo()
			chunk := remote.Chunk{Index: 0, Range: state.Range{Start: 0, End: 5}}
			err := endpoint.UploadChunk(ctx, fileInfo.Key, chunk, strings.NewReader("hello"))
			Expect(err).To(MatchError(remote.ErrRangeNotSatisfiable))
		}, NodeTimeout(10*time.Second))

		It("should reject a chunk of an aborted multipart upload", func(ctx context.Context) {
			expectInfo()
			mockS3API.EXPECT().UploadPart(ctx, gomock.Any()).
				Return(nil, &smithy.GenericAPIError{Code: "NoSuchUpload"})
			chunk := remote.Chunk{Index: 0, Range: state.Range{Start: 0, End: 5}}
			err := endpoint.UploadChunk(ctx, fileInfo.Key, chunk, strings.NewReader("hello"))
			Expect(err).To(MatchError(remote.ErrRangeNotSatisfiable))
		}, NodeTimeout(10*time.Second))

		It("should reject part numbers above the multipart limit", func(ctx context.Context) {
			chunk := remote.Chunk{
				Index: uint64(endpoint.MaxMultipartParts),
				Range: state.Range{Start: 0, End: 5},
			}
			err := endpoint.UploadChunk(ctx, fileInfo.Key, chunk, strings.NewReader("hello"))
			Expect(err).To(MatchError(remote.ErrRangeNotSatisfiable))
		}, NodeTimeout(10*time.Second))

		It("should keep transient errors", func(ctx context.Context) {
			expectInfo()
			mockS3API.EXPECT().UploadPart(ctx, gomock.Any()).
				Return(nil, &smithy.GenericAPIError{Code: "InternalError"})
			chunk := remote.Chunk{Index: 0, Range: state.Range{Start: 0, End: 5}}
			err := endpoint.UploadChunk(ctx, fileInfo.Key, chunk, strings.NewReader("hello"))
			Expect(err).To(HaveOccurred())
			Expect(err).ToNot(MatchError(remote.ErrRangeNotSatisfiable))
		}, NodeTimeout(10*time.Second))
	})

	Describe("DownloadChunk", func() {
		It("should request an inclusive byte range", func(ctx context.Context) {
			mockS3API.EXPECT().GetObject(ctx, &awss3.GetObjectInput{
				Bucket: aws.String(bucketName),
				Key:    aws.String(fileInfo.Key),
				Range:  aws.String("bytes=100-199"),
			}).Return(&awss3.GetObjectOutput{
				Body: io.NopCloser(strings.NewReader(strings.Repeat("x", 100))),
			}, nil)

			var buf bytes.Buffer
			chunk := remote.Chunk{Index: 1, Range: state.Range{Start: 100, End: 200}}
			Expect(endpoint.DownloadChunk(ctx, fileInfo.Key, chunk, &buf)).To(Succeed())
			Expect(buf.String()).To(Equal(strings.Repeat("x", 100)))
		}, NodeTimeout(10*time.Second))

		It("should map InvalidRange to ErrRangeNotSatisfiable", func(ctx context.Context) {
			mockS3API.EXPECT().GetObject(ctx, gomock.Any()).
				Return(nil, &smithy.GenericAPIError{Code: "InvalidRange"})
			chunk := remote.Chunk{Index: 3, Range: state.Range{Start: 300, End: 400}}
			err := endpoint.DownloadChunk(ctx, fileInfo.Key, chunk, io.Discard)
			Expect(err).To(MatchError(remote.ErrRangeNotSatisfiable))
		}, NodeTimeout(10*time.Second))

		It("should reject a range cut by the end of the object", func(ctx context.Context) {
			mockS3API.EXPECT().GetObject(ctx, gomock.Any()).Return(&awss3.GetObjectOutput{
				Body: io.NopCloser(strings.NewReader("only fifty bytes")),
			}, nil)
			chunk := remote.Chunk{Index: 2, Range: state.Range{Start: 200, End: 300}}
			err := endpoint.DownloadChunk(ctx, fileInfo.Key, chunk, io.Discard)
			Expect(err).To(MatchError(remote.ErrRangeNotSatisfiable))
		}, NodeTimeout(10*time.Second))

		It("should reject an empty range without calling S3", func(ctx context.Context) {
			chunk := remote.Chunk{Range: state.Range{Start: 10, End: 10}}
			err := endpoint.DownloadChunk(ctx, fileInfo.Key, chunk, io.Discard)
			Expect(err).To(MatchError(remote.ErrRangeNotSatisfiable))
		}, NodeTimeout(10*time.Second))
	})

	Describe("ConfirmedRanges", func() {
		It("should list every page of parts", func(ctx context.Context) {
			expectInfo()
			mockS3API.EXPECT().ListParts(ctx, &awss3.ListPartsInput{
				Bucket:           aws.String(bucketName),
				Key:              aws.String(fileInfo.Key),
				UploadId:         aws.String(fileInfo.SessionID),
				PartNumberMarker: nil,
			}).Return(&awss3.ListPartsOutput{
				Parts: []types.Part{
					{PartNumber: aws.Int32(1), Size: aws.Int64(100), ETag: aws.String("etag-1")},
					{PartNumber: aws.Int32(2), Size: aws.Int64(100), ETag: aws.String("etag-2")},
				},
				NextPartNumberMarker: aws.String("2"),
				// Simulate a truncated response, a second request must follow
				IsTruncated: aws.Bool(true),
			}, nil)
			mockS3API.EXPECT().ListParts(ctx, &awss3.ListPartsInput{
				Bucket:           aws.String(bucketName),
				Key:              aws.String(fileInfo.Key),
				UploadId:         aws.String(fileInfo.SessionID),
				PartNumberMarker: aws.String("2"),
			}).Return(&awss3.ListPartsOutput{
				Parts: []types.Part{
					{PartNumber: aws.Int32(4), Size: aws.Int64(50), ETag: aws.String("etag-4")},
				},
			}, nil)

			ranges, err := endpoint.ConfirmedRanges(ctx, fileInfo.Key, 100)
			Expect(err).ToNot(HaveOccurred())
			Expect(ranges).To(Equal(state.RangeSet{{Start: 0, End: 200}, {Start: 300, End: 350}}))
		}, NodeTimeout(10*time.Second))

		It("should report nothing without session", func(ctx context.Context) {
			expectNoInfo()
			ranges, err := endpoint.ConfirmedRanges(ctx, fileInfo.Key, 100)
			Expect(err).ToNot(HaveOccurred())
			Expect(ranges).To(BeEmpty())
		}, NodeTimeout(10*time.Second))

		It("should report nothing for an aborted multipart upload", func(ctx context.Context) {
			expectInfo()
			mockS3API.EXPECT().ListParts(ctx, gomock.Any()).Return(nil, &types.NoSuchUpload{})
			ranges, err := endpoint.ConfirmedRanges(ctx, fileInfo.Key, 100)
			Expect(err).ToNot(HaveOccurred())
			Expect(ranges).To(BeEmpty())
		}, NodeTimeout(10*time.Second))
	})

	Describe("Finalize", func() {
		listParts := func(parts ...types.Part) {
			mockS3API.EXPECT().ListParts(gomock.Any(), gomock.Any()).
				Return(&awss3.ListPartsOutput{Parts: parts}, nil)
		}

		It("should complete the multipart upload and drop the info object", func(ctx context.Context) {
			endpoint.MinPartSize = 100
			expectInfo()
			listParts(
				types.Part{PartNumber: aws.Int32(2), Size: aws.Int64(50), ETag: aws.String("etag-2")},
				types.Part{PartNumber: aws.Int32(1), Size: aws.Int64(100), ETag: aws.String("etag-1")},
			)
			gomock.InOrder(
				mockS3API.EXPECT().CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
					Bucket:   aws.String(bucketName),
					Key:      aws.String(fileInfo.Key),
					UploadId: aws.String(fileInfo.SessionID),
					MultipartUpload: &types.CompletedMultipartUpload{
						Parts: []types.CompletedPart{
							{ETag: aws.String("etag-1"), PartNumber: aws.Int32(1)},
							{ETag: aws.String("etag-2"), PartNumber: aws.Int32(2)},
						},
					},
				}).Return(&awss3.CompleteMultipartUploadOutput{}, nil),
				mockS3API.EXPECT().DeleteObject(ctx, &awss3.DeleteObjectInput{
					Bucket: aws.String(bucketName),
					Key:    aws.String(infoKey),
				}).Return(&awss3.DeleteObjectOutput{}, nil),
			)

			Expect(endpoint.Finalize(ctx, fileInfo.Key)).To(Succeed())
		}, NodeTimeout(10*time.Second))

		It("should refuse a session with a missing part", func(ctx context.Context) {
			expectInfo()
			listParts(
				types.Part{PartNumber: aws.Int32(1), Size: aws.Int64(endpoint.MinPartSize), ETag: aws.String("etag-1")},
				types.Part{PartNumber: aws.Int32(3), Size: aws.Int64(10), ETag: aws.String("etag-3")},
			)
			Expect(endpoint.Finalize(ctx, fileInfo.Key)).To(MatchError(ErrUploadIncomplete))
		}, NodeTimeout(10*time.Second))

		It("should refuse a session without parts", func(ctx context.Context) {
			expectInfo()
			listParts()
			Expect(endpoint.Finalize(ctx, fileInfo.Key)).To(MatchError(ErrUploadIncomplete))
		}, NodeTimeout(10*time.Second))

		It("should refuse parts below the minimum part size", func(ctx context.Context) {
			expectInfo()
			listParts(
				types.Part{PartNumber: aws.Int32(1), Size: aws.Int64(10), ETag: aws.String("etag-1")},
				types.Part{PartNumber: aws.Int32(2), Size: aws.Int64(10), ETag: aws.String("etag-2")},
			)
			Expect(endpoint.Finalize(ctx, fileInfo.Key)).To(MatchError(ErrPartTooSmall))
		}, NodeTimeout(10*time.Second))
	})

	Describe("Abort", func() {
		It("should abort the multipart upload and drop the info object", func(ctx context.Context) {
			expectInfo()
			mockS3API.EXPECT().AbortMultipartUpload(gomock.Any(), &awss3.AbortMultipartUploadInput{
				Bucket:   aws.String(bucketName),
				Key:      aws.String(fileInfo.Key),
				UploadId: aws.String(fileInfo.SessionID),
			}).Return(&awss3.AbortMultipartUploadOutput{}, nil)
			mockS3API.EXPECT().DeleteObject(gomock.Any(), &awss3.DeleteObjectInput{
				Bucket: aws.String(bucketName),
				Key:    aws.String(infoKey),
			}).Return(&awss3.DeleteObjectOutput{}, nil)

			Expect(endpoint.Abort(ctx, fileInfo.Key)).To(Succeed())
		}, NodeTimeout(10*time.Second))

		It("should ignore an already aborted multipart upload", func(ctx context.Context) {
			expectInfo()
			mockS3API.EXPECT().AbortMultipartUpload(gomock.Any(), gomock.Any()).
				Return(nil, &types.NoSuchUpload{})
			mockS3API.EXPECT().DeleteObject(gomock.Any(), gomock.Any()).
				Return(&awss3.DeleteObjectOutput{}, nil)

			Expect(endpoint.Abort(ctx, fileInfo.Key)).To(Succeed())
		}, NodeTimeout(10*time.Second))

		It("should do nothing without session", func(ctx context.Context) {
			expectNoInfo()
			Expect(endpoint.Abort(ctx, fileInfo.Key)).To(Succeed())
		}, NodeTimeout(10*time.Second))
	})
})

var _ = Describe("Config", func() {
	var cfg Config

	BeforeEach(func() {
		cfg = Config{
			Endpoint:   "http://127.0.0.1:9000",
			BucketName: bucketName,
			Region:     region,
			AccessKey:  gofakeit.Password(true, true, true, false, false, 16),
			SecretKey:  gofakeit.Password(true, true, true, false, false, 32),
		}
	})

	DescribeTable("Validate",
		func(ctx context.Context, editFn func(c *Config), valid bool) {
			editFn(&cfg)
			if valid {
				Expect(cfg.Validate(ctx)).To(Succeed())
			} else {
				Expect(cfg.Validate(ctx)).ToNot(Succeed())
			}
		},
		Entry("complete config", func(c *Config) {}, true),
		Entry("AWS default endpoint", func(c *Config) { c.Endpoint = "" }, true),
		Entry("malformed endpoint", func(c *Config) { c.Endpoint = "not a url" }, false),
		Entry("missing bucket", func(c *Config) { c.BucketName = "" }, false),
		Entry("missing region", func(c *Config) { c.Region = "" }, false),
		Entry("missing credentials", func(c *Config) { c.AccessKey, c.SecretKey = "", "" }, false),
	)

	It("should build the URI without scheme", func() {
		Expect(cfg.GetURI()).To(Equal("127.0.0.1:9000/" + bucketName))
		cfg.Endpoint = ""
		Expect(cfg.GetURI()).To(Equal("s3." + region + ".amazonaws.com/" + bucketName))
	})

	It("should build a client", func() {
		Expect(cfg.NewAPI()).ToNot(BeNil())
	})
})
