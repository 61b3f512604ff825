// Package s3 provides a remote.Endpoint backed by AWS S3 or a compatible
// server such as MinIO.
//
// In order to allow this backend to function properly, the user accessing the
// bucket must have at least following AWS IAM policy permissions for the
// bucket and all of its sub resources:
//
//	s3:AbortMultipartUpload
//	s3:DeleteObject
//	s3:GetObject
//	s3:ListMultipartUploadParts
//	s3:PutObject
//
// # Uploads
//
// An upload session is an S3 multipart upload. Its ID is recorded in an info
// object stored next to the final object, "<key>.info", so a session survives
// process restarts. Chunk n of the transfer is stored as part n+1, and the
// parts listed by S3 are the confirmed ranges of the session. Finalize
// completes the multipart upload and removes the info object, Abort aborts it.
//
// S3 rejects parts smaller than 5MB unless they are the last one, the chunk
// size of an upload must therefore be at least MinPartSize.
//
// # Downloads
//
// HeadObject reports the size and the ETag, which is used as the version
// marker. Chunks are fetched with ranged GetObject requests.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/derektruong/rxfer/internal/fileutils"
	"github.com/derektruong/rxfer/internal/iometer"
	"github.com/derektruong/rxfer/internal/keylock"
	"github.com/derektruong/rxfer/internal/xferfile"
	"github.com/derektruong/rxfer/remote"
	"github.com/derektruong/rxfer/state"
	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

const (
	meterNamePrefix = "rxfer/remote/s3"
	multipartIDMeta = "multipartID"
	bucketMeta      = "bucket"
)

var (
	// ErrPartTooSmall is returned by Finalize when a part other than the last
	// one is below MinPartSize.
	ErrPartTooSmall = errors.New("s3: part is smaller than the minimum part size")
	// ErrUploadIncomplete is returned by Finalize while the session has holes.
	ErrUploadIncomplete = errors.New("s3: upload session is incomplete")
)

// Endpoint is a remote.Endpoint storing resources as objects of one bucket.
type Endpoint struct {
	// MinPartSize specifies the minimum size of a single part uploaded to S3
	// in bytes. AWS S3 uses 5MB for this value.
	MinPartSize int64

	// MaxPartSize specifies the maximum size of a single part uploaded to S3
	// in bytes.
	MaxPartSize int64

	// MaxMultipartParts is the maximum number of parts an S3 multipart upload is
	// allowed to have according to AWS S3 API specifications.
	// See: http://docs.aws.amazon.com/AmazonS3/latest/dev/qfacts.html
	MaxMultipartParts int64

	logger logr.Logger
	client S3API
	bucket string

	// locks serializes the session operations of one key
	locks keylock.Map

	bytesTransferred *atomic.Int64
}

var (
	_ remote.Endpoint      = (*Endpoint)(nil)
	_ remote.Aborter       = (*Endpoint)(nil)
	_ remote.RangeReporter = (*Endpoint)(nil)
)

// NewEndpoint returns an Endpoint on bucket.
func NewEndpoint(logger logr.Logger, client S3API, bucket string) (e *Endpoint, err error) {
	e = &Endpoint{
		MinPartSize:       5 * 1024 * 1024,        // 5MB
		MaxPartSize:       5 * 1024 * 1024 * 1024, // 5GB
		MaxMultipartParts: 10000,
		logger:            logger.WithName("s3.endpoint"),
		client:            client,
		bucket:            bucket,
		bytesTransferred:  new(atomic.Int64),
	}
	if err = e.registerMeterCallback(); err != nil {
		return
	}
	return
}

// BytesTransferred returns the number of bytes moved through the endpoint.
func (e *Endpoint) BytesTransferred() int64 {
	return e.bytesTransferred.Load()
}

func (e *Endpoint) FetchMetadata(
	ctx context.Context,
	ref string,
	direction state.Direction,
) (meta remote.Metadata, err error) {
	var key string
	if key, err = resolve(ref); err != nil {
		return
	}
	switch direction {
	case state.Download:
		var head *awss3.HeadObjectOutput
		if head, err = e.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(e.bucket),
			Key:    aws.String(key),
		}); err != nil {
			if isNotFound(err) {
				err = remote.ErrNotFound
			}
			return
		}
		size := lo.FromPtr(head.ContentLength)
		marker := lo.FromPtr(head.ETag)
		if marker == "" {
			marker = fmt.Sprintf("%d-%d", size, lo.FromPtr(head.LastModified).UnixNano())
		}
		meta = remote.Metadata{
			TotalBytes: uint64(size),
			Marker:     marker,
		}
	case state.Upload:
		unlock := e.locks.Lock(key)
		defer unlock()

		var info xferfile.Info
		if info, err = e.readInfo(ctx, key); errors.Is(err, xferfile.ErrSessionNotExists) {
			if info, err = e.createSession(ctx, key); err != nil {
				return
			}
			e.logger.V(1).Info("created multipart upload", "key", key, "multipartID", info.SessionID)
		} else if err != nil {
			return
		}
		meta = remote.Metadata{
			TotalBytes: state.SizeUnknown,
			Marker:     info.SessionID,
		}
	default:
		err = fmt.Errorf("s3: unsupported direction %s", direction)
	}
	return
}

func (e *Endpoint) UploadChunk(
	ctx context.Context,
	ref string,
	chunk remote.Chunk,
	body io.Reader,
) (err error) {
	var key string
	if key, err = resolve(ref); err != nil {
		return
	}
	partNumber := int64(chunk.Index) + 1
	if partNumber > e.MaxMultipartParts || int64(chunk.Range.Len()) > e.MaxPartSize {
		err = fmt.Errorf("%w: part %d of %d bytes", remote.ErrRangeNotSatisfiable, partNumber, chunk.Range.Len())
		return
	}

	var info xferfile.Info
	if info, err = e.readInfo(ctx, key); err != nil {
		if errors.Is(err, xferfile.ErrSessionNotExists) {
			err = remote.ErrRangeNotSatisfiable
		}
		return
	}

	// buffer the part so that the SDK can sign it and send a Content-Length
	reader := iometer.NewReader(ctx, body, e.bytesTransferred)
	defer reader.Close()
	var data []byte
	if data, err = io.ReadAll(reader); err != nil {
		return
	}
	if uint64(len(data)) != chunk.Range.Len() {
		err = fmt.Errorf("s3: chunk %s carried %d bytes", chunk.Range, len(data))
		return
	}

	if _, err = e.client.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(info.SessionID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}); err != nil {
		if isNoSuchUpload(err) {
			err = remote.ErrRangeNotSatisfiable
		}
		return
	}
	return
}

func (e *Endpoint) DownloadChunk(
	ctx context.Context,
	ref string,
	chunk remote.Chunk,
	w io.Writer,
) (err error) {
	var key string
	if key, err = resolve(ref); err != nil {
		return
	}
	if chunk.Range.Len() == 0 {
		err = remote.ErrRangeNotSatisfiable
		return
	}
	var obj *awss3.GetObjectOutput
	if obj, err = e.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", chunk.Range.Start, chunk.Range.End-1)),
	}); err != nil {
		switch {
		case isInvalidRange(err):
			err = remote.ErrRangeNotSatisfiable
		case isNotFound(err):
			err = remote.ErrNotFound
		}
		return
	}
	defer obj.Body.Close()

	writer := iometer.NewWriter(ctx, w, e.bytesTransferred)
	var n int64
	if n, err = io.Copy(writer, io.LimitReader(obj.Body, int64(chunk.Range.Len()))); err != nil {
		return
	}
	if uint64(n) != chunk.Range.Len() {
		// the server cut the range at the end of the object
		err = fmt.Errorf("%w: got %d bytes of %s", remote.ErrRangeNotSatisfiable, n, chunk.Range)
	}
	return
}

func (e *Endpoint) Finalize(ctx context.Context, ref string) (err error) {
	var key string
	if key, err = resolve(ref); err != nil {
		return
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	var info xferfile.Info
	if info, err = e.readInfo(ctx, key); err != nil {
		return
	}
	var parts []types.Part
	if parts, err = e.listAllParts(ctx, key, info.SessionID); err != nil {
		return
	}
	slices.SortFunc(parts, func(a, b types.Part) int {
		return int(lo.FromPtr(a.PartNumber) - lo.FromPtr(b.PartNumber))
	})
	for i, part := range parts {
		if lo.FromPtr(part.PartNumber) != int32(i+1) {
			err = fmt.Errorf("%w: part %d is missing", ErrUploadIncomplete, i+1)
			return
		}
		if i < len(parts)-1 && lo.FromPtr(part.Size) < e.MinPartSize {
			err = fmt.Errorf("%w: part %d has %d bytes", ErrPartTooSmall, i+1, lo.FromPtr(part.Size))
			return
		}
	}
	if len(parts) == 0 {
		err = ErrUploadIncomplete
		return
	}

	completedParts := lo.Map(parts, func(p types.Part, _ int) types.CompletedPart {
		return types.CompletedPart{
			ETag:       p.ETag,
			PartNumber: p.PartNumber,
		}
	})
	if _, err = e.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:   aws.String(e.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(info.SessionID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	}); err != nil {
		return
	}
	if err = e.deleteInfo(ctx, key); err != nil {
		return
	}
	e.logger.V(1).Info("completed multipart upload", "key", key, "parts", len(parts))
	return
}

// Abort aborts the multipart upload of ref and removes its info object.
// Aborting a missing session is not an error.
func (e *Endpoint) Abort(ctx context.Context, ref string) (err error) {
	var key string
	if key, err = resolve(ref); err != nil {
		return
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	var info xferfile.Info
	if info, err = e.readInfo(ctx, key); err != nil {
		if errors.Is(err, xferfile.ErrSessionNotExists) {
			err = nil
		}
		return
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		if _, err = e.client.AbortMultipartUpload(egCtx, &awss3.AbortMultipartUploadInput{
			Bucket:   aws.String(e.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(info.SessionID),
		}); err != nil && isNoSuchUpload(err) {
			err = nil
		}
		return
	})
	eg.Go(func() error {
		return e.deleteInfo(egCtx, key)
	})
	return eg.Wait()
}

// ConfirmedRanges maps the parts stored by S3 back to byte ranges, part n
// starting at (n-1)*chunkSize.
func (e *Endpoint) ConfirmedRanges(
	ctx context.Context,
	ref string,
	chunkSize uint32,
) (ranges state.RangeSet, err error) {
	var key string
	if key, err = resolve(ref); err != nil {
		return
	}
	var info xferfile.Info
	if info, err = e.readInfo(ctx, key); err != nil {
		if errors.Is(err, xferfile.ErrSessionNotExists) {
			err = nil
		}
		return
	}
	var parts []types.Part
	if parts, err = e.listAllParts(ctx, key, info.SessionID); err != nil {
		if isNoSuchUpload(err) {
			err = nil
		}
		return
	}
	for _, part := range parts {
		start := uint64(lo.FromPtr(part.PartNumber)-1) * uint64(chunkSize)
		ranges = ranges.Add(state.Range{
			Start: start,
			End:   start + uint64(lo.FromPtr(part.Size)),
		})
	}
	return
}

func resolve(ref string) (key string, err error) {
	if key, err = fileutils.CleanKey(ref); err != nil {
		err = fmt.Errorf("s3: invalid resource reference %q: %w", ref, err)
	}
	return
}

func (e *Endpoint) createSession(ctx context.Context, key string) (info xferfile.Info, err error) {
	if info, err = xferfile.NewInfo(key); err != nil {
		return
	}
	var res *awss3.CreateMultipartUploadOutput
	if res, err = e.client.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	}); err != nil {
		err = fmt.Errorf("unable to create multipart upload: %w", err)
		return
	}
	info.SessionID = lo.FromPtr(res.UploadId)
	info.Metadata = map[string]string{
		bucketMeta:      e.bucket,
		multipartIDMeta: info.SessionID,
	}
	if err = e.writeInfo(ctx, info); err != nil {
		err = fmt.Errorf("unable to create info object: %w", err)
	}
	return
}

func (e *Endpoint) readInfo(ctx context.Context, key string) (info xferfile.Info, err error) {
	var infoKey string
	if infoKey, err = xferfile.GenerateInfoPath(key); err != nil {
		return
	}
	var res *awss3.GetObjectOutput
	if res, err = e.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(infoKey),
	}); err != nil {
		if isNotFound(err) {
			err = xferfile.ErrSessionNotExists
		}
		return
	}
	defer res.Body.Close()
	err = json.NewDecoder(res.Body).Decode(&info)
	return
}

func (e *Endpoint) writeInfo(ctx context.Context, info xferfile.Info) (err error) {
	var infoKey string
	if infoKey, err = xferfile.GenerateInfoPath(info.Key); err != nil {
		return
	}
	var data []byte
	if data, err = json.Marshal(info); err != nil {
		return
	}
	_, err = e.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(infoKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return
}

func (e *Endpoint) deleteInfo(ctx context.Context, key string) (err error) {
	var infoKey string
	if infoKey, err = xferfile.GenerateInfoPath(key); err != nil {
		return
	}
	if _, err = e.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(infoKey),
	}); err != nil && isNotFound(err) {
		err = nil
	}
	return
}

func (e *Endpoint) listAllParts(ctx context.Context, key, uploadID string) (parts []types.Part, err error) {
	var partMarker *string
	for {
		var listPart *awss3.ListPartsOutput
		if listPart, err = e.client.ListParts(ctx, &awss3.ListPartsInput{
			Bucket:           aws.String(e.bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: partMarker,
		}); err != nil {
			return
		}
		parts = append(parts, listPart.Parts...)
		if lo.FromPtr(listPart.IsTruncated) {
			partMarker = listPart.NextPartNumberMarker
		} else {
			break
		}
	}
	return
}

func (e *Endpoint) registerMeterCallback() (err error) {
	meter := otel.GetMeterProvider().Meter(fmt.Sprintf("%s/%s", meterNamePrefix, e.bucket))
	var totalBytesTransferred metric.Int64ObservableCounter
	if totalBytesTransferred, err = meter.Int64ObservableCounter("bytes_transferred"); err != nil {
		return
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) (err error) {
			o.ObserveInt64(totalBytesTransferred, e.bytesTransferred.Load())
			return
		},
		totalBytesTransferred,
	)
	return
}
