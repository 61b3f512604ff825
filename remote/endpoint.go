// Package remote defines the narrow contract between the transfer engine and
// the backend holding the remote resources.
package remote

import (
	"context"
	"errors"
	"io"

	"github.com/derektruong/rxfer/state"
)

var (
	// ErrRangeNotSatisfiable is returned when the backend rejects a byte range.
	ErrRangeNotSatisfiable = errors.New("remote: range not satisfiable")
	// ErrNotFound is returned when the remote resource does not exist.
	ErrNotFound = errors.New("remote: resource not found")
)

// Metadata describes a remote resource at a point in time.
type Metadata struct {
	// TotalBytes is the remote size, state.SizeUnknown for upload sessions
	TotalBytes uint64

	// Marker identifies the version of the resource (download) or the upload
	// session (upload). It changes whenever the resource changes underneath.
	Marker string
}

// Chunk addresses one fixed-size unit of a transfer.
type Chunk struct {
	// Index is Range.Start divided by the transfer chunk size
	Index uint64
	Range state.Range
}

//go:generate mockgen -destination=mock/endpoint.go -package=mock_remote . Endpoint,Aborter,RangeReporter

// Endpoint is the backend side of a resumable transfer. Any error other than
// ErrRangeNotSatisfiable and ErrNotFound is treated as transient.
type Endpoint interface {
	// FetchMetadata negotiates the transfer of ref.
	//
	// For downloads it returns the remote size and version marker. For
	// uploads it opens the upload session, creating it when none exists, and
	// returns the session marker.
	//
	// Parameters:
	//  - ctx: the context of the request
	//  - ref: the remote resource reference
	//  - direction: state.Upload or state.Download
	//
	// Returns:
	//  - meta: the remote metadata
	//  - err: ErrNotFound if a download source is missing, nil otherwise
	FetchMetadata(ctx context.Context, ref string, direction state.Direction) (meta Metadata, err error)

	// UploadChunk stores the bytes of chunk read from body. The chunk is
	// either stored completely or not at all.
	UploadChunk(ctx context.Context, ref string, chunk Chunk, body io.Reader) (err error)

	// DownloadChunk writes the bytes of chunk into w.
	DownloadChunk(ctx context.Context, ref string, chunk Chunk, w io.Writer) (err error)

	// Finalize commits an upload once every chunk has been stored.
	Finalize(ctx context.Context, ref string) (err error)
}

// Aborter is implemented by endpoints able to drop an unfinished upload
// session.
type Aborter interface {
	Abort(ctx context.Context, ref string) (err error)
}

// RangeReporter is implemented by endpoints that can report which byte ranges
// of an unfinished upload they have stored.
type RangeReporter interface {
	ConfirmedRanges(ctx context.Context, ref string, chunkSize uint32) (ranges state.RangeSet, err error)
}
