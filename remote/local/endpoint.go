// Package local provides a remote.Endpoint storing resources in a directory
// tree, for tests and single-host deployments.
//
// An unfinished upload of "a/b.bin" is kept as two sidecar files:
//
//	a/b.bin.part  the bytes stored so far, written at their offsets
//	a/b.bin.info  the JSON session record (xferfile.Info)
//
// Finalize renames the part file into place and removes the session record.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/derektruong/rxfer/internal/fileutils"
	"github.com/derektruong/rxfer/internal/iometer"
	"github.com/derektruong/rxfer/internal/keylock"
	"github.com/derektruong/rxfer/internal/xferfile"
	"github.com/derektruong/rxfer/remote"
	"github.com/derektruong/rxfer/state"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "rxfer/remote/local"

var (
	defaultFilePerm = os.FileMode(0664)
	defaultDirPerm  = os.FileMode(0755)
)

// ErrUploadIncomplete is returned by Finalize while the session has holes.
var ErrUploadIncomplete = errors.New("local: upload session is incomplete")

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithFs replaces the file system, afero.NewOsFs by default.
func WithFs(fs afero.Fs) Option {
	return func(e *Endpoint) {
		e.fs = fs
	}
}

// Endpoint is a remote.Endpoint rooted at a directory.
type Endpoint struct {
	logger logr.Logger
	fs     afero.Fs
	root   string

	// locks serializes the session operations of one key
	locks keylock.Map

	// bytesTransferred counts the bytes uploaded and downloaded
	bytesTransferred *atomic.Int64
}

var (
	_ remote.Endpoint      = (*Endpoint)(nil)
	_ remote.Aborter       = (*Endpoint)(nil)
	_ remote.RangeReporter = (*Endpoint)(nil)
)

// NewEndpoint returns an Endpoint storing resources under root.
func NewEndpoint(logger logr.Logger, root string, options ...Option) (e *Endpoint, err error) {
	e = &Endpoint{
		logger:           logger.WithName("local.endpoint"),
		fs:               afero.NewOsFs(),
		root:             root,
		bytesTransferred: new(atomic.Int64),
	}
	for _, opt := range options {
		opt(e)
	}
	if err = e.fs.MkdirAll(root, defaultDirPerm); err != nil {
		return
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
	var key, objectPath string
	if key, objectPath, err = e.resolve(ref); err != nil {
		return
	}
	switch direction {
	case state.Download:
		var stat os.FileInfo
		if stat, err = e.fs.Stat(objectPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = remote.ErrNotFound
			}
			return
		}
		if !stat.Mode().IsRegular() {
			err = remote.ErrNotFound
			return
		}
		meta = remote.Metadata{
			TotalBytes: uint64(stat.Size()),
			Marker:     fmt.Sprintf("%d-%d", stat.Size(), stat.ModTime().UnixNano()),
		}
	case state.Upload:
		unlock := e.locks.Lock(key)
		defer unlock()

		var info xferfile.Info
		if info, err = e.readInfo(objectPath); errors.Is(err, xferfile.ErrSessionNotExists) {
			if info, err = e.createSession(key, objectPath); err != nil {
				return
			}
			e.logger.V(1).Info("created upload session", "key", key, "sessionID", info.SessionID)
		} else if err != nil {
			return
		}
		meta = remote.Metadata{
			TotalBytes: state.SizeUnknown,
			Marker:     info.SessionID,
		}
	default:
		err = fmt.Errorf("local: unsupported direction %s", direction)
	}
	return
}

func (e *Endpoint) UploadChunk(
	ctx context.Context,
	ref string,
	chunk remote.Chunk,
	body io.Reader,
) (err error) {
	var key, objectPath string
	if key, objectPath, err = e.resolve(ref); err != nil {
		return
	}

	// read the whole chunk before touching the session, a chunk is stored
	// completely or not at all
	reader := iometer.NewReader(ctx, body, e.bytesTransferred)
	defer reader.Close()
	var data []byte
	if data, err = io.ReadAll(reader); err != nil {
		return
	}
	if uint64(len(data)) != chunk.Range.Len() {
		err = fmt.Errorf("local: chunk %s carried %d bytes", chunk.Range, len(data))
		return
	}

	unlock := e.locks.Lock(key)
	defer unlock()

	var info xferfile.Info
	if info, err = e.readInfo(objectPath); err != nil {
		if errors.Is(err, xferfile.ErrSessionNotExists) {
			err = remote.ErrRangeNotSatisfiable
		}
		return
	}

	var partPath string
	if partPath, err = xferfile.GeneratePartPath(objectPath); err != nil {
		return
	}
	var file afero.File
	if file, err = e.fs.OpenFile(partPath, os.O_WRONLY, defaultFilePerm); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = remote.ErrRangeNotSatisfiable
		}
		return
	}
	defer file.Close()
	if _, err = file.WriteAt(data, int64(chunk.Range.Start)); err != nil {
		return
	}
	if err = file.Sync(); err != nil {
		return
	}

	info.AddRange(chunk.Range)
	return e.writeInfo(objectPath, info)
}

func (e *Endpoint) DownloadChunk(
	ctx context.Context,
	ref string,
	chunk remote.Chunk,
	w io.Writer,
) (err error) {
	var objectPath string
	if _, objectPath, err = e.resolve(ref); err != nil {
		return
	}
	var file afero.File
	if file, err = e.fs.Open(objectPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = remote.ErrNotFound
		}
		return
	}
	defer file.Close()

	var stat os.FileInfo
	if stat, err = file.Stat(); err != nil {
		return
	}
	if chunk.Range.Len() == 0 || chunk.Range.End > uint64(stat.Size()) {
		err = remote.ErrRangeNotSatisfiable
		return
	}

	writer := iometer.NewWriter(ctx, w, e.bytesTransferred)
	section := io.NewSectionReader(file, int64(chunk.Range.Start), int64(chunk.Range.Len()))
	_, err = io.Copy(writer, section)
	return
}

func (e *Endpoint) Finalize(ctx context.Context, ref string) (err error) {
	var key, objectPath string
	if key, objectPath, err = e.resolve(ref); err != nil {
		return
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	var info xferfile.Info
	if info, err = e.readInfo(objectPath); err != nil {
		return
	}
	var partPath, infoPath string
	if partPath, err = xferfile.GeneratePartPath(objectPath); err != nil {
		return
	}
	if infoPath, err = xferfile.GenerateInfoPath(objectPath); err != nil {
		return
	}
	var stat os.FileInfo
	if stat, err = e.fs.Stat(partPath); err != nil {
		return
	}
	if !info.Ranges.Covers(uint64(stat.Size())) {
		err = ErrUploadIncomplete
		return
	}
	if err = e.fs.Rename(partPath, objectPath); err != nil {
		return
	}
	if err = e.fs.Remove(infoPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return
	}
	err = nil
	e.logger.V(1).Info("finalized upload session", "key", key, "sessionID", info.SessionID, "size", stat.Size())
	return
}

// Abort drops the upload session of ref. Aborting a missing session is not an
// error.
func (e *Endpoint) Abort(ctx context.Context, ref string) (err error) {
	var key, objectPath string
	if key, objectPath, err = e.resolve(ref); err != nil {
		return
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	var partPath, infoPath string
	if partPath, err = xferfile.GeneratePartPath(objectPath); err != nil {
		return
	}
	if infoPath, err = xferfile.GenerateInfoPath(objectPath); err != nil {
		return
	}
	var errs []error
	for _, path := range []string{partPath, infoPath} {
		if rmErr := e.fs.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			errs = append(errs, rmErr)
		}
	}
	return errors.Join(errs...)
}

// ConfirmedRanges returns the ranges stored by the upload session of ref, an
// empty set when there is no session.
func (e *Endpoint) ConfirmedRanges(
	ctx context.Context,
	ref string,
	chunkSize uint32,
) (ranges state.RangeSet, err error) {
	var key, objectPath string
	if key, objectPath, err = e.resolve(ref); err != nil {
		return
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	var info xferfile.Info
	if info, err = e.readInfo(objectPath); err != nil {
		if errors.Is(err, xferfile.ErrSessionNotExists) {
			err = nil
		}
		return
	}
	ranges = info.Ranges
	return
}

func (e *Endpoint) resolve(ref string) (key, objectPath string, err error) {
	if key, err = fileutils.CleanKey(ref); err != nil {
		err = fmt.Errorf("local: invalid resource reference %q: %w", ref, err)
		return
	}
	objectPath = filepath.Join(e.root, filepath.FromSlash(key))
	return
}

func (e *Endpoint) createSession(key, objectPath string) (info xferfile.Info, err error) {
	if info, err = xferfile.NewInfo(key); err != nil {
		return
	}
	if err = e.fs.MkdirAll(filepath.Dir(objectPath), defaultDirPerm); err != nil {
		return
	}
	var partPath string
	if partPath, err = xferfile.GeneratePartPath(objectPath); err != nil {
		return
	}
	var file afero.File
	if file, err = e.fs.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFilePerm); err != nil {
		return
	}
	if err = file.Close(); err != nil {
		return
	}
	err = e.writeInfo(objectPath, info)
	return
}

func (e *Endpoint) readInfo(objectPath string) (info xferfile.Info, err error) {
	var infoPath string
	if infoPath, err = xferfile.GenerateInfoPath(objectPath); err != nil {
		return
	}
	var data []byte
	if data, err = afero.ReadFile(e.fs, infoPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = xferfile.ErrSessionNotExists
		}
		return
	}
	err = json.Unmarshal(data, &info)
	return
}

func (e *Endpoint) writeInfo(objectPath string, info xferfile.Info) (err error) {
	var infoPath string
	if infoPath, err = xferfile.GenerateInfoPath(objectPath); err != nil {
		return
	}
	var data []byte
	if data, err = json.Marshal(info); err != nil {
		return
	}
	return afero.WriteFile(e.fs, infoPath, data, defaultFilePerm)
}

func (e *Endpoint) registerMeterCallback() (err error) {
	meter := otel.GetMeterProvider().Meter(meterName)
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
