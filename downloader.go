package rxfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/derektruong/rxfer/internal/iometer"
	"github.com/derektruong/rxfer/remote"
	"github.com/spf13/afero"
)

// Downloader moves a remote resource into a local file. It is obtained from
// Client.Downloader.
type Downloader struct {
	*transfer
}

// downloadSide fetches chunks from the endpoint and writes them at their
// offset in the local file.
type downloadSide struct {
	fs        afero.Fs
	path      string
	ref       string
	endpoint  remote.Endpoint
	rateLimit float64
	counter   *atomic.Int64
}

func (d *downloadSide) open() (file afero.File, size int64, err error) {
	var fi os.FileInfo
	if fi, err = d.fs.Stat(d.path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			err = localSourceError(d.path, ReasonNotWritable, err)
			return
		}
		// created once the remote resource is known
		err = d.checkParent()
		return
	}
	if fi.IsDir() {
		err = localSourceError(d.path, ReasonDirectory, nil)
		return
	}
	if file, err = d.fs.OpenFile(d.path, os.O_RDWR, 0o644); err != nil {
		err = localSourceError(d.path, ReasonNotWritable, err)
		return
	}
	size = fi.Size()
	return
}

func (d *downloadSide) checkParent() (err error) {
	parent := filepath.Dir(d.path)
	var fi os.FileInfo
	if fi, err = d.fs.Stat(parent); err != nil {
		return localSourceError(d.path, ReasonNotWritable, err)
	}
	if !fi.IsDir() {
		return localSourceError(d.path, ReasonNotWritable, fmt.Errorf("%s is not a directory", parent))
	}
	return
}

func (d *downloadSide) create() (file afero.File, err error) {
	if file, err = d.fs.OpenFile(d.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644); err != nil {
		err = localSourceError(d.path, ReasonNotWritable, err)
	}
	return
}

func (d *downloadSide) moveChunk(ctx context.Context, file afero.File, chunk remote.Chunk) (data []byte, err error) {
	var buf bytes.Buffer
	buf.Grow(int(chunk.Range.Len()))
	writer := iometer.NewWriter(ctx, &buf, d.counter)
	writer.SetRateLimit(d.rateLimit)
	if err = d.endpoint.DownloadChunk(ctx, d.ref, chunk, writer); err != nil {
		return
	}
	if uint64(buf.Len()) != chunk.Range.Len() {
		err = fmt.Errorf("%w: received %d bytes for %s",
			remote.ErrRangeNotSatisfiable, buf.Len(), chunk.Range)
		return
	}
	data = buf.Bytes()
	if _, err = file.WriteAt(data, int64(chunk.Range.Start)); err != nil {
		err = localSourceError(d.path, ReasonNotWritable, err)
	}
	return
}

func (d *downloadSide) finish(_ context.Context, file afero.File, total uint64) (err error) {
	if err = file.Sync(); err != nil {
		return localSourceError(d.path, ReasonNotWritable, err)
	}
	var fi os.FileInfo
	if fi, err = file.Stat(); err != nil {
		return localSourceError(d.path, ReasonNotWritable, err)
	}
	if uint64(fi.Size()) != total {
		err = fmt.Errorf("%w: local file has %d of %d bytes", ErrIntegrityViolation, fi.Size(), total)
	}
	return
}
