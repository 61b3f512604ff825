package rxfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/derektruong/rxfer/internal/iometer"
	"github.com/derektruong/rxfer/remote"
	"github.com/spf13/afero"
)

// Uploader moves a local file to a remote resource. It is obtained from
// Client.Uploader.
type Uploader struct {
	*transfer
}

// uploadSide reads chunks from the local file and stores them remotely.
type uploadSide struct {
	fs        afero.Fs
	path      string
	ref       string
	endpoint  remote.Endpoint
	rules     *fileRule
	rateLimit float64
	counter   *atomic.Int64
}

func (u *uploadSide) open() (file afero.File, size int64, err error) {
	var fi os.FileInfo
	if fi, err = u.fs.Stat(u.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = localSourceError(u.path, ReasonNotExist, err)
		} else {
			err = localSourceError(u.path, ReasonInvalidPath, err)
		}
		return
	}
	switch {
	case fi.IsDir():
		err = localSourceError(u.path, ReasonDirectory, nil)
	case !fi.Mode().IsRegular():
		err = localSourceError(u.path, ReasonInvalidPath, fmt.Errorf("not a regular file: %s", fi.Mode()))
	case fi.Size() == 0:
		err = localSourceError(u.path, ReasonZeroSize, nil)
	}
	if err != nil {
		return
	}
	if err = u.rules.Check(u.path, fi); err != nil {
		err = localSourceError(u.path, ReasonRuleViolation, err)
		return
	}
	if file, err = u.fs.Open(u.path); err != nil {
		err = localSourceError(u.path, ReasonInvalidPath, err)
		return
	}
	size = fi.Size()
	return
}

func (u *uploadSide) moveChunk(ctx context.Context, file afero.File, chunk remote.Chunk) (data []byte, err error) {
	data = make([]byte, chunk.Range.Len())
	var n int
	if n, err = file.ReadAt(data, int64(chunk.Range.Start)); n < len(data) {
		if err == nil || errors.Is(err, io.EOF) {
			// the file shrank under the transfer
			err = fmt.Errorf("%w: read %d of %d bytes at offset %d",
				ErrIntegrityViolation, n, len(data), chunk.Range.Start)
		} else {
			err = localSourceError(u.path, ReasonInvalidPath, err)
		}
		return
	}

	reader := iometer.NewReader(ctx, bytes.NewReader(data), u.counter)
	reader.SetRateLimit(u.rateLimit)
	defer reader.Close()
	err = u.endpoint.UploadChunk(ctx, u.ref, chunk, reader)
	return
}

func (u *uploadSide) finish(ctx context.Context, _ afero.File, _ uint64) error {
	return u.endpoint.Finalize(ctx, u.ref)
}
