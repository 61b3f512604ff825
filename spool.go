package rxfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

var errMissingSource = errors.New("either a local path or a body is required")

// spool stores body in the spool directory under its content digest and
// returns the file path. Spooling the same body twice yields the same path,
// so an interrupted upload of an in-memory body can be resumed.
func (c *Client) spool(body []byte) (path string, err error) {
	fs := c.options.fs
	sum := sha256.Sum256(body)
	path = filepath.Join(c.options.spoolDir, hex.EncodeToString(sum[:]))

	if fi, statErr := fs.Stat(path); statErr == nil && fi.Mode().IsRegular() && fi.Size() == int64(len(body)) {
		return
	}
	if err = fs.MkdirAll(c.options.spoolDir, 0o700); err != nil {
		err = localSourceError(c.options.spoolDir, ReasonNotWritable, err)
		return
	}

	var tmp afero.File
	if tmp, err = afero.TempFile(fs, c.options.spoolDir, ".tmp-*"); err != nil {
		err = localSourceError(c.options.spoolDir, ReasonNotWritable, err)
		return
	}
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(body); err != nil {
		_ = tmp.Close()
		err = localSourceError(tmp.Name(), ReasonNotWritable, err)
		return
	}
	if err = tmp.Close(); err != nil {
		err = localSourceError(tmp.Name(), ReasonNotWritable, err)
		return
	}
	if err = fs.Rename(tmp.Name(), path); err != nil {
		err = localSourceError(path, ReasonNotWritable, fmt.Errorf("unable to spool body: %w", err))
		return
	}
	c.logger.V(1).Info("spooled upload body", "path", path, "size", len(body))
	return
}

// spooled reports whether path lives in the spool directory.
func (c *Client) spooled(path string) bool {
	return filepath.Dir(path) == filepath.Clean(c.options.spoolDir)
}
