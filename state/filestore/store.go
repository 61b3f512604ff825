// Package filestore keeps every transfer state in its own JSON file:
//
//	<dir>/<owner digest>/<direction>-<tuple digest>.json
//
// Writes go through a temporary file and a rename, so readers never observe a
// partially written record. A sibling ".lock" file guarded by flock serializes
// writers of one record across processes.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/derektruong/rxfer/internal/keylock"
	"github.com/derektruong/rxfer/state"
	"github.com/go-logr/logr"
	"github.com/gofrs/flock"
)

const (
	recordExt       = ".json"
	lockExt         = ".lock"
	defaultDirPerm  = os.FileMode(0700)
	defaultFilePerm = os.FileMode(0600)
	lockRetryDelay  = 10 * time.Millisecond
)

// Store is a state.Store keeping one file per record under a directory.
type Store struct {
	logger logr.Logger
	dir    string
	locks  keylock.Map
	closed atomic.Bool
}

var _ state.Store = (*Store)(nil)

// Open returns a Store rooted at dir, creating the directory if needed.
func Open(logger logr.Logger, dir string) (s *Store, err error) {
	if err = os.MkdirAll(dir, defaultDirPerm); err != nil {
		err = fmt.Errorf("failed to create state directory: %w", err)
		return
	}
	s = &Store{
		logger: logger.WithName("filestore"),
		dir:    dir,
	}
	return
}

func (s *Store) Get(ctx context.Context, key state.Key) (st state.TransferState, err error) {
	if s.closed.Load() {
		err = state.ErrStoreClosed
		return
	}
	return readRecord(s.recordPath(key))
}

func (s *Store) Create(ctx context.Context, st state.TransferState) (err error) {
	return s.withLock(ctx, st.Key(), func(path string) (err error) {
		if _, err = os.Stat(path); err == nil {
			return state.ErrAlreadyExists
		} else if !errors.Is(err, fs.ErrNotExist) {
			return
		}
		return writeRecord(path, st)
	})
}

func (s *Store) Put(ctx context.Context, st state.TransferState) (err error) {
	return s.withLock(ctx, st.Key(), func(path string) error {
		return writeRecord(path, st)
	})
}

func (s *Store) Delete(ctx context.Context, key state.Key) (err error) {
	return s.withLock(ctx, key, func(path string) (err error) {
		if err = os.Remove(path); errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		return
	})
}

func (s *Store) List(
	ctx context.Context,
	owner string,
	direction state.Direction,
) (states []state.TransferState, err error) {
	if s.closed.Load() {
		err = state.ErrStoreClosed
		return
	}
	ownerDir := filepath.Join(s.dir, state.Key{Owner: owner}.OwnerDigest())
	var entries []os.DirEntry
	if entries, err = os.ReadDir(ownerDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		return
	}
	prefix := direction.String() + "-"
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, recordExt) {
			continue
		}
		if err = ctx.Err(); err != nil {
			return
		}
		var st state.TransferState
		if st, err = readRecord(filepath.Join(ownerDir, name)); err != nil {
			// deleted between ReadDir and the read
			if errors.Is(err, state.ErrNotFound) {
				err = nil
				continue
			}
			return
		}
		states = append(states, st)
	}
	return
}

// Close marks the store closed. Closing twice is a no-op.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) recordPath(key state.Key) string {
	return filepath.Join(
		s.dir,
		key.OwnerDigest(),
		fmt.Sprintf("%s-%s%s", key.Direction, key.TupleDigest(), recordExt),
	)
}

// withLock runs fn holding both the in-process and the cross-process lock of
// the record.
func (s *Store) withLock(ctx context.Context, key state.Key, fn func(path string) error) (err error) {
	if s.closed.Load() {
		return state.ErrStoreClosed
	}
	path := s.recordPath(key)
	if err = os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return
	}

	unlock := s.locks.Lock(path)
	defer unlock()

	fileLock := flock.New(strings.TrimSuffix(path, recordExt) + lockExt)
	var locked bool
	if locked, err = fileLock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return
	}
	if !locked {
		return ctx.Err()
	}
	defer func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil {
			s.logger.Error(unlockErr, "failed to release record lock", "path", path)
		}
	}()
	return fn(path)
}

func readRecord(path string) (st state.TransferState, err error) {
	var data []byte
	if data, err = os.ReadFile(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = state.ErrNotFound
		}
		return
	}
	err = json.Unmarshal(data, &st)
	return
}

func writeRecord(path string, st state.TransferState) (err error) {
	var data []byte
	if data, err = json.Marshal(st); err != nil {
		return
	}
	var tmp *os.File
	if tmp, err = os.CreateTemp(filepath.Dir(path), ".tmp-*"); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return
	}
	if err = tmp.Close(); err != nil {
		return
	}
	if err = os.Chmod(tmp.Name(), defaultFilePerm); err != nil {
		return
	}
	return os.Rename(tmp.Name(), path)
}
