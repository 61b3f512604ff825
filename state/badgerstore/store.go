// Package badgerstore keeps transfer states in an embedded BadgerDB.
//
// Records are JSON encoded under the key
//
//	rxfer/<owner digest>/<direction>/<tuple digest>
//
// so that listing the transfers of one owner and direction is a prefix scan.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/derektruong/rxfer/state"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
)

const keyPrefix = "rxfer"

const (
	defaultConflictAttempts = 5
	defaultConflictDelay    = 5 * time.Millisecond
)

type options struct {
	inMemory   bool
	syncWrites bool
}

// Option configures a Store.
type Option func(*options)

// WithInMemory keeps the database in memory only, the directory is ignored.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithSyncWrites makes every commit wait for an fsync.
func WithSyncWrites() Option {
	return func(o *options) {
		o.syncWrites = true
	}
}

// Store is a state.Store backed by BadgerDB. Badger transactions give
// per-key isolation, so unrelated records never wait on each other.
type Store struct {
	logger logr.Logger
	db     *badger.DB
	closed atomic.Bool
}

var _ state.Store = (*Store)(nil)

// Open opens, or creates, the database under dir.
func Open(logger logr.Logger, dir string, opts ...Option) (s *Store, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger = logger.WithName("badgerstore")

	badgerOpts := badger.DefaultOptions(dir)
	if o.inMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	badgerOpts = badgerOpts.
		WithSyncWrites(o.syncWrites).
		WithLogger(badgerLogger{logger: logger})

	var db *badger.DB
	if db, err = badger.Open(badgerOpts); err != nil {
		err = fmt.Errorf("failed to open badger database: %w", err)
		return
	}
	s = &Store{logger: logger, db: db}
	logger.V(1).Info("opened state store", "dir", dir, "inMemory", o.inMemory)
	return
}

func (s *Store) Get(ctx context.Context, key state.Key) (st state.TransferState, err error) {
	if s.closed.Load() {
		err = state.ErrStoreClosed
		return
	}
	err = s.db.View(func(txn *badger.Txn) (err error) {
		st, err = getState(txn, key)
		return
	})
	return
}

func (s *Store) Create(ctx context.Context, st state.TransferState) (err error) {
	return s.update(ctx, func(txn *badger.Txn) (err error) {
		if _, err = getState(txn, st.Key()); err == nil {
			return state.ErrAlreadyExists
		} else if !errors.Is(err, state.ErrNotFound) {
			return
		}
		return setState(txn, st)
	})
}

func (s *Store) Put(ctx context.Context, st state.TransferState) (err error) {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setState(txn, st)
	})
}

func (s *Store) Delete(ctx context.Context, key state.Key) (err error) {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(recordKey(key))
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
	prefix := listPrefix(state.Key{Owner: owner, Direction: direction})
	err = s.db.View(func(txn *badger.Txn) (err error) {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err = ctx.Err(); err != nil {
				return
			}
			var st state.TransferState
			if err = it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return
			}
			states = append(states, st)
		}
		return
	})
	return
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() (err error) {
	if s.closed.Swap(true) {
		return
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying when badger reports a
// conflict with a concurrent transaction on the same key.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if s.closed.Load() {
		return state.ErrStoreClosed
	}
	return retry.Do(
		func() error {
			return s.db.Update(fn)
		},
		retry.Context(ctx),
		retry.Attempts(defaultConflictAttempts),
		retry.Delay(defaultConflictDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, badger.ErrConflict)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.V(1).Info("retrying conflicting transaction", "attempt", n+1)
		}),
	)
}

func getState(txn *badger.Txn, key state.Key) (st state.TransferState, err error) {
	var item *badger.Item
	if item, err = txn.Get(recordKey(key)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			err = state.ErrNotFound
		}
		return
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &st)
	})
	return
}

func setState(txn *badger.Txn, st state.TransferState) (err error) {
	var val []byte
	if val, err = json.Marshal(st); err != nil {
		return
	}
	return txn.Set(recordKey(st.Key()), val)
}

func listPrefix(key state.Key) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s/", keyPrefix, key.OwnerDigest(), key.Direction))
}

func recordKey(key state.Key) []byte {
	return append(listPrefix(key), key.TupleDigest()...)
}
