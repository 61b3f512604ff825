// Package sqlitestore keeps transfer states in a SQLite database through the
// pure Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/derektruong/rxfer/state"
	"github.com/go-logr/logr"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// Store is a state.Store backed by SQLite. Every statement touches a single
// row, writers only contend on SQLite's own lock, which is bounded by the
// busy timeout.
type Store struct {
	logger logr.Logger
	db     *sql.DB
	closed atomic.Bool
}

var _ state.Store = (*Store)(nil)

// Open opens, or creates, the database file at path and applies the schema.
func Open(ctx context.Context, logger logr.Logger, path string) (s *Store, err error) {
	logger = logger.WithName("sqlitestore")

	var db *sql.DB
	if db, err = sql.Open("sqlite", dsn(path)); err != nil {
		err = fmt.Errorf("failed to open sqlite database: %w", err)
		return
	}
	if err = migrate(ctx, db); err != nil {
		_ = db.Close()
		err = fmt.Errorf("failed to migrate sqlite database: %w", err)
		return
	}
	s = &Store{logger: logger, db: db}
	logger.V(1).Info("opened state store", "path", path)
	return
}

// dsn sets the pragmas on every pooled connection, not only the first one.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", defaultBusyTimeout.Milliseconds()))
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) Get(ctx context.Context, key state.Key) (st state.TransferState, err error) {
	if s.closed.Load() {
		err = state.ErrStoreClosed
		return
	}
	var payload string
	if err = s.db.QueryRowContext(ctx, `
SELECT payload
FROM transfer_states
WHERE owner = ? AND direction = ? AND resource_ref = ? AND local_path = ?
`, key.Owner, int(key.Direction), key.ResourceRef, key.LocalPath).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = state.ErrNotFound
		}
		return
	}
	err = json.Unmarshal([]byte(payload), &st)
	return
}

func (s *Store) Create(ctx context.Context, st state.TransferState) (err error) {
	if s.closed.Load() {
		return state.ErrStoreClosed
	}
	var payload []byte
	if payload, err = json.Marshal(st); err != nil {
		return
	}
	var res sql.Result
	if res, err = s.db.ExecContext(ctx, `
INSERT INTO transfer_states (owner, direction, resource_ref, local_path, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (owner, direction, resource_ref, local_path) DO NOTHING
`, st.Owner, int(st.Direction), st.ResourceRef, st.LocalPath, string(payload), timestamp(st.UpdatedAt)); err != nil {
		return
	}
	n, err := res.RowsAffected()
	if err != nil {
		return
	}
	if n == 0 {
		err = state.ErrAlreadyExists
	}
	return
}

func (s *Store) Put(ctx context.Context, st state.TransferState) (err error) {
	if s.closed.Load() {
		return state.ErrStoreClosed
	}
	var payload []byte
	if payload, err = json.Marshal(st); err != nil {
		return
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO transfer_states (owner, direction, resource_ref, local_path, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (owner, direction, resource_ref, local_path)
DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
`, st.Owner, int(st.Direction), st.ResourceRef, st.LocalPath, string(payload), timestamp(st.UpdatedAt))
	return
}

func (s *Store) Delete(ctx context.Context, key state.Key) (err error) {
	if s.closed.Load() {
		return state.ErrStoreClosed
	}
	_, err = s.db.ExecContext(ctx, `
DELETE FROM transfer_states
WHERE owner = ? AND direction = ? AND resource_ref = ? AND local_path = ?
`, key.Owner, int(key.Direction), key.ResourceRef, key.LocalPath)
	return
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
	var rows *sql.Rows
	if rows, err = s.db.QueryContext(ctx, `
SELECT payload
FROM transfer_states
WHERE owner = ? AND direction = ?
ORDER BY id
`, owner, int(direction)); err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err = rows.Scan(&payload); err != nil {
			return
		}
		var st state.TransferState
		if err = json.Unmarshal([]byte(payload), &st); err != nil {
			return
		}
		states = append(states, st)
	}
	err = rows.Err()
	return
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() (err error) {
	if s.closed.Swap(true) {
		return
	}
	return s.db.Close()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
