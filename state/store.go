package state

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("state: transfer state not found")
	// ErrAlreadyExists is returned by Create when a record exists for the key.
	ErrAlreadyExists = errors.New("state: transfer state already exists")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("state: store is closed")
)

//go:generate mockgen -destination=mock/store.go -package=mock_state . Store

// Store is the durable, identity-scoped persistence of transfer states.
// Implementations must be safe for concurrent use and must not serialize
// unrelated records behind a single lock.
type Store interface {
	// Get loads the record stored under key.
	//
	// Returns:
	//  - st: the stored record
	//  - err: ErrNotFound if there is no record, nil otherwise
	Get(ctx context.Context, key Key) (st TransferState, err error)

	// Create stores a new record.
	//
	// Returns:
	//  - err: ErrAlreadyExists if a record already exists for st.Key(), nil otherwise
	Create(ctx context.Context, st TransferState) (err error)

	// Put creates or replaces the record stored under st.Key().
	Put(ctx context.Context, st TransferState) (err error)

	// Delete removes the record stored under key. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, key Key) (err error)

	// List returns the records of the given owner and direction, in no
	// particular order.
	List(ctx context.Context, owner string, direction Direction) (states []TransferState, err error)

	// Close releases the underlying resources.
	Close() error
}
