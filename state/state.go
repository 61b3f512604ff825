// Package state holds the persisted, identity-scoped description of a
// resumable transfer and the Store contract used to keep it across process
// restarts.
package state

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/slices"
)

// SizeUnknown is the total size of a transfer before the first metadata
// round-trip has completed.
const SizeUnknown uint64 = math.MaxUint64

// Status is the persisted status of a transfer.
type Status int

const (
	// StatusNoEntry means no persisted state exists, or it was consumed.
	StatusNoEntry Status = iota
	// StatusOngoing means the transfer is running or can be resumed.
	StatusOngoing
	// StatusSuspended means the transfer was paused by the caller.
	StatusSuspended
)

var statusNames = map[Status]string{
	StatusNoEntry:   "NoEntry",
	StatusOngoing:   "Ongoing",
	StatusSuspended: "Suspended",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Resumable reports whether a record with this status may be resumed.
func (s Status) Resumable() bool {
	return s == StatusOngoing || s == StatusSuspended
}

// Direction tells whether bytes flow to the remote store or from it.
type Direction int

const (
	Upload Direction = iota + 1
	Download
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Key identifies the single resumable record allowed per tuple.
type Key struct {
	Owner       string    `json:"owner"`
	ResourceRef string    `json:"resourceRef"`
	Direction   Direction `json:"direction"`
	LocalPath   string    `json:"localPath"`
}

// OwnerDigest returns a path and key safe digest of the owner identity.
func (k Key) OwnerDigest() string {
	return digest(k.Owner)
}

// TupleDigest returns a digest of the resource and local path, stable for a
// given key.
func (k Key) TupleDigest() string {
	return digest(k.ResourceRef, k.LocalPath)
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Owner, k.Direction, k.ResourceRef, k.LocalPath)
}

func digest(parts ...string) string {
	hasher := sha1.New()
	for _, p := range parts {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// TransferState is the resumability record of one transfer.
type TransferState struct {
	// ID is a random identifier assigned at creation
	ID string `json:"id"`

	// Owner is the identity that created the transfer, it never changes
	Owner string `json:"owner"`

	// ResourceRef is the remote resource the transfer targets
	ResourceRef string `json:"resourceRef"`

	// LocalPath is the local file read from (upload) or written to (download)
	LocalPath string `json:"localPath"`

	Direction Direction `json:"direction"`

	// ChunkSize is fixed for the lifetime of the record
	ChunkSize uint32 `json:"chunkSize"`

	// CompletedRanges are the byte ranges committed so far, coalesced
	CompletedRanges RangeSet `json:"completedRanges"`

	// IntegrityToken is the client computed checksum over the completed bytes
	IntegrityToken string `json:"integrityToken"`

	// Algorithm identifies the checksum algorithm behind IntegrityToken
	Algorithm int `json:"algorithm"`

	// TotalBytes is SizeUnknown until known
	TotalBytes uint64 `json:"totalBytes"`

	Status Status `json:"status"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ModifiedMarker is the remote version marker observed at start
	ModifiedMarker string `json:"modifiedMarker"`
}

// Key returns the uniqueness key of the record.
func (s TransferState) Key() Key {
	return Key{
		Owner:       s.Owner,
		ResourceRef: s.ResourceRef,
		Direction:   s.Direction,
		LocalPath:   s.LocalPath,
	}
}

// CompletedBytes returns the number of committed bytes.
func (s TransferState) CompletedBytes() uint64 {
	return s.CompletedRanges.Len()
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s TransferState) Clone() TransferState {
	s.CompletedRanges = slices.Clone(s.CompletedRanges)
	return s
}
