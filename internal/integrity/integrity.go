// Package integrity computes the integrity token of the bytes a transfer has
// committed so far.
package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/derektruong/rxfer/state"
)

// ErrUnknownAlgorithm is returned for an Algorithm value with no hasher.
var ErrUnknownAlgorithm = errors.New("integrity: unknown checksum algorithm")

// Algorithm identifies a checksum algorithm. The numeric values are
// persisted, never renumber them.
type Algorithm int

const (
	CRC32 Algorithm = iota + 1
	MD5
	SHA256
	XXHash64
)

func (a Algorithm) String() string {
	switch a {
	case CRC32:
		return "crc32"
	case MD5:
		return "md5"
	case SHA256:
		return "sha256"
	case XXHash64:
		return "xxhash64"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// Valid reports whether the algorithm has a hasher.
func (a Algorithm) Valid() bool {
	return a >= CRC32 && a <= XXHash64
}

// Hasher accumulates the committed bytes of a transfer in offset order.
type Hasher struct {
	alg  Algorithm
	hash hash.Hash
}

// New returns an empty Hasher.
func New(alg Algorithm) (h *Hasher, err error) {
	var inner hash.Hash
	switch alg {
	case CRC32:
		inner = crc32.NewIEEE()
	case MD5:
		inner = md5.New()
	case SHA256:
		inner = sha256.New()
	case XXHash64:
		inner = xxhash.New()
	default:
		err = ErrUnknownAlgorithm
		return
	}
	h = &Hasher{alg: alg, hash: inner}
	return
}

func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// Write never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.hash.Write(p)
}

// Token returns the hex encoded checksum of everything written so far.
func (h *Hasher) Token() string {
	return hex.EncodeToString(h.hash.Sum(nil))
}

// Compute hashes the bytes of r covered by ranges, in ascending offset order.
func Compute(alg Algorithm, r io.ReaderAt, ranges state.RangeSet) (h *Hasher, err error) {
	if h, err = New(alg); err != nil {
		return
	}
	for _, rng := range ranges {
		section := io.NewSectionReader(r, int64(rng.Start), int64(rng.Len()))
		var n int64
		if n, err = io.Copy(h, section); err != nil {
			return
		}
		if uint64(n) != rng.Len() {
			err = fmt.Errorf("integrity: short read of %s, got %d bytes: %w", rng, n, io.ErrUnexpectedEOF)
			return
		}
	}
	return
}
