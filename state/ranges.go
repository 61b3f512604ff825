package state

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// RangeSet is an ordered list of non-overlapping, non-adjacent ranges.
// The zero value is an empty set.
type RangeSet []Range

// Add merges r into the set and returns the coalesced result.
// Empty ranges are ignored.
func (rs RangeSet) Add(r Range) RangeSet {
	if r.Len() == 0 {
		return rs
	}
	out := make(RangeSet, 0, len(rs)+1)
	inserted := false
	for _, cur := range rs {
		switch {
		case cur.End < r.Start:
			out = append(out, cur)
		case r.End < cur.Start:
			if !inserted {
				out = append(out, r)
				inserted = true
			}
			out = append(out, cur)
		default:
			// overlapping or adjacent, widen r and keep scanning
			r.Start = min(r.Start, cur.Start)
			r.End = max(r.End, cur.End)
		}
	}
	if !inserted {
		out = append(out, r)
	}
	return out
}

// Normalize sorts and coalesces an arbitrary list of ranges.
func (rs RangeSet) Normalize() (out RangeSet) {
	sorted := slices.Clone(rs)
	slices.SortFunc(sorted, func(a, b Range) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	for _, r := range sorted {
		out = out.Add(r)
	}
	return
}

// Len returns the total number of bytes covered by the set.
func (rs RangeSet) Len() (n uint64) {
	for _, r := range rs {
		n += r.Len()
	}
	return
}

// End returns the end offset of the highest range, 0 for an empty set.
func (rs RangeSet) End() uint64 {
	if len(rs) == 0 {
		return 0
	}
	return rs[len(rs)-1].End
}

// Covers reports whether the set is exactly the single range [0, total).
func (rs RangeSet) Covers(total uint64) bool {
	return len(rs) == 1 && rs[0].Start == 0 && rs[0].End == total
}

// Contains reports whether every byte of other is also in rs.
func (rs RangeSet) Contains(other RangeSet) bool {
	for _, r := range other {
		if r.Len() == 0 {
			continue
		}
		i, found := slices.BinarySearchFunc(rs, r.Start, func(cur Range, start uint64) int {
			switch {
			case cur.End <= start:
				return -1
			case cur.Start > start:
				return 1
			}
			return 0
		})
		if !found || rs[i].End < r.End {
			return false
		}
	}
	return true
}

// Next returns the lowest unfilled range of at most chunkSize bytes inside
// [0, total). ok is false when the set already covers [0, total).
func (rs RangeSet) Next(chunkSize uint32, total uint64) (next Range, ok bool) {
	if chunkSize == 0 || total == 0 || total == SizeUnknown {
		return
	}
	var cursor uint64
	for _, r := range rs {
		if r.Start > cursor {
			break
		}
		cursor = max(cursor, r.End)
	}
	if cursor >= total {
		return
	}
	end := min(cursor+uint64(chunkSize), total)
	// stop at the next filled range so a chunk never overlaps committed bytes
	for _, r := range rs {
		if r.Start > cursor && r.Start < end {
			end = r.Start
			break
		}
	}
	return Range{Start: cursor, End: end}, true
}
