// Package ringbuf provides a bounded ring buffer of price snapshots with
// time-horizon eviction. It backs sub-minute change queries: the tracker
// pushes one snapshot per poll tick and readers look up the newest snapshot
// at or before a cutoff. Capacity is rounded to a power of two for fast
// bitwise modulo; when full the oldest entry is overwritten.
//
// The ring is not safe for concurrent use on its own; the owning tracker
// serializes access under its lock.
package ringbuf

import (
	"time"

	"cryptoscreener/internal/model"
)

// Ring holds the most recent snapshots for one symbol, oldest to newest.
// Snapshots are pushed in non-decreasing timestamp order.
type Ring struct {
	buf  []model.PriceSnapshot
	mask uint64
	head uint64 // next write position
	tail uint64 // oldest retained entry
}

// New creates a ring. capacity is rounded up to the next power of two,
// minimum 2.
func New(capacity int) *Ring {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring{
		buf:  make([]model.PriceSnapshot, c),
		mask: uint64(c - 1),
	}
}

// Push appends a snapshot, overwriting the oldest entry when full.
func (r *Ring) Push(s model.PriceSnapshot) {
	if r.head-r.tail >= uint64(len(r.buf)) {
		r.tail++
	}
	r.buf[r.head&r.mask] = s
	r.head++
}

// EvictBefore drops entries with timestamps strictly before cutoff.
func (r *Ring) EvictBefore(cutoff time.Time) {
	for r.tail < r.head && r.buf[r.tail&r.mask].TS.Before(cutoff) {
		r.tail++
	}
}

// NearestAtOrBefore returns the newest snapshot whose timestamp is at or
// before t. ok is false when every retained snapshot is newer than t or
// the ring is empty.
func (r *Ring) NearestAtOrBefore(t time.Time) (model.PriceSnapshot, bool) {
	for i := r.head; i > r.tail; i-- {
		s := r.buf[(i-1)&r.mask]
		if !s.TS.After(t) {
			return s, true
		}
	}
	return model.PriceSnapshot{}, false
}

// Oldest returns the oldest retained snapshot.
func (r *Ring) Oldest() (model.PriceSnapshot, bool) {
	if r.head == r.tail {
		return model.PriceSnapshot{}, false
	}
	return r.buf[r.tail&r.mask], true
}

// Latest returns the most recently pushed snapshot.
func (r *Ring) Latest() (model.PriceSnapshot, bool) {
	if r.head == r.tail {
		return model.PriceSnapshot{}, false
	}
	return r.buf[(r.head-1)&r.mask], true
}

// Snapshots returns a copy of the retained entries, oldest first.
func (r *Ring) Snapshots() []model.PriceSnapshot {
	out := make([]model.PriceSnapshot, 0, r.head-r.tail)
	for i := r.tail; i < r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// Len returns the number of retained entries.
func (r *Ring) Len() int {
	return int(r.head - r.tail)
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
