package queue

import "github.com/osa030/lavabox/internal/domain/track"

// Ring is a bounded FIFO of tracks. Pushing past capacity evicts the oldest entry.
type Ring struct {
	cap   int
	items []*track.Track
}

// NewRing creates a ring holding at most capacity tracks.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{cap: capacity, items: make([]*track.Track, 0, capacity)}
}

// Cap returns the capacity.
func (r *Ring) Cap() int { return r.cap }

// Len returns the number of stored tracks.
func (r *Ring) Len() int { return len(r.items) }

// Push appends tracks, most recent last.
func (r *Ring) Push(tracks ...*track.Track) {
	r.items = append(r.items, tracks...)
	if over := len(r.items) - r.cap; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

// PopBack removes and returns the most recent track.
func (r *Ring) PopBack() *track.Track {
	n := len(r.items)
	if n == 0 {
		return nil
	}
	t := r.items[n-1]
	r.items = r.items[:n-1]
	return t
}

// PopFront removes and returns the oldest track.
func (r *Ring) PopFront() *track.Track {
	if len(r.items) == 0 {
		return nil
	}
	t := r.items[0]
	r.items = r.items[1:]
	return t
}

// Items returns a copy of the contents, oldest first.
func (r *Ring) Items() []*track.Track {
	out := make([]*track.Track, len(r.items))
	copy(out, r.items)
	return out
}

// Drain empties the ring and returns its contents, oldest first.
func (r *Ring) Drain() []*track.Track {
	out := r.items
	r.items = make([]*track.Track, 0, r.cap)
	return out
}

// Clear empties the ring.
func (r *Ring) Clear() {
	r.items = r.items[:0]
}
