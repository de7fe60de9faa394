// Package queue provides the track queue and bounded track buffers owned by a player.
// Values in this package are not safe for concurrent use; the owning player serializes access.
package queue

import (
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/lavabox/internal/domain/track"
)

// Errors
var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrNoMatch         = errors.New("no track matched the query")
	ErrAlreadyNext     = errors.New("track is already next in the queue")
	ErrTooFewTracks    = errors.New("not enough tracks in the queue")
	ErrEmpty           = errors.New("queue is empty")
)

// Queue is an ordered double-ended collection of tracks.
type Queue struct {
	items []*track.Track
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{items: make([]*track.Track, 0)}
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.items)
}

// At returns the track at zero-based index i, or nil.
func (q *Queue) At(i int) *track.Track {
	if i < 0 || i >= len(q.items) {
		return nil
	}
	return q.items[i]
}

// Tracks returns a copy of the queue contents.
func (q *Queue) Tracks() []*track.Track {
	out := make([]*track.Track, len(q.items))
	copy(out, q.items)
	return out
}

// Duration returns the summed duration of all non-stream tracks.
func (q *Queue) Duration() time.Duration {
	var total time.Duration
	for _, t := range q.items {
		if !t.IsStream {
			total += t.Duration
		}
	}
	return total
}

// PushBack appends tracks to the end of the queue.
func (q *Queue) PushBack(tracks ...*track.Track) {
	q.items = append(q.items, tracks...)
}

// PushFront puts tracks at the front of the queue, keeping their order.
func (q *Queue) PushFront(tracks ...*track.Track) {
	if len(tracks) == 0 {
		return
	}
	items := make([]*track.Track, 0, len(tracks)+len(q.items))
	items = append(items, tracks...)
	q.items = append(items, q.items...)
}

// Insert places t at zero-based index i. Indexes past the end append.
func (q *Queue) Insert(i int, t *track.Track) {
	if i < 0 {
		i = 0
	}
	if i >= len(q.items) {
		q.items = append(q.items, t)
		return
	}
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = t
}

// Enqueue adds tracks at the given 1-based position. Position 0 appends.
func (q *Queue) Enqueue(position int, tracks ...*track.Track) error {
	if position < 0 {
		return errors.Wrapf(ErrInvalidPosition, "position %d", position)
	}
	if position == 0 {
		q.PushBack(tracks...)
		return nil
	}
	for i, t := range tracks {
		q.Insert(position-1+i, t)
	}
	return nil
}

// PopFront removes and returns the first track.
func (q *Queue) PopFront() *track.Track {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t
}

// PopBack removes and returns the last track.
func (q *Queue) PopBack() *track.Track {
	n := len(q.items)
	if n == 0 {
		return nil
	}
	t := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return t
}

// RemoveAt removes the track at zero-based index i.
func (q *Queue) RemoveAt(i int) (*track.Track, error) {
	if i < 0 || i >= len(q.items) {
		return nil, errors.Wrapf(ErrInvalidPosition, "index %d", i)
	}
	t := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return t, nil
}

// Clear empties the queue and returns the removed tracks.
func (q *Queue) Clear() []*track.Track {
	old := q.items
	q.items = make([]*track.Track, 0)
	return old
}

// Rotate rotates the queue left by n positions (n tracks move from front to back).
func (q *Queue) Rotate(n int) {
	size := len(q.items)
	if size == 0 {
		return
	}
	n %= size
	if n < 0 {
		n += size
	}
	if n == 0 {
		return
	}
	q.items = append(q.items[n:], q.items[:n]...)
}

// Shuffle randomly permutes the queue.
func (q *Queue) Shuffle() error {
	if len(q.items) < 3 {
		return errors.Wrapf(ErrTooFewTracks, "shuffle needs at least 3 tracks, have %d", len(q.items))
	}
	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
	return nil
}

// Reverse reverses the queue order.
func (q *Queue) Reverse() error {
	if len(q.items) < 2 {
		return errors.Wrapf(ErrTooFewTracks, "reverse needs at least 2 tracks, have %d", len(q.items))
	}
	for i, j := 0, len(q.items)-1; i < j; i, j = i+1, j-1 {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	}
	return nil
}

// RemoveMatching removes every track satisfying pred and returns the count removed.
func (q *Queue) RemoveMatching(pred Predicate) int {
	return q.RemoveMatchingRange(0, 0, pred)
}

// RemoveMatchingRange is RemoveMatching restricted to the 1-based inclusive range [from, to].
// Zero bounds are open.
func (q *Queue) RemoveMatchingRange(from, to int, pred Predicate) int {
	kept := make([]*track.Track, 0, len(q.items))
	removed := 0
	for i, t := range q.items {
		pos := i + 1
		inRange := (from <= 0 || pos >= from) && (to <= 0 || pos <= to)
		if inRange && pred(t) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	q.items = kept
	return removed
}

// FindMatching returns up to count zero-based indexes whose titles match query.
// A count below 1 returns every match.
func (q *Queue) FindMatching(query string, count int, exact bool) []int {
	var idx []int
	for i, t := range q.items {
		if Matches(t.Title, query, exact) || Matches(t.Author+" "+t.Title, query, exact) {
			idx = append(idx, i)
			if count > 0 && len(idx) >= count {
				break
			}
		}
	}
	return idx
}

// MoveMatching relocates up to count matching tracks, in their relative order, starting at
// the 1-based target position.
func (q *Queue) MoveMatching(query string, count, target int, exact bool) ([]*track.Track, error) {
	if target < 1 {
		return nil, errors.Wrapf(ErrInvalidPosition, "position %d", target)
	}
	idx := q.FindMatching(query, count, exact)
	if len(idx) == 0 {
		return nil, errors.Wrapf(ErrNoMatch, "query %q", query)
	}

	moved := make([]*track.Track, len(idx))
	for n := len(idx) - 1; n >= 0; n-- {
		t, _ := q.RemoveAt(idx[n])
		moved[n] = t
	}
	for n, t := range moved {
		q.Insert(target-1+n, t)
	}
	return moved, nil
}

// RotateToMatching rotates the queue so the first match becomes the next track.
func (q *Queue) RotateToMatching(query string, exact bool) (*track.Track, error) {
	idx := q.FindMatching(query, 1, exact)
	if len(idx) == 0 {
		return nil, errors.Wrapf(ErrNoMatch, "query %q", query)
	}
	if idx[0] == 0 {
		return nil, ErrAlreadyNext
	}
	q.Rotate(idx[0])
	return q.items[0], nil
}
