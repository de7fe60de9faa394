package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/lavabox/internal/domain/track"
)

func ringTitles(r *Ring) []string {
	var out []string
	for _, t := range r.Items() {
		out = append(out, t.Title)
	}
	return out
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing(3)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		r.Push(&track.Track{Title: n})
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"c", "d", "e"}, ringTitles(r))
}

func TestRing_Pop(t *testing.T) {
	r := NewRing(5)
	r.Push(&track.Track{Title: "a"}, &track.Track{Title: "b"}, &track.Track{Title: "c"})

	assert.Equal(t, "c", r.PopBack().Title)
	assert.Equal(t, "a", r.PopFront().Title)
	assert.Equal(t, []string{"b"}, ringTitles(r))

	drained := r.Drain()
	assert.Len(t, drained, 1)
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.PopBack())
	assert.Nil(t, r.PopFront())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing(0)
	r.Push(&track.Track{Title: "a"}, &track.Track{Title: "b"})
	assert.Equal(t, 1, r.Cap())
	assert.Equal(t, []string{"b"}, ringTitles(r))
}
