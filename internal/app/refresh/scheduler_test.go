package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/lavabox/internal/domain/display"
	"github.com/osa030/lavabox/internal/domain/display/displaytest"
)

type fakeSource struct {
	mu      sync.Mutex
	title   string
	dirty   bool
	renders int
}

func (s *fakeSource) Snapshot() display.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders++
	return display.Snapshot{CommandLog: s.title}
}

func (s *fakeSource) TakeDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

func (s *fakeSource) set(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.dirty = true
}

func (s *fakeSource) renderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders
}

var renderer = display.RendererFunc(func(s display.Snapshot) display.Payload {
	return display.Payload{Content: s.CommandLog}
})

func fastConfig() Config {
	return Config{Tick: 5 * time.Millisecond, Debounce: 30 * time.Millisecond, EditsPerSecond: 1000, Burst: 10}
}

func TestRefresh_SendThenEditSkippingDuplicates(t *testing.T) {
	ch := displaytest.New()
	src := &fakeSource{title: "one"}
	s := New(fastConfig(), src, renderer, ch, "tc1", nil)
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx))
	require.NoError(t, s.Refresh(ctx))
	assert.Len(t, ch.Sent(), 1)
	assert.Empty(t, ch.Edits())

	src.set("two")
	require.NoError(t, s.Refresh(ctx))
	edits := ch.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, "two", edits[0].Payload.Content)
	assert.Equal(t, ch.Sent()[0].Ref, edits[0].Ref)
}

func TestRefresh_MessageGoneResends(t *testing.T) {
	ch := displaytest.New()
	src := &fakeSource{title: "one"}
	s := New(fastConfig(), src, renderer, ch, "tc1", nil)
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx))
	ch.SetEditErr(display.ErrMessageGone)
	src.set("two")
	require.NoError(t, s.Refresh(ctx))

	sent := ch.Sent()
	require.Len(t, sent, 2)
	ref, ok := s.Message()
	require.True(t, ok)
	assert.Equal(t, sent[1].Ref, ref)
}

func TestRefresh_ForbiddenIsFatal(t *testing.T) {
	ch := displaytest.New()
	ch.SendErr = display.ErrForbidden
	fatal := make(chan error, 1)
	s := New(fastConfig(), &fakeSource{}, renderer, ch, "tc1", func(err error) { fatal <- err })

	err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, display.ErrForbidden)

	select {
	case got := <-fatal:
		assert.ErrorIs(t, got, display.ErrForbidden)
	case <-time.After(time.Second):
		t.Fatal("fatal callback not called")
	}
}

func TestLoop_DirtyBurstIsCoalesced(t *testing.T) {
	ch := displaytest.New()
	src := &fakeSource{}
	s := New(fastConfig(), src, renderer, ch, "tc1", nil)
	s.Start()
	defer s.Stop()

	src.set("a")
	assert.Eventually(t, func() bool { return len(ch.Sent()) == 1 }, time.Second, time.Millisecond)

	// Changes landing inside the debounce window produce one edit.
	src.set("b")
	src.set("c")
	src.set("d")
	assert.Eventually(t, func() bool { return len(ch.Edits()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	edits := ch.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, "d", edits[0].Payload.Content)
}

func TestLoop_AutoRefresh(t *testing.T) {
	ch := displaytest.New()
	src := &fakeSource{title: "same"}
	cfg := fastConfig()
	cfg.AutoRefresh = 10 * time.Millisecond
	s := New(cfg, src, renderer, ch, "tc1", nil)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return src.renderCount() >= 3 }, time.Second, time.Millisecond)
	// Identical payloads are not re-sent.
	assert.Len(t, ch.Sent(), 1)
	assert.Empty(t, ch.Edits())
}

func TestFinish(t *testing.T) {
	tests := []struct {
		name        string
		static      bool
		wantDeleted int
		wantEdits   int
	}{
		{name: "ephemeral deletes", wantDeleted: 1},
		{name: "static keeps message", static: true, wantEdits: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := displaytest.New()
			cfg := fastConfig()
			cfg.Static = tt.static
			s := New(cfg, &fakeSource{title: "x"}, renderer, ch, "tc1", nil)
			s.Start()
			require.NoError(t, s.Refresh(context.Background()))

			s.Finish(context.Background())
			s.Finish(context.Background())

			assert.Len(t, ch.Deleted(), tt.wantDeleted)
			assert.Len(t, ch.Edits(), tt.wantEdits)
		})
	}
}

func TestAttachEditsExistingMessage(t *testing.T) {
	ch := displaytest.New()
	s := New(fastConfig(), &fakeSource{title: "x"}, renderer, ch, "tc1", nil)
	s.Attach(display.MessageRef{ChannelID: "tc1", MessageID: "pinned"})

	require.NoError(t, s.Refresh(context.Background()))

	assert.Empty(t, ch.Sent())
	edits := ch.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, "pinned", edits[0].Ref.MessageID)
}
