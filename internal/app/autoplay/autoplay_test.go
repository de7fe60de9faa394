package autoplay

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/node/nodetest"
	"github.com/osa030/lavabox/internal/domain/track"
	"github.com/osa030/lavabox/internal/infra/config"
	"github.com/osa030/lavabox/internal/infra/lastfm"
)

type stubProvider struct {
	name   string
	tracks []*track.Track
	err    error
	calls  int
}

func (p *stubProvider) Related(ctx context.Context, searcher node.Searcher, seed *track.Track) ([]*track.Track, error) {
	p.calls++
	return p.tracks, p.err
}

func (p *stubProvider) Name() string { return p.name }

type fakeLastFm struct {
	similar    []lastfm.SimilarTrack
	similarErr error
	top        []lastfm.SimilarTrack
	topErr     error
	topCalls   int
}

func (f *fakeLastFm) GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.SimilarTrack, error) {
	return f.similar, f.similarErr
}

func (f *fakeLastFm) GetArtistTopTracks(ctx context.Context, artistName string, limit int) ([]lastfm.SimilarTrack, error) {
	f.topCalls++
	return f.top, f.topErr
}

func result(ids ...string) *node.LoadResult {
	r := &node.LoadResult{Type: node.LoadSearch}
	for _, id := range ids {
		r.Tracks = append(r.Tracks, &track.Track{ID: id, Title: id, PlatformID: id})
	}
	return r
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	seed := &track.Track{ID: "s", Title: "Seed", Author: "Artist"}

	t.Run("falls through failing and empty providers", func(t *testing.T) {
		failing := &stubProvider{name: "failing", err: errors.New("boom")}
		empty := &stubProvider{name: "empty"}
		good := &stubProvider{name: "good", tracks: []*track.Track{{ID: "x"}}}
		unused := &stubProvider{name: "unused", tracks: []*track.Track{{ID: "y"}}}

		got, err := NewChain(failing, empty, good, unused).Related(ctx, nodetest.New("a"), seed)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "x", got[0].ID)
		assert.Equal(t, 1, failing.calls)
		assert.Equal(t, 1, empty.calls)
		assert.Zero(t, unused.calls)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := NewChain(&stubProvider{name: "empty"}).Related(ctx, nodetest.New("a"), seed)
		assert.ErrorIs(t, err, ErrNoCandidates)
	})
}

func TestMixProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewMixProvider(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.config.Attempts)
	assert.Equal(t, "ytmsearch", p.config.SearchPrefix)

	t.Run("radio mix skips the seed", func(t *testing.T) {
		n := nodetest.New("a")
		n.SetResult("https://www.youtube.com/watch?v=abc&list=RDabc", result("abc", "def", "ghi"))

		got, err := p.Related(ctx, n, &track.Track{PlatformID: "abc", Author: "Artist"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "def", got[0].ID)
		assert.Equal(t, "ghi", got[1].ID)
	})

	t.Run("author search drops the first hit", func(t *testing.T) {
		n := nodetest.New("a")
		n.SetResult("ytmsearch:Artist", result("top", "second"))

		got, err := p.Related(ctx, n, &track.Track{Author: "Artist"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "second", got[0].ID)
	})

	t.Run("retries then gives up", func(t *testing.T) {
		n := nodetest.New("a")
		_, err := p.Related(ctx, n, &track.Track{Author: "Nobody"})
		require.Error(t, err)
		assert.Equal(t, 3, n.Count(nodetest.OpLoad))
	})

	t.Run("seed without author or id", func(t *testing.T) {
		_, err := p.Related(ctx, nodetest.New("a"), &track.Track{Title: "x"})
		assert.Error(t, err)
	})
}

func TestNewMixProviderValidation(t *testing.T) {
	_, err := NewMixProvider(map[string]any{"attempts": 0})
	require.NoError(t, err, "zero is replaced by the default")

	_, err = NewMixProvider(map[string]any{"attempts": 20})
	assert.Error(t, err)

	p, err := NewMixProvider(map[string]any{"attempts": 5, "search_prefix": "scsearch"})
	require.NoError(t, err)
	assert.Equal(t, 5, p.config.Attempts)
	assert.Equal(t, "scsearch", p.config.SearchPrefix)
}

func TestLastFmProvider(t *testing.T) {
	ctx := context.Background()
	cfg := &LastFmProviderConfig{Limit: 10, SearchPrefix: "ytsearch"}
	seed := &track.Track{Title: "Seed", Author: "Artist"}

	t.Run("similar tracks are searched on the node", func(t *testing.T) {
		client := &fakeLastFm{similar: []lastfm.SimilarTrack{
			{Name: "Seed", Artist: "Artist"},
			{Name: "One", Artist: "Other"},
			{Name: "Missing", Artist: "Other"},
		}}
		n := nodetest.New("a")
		n.SetResult("ytsearch:Other - One", result("one"))

		got, err := newLastFmProvider(client, cfg).Related(ctx, n, seed)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "one", got[0].ID)
		assert.Zero(t, client.topCalls)
		assert.Equal(t, 2, n.Count(nodetest.OpLoad))
	})

	t.Run("falls back to artist top tracks", func(t *testing.T) {
		client := &fakeLastFm{
			similarErr: errors.New("track not found"),
			top:        []lastfm.SimilarTrack{{Name: "Hit", Artist: "Artist"}},
		}
		n := nodetest.New("a")
		n.SetResult("ytsearch:Artist - Hit", result("hit"))

		got, err := newLastFmProvider(client, cfg).Related(ctx, n, seed)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "hit", got[0].ID)
		assert.Equal(t, 1, client.topCalls)
	})

	t.Run("top tracks error", func(t *testing.T) {
		client := &fakeLastFm{topErr: errors.New("rate limited")}
		_, err := newLastFmProvider(client, cfg).Related(ctx, nodetest.New("a"), seed)
		assert.Error(t, err)
	})

	t.Run("seed needs author", func(t *testing.T) {
		_, err := newLastFmProvider(&fakeLastFm{}, cfg).Related(ctx, nodetest.New("a"), &track.Track{Title: "x"})
		assert.Error(t, err)
	})
}

func TestNewLastFmProvider(t *testing.T) {
	_, err := NewLastFmProvider(nil)
	assert.Error(t, err)

	_, err = NewLastFmProvider(map[string]any{"limit": 5})
	assert.Error(t, err, "api key is required")

	p, err := NewLastFmProvider(map[string]any{"api_key": "key"})
	require.NoError(t, err)
	assert.Equal(t, "lastfm", p.Name())
	assert.Equal(t, 10, p.config.Limit)
	assert.Equal(t, "ytsearch", p.config.SearchPrefix)
}

func TestPlaylistProvider(t *testing.T) {
	ctx := context.Background()
	const url = "https://www.youtube.com/playlist?list=PL1"

	newProvider := func(t *testing.T, count int) *PlaylistProvider {
		t.Helper()
		p, err := NewPlaylistProvider(map[string]any{"playlist_url": url, "count": count})
		require.NoError(t, err)
		return p
	}
	playlist := func() *node.LoadResult {
		r := result("a", "b", "c", "d")
		r.Type = node.LoadPlaylist
		r.Tracks = append(r.Tracks, &track.Track{ID: "live", PlatformID: "live", IsStream: true})
		return r
	}

	t.Run("random picks skip the seed and streams", func(t *testing.T) {
		n := nodetest.New("a")
		n.SetResult(url, playlist())
		p := newProvider(t, 10)

		got, err := p.Related(ctx, n, &track.Track{PlatformID: "a"})
		require.NoError(t, err)
		var ids []string
		for _, tr := range got {
			ids = append(ids, tr.ID)
		}
		assert.ElementsMatch(t, []string{"b", "c", "d"}, ids)
	})

	t.Run("count caps the result", func(t *testing.T) {
		n := nodetest.New("a")
		n.SetResult(url, playlist())
		got, err := newProvider(t, 2).Related(ctx, n, nil)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("cache until stale", func(t *testing.T) {
		n := nodetest.New("a")
		n.SetResult(url, playlist())
		p := newProvider(t, 5)
		now := time.Unix(0, 0)
		p.now = func() time.Time { return now }

		_, err := p.Related(ctx, n, nil)
		require.NoError(t, err)
		_, err = p.Related(ctx, n, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n.Count(nodetest.OpLoad))

		now = now.Add(2 * time.Hour)
		n.SetResult(url, &node.LoadResult{Type: node.LoadEmpty})
		got, err := p.Related(ctx, n, nil)
		require.NoError(t, err, "stale copy is served when the reload fails")
		assert.NotEmpty(t, got)
		assert.Equal(t, 2, n.Count(nodetest.OpLoad))
	})

	t.Run("empty playlist", func(t *testing.T) {
		_, err := newProvider(t, 5).Related(ctx, nodetest.New("a"), nil)
		assert.Error(t, err)
	})
}

func TestNewPlaylistProvider(t *testing.T) {
	_, err := NewPlaylistProvider(nil)
	assert.Error(t, err)

	_, err = NewPlaylistProvider(map[string]any{"playlist_url": "not a url"})
	assert.Error(t, err)

	p, err := NewPlaylistProvider(map[string]any{"playlist_url": "https://example.com/list"})
	require.NoError(t, err)
	assert.Equal(t, "playlist", p.Name())
	assert.Equal(t, 5, p.config.Count)
	assert.Equal(t, 3600, p.config.RefreshSecs)
}

func TestNewChainFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.AutoplayConfig
		providers []string
		wantErr   bool
	}{
		{name: "default", providers: []string{"mix"}},
		{
			name: "ordered",
			cfg: config.AutoplayConfig{Providers: []config.ProviderConfig{
				{Type: "lastfm", Settings: map[string]any{"api_key": "key"}},
				{Type: "mix"},
				{Type: "playlist", Settings: map[string]any{"playlist_url": "https://example.com/list"}},
			}},
			providers: []string{"lastfm", "mix", "playlist"},
		},
		{
			name:    "unknown type",
			cfg:     config.AutoplayConfig{Providers: []config.ProviderConfig{{Type: "radio"}}},
			wantErr: true,
		},
		{
			name:    "invalid settings",
			cfg:     config.AutoplayConfig{Providers: []config.ProviderConfig{{Type: "lastfm"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := NewChainFromConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, p := range chain.providers {
				names = append(names, p.Name())
			}
			assert.Equal(t, tt.providers, names)
			assert.Equal(t, "provider_chain", chain.Name())
		})
	}
}

func TestQualifies(t *testing.T) {
	tests := []struct {
		name  string
		track *track.Track
		want  bool
	}{
		{name: "nil", track: nil, want: false},
		{name: "stream", track: &track.Track{IsStream: true, Duration: time.Hour}, want: false},
		{name: "too short", track: &track.Track{Duration: 30 * time.Second}, want: false},
		{name: "long enough", track: &track.Track{Duration: 3 * time.Minute}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Qualifies(tt.track, time.Minute))
		})
	}
}
