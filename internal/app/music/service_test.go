package music

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/lavabox/internal/app/filter"
	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/node/nodetest"
	"github.com/osa030/lavabox/internal/app/playback"
	"github.com/osa030/lavabox/internal/app/registry"
	"github.com/osa030/lavabox/internal/domain/display"
	"github.com/osa030/lavabox/internal/domain/queue"
	"github.com/osa030/lavabox/internal/domain/track"
	"github.com/osa030/lavabox/internal/infra/store"
)

type fakeVoice struct {
	mu    sync.Mutex
	joins []string
}

func (v *fakeVoice) Join(ctx context.Context, guildID, channelID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.joins = append(v.joins, guildID+"/"+channelID)
	return nil
}

func (v *fakeVoice) Leave(ctx context.Context, guildID string) error { return nil }

func (v *fakeVoice) joined() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.joins...)
}

type fakeResolver struct {
	prefix string
	result *node.LoadResult
	err    error
	calls  int
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) (*node.LoadResult, bool, error) {
	if !strings.HasPrefix(query, r.prefix) {
		return nil, false, nil
	}
	r.calls++
	return r.result, true, r.err
}

type fixture struct {
	a, b     *nodetest.Fake
	selector *node.Selector
	reg      *registry.Registry
	store    *store.Memory
	voice    *fakeVoice
	chain    *filter.Chain
	svc      *Service
}

func newFixture(t *testing.T, resolvers ...Resolver) *fixture {
	t.Helper()
	f := &fixture{
		a:     nodetest.New("a"),
		b:     nodetest.New("b"),
		store: store.NewMemory(),
		voice: &fakeVoice{},
		chain: filter.NewChain(),
	}
	f.selector = node.NewSelector(f.a, f.b)
	f.reg = registry.New(f.selector, playback.Config{
		IdleTimeout:       time.Hour,
		MembersTimeout:    time.Hour,
		ExceptionCooldown: time.Hour,
		SearchPrefix:      "ytsearch",
	}, playback.Deps{Voice: f.voice})
	f.svc = New(Config{SearchPrefix: "ytsearch", DefaultVolume: 100, StoppedMessage: "stopped"}, Deps{
		Registry:  f.reg,
		Selector:  f.selector,
		Store:     f.store,
		Filters:   f.chain,
		Voice:     f.voice,
		Resolvers: resolvers,
	})
	t.Cleanup(func() { f.reg.Shutdown(context.Background()) })
	return f
}

func caller(user string) Caller {
	return Caller{GuildID: "g1", UserID: user, TextChannelID: "tc", VoiceChannelID: "vc"}
}

func mk(id string) *track.Track {
	return &track.Track{ID: id, Title: "Title " + id, Author: "Author " + id, Duration: 3 * time.Minute}
}

func search(ids ...string) *node.LoadResult {
	res := &node.LoadResult{Type: node.LoadSearch}
	for _, id := range ids {
		res.Tracks = append(res.Tracks, mk(id))
	}
	return res
}

// play queues a single search result for user.
func (f *fixture) play(t *testing.T, user, id string) *playback.Player {
	t.Helper()
	f.a.SetResult("ytsearch:"+id, search(id))
	_, err := f.svc.Play(context.Background(), caller(user), PlayRequest{Query: id})
	require.NoError(t, err)
	p, err := f.svc.Player("g1")
	require.NoError(t, err)
	return p
}

func TestPlayRequiresVoice(t *testing.T) {
	f := newFixture(t)
	c := caller("u1")
	c.VoiceChannelID = ""

	_, err := f.svc.Play(context.Background(), c, PlayRequest{Query: "song"})
	assert.ErrorIs(t, err, ErrNotInVoice)

	_, err = f.svc.Play(context.Background(), caller("u1"), PlayRequest{Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestPlaySearchQueuesFirstResult(t *testing.T) {
	f := newFixture(t)
	f.a.SetResult("ytsearch:song", search("s1", "s2", "s3"))

	res, err := f.svc.Play(context.Background(), caller("u1"), PlayRequest{Query: "song"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "s1", res.Tracks[0].ID)

	p, err := f.svc.Player("g1")
	require.NoError(t, err)
	assert.Equal(t, "s1", p.Current().ID)
	assert.Equal(t, "u1", p.Current().RequesterID)
	assert.Equal(t, "u1", p.CreatorID())
	assert.Equal(t, []string{"g1/vc"}, f.voice.joined())
	assert.Contains(t, p.Snapshot().CommandLog, "<@u1>")
}

func TestPlayLinkLoadsPlaylist(t *testing.T) {
	f := newFixture(t)
	url := "https://www.youtube.com/playlist?list=PL1"
	f.a.SetResult(url, &node.LoadResult{
		Type:     node.LoadPlaylist,
		Tracks:   []*track.Track{mk("p1"), mk("p2"), mk("p3")},
		Playlist: &track.Ref{Name: "Mix", URL: url},
	})

	res, err := f.svc.Play(context.Background(), caller("u1"), PlayRequest{Query: url})
	require.NoError(t, err)
	assert.Len(t, res.Tracks, 3)
	assert.Equal(t, "Mix", res.Playlist.Name)

	p, _ := f.svc.Player("g1")
	queued := p.Queue()
	require.Len(t, queued, 2)
	require.NotNil(t, queued[0].Playlist)
	assert.Equal(t, "Mix", queued[0].Playlist.Name)
}

func TestPlayNotFoundDestroysNewPlayer(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Play(context.Background(), caller("u1"), PlayRequest{Query: "nothing"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsUserError(err))
	assert.Equal(t, 0, f.reg.Len())
}

func TestPlayLoadErrorIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.a.SetResult("ytsearch:broken", &node.LoadResult{
		Type:      node.LoadError,
		Exception: &node.Exception{Message: "This video is unavailable"},
	})

	_, err := f.svc.Play(context.Background(), caller("u1"), PlayRequest{Query: "broken"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestPlayUsesResolverFirst(t *testing.T) {
	partial := &track.Track{Title: "Song", Author: "Artist", Duration: 3 * time.Minute, SourceName: "spotify"}
	r := &fakeResolver{prefix: "spotify:", result: &node.LoadResult{Type: node.LoadTrack, Tracks: []*track.Track{partial}}}
	f := newFixture(t, r)
	resolved := &track.Track{ID: "yt1", Title: "Song", Author: "Artist", Duration: 3 * time.Minute}
	f.a.SetResult("ytsearch:Artist - Song", &node.LoadResult{Type: node.LoadSearch, Tracks: []*track.Track{resolved}})

	_, err := f.svc.Play(context.Background(), caller("u1"), PlayRequest{Query: "spotify:track:abc"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)

	p, _ := f.svc.Player("g1")
	require.NotNil(t, p.Current())
	assert.Equal(t, "yt1", p.Current().ID)
	assert.Equal(t, "u1", p.Current().RequesterID)
}

func TestPlayResolverErrorIsNotFound(t *testing.T) {
	r := &fakeResolver{prefix: "spotify:", err: errors.New("404")}
	f := newFixture(t, r)

	_, err := f.svc.Play(context.Background(), caller("u1"), PlayRequest{Query: "spotify:track:missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsUserError(err))
}

func TestPlayAppliesFilters(t *testing.T) {
	f := newFixture(t)
	limit := &filter.QueueLimitFilter{}
	require.NoError(t, limit.ValidateConfig(map[string]any{"max_tracks": 1}))
	f.chain.Add(limit)
	ctx := context.Background()

	url := "https://example.com/list"
	f.a.SetResult(url, &node.LoadResult{Type: node.LoadPlaylist, Tracks: []*track.Track{mk("1"), mk("2"), mk("3")}})
	res, err := f.svc.Play(ctx, caller("u1"), PlayRequest{Query: url})
	require.NoError(t, err)
	assert.Len(t, res.Tracks, 1)
	assert.Equal(t, map[string]int{"queue_full": 2}, res.Rejected)

	f.play(t, "u1", "4")

	f.a.SetResult("ytsearch:5", search("5"))
	_, err = f.svc.Play(ctx, caller("u1"), PlayRequest{Query: "5"})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "queue_full", rejected.Code)
	assert.True(t, IsUserError(err))
	assert.Equal(t, 1, f.reg.Len())
}

func TestPlayAtPositionAndNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.play(t, "u1", "a")
	f.play(t, "u1", "b")
	f.play(t, "u1", "c")

	f.a.SetResult("ytsearch:x", search("x"))
	_, err := f.svc.Play(ctx, caller("u1"), PlayRequest{Query: "x", Position: 1})
	require.NoError(t, err)
	assert.Equal(t, "x", p.Queue()[0].ID)

	f.a.SetResult("ytsearch:now", search("now"))
	_, err = f.svc.Play(ctx, caller("u1"), PlayRequest{Query: "now", Now: true})
	require.NoError(t, err)
	assert.Equal(t, "now", p.Current().ID)
}

func TestGuildSettingsApplyToNewPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Update(ctx, "g1", store.KindGuild, map[string]any{
		"default_player_volume": 40,
		"autoplay":              true,
		"enable_restrict_mode":  true,
		"keep_connected":        true,
	}))

	p, created, err := f.svc.Connect(ctx, caller("u1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 40, p.Volume())
	assert.True(t, p.Autoplay())
	assert.True(t, p.Restricted())
	assert.True(t, p.KeepConnected())

	again, created, err := f.svc.Connect(ctx, caller("u2"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, p, again)
}

func TestDifferentChannel(t *testing.T) {
	f := newFixture(t)
	f.play(t, "u1", "a")

	c := caller("u2")
	c.VoiceChannelID = "other"
	assert.ErrorIs(t, f.svc.Pause(context.Background(), c), ErrDifferentChannel)
	_, _, err := f.svc.Connect(context.Background(), c)
	assert.ErrorIs(t, err, ErrDifferentChannel)
}

func TestNoPlayer(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Skip(context.Background(), caller("u1")), ErrNoPlayer)
	_, err := f.svc.Queue(caller("u1"))
	assert.ErrorIs(t, err, ErrNoPlayer)
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name      string
		restrict  bool
		keep      bool
		caller    func() Caller
		wantErr   error
		djRoleSet bool
	}{
		{name: "creator", restrict: true, caller: func() Caller { return caller("u1") }},
		{
			name: "manager", restrict: true, keep: true,
			caller: func() Caller { c := caller("u2"); c.Manager = true; return c },
		},
		{
			name: "dj role", restrict: true, djRoleSet: true,
			caller: func() Caller { c := caller("u2"); c.RoleIDs = []string{"dj"}; return c },
		},
		{name: "restricted member", restrict: true, caller: func() Caller { return caller("u2") }, wantErr: ErrRestricted},
		{
			name: "dj role under 24/7", keep: true, djRoleSet: true,
			caller:  func() Caller { c := caller("u2"); c.RoleIDs = []string{"dj"}; return c },
			wantErr: ErrManagerOnly,
		},
		{name: "open player", caller: func() Caller { return caller("u2") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if tt.djRoleSet {
				require.NoError(t, f.store.Update(ctx, "g1", store.KindGuild, map[string]any{"djroles": []any{"dj"}}))
			}
			p := f.play(t, "u1", "a")
			for _, id := range []string{"b", "c", "d"} {
				f.play(t, "u1", id)
			}
			require.NoError(t, p.SetRestrict(ctx, tt.restrict))
			require.NoError(t, p.SetKeepConnected(ctx, tt.keep))

			err := f.svc.Shuffle(ctx, tt.caller())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsUserError(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAutoPromoteWhenNoDJListening(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.play(t, "u1", "a")

	c := caller("u2")
	c.PresentMembers = map[string]bool{"u1": true, "u2": true}
	require.NoError(t, f.svc.Volume(ctx, c, 50))
	assert.False(t, p.IsDJ("u2"))

	c.PresentMembers = map[string]bool{"u2": true}
	require.NoError(t, f.svc.Volume(ctx, c, 60))
	assert.True(t, p.IsDJ("u2"))

	require.NoError(t, p.SetRestrict(ctx, true))
	require.NoError(t, f.svc.Volume(ctx, caller("u2"), 70))
	assert.Equal(t, 70, p.Volume())
}

func TestSkipByRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.play(t, "u1", "a")
	f.play(t, "u2", "b")
	f.play(t, "u2", "c")
	require.NoError(t, p.SetRestrict(ctx, true))

	assert.ErrorIs(t, f.svc.Skip(ctx, caller("u2")), ErrRestricted)
	require.NoError(t, f.svc.Skip(ctx, caller("u1")))
	assert.Equal(t, "b", p.Current().ID)

	// u2 requested the current track.
	require.NoError(t, f.svc.Skip(ctx, caller("u2")))
	assert.Equal(t, "c", p.Current().ID)
	assert.ErrorIs(t, f.svc.Skip(ctx, caller("u3")), ErrRestricted)
}

func TestLoopCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.play(t, "u1", "a")

	require.NoError(t, f.svc.Loop(ctx, caller("u1"), "queue"))
	assert.Equal(t, playback.LoopQueue, p.Loop())

	require.NoError(t, f.svc.Loop(ctx, caller("u1"), "3"))
	assert.Equal(t, 3, p.Current().Loops)

	assert.ErrorIs(t, f.svc.Loop(ctx, caller("u1"), "sometimes"), playback.ErrInvalidLoopMode)
	assert.ErrorIs(t, f.svc.Loop(ctx, caller("u1"), "-1"), playback.ErrInvalidLoops)
}

func TestSeekCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.play(t, "u1", "a")

	pos, err := f.svc.Seek(ctx, caller("u1"), "1:30")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, pos)
	seeks := f.a.Calls(nodetest.OpSeek)
	require.Len(t, seeks, 1)
	assert.Equal(t, 90*time.Second, seeks[0].Position)

	_, err = f.svc.Seek(ctx, caller("u1"), "abc")
	assert.ErrorIs(t, err, ErrInvalidTime)
	_, err = f.svc.Seek(ctx, caller("u1"), "10:00")
	assert.ErrorIs(t, err, playback.ErrInvalidSeek)
}

func TestQueueEditing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.play(t, "u1", "a")
	for _, id := range []string{"b", "c", "d"} {
		f.play(t, "u1", id)
	}

	removed, err := f.svc.Remove(ctx, caller("u1"), "1")
	require.NoError(t, err)
	assert.Equal(t, "b", removed[0].ID)

	moved, err := f.svc.Move(ctx, caller("u1"), "Title d", 1)
	require.NoError(t, err)
	assert.Equal(t, "d", moved.ID)
	assert.Equal(t, "d", p.Queue()[0].ID)

	next, err := f.svc.Rotate(ctx, caller("u1"), "Title c")
	require.NoError(t, err)
	assert.Equal(t, "c", next.ID)

	n, err := f.svc.Clear(ctx, caller("u1"), playback.ClearOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, p.Queue())
}

func TestToggles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.play(t, "u1", "a")

	on, err := f.svc.Autoplay(ctx, caller("u1"))
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, p.Autoplay())

	on, err = f.svc.Restrict(ctx, caller("u1"))
	require.NoError(t, err)
	assert.True(t, on)

	_, err = f.svc.KeepConnected(ctx, caller("u1"))
	assert.ErrorIs(t, err, ErrNotManager)

	manager := caller("u1")
	manager.Manager = true
	on, err = f.svc.KeepConnected(ctx, manager)
	require.NoError(t, err)
	assert.True(t, on)
	doc, err := f.store.Get(ctx, "g1", store.KindGuild)
	require.NoError(t, err)
	assert.Equal(t, true, doc["keep_connected"])
}

func TestButtons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.play(t, "u1", "a")

	action, err := f.svc.Button(ctx, caller("u1"), display.ButtonPause)
	require.NoError(t, err)
	assert.Equal(t, "pause", action)
	assert.Equal(t, playback.StatePaused, p.State())

	action, err = f.svc.Button(ctx, caller("u1"), display.ButtonPause)
	require.NoError(t, err)
	assert.Equal(t, "resume", action)
	assert.Equal(t, playback.StatePlaying, p.State())

	_, err = f.svc.Button(ctx, caller("u1"), display.ButtonLoop)
	require.NoError(t, err)
	assert.Equal(t, playback.LoopCurrent, p.Loop())

	_, err = f.svc.Button(ctx, caller("u1"), "nope")
	assert.ErrorIs(t, err, ErrUnknownButton)

	action, err = f.svc.Button(ctx, caller("u1"), display.ButtonStop)
	require.NoError(t, err)
	assert.Equal(t, "stop", action)
	assert.Equal(t, 0, f.reg.Len())
}

func TestFavouriteButton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Update(ctx, "g1", store.KindGuild, map[string]any{
		"player_controller": map[string]any{
			"channel":    "panel",
			"message_id": "m1",
			"fav_links": map[string]any{
				"chill": map[string]any{"url": "https://example.com/chill", "description": "Chill mix"},
				"rock":  map[string]any{"url": "https://example.com/rock"},
			},
		},
	}))
	f.a.SetResult("https://example.com/chill", &node.LoadResult{Type: node.LoadTrack, Tracks: []*track.Track{mk("chill")}})

	_, err := f.svc.Button(ctx, caller("u1"), display.FavouriteButtonID("jazz"))
	assert.ErrorIs(t, err, ErrUnknownButton)

	action, err := f.svc.Button(ctx, caller("u1"), display.FavouriteButtonID("chill"))
	require.NoError(t, err)
	assert.Equal(t, "favourite", action)

	p, err := f.svc.Player("g1")
	require.NoError(t, err)
	require.NotNil(t, p.Current())
	assert.Equal(t, "Title chill", p.Current().Title)
	assert.Equal(t, "u1", p.Current().RequesterID)

	snap := p.Snapshot()
	assert.True(t, snap.Static)
	assert.Equal(t, []display.Favourite{
		{Key: "chill", Label: "Chill mix"},
		{Key: "rock", Label: "rock"},
	}, snap.Favourites)
}

func TestChangeNodeAndFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.play(t, "u1", "a")
	require.Equal(t, "a", p.NodeID())

	id, err := f.svc.ChangeNode(ctx, caller("u1"), "")
	require.NoError(t, err)
	assert.Equal(t, "b", id)
	assert.Equal(t, "b", p.NodeID())

	_, err = f.svc.ChangeNode(ctx, caller("u1"), "zzz")
	assert.ErrorIs(t, err, node.ErrUnknownNode)

	require.NoError(t, f.svc.Filters(ctx, caller("u1"), "Nightcore"))
	assert.Equal(t, []string{"timescale"}, p.Filters().Names())
	assert.ErrorIs(t, f.svc.Filters(ctx, caller("u1"), "loud"), ErrUnknownPreset)

	assert.Len(t, f.svc.Nodes(), 2)
}

func TestSkinCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Skin(ctx, caller("u1"), "mini"), ErrNotManager)

	manager := caller("u1")
	manager.Manager = true
	assert.ErrorIs(t, f.svc.Skin(ctx, manager, "neon"), ErrUnknownSkin)
	require.NoError(t, f.svc.Skin(ctx, manager, "mini"))

	settings, err := store.LoadGuildSettings(ctx, f.store, "g1")
	require.NoError(t, err)
	assert.Equal(t, "mini", settings.Skin)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "45", want: 45 * time.Second},
		{in: "1:30", want: 90 * time.Second},
		{in: "01:02:03", want: time.Hour + 2*time.Minute + 3*time.Second},
		{in: "125", want: 125 * time.Second},
		{in: "0:00", want: 0},
		{in: "", wantErr: true},
		{in: "1:75", wantErr: true},
		{in: "a:b", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTime)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsUserError(t *testing.T) {
	assert.False(t, IsUserError(nil))
	assert.True(t, IsUserError(errors.Wrap(playback.ErrNothingPlaying, "skip")))
	assert.True(t, IsUserError(queue.ErrNoMatch))
	assert.True(t, IsUserError(&RejectedError{Code: "duplicate_track"}))
	assert.False(t, IsUserError(playback.ErrInternal))
	assert.False(t, IsUserError(node.ErrNoNode))
	assert.False(t, IsUserError(errors.New("boom")))
}
