package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
discord:
  token: test-token
nodes:
  - id: main
    host: localhost
    password: youshallnotpass
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 180*time.Second, cfg.Player.IdleTimeout())
	assert.Equal(t, 180*time.Second, cfg.Player.MembersTimeout())
	assert.Equal(t, 10*time.Second, cfg.Player.ExceptionCooldown())
	assert.Equal(t, 3*time.Second, cfg.Player.VoiceReconnectDelay())
	assert.Equal(t, 90*time.Second, cfg.Player.MinAutoplayDuration())
	assert.Equal(t, 100, cfg.Player.DefaultVolume)
	assert.Equal(t, 20, cfg.Player.HistorySize)
	assert.Equal(t, 30, cfg.Player.AutoplayBufferSize)
	assert.Equal(t, 30, cfg.Player.FailedBufferSize)
	assert.Equal(t, "ytsearch", cfg.Player.SearchPrefix)
	assert.Equal(t, 10*time.Second, cfg.Refresh.Tick())
	assert.Equal(t, 5*time.Second, cfg.Refresh.Debounce())
	assert.Equal(t, 2333, cfg.Nodes[0].Port)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "lavabox", cfg.Store.Redis.KeyPrefix)
	assert.False(t, cfg.Spotify.Enabled())
	assert.NotEmpty(t, cfg.GetMessage("idle_timeout"))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			yaml:    minimalYAML,
			wantErr: false,
		},
		{
			name: "missing token",
			yaml: `
nodes:
  - id: main
    host: localhost
`,
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name: "no nodes",
			yaml: `
discord:
  token: t
`,
			wantErr: true,
			errMsg:  "Nodes",
		},
		{
			name: "duplicate node ids",
			yaml: `
discord:
  token: t
nodes:
  - id: main
    host: a
  - id: main
    host: b
`,
			wantErr: true,
			errMsg:  "duplicate node id",
		},
		{
			name: "volume out of range",
			yaml: minimalYAML + `
player:
  default_volume: 1500
`,
			wantErr: true,
			errMsg:  "DefaultVolume",
		},
		{
			name: "unknown provider type",
			yaml: minimalYAML + `
autoplay:
  providers:
    - type: radio
`,
			wantErr: true,
			errMsg:  "Type",
		},
		{
			name: "half spotify credentials",
			yaml: minimalYAML + `
spotify:
  client_id: abc
`,
			wantErr: true,
			errMsg:  "spotify",
		},
		{
			name: "invalid market length",
			yaml: minimalYAML + `
spotify:
  client_id: abc
  client_secret: def
  market: JAPAN
`,
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name: "unknown store",
			yaml: minimalYAML + `
store:
  type: mongo
`,
			wantErr: true,
			errMsg:  "Type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("LAVALINK_PASSWORD", "env-pass")
	t.Setenv("LASTFM_API_KEY", "env-lastfm")
	t.Setenv("REDIS_PASSWORD", "env-redis")

	path := filepath.Join(t.TempDir(), "bot.yaml")
	content := `
discord:
  token: file-token
nodes:
  - id: a
    host: localhost
  - id: b
    host: localhost
    password: own
autoplay:
  providers:
    - type: lastfm
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "env-pass", cfg.Nodes[0].Password)
	assert.Equal(t, "own", cfg.Nodes[1].Password)
	assert.Equal(t, "env-lastfm", cfg.Autoplay.Providers[0].Settings["api_key"])
	assert.Equal(t, "env-redis", cfg.Store.Redis.Password)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Filters(t *testing.T) {
	cfg := &Config{Filters: map[string]FilterConfig{
		"duration_limit_filter": {Enabled: true, Settings: map[string]any{"max_minutes": 10}},
		"duplicate_track_filter": {Enabled: false},
	}}

	assert.True(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("duplicate_track_filter"))
	assert.False(t, cfg.IsFilterEnabled("unknown"))
	assert.Equal(t, 10, cfg.GetFilterSettings("duration_limit_filter")["max_minutes"])
	assert.Nil(t, cfg.GetFilterSettings("unknown"))
}
