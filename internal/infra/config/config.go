// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig           `yaml:"discord"`
	Player   PlayerConfig            `yaml:"player"`
	Refresh  RefreshConfig           `yaml:"refresh"`
	Nodes    []NodeConfig            `yaml:"nodes" validate:"required,min=1,dive"`
	Autoplay AutoplayConfig          `yaml:"autoplay"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Store    StoreConfig             `yaml:"store"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	Messages MessagesConfig          `yaml:"messages"`
}

// DiscordConfig represents the bot account configuration.
type DiscordConfig struct {
	Token string `yaml:"token" validate:"required"`
	// GuildID registers commands on a single guild (instant updates while developing).
	GuildID string `yaml:"guild_id"`
}

// PlayerConfig represents player behaviour configuration.
type PlayerConfig struct {
	IdleTimeoutSec         int    `yaml:"idle_timeout_sec" default:"180" validate:"gte=1"`
	MembersTimeoutSec      int    `yaml:"members_timeout_sec" default:"180" validate:"gte=1"`
	ExceptionCooldownSec   int    `yaml:"exception_cooldown_sec" default:"10" validate:"gte=0,lte=300"`
	VoiceReconnectDelaySec int    `yaml:"voice_reconnect_delay_sec" default:"3" validate:"gte=0,lte=60"`
	DefaultVolume          int    `yaml:"default_volume" default:"100" validate:"gte=0,lte=1000"`
	HistorySize            int    `yaml:"history_size" default:"20" validate:"gte=1"`
	AutoplayBufferSize     int    `yaml:"autoplay_buffer_size" default:"30" validate:"gte=1"`
	FailedBufferSize       int    `yaml:"failed_buffer_size" default:"30" validate:"gte=1"`
	MinAutoplayDurationSec int    `yaml:"min_autoplay_duration_sec" default:"90" validate:"gte=0"`
	SearchPrefix           string `yaml:"search_prefix" default:"ytsearch" validate:"required"`
	DefaultSkin            string `yaml:"default_skin" default:"default"`
	DefaultStaticSkin      string `yaml:"default_static_skin" default:"default"`
}

// IdleTimeout returns the idle timeout as a duration.
func (p PlayerConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutSec) * time.Second
}

// MembersTimeout returns the empty voice channel timeout as a duration.
func (p PlayerConfig) MembersTimeout() time.Duration {
	return time.Duration(p.MembersTimeoutSec) * time.Second
}

// ExceptionCooldown returns the post-exception lock window as a duration.
func (p PlayerConfig) ExceptionCooldown() time.Duration {
	return time.Duration(p.ExceptionCooldownSec) * time.Second
}

// VoiceReconnectDelay returns the delay before rejoining after a recoverable voice close.
func (p PlayerConfig) VoiceReconnectDelay() time.Duration {
	return time.Duration(p.VoiceReconnectDelaySec) * time.Second
}

// MinAutoplayDuration returns the shortest track accepted by autoplay.
func (p PlayerConfig) MinAutoplayDuration() time.Duration {
	return time.Duration(p.MinAutoplayDurationSec) * time.Second
}

// RefreshConfig represents control panel refresh configuration.
type RefreshConfig struct {
	TickSec        int     `yaml:"tick_sec" default:"10" validate:"gte=1"`
	DebounceSec    int     `yaml:"debounce_sec" default:"5" validate:"gte=0"`
	EditsPerSecond float64 `yaml:"edits_per_second" default:"1" validate:"gt=0"`
	Burst          int     `yaml:"burst" default:"2" validate:"gte=1"`
}

// Tick returns the scheduler wake interval.
func (r RefreshConfig) Tick() time.Duration {
	return time.Duration(r.TickSec) * time.Second
}

// Debounce returns the window that coalesces bursts of changes.
func (r RefreshConfig) Debounce() time.Duration {
	return time.Duration(r.DebounceSec) * time.Second
}

// NodeConfig represents one audio node.
type NodeConfig struct {
	ID               string `yaml:"id" validate:"required"`
	Host             string `yaml:"host" validate:"required"`
	Port             int    `yaml:"port" default:"2333" validate:"gte=1,lte=65535"`
	Password         string `yaml:"password"`
	Secure           bool   `yaml:"secure"`
	Search           bool   `yaml:"search"`
	ResumeTimeoutSec int    `yaml:"resume_timeout_sec" default:"60" validate:"gte=0"`
}

// AutoplayConfig represents the related-track provider chain.
type AutoplayConfig struct {
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
}

// ProviderConfig represents a single autoplay provider configuration.
type ProviderConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=mix lastfm playlist"`
	Settings map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// StoreConfig represents the guild settings store.
type StoreConfig struct {
	Type  string      `yaml:"type" default:"memory" validate:"oneof=memory redis"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig represents redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" default:"localhost:6379"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix" default:"lavabox"`
}

// SpotifyConfig represents Spotify API configuration. Empty credentials disable Spotify links.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// Enabled reports whether Spotify credentials are configured.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
	IdleTimeout           string `yaml:"idle_timeout" default:"The player was shut down due to inactivity."`
	MembersTimeout        string `yaml:"members_timeout" default:"The player was shut down because the voice channel was empty."`
	NoNodeAvailable       string `yaml:"no_node_available" default:"The player was shut down because no music server is available."`
	VoiceDisconnected     string `yaml:"voice_disconnected" default:"The player was shut down after being disconnected from the voice channel."`
	Stopped               string `yaml:"stopped" default:"The player was stopped."`
	ResolveFailed         string `yaml:"resolve_failed" default:"Could not find a playable source for %s, skipping."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"Track is already in the queue."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"Track duration is outside the allowed range."`
	QueueFull             string `yaml:"queue_full" default:"The queue is full."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies environment overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("LAVALINK_PASSWORD"); v != "" {
		for i := range c.Nodes {
			if c.Nodes[i].Password == "" {
				c.Nodes[i].Password = v
			}
		}
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		for i := range c.Autoplay.Providers {
			if c.Autoplay.Providers[i].Type != "lastfm" {
				continue
			}
			if c.Autoplay.Providers[i].Settings == nil {
				c.Autoplay.Providers[i].Settings = make(map[string]any)
			}
			c.Autoplay.Providers[i].Settings["api_key"] = v
		}
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "idle_timeout":
		return c.Messages.IdleTimeout
	case "members_timeout":
		return c.Messages.MembersTimeout
	case "no_node_available":
		return c.Messages.NoNodeAvailable
	case "voice_disconnected":
		return c.Messages.VoiceDisconnected
	case "stopped":
		return c.Messages.Stopped
	case "resolve_failed":
		return c.Messages.ResolveFailed
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "queue_full":
		return c.Messages.QueueFull
	default:
		return c.Messages.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if seen[n.ID] {
			return errors.Newf("duplicate node id: %s", n.ID)
		}
		seen[n.ID] = true
	}

	if (c.Spotify.ClientID == "") != (c.Spotify.ClientSecret == "") {
		return errors.New("spotify client_id and client_secret must be set together")
	}

	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for a filter.
func (c *Config) GetFilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}
