// Package store persists per-guild and per-user settings documents.
package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/infra/config"
)

// Errors
var (
	ErrInvalidKind = errors.New("invalid store kind")
	ErrInvalidID   = errors.New("invalid document id")
)

// Kind is a document collection.
type Kind string

const (
	KindGuild Kind = "guild"
	KindUser  Kind = "user"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindGuild || k == KindUser
}

// Store reads and updates settings documents. A missing document reads as an empty map.
// Update merges the given top-level keys into the stored document; a nil value deletes the key.
type Store interface {
	Get(ctx context.Context, id string, kind Kind) (map[string]any, error)
	Update(ctx context.Context, id string, kind Kind, data map[string]any) error
	Close() error
}

// New creates the store selected by the configuration.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		zlog.Info().Msg("store: using in-memory settings store")
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, errors.Newf("unknown store type: %s", cfg.Type)
	}
}

func check(id string, kind Kind) error {
	if !kind.Valid() {
		return errors.Wrapf(ErrInvalidKind, "kind %q", kind)
	}
	if id == "" {
		return ErrInvalidID
	}
	return nil
}

// merge applies data onto doc in place.
func merge(doc, data map[string]any) {
	for k, v := range data {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
}

// FavLink is a saved link offered as a button on the static control panel. The map key
// identifies it in the button ID; Description, when set, is the button label.
type FavLink struct {
	URL         string `mapstructure:"url"`
	Description string `mapstructure:"description"`
}

// PlayerController pins the control panel to a fixed message.
type PlayerController struct {
	Channel   string             `mapstructure:"channel"`
	MessageID string             `mapstructure:"message_id"`
	FavLinks  map[string]FavLink `mapstructure:"fav_links"`
}

// Enabled reports whether a static control panel is configured.
func (c PlayerController) Enabled() bool {
	return c.Channel != "" && c.MessageID != ""
}

// GuildSettings is the decoded guild document.
type GuildSettings struct {
	PlayerController    PlayerController `mapstructure:"player_controller"`
	Autoplay            bool             `mapstructure:"autoplay"`
	DefaultPlayerVolume int              `mapstructure:"default_player_volume" default:"100"`
	EnableRestrictMode  bool             `mapstructure:"enable_restrict_mode"`
	CheckOtherBotsInVC  bool             `mapstructure:"check_other_bots_in_vc"`
	DJRoles             []string         `mapstructure:"djroles"`
	Skin                string           `mapstructure:"skin"`
	StaticSkin          string           `mapstructure:"static_skin"`
	KeepConnected       bool             `mapstructure:"keep_connected"`
}

// IsDJRole reports whether roleID is one of the guild's DJ roles.
func (s GuildSettings) IsDJRole(roleID string) bool {
	for _, r := range s.DJRoles {
		if r == roleID {
			return true
		}
	}
	return false
}

// DecodeGuildSettings converts a raw guild document, filling defaults for absent keys.
func DecodeGuildSettings(doc map[string]any) (GuildSettings, error) {
	var s GuildSettings
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return s, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(doc); err != nil {
		return s, errors.Wrap(err, "failed to decode guild settings")
	}
	if err := defaults.Set(&s); err != nil {
		return s, errors.Wrap(err, "failed to set defaults")
	}
	return s, nil
}

// LoadGuildSettings reads and decodes a guild document.
func LoadGuildSettings(ctx context.Context, s Store, guildID string) (GuildSettings, error) {
	doc, err := s.Get(ctx, guildID, KindGuild)
	if err != nil {
		return GuildSettings{}, err
	}
	return DecodeGuildSettings(doc)
}
