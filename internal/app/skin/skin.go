// Package skin holds the control panel layouts. Every skin is a pure function of a snapshot.
package skin

import (
	"sort"
	"time"

	"github.com/osa030/lavabox/internal/domain/display"
)

// Skin is a named renderer with its auto-refresh interval (0 disables).
type Skin struct {
	Name        string
	AutoRefresh time.Duration
	display.Renderer
}

// DefaultName is used when a guild has no skin configured.
const DefaultName = "default"

var skins = map[string]Skin{}

// register adds a skin. Skins are registered from init functions.
func register(name string, autoRefresh time.Duration, fn display.RendererFunc) {
	skins[name] = Skin{Name: name, AutoRefresh: autoRefresh, Renderer: fn}
}

// Get returns the named skin.
func Get(name string) (Skin, bool) {
	s, ok := skins[name]
	return s, ok
}

// GetOrDefault returns the named skin, falling back to the default one.
func GetOrDefault(name string) Skin {
	if s, ok := skins[name]; ok {
		return s
	}
	return skins[DefaultName]
}

// Names returns the registered skin names in sorted order.
func Names() []string {
	names := make([]string, 0, len(skins))
	for name := range skins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
