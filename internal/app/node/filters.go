package node

import "sort"

// Filters is the audio filter set applied to a player on its node.
// Nil fields are disabled; an empty Filters clears everything.
type Filters struct {
	Volume     *float64        `json:"volume,omitempty"`
	Equalizer  []EqualizerBand `json:"equalizer,omitempty"`
	Karaoke    *Karaoke        `json:"karaoke,omitempty"`
	Timescale  *Timescale      `json:"timescale,omitempty"`
	Tremolo    *Tremolo        `json:"tremolo,omitempty"`
	Vibrato    *Vibrato        `json:"vibrato,omitempty"`
	Rotation   *Rotation       `json:"rotation,omitempty"`
	Distortion *Distortion     `json:"distortion,omitempty"`
	ChannelMix *ChannelMix     `json:"channelMix,omitempty"`
	LowPass    *LowPass        `json:"lowPass,omitempty"`
}

type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

type Karaoke struct {
	Level       float64 `json:"level"`
	MonoLevel   float64 `json:"monoLevel"`
	FilterBand  float64 `json:"filterBand"`
	FilterWidth float64 `json:"filterWidth"`
}

type Timescale struct {
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

type Tremolo struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Vibrato struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Rotation struct {
	RotationHz float64 `json:"rotationHz"`
}

type Distortion struct {
	SinOffset float64 `json:"sinOffset"`
	SinScale  float64 `json:"sinScale"`
	CosOffset float64 `json:"cosOffset"`
	CosScale  float64 `json:"cosScale"`
	TanOffset float64 `json:"tanOffset"`
	TanScale  float64 `json:"tanScale"`
	Offset    float64 `json:"offset"`
	Scale     float64 `json:"scale"`
}

type ChannelMix struct {
	LeftToLeft   float64 `json:"leftToLeft"`
	LeftToRight  float64 `json:"leftToRight"`
	RightToLeft  float64 `json:"rightToLeft"`
	RightToRight float64 `json:"rightToRight"`
}

type LowPass struct {
	Smoothing float64 `json:"smoothing"`
}

// Names lists the enabled filters, sorted.
func (f Filters) Names() []string {
	var names []string
	add := func(on bool, name string) {
		if on {
			names = append(names, name)
		}
	}
	add(f.Volume != nil, "volume")
	add(len(f.Equalizer) > 0, "equalizer")
	add(f.Karaoke != nil, "karaoke")
	add(f.Timescale != nil, "timescale")
	add(f.Tremolo != nil, "tremolo")
	add(f.Vibrato != nil, "vibrato")
	add(f.Rotation != nil, "rotation")
	add(f.Distortion != nil, "distortion")
	add(f.ChannelMix != nil, "channel_mix")
	add(f.LowPass != nil, "low_pass")
	sort.Strings(names)
	return names
}

// IsZero reports whether no filter is enabled.
func (f Filters) IsZero() bool {
	return len(f.Names()) == 0
}

// presets maps preset names to filter sets.
var presets = map[string]func() Filters{
	"off": func() Filters { return Filters{} },
	"nightcore": func() Filters {
		return Filters{Timescale: &Timescale{Speed: 1.25, Pitch: 1.3, Rate: 1}}
	},
	"vaporwave": func() Filters {
		return Filters{Timescale: &Timescale{Speed: 0.8, Pitch: 0.8, Rate: 1}}
	},
	"8d": func() Filters {
		return Filters{Rotation: &Rotation{RotationHz: 0.2}}
	},
	"karaoke": func() Filters {
		return Filters{Karaoke: &Karaoke{Level: 1, MonoLevel: 1, FilterBand: 220, FilterWidth: 100}}
	},
	"bassboost": func() Filters {
		return Filters{Equalizer: []EqualizerBand{
			{Band: 0, Gain: 0.25}, {Band: 1, Gain: 0.2}, {Band: 2, Gain: 0.15}, {Band: 3, Gain: 0.1},
		}}
	},
	"tremolo": func() Filters {
		return Filters{Tremolo: &Tremolo{Frequency: 2, Depth: 0.5}}
	},
	"vibrato": func() Filters {
		return Filters{Vibrato: &Vibrato{Frequency: 2, Depth: 0.5}}
	},
	"soft": func() Filters {
		return Filters{LowPass: &LowPass{Smoothing: 20}}
	},
	"mono": func() Filters {
		return Filters{ChannelMix: &ChannelMix{LeftToLeft: 0.5, LeftToRight: 0.5, RightToLeft: 0.5, RightToRight: 0.5}}
	},
}

// Preset returns the named filter preset.
func Preset(name string) (Filters, bool) {
	fn, ok := presets[name]
	if !ok {
		return Filters{}, false
	}
	return fn(), true
}

// PresetNames lists the known presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
