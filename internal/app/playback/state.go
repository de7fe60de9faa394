// Package playback provides the per-guild player: queue, loop and autoplay policy on top of an
// audio node, plus the idle and empty-channel supervision around it.
package playback

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // Nothing current
	StatePlaying              // Track is playing
	StatePaused               // Track is paused (manually or by an empty channel)
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// LoopMode controls what happens to a finished track.
type LoopMode int

const (
	LoopOff     LoopMode = iota
	LoopCurrent          // Replay the current track
	LoopQueue            // Append finished tracks to the back of the queue
)

// String returns the string representation of the loop mode.
func (m LoopMode) String() string {
	switch m {
	case LoopCurrent:
		return "current"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

// ParseLoopMode parses "off", "current" (or "track") and "queue".
func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "":
		return LoopOff, nil
	case "current", "track", "song":
		return LoopCurrent, nil
	case "queue", "all":
		return LoopQueue, nil
	default:
		return LoopOff, errors.Wrapf(ErrInvalidLoopMode, "%q", s)
	}
}

// Next cycles off -> current -> queue -> off, as the control panel button does.
func (m LoopMode) Next() LoopMode {
	return (m + 1) % 3
}
