package music

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/playback"
	"github.com/osa030/lavabox/internal/domain/queue"
)

// Errors
var (
	ErrNotFound         = errors.New("no tracks found")
	ErrNoPlayer         = errors.New("there is no active player in this server")
	ErrNotInVoice       = errors.New("join a voice channel first")
	ErrDifferentChannel = errors.New("you must be in the same voice channel as the bot")
	ErrRestricted       = errors.New("only DJs and managers can use this while restrict mode is on")
	ErrManagerOnly      = errors.New("only managers can use this while 24/7 mode is on")
	ErrNotManager       = errors.New("this command requires the manage server permission")
	ErrInvalidTime      = errors.New("invalid time, use mm:ss, hh:mm:ss or seconds")
	ErrUnknownPreset    = errors.New("unknown filter preset")
	ErrUnknownSkin      = errors.New("unknown skin")
	ErrUnknownButton    = errors.New("unknown control")
	ErrEmptyQuery       = errors.New("query is empty")
)

// RejectedError is returned when admission filters refused every requested track.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return "track rejected: " + e.Code
}

// userErrors are the sentinels caused by caller input or state, not by a malfunction.
var userErrors = []error{
	ErrNotFound,
	ErrNoPlayer,
	ErrNotInVoice,
	ErrDifferentChannel,
	ErrRestricted,
	ErrManagerOnly,
	ErrNotManager,
	ErrInvalidTime,
	ErrUnknownPreset,
	ErrUnknownSkin,
	ErrUnknownButton,
	ErrEmptyQuery,
	playback.ErrClosed,
	playback.ErrNothingPlaying,
	playback.ErrQueueEmpty,
	playback.ErrNoHistory,
	playback.ErrAlreadyPaused,
	playback.ErrNotPaused,
	playback.ErrSeekStream,
	playback.ErrInvalidSeek,
	playback.ErrInvalidVolume,
	playback.ErrInvalidLoopMode,
	playback.ErrInvalidLoops,
	playback.ErrNothingFailed,
	queue.ErrInvalidPosition,
	queue.ErrNoMatch,
	queue.ErrAlreadyNext,
	queue.ErrTooFewTracks,
	queue.ErrEmpty,
	node.ErrUnknownNode,
}

// IsUserError reports whether err should be shown to the caller rather than logged as a failure.
func IsUserError(err error) bool {
	if err == nil {
		return false
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return true
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
