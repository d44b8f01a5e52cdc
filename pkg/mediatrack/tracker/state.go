package tracker

import (
	"log/slog"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
)

// Playback is the player sub-state of an active session.
type Playback int

const (
	PlaybackInit Playback = iota
	PlaybackPlaying
	PlaybackPaused
	PlaybackBuffering
	PlaybackSeeking
)

// String returns the playback state name.
func (p Playback) String() string {
	switch p {
	case PlaybackInit:
		return "init"
	case PlaybackPlaying:
		return "playing"
	case PlaybackPaused:
		return "paused"
	case PlaybackBuffering:
		return "buffering"
	case PlaybackSeeking:
		return "seeking"
	default:
		return "unknown"
	}
}

// hitType is the hit emitted on entering the state, if any. Seeking is
// reported to the collection server as a pause.
func (p Playback) hitType() (hit.Type, bool) {
	switch p {
	case PlaybackPlaying:
		return hit.TypePlay, true
	case PlaybackPaused, PlaybackSeeking:
		return hit.TypePauseStart, true
	case PlaybackBuffering:
		return hit.TypeBufferStart, true
	}
	return "", false
}

// Track call event names.
const (
	EventSessionStart    = "sessionStart"
	EventPlay            = "play"
	EventPause           = "pause"
	EventBufferStart     = "bufferStart"
	EventBufferComplete  = "bufferComplete"
	EventSeekStart       = "seekStart"
	EventSeekComplete    = "seekComplete"
	EventAdBreakStart    = "adBreakStart"
	EventAdBreakComplete = "adBreakComplete"
	EventAdStart         = "adStart"
	EventAdComplete      = "adComplete"
	EventAdSkip          = "adSkip"
	EventChapterStart    = "chapterStart"
	EventChapterComplete = "chapterComplete"
	EventChapterSkip     = "chapterSkip"
	EventError           = "error"
	EventBitrateChange   = "bitrateChange"
	EventStateStart      = "stateStart"
	EventStateEnd        = "stateEnd"
	EventQoEUpdate       = "qoeUpdate"
	EventPlayheadUpdate  = "playheadUpdate"
	EventComplete        = "complete"
	EventSessionEnd      = "sessionEnd"
)

// Param keys read from track calls.
const (
	ParamErrorID   = "error.id"
	ParamStateName = "state.name"
)

// session is the state of one active playback session.
type session struct {
	key      string
	logger   *slog.Logger
	playback Playback

	// resume is the state restored by bufferComplete and seekComplete.
	resume Playback

	inAdBreak bool
	inAd      bool
	inChapter bool

	playhead float64
	qoe      map[string]any
}
