// Package hit defines the analytics data points emitted by session trackers
// and the contract every hit-processing backend implements.
package hit

import "time"

// Type names a hit in the media collection protocol.
type Type string

// Hit types.
const (
	TypeSessionStart    Type = "sessionStart"
	TypePlay            Type = "play"
	TypePauseStart      Type = "pauseStart"
	TypeBufferStart     Type = "bufferStart"
	TypeAdBreakStart    Type = "adBreakStart"
	TypeAdBreakComplete Type = "adBreakComplete"
	TypeAdStart         Type = "adStart"
	TypeAdComplete      Type = "adComplete"
	TypeAdSkip          Type = "adSkip"
	TypeChapterStart    Type = "chapterStart"
	TypeChapterComplete Type = "chapterComplete"
	TypeChapterSkip     Type = "chapterSkip"
	TypeError           Type = "error"
	TypeSessionComplete Type = "sessionComplete"
	TypeSessionEnd      Type = "sessionEnd"
	TypePing            Type = "ping"
	TypeBitrateChange   Type = "bitrateChange"
	TypeStatesUpdate    Type = "statesUpdate"
)

// Closes reports whether the hit ends its session.
func (t Type) Closes() bool {
	return t == TypeSessionComplete || t == TypeSessionEnd
}

// Hit is one analytics data point for one playback session.
type Hit struct {
	Type Type `json:"eventType"`

	// TrackerID names the tracker that produced the hit.
	TrackerID string `json:"-"`

	// SessionKey identifies the local playback session. It is generated
	// on sessionStart and shared by every hit of that session.
	SessionKey string `json:"-"`

	Params   map[string]any `json:"params,omitempty"`
	Metadata map[string]any `json:"customMetadata,omitempty"`
	QoE      map[string]any `json:"qoeData,omitempty"`

	// Playhead is the player position in seconds.
	Playhead  float64   `json:"playhead"`
	Timestamp time.Time `json:"ts"`

	// Downloaded marks hits of downloaded (offline) content.
	Downloaded bool `json:"-"`
}

// Processor is a hit-processing backend.
//
// Submit must not block on I/O: trackers call it from the event delivery
// path. Reset drops all queued hits and backend session state.
// NotifyStateChanged tells the backend that configuration or identity
// shared state changed; the backend re-reads what it needs.
type Processor interface {
	Submit(h Hit)
	Reset()
	NotifyStateChanged()
}
