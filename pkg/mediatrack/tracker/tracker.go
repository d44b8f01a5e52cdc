// Package tracker implements the per-player session state machine that
// turns track calls into hits.
package tracker

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/config"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/event"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/observability"
)

// Ping intervals of the media collection protocol.
const (
	OnlinePingInterval  = 10 * time.Second
	OfflinePingInterval = 50 * time.Second
)

// Tracker consumes track call events for one media player.
// Track must be safe for concurrent use and must not panic.
type Tracker interface {
	Track(evt event.Event)

	// Processor returns the backend the tracker was bound to at creation.
	Processor() hit.Processor
}

// Factory builds a tracker bound to processor. cfg is the configuration
// map supplied with the create tracker request and may be empty.
type Factory func(trackerID string, processor hit.Processor, cfg config.Config) Tracker

// Option configures a MediaTracker.
type Option func(*MediaTracker)

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *MediaTracker) {
		t.logger = logger
	}
}

// WithPingInterval overrides the ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(t *MediaTracker) {
		if d > 0 {
			t.pingInterval = d
		}
	}
}

// WithDownloaded marks the tracker as tracking downloaded content. It
// switches to the offline ping interval unless one was set explicitly.
func WithDownloaded(downloaded bool) Option {
	return func(t *MediaTracker) {
		t.downloaded = downloaded
	}
}

// NewFactory returns a Factory producing MediaTrackers. The
// downloadedContent flag of the request configuration is honored.
func NewFactory(opts ...Option) Factory {
	return func(trackerID string, processor hit.Processor, cfg config.Config) Tracker {
		all := append([]Option{WithDownloaded(cfg.Bool(event.KeyDownloadedContent, false))}, opts...)
		return New(trackerID, processor, all...)
	}
}

// MediaTracker is the state machine for one player. A tracker is Idle
// until sessionStart; track calls other than sessionStart are ignored
// while Idle.
type MediaTracker struct {
	id           string
	processor    hit.Processor
	downloaded   bool
	pingInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	current *session
	lastHit time.Time
}

// New creates a tracker bound to processor. The binding never changes.
func New(id string, processor hit.Processor, opts ...Option) *MediaTracker {
	t := &MediaTracker{
		id:        id,
		processor: processor,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.pingInterval == 0 {
		t.pingInterval = OnlinePingInterval
		if t.downloaded {
			t.pingInterval = OfflinePingInterval
		}
	}
	return t
}

// ID returns the tracker identifier.
func (t *MediaTracker) ID() string {
	return t.id
}

// Processor returns the backend this tracker submits hits to.
func (t *MediaTracker) Processor() hit.Processor {
	return t.processor
}

// Downloaded reports whether the tracker tracks downloaded content.
func (t *MediaTracker) Downloaded() bool {
	return t.downloaded
}

// SessionKey returns the active session key, or "" when idle.
func (t *MediaTracker) SessionKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ""
	}
	return t.current.key
}

// Playback returns the playback sub-state and whether a session is active.
func (t *MediaTracker) Playback() (Playback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return PlaybackInit, false
	}
	return t.current.playback, true
}

// call is a decoded track call.
type call struct {
	name     string
	params   map[string]any
	metadata map[string]any
	qoe      map[string]any
	ts       time.Time
	playhead float64
	hasHead  bool
}

func decode(evt event.Event) (call, bool) {
	name, ok := evt.Data.NonEmptyString(event.KeyEventName)
	if !ok {
		return call{}, false
	}

	c := call{
		name:     name,
		params:   evt.Data.Map(event.KeyEventParam),
		metadata: evt.Data.Map(event.KeyEventMetadata),
		qoe:      evt.Data.Map(event.KeyEventQoE),
		ts:       evt.Timestamp,
	}
	if ms, ok := number(evt.Data[event.KeyEventTimestamp]); ok {
		c.ts = time.UnixMilli(int64(ms))
	}
	if head, ok := number(evt.Data[event.KeyEventPlayhead]); ok {
		c.playhead = head
		c.hasHead = true
	}
	if c.ts.IsZero() {
		c.ts = time.Now()
	}
	return c, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// Track applies one track call. Malformed calls and calls that are not
// valid in the current state are ignored.
func (t *MediaTracker) Track(evt event.Event) {
	c, ok := decode(evt)
	if !ok {
		observability.LogEventDropped(t.logger, event.KindTrack.String(), evt.ID, "missing event name")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c.name == EventSessionStart {
		t.startSession(c)
		return
	}

	s := t.current
	if s == nil {
		observability.LogEventDropped(t.logger, event.KindTrack.String(), evt.ID, "no active session")
		return
	}
	if c.hasHead {
		s.playhead = c.playhead
	}
	if c.qoe != nil {
		s.qoe = maps.Clone(c.qoe)
	}

	switch c.name {
	case EventPlay:
		t.transition(s, PlaybackPlaying, c)
	case EventPause:
		t.transition(s, PlaybackPaused, c)
	case EventBufferStart:
		t.interrupt(s, PlaybackBuffering, c)
	case EventSeekStart:
		t.interrupt(s, PlaybackSeeking, c)
	case EventBufferComplete:
		t.restore(s, PlaybackBuffering, c)
	case EventSeekComplete:
		t.restore(s, PlaybackSeeking, c)

	case EventAdBreakStart:
		if s.inAdBreak {
			t.closeAdBreak(s, c)
		}
		s.inAdBreak = true
		t.emit(s, hit.TypeAdBreakStart, c)
	case EventAdBreakComplete:
		if s.inAdBreak {
			t.closeAdBreak(s, c)
		}
	case EventAdStart:
		if !s.inAdBreak {
			return
		}
		if s.inAd {
			t.emit(s, hit.TypeAdComplete, c.bare())
		}
		s.inAd = true
		t.emit(s, hit.TypeAdStart, c)
	case EventAdComplete, EventAdSkip:
		if s.inAd {
			s.inAd = false
			t.emit(s, adEnd(c.name), c)
		}

	case EventChapterStart:
		if s.inChapter {
			t.emit(s, hit.TypeChapterComplete, c.bare())
		}
		s.inChapter = true
		t.emit(s, hit.TypeChapterStart, c)
	case EventChapterComplete, EventChapterSkip:
		if s.inChapter {
			s.inChapter = false
			t.emit(s, chapterEnd(c.name), c)
		}

	case EventError:
		if id, ok := c.params[ParamErrorID].(string); ok && id != "" {
			t.emit(s, hit.TypeError, c)
		}
	case EventBitrateChange:
		t.emit(s, hit.TypeBitrateChange, c)
	case EventStateStart, EventStateEnd:
		if name, ok := c.params[ParamStateName].(string); ok && name != "" {
			t.emit(s, hit.TypeStatesUpdate, c)
		}
	case EventQoEUpdate:
		// Applied above; attached to later hits.
	case EventPlayheadUpdate:
		if !c.ts.Before(t.lastHit.Add(t.pingInterval)) {
			t.emit(s, hit.TypePing, c.bare())
		}

	case EventComplete:
		t.endSession(s, hit.TypeSessionComplete, c)
	case EventSessionEnd:
		t.endSession(s, hit.TypeSessionEnd, c)

	default:
		observability.LogEventDropped(s.logger, event.KindTrack.String(), evt.ID, "unknown event name "+c.name)
	}
}

// bare is the call stripped of params and metadata, used for the hits a
// tracker emits on its own.
func (c call) bare() call {
	c.params = nil
	c.metadata = nil
	return c
}

func adEnd(name string) hit.Type {
	if name == EventAdSkip {
		return hit.TypeAdSkip
	}
	return hit.TypeAdComplete
}

func chapterEnd(name string) hit.Type {
	if name == EventChapterSkip {
		return hit.TypeChapterSkip
	}
	return hit.TypeChapterComplete
}

func (t *MediaTracker) startSession(c call) {
	if t.current != nil {
		t.endSession(t.current, hit.TypeSessionEnd, c.bare())
	}

	key := uuid.New().String()
	s := &session{
		key:      key,
		logger:   observability.EnrichLogger(t.logger, t.id, key),
		playback: PlaybackInit,
		resume:   PlaybackInit,
		qoe:      maps.Clone(c.qoe),
	}
	if c.hasHead {
		s.playhead = c.playhead
	}
	t.current = s
	observability.LogSessionStarted(s.logger, t.downloaded)
	t.emit(s, hit.TypeSessionStart, c)
}

func (t *MediaTracker) endSession(s *session, typ hit.Type, c call) {
	t.emit(s, typ, c)
	t.current = nil
}

func (t *MediaTracker) closeAdBreak(s *session, c call) {
	if s.inAd {
		s.inAd = false
		t.emit(s, hit.TypeAdComplete, c.bare())
	}
	s.inAdBreak = false
	t.emit(s, hit.TypeAdBreakComplete, c.bare())
}

// transition moves to next and emits its hit when the state changed.
func (t *MediaTracker) transition(s *session, next Playback, c call) {
	if s.playback == next {
		return
	}
	s.playback = next
	if typ, ok := next.hitType(); ok {
		t.emit(s, typ, c.bare())
	}
}

// interrupt enters a transient state, remembering where to return.
func (t *MediaTracker) interrupt(s *session, next Playback, c call) {
	if s.playback == next {
		return
	}
	if s.playback != PlaybackBuffering && s.playback != PlaybackSeeking {
		s.resume = s.playback
	}
	t.transition(s, next, c)
}

// restore leaves the transient state from if the session is in it.
func (t *MediaTracker) restore(s *session, from Playback, c call) {
	if s.playback != from {
		return
	}
	t.transition(s, s.resume, c)
}

func (t *MediaTracker) emit(s *session, typ hit.Type, c call) {
	h := hit.Hit{
		Type:       typ,
		TrackerID:  t.id,
		SessionKey: s.key,
		Params:     maps.Clone(c.params),
		Metadata:   maps.Clone(c.metadata),
		QoE:        maps.Clone(s.qoe),
		Playhead:   s.playhead,
		Timestamp:  c.ts,
		Downloaded: t.downloaded,
	}
	t.lastHit = c.ts
	t.processor.Submit(h)
}
