package tracker_test

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/config"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/event"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/tracker"
)

type recorder struct {
	mu   sync.Mutex
	hits []hit.Hit
}

func (r *recorder) Submit(h hit.Hit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, h)
}

func (r *recorder) Reset()              {}
func (r *recorder) NotifyStateChanged() {}

func (r *recorder) types() []hit.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]hit.Type, len(r.hits))
	for i, h := range r.hits {
		types[i] = h.Type
	}
	return types
}

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// trackAt sends a track call stamped sec seconds after base.
func trackAt(tr tracker.Tracker, name string, sec int, params map[string]any) {
	evt := event.NewTrack("t1", name, params, nil)
	evt.Data[event.KeyEventTimestamp] = base.Add(time.Duration(sec) * time.Second).UnixMilli()
	tr.Track(evt)
}

func track(tr tracker.Tracker, names ...string) {
	for _, name := range names {
		trackAt(tr, name, 0, nil)
	}
}

func TestTracker_IgnoresEventsBeforeSessionStart(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)

	track(tr, tracker.EventPlay, tracker.EventPause, tracker.EventComplete, tracker.EventAdBreakStart)
	assert.Empty(t, rec.types())
	assert.Equal(t, "", tr.SessionKey())
}

func TestTracker_SessionLifecycle(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)

	trackAt(tr, tracker.EventSessionStart, 0, map[string]any{"media.id": "vid-1"})
	key := tr.SessionKey()
	require.NotEmpty(t, key)

	track(tr, tracker.EventPlay, tracker.EventPlay, tracker.EventPause, tracker.EventComplete)

	assert.Equal(t, []hit.Type{
		hit.TypeSessionStart,
		hit.TypePlay,
		hit.TypePauseStart,
		hit.TypeSessionComplete,
	}, rec.types())

	for _, h := range rec.hits {
		assert.Equal(t, key, h.SessionKey)
		assert.Equal(t, "t1", h.TrackerID)
		assert.False(t, h.Downloaded)
	}
	assert.Equal(t, "vid-1", rec.hits[0].Params["media.id"])
	assert.Equal(t, "", tr.SessionKey(), "complete closes the session")

	_, active := tr.Playback()
	assert.False(t, active)
}

func TestTracker_SessionStartEndsActiveSession(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)

	track(tr, tracker.EventSessionStart)
	first := tr.SessionKey()
	track(tr, tracker.EventSessionStart)
	second := tr.SessionKey()

	assert.NotEqual(t, first, second)
	assert.Equal(t, []hit.Type{hit.TypeSessionStart, hit.TypeSessionEnd, hit.TypeSessionStart}, rec.types())
	assert.Equal(t, first, rec.hits[1].SessionKey)
	assert.Equal(t, second, rec.hits[2].SessionKey)
}

func TestTracker_BufferAndSeekRestorePlayback(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		want   []hit.Type
		final  tracker.Playback
	}{
		{
			name:   "buffer while playing",
			events: []string{tracker.EventPlay, tracker.EventBufferStart, tracker.EventBufferComplete},
			want:   []hit.Type{hit.TypePlay, hit.TypeBufferStart, hit.TypePlay},
			final:  tracker.PlaybackPlaying,
		},
		{
			name:   "seek while paused",
			events: []string{tracker.EventPause, tracker.EventSeekStart, tracker.EventSeekComplete},
			want:   []hit.Type{hit.TypePauseStart, hit.TypePauseStart, hit.TypePauseStart},
			final:  tracker.PlaybackPaused,
		},
		{
			name:   "buffer during seek returns to pre-seek state",
			events: []string{tracker.EventPlay, tracker.EventSeekStart, tracker.EventBufferStart, tracker.EventBufferComplete},
			want:   []hit.Type{hit.TypePlay, hit.TypePauseStart, hit.TypeBufferStart, hit.TypePlay},
			final:  tracker.PlaybackPlaying,
		},
		{
			name:   "complete without start is ignored",
			events: []string{tracker.EventPlay, tracker.EventBufferComplete},
			want:   []hit.Type{hit.TypePlay},
			final:  tracker.PlaybackPlaying,
		},
		{
			name:   "buffer before play returns to init silently",
			events: []string{tracker.EventBufferStart, tracker.EventBufferComplete},
			want:   []hit.Type{hit.TypeBufferStart},
			final:  tracker.PlaybackInit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			tr := tracker.New("t1", rec)
			track(tr, tracker.EventSessionStart)
			track(tr, tt.events...)

			assert.Equal(t, append([]hit.Type{hit.TypeSessionStart}, tt.want...), rec.types())
			state, active := tr.Playback()
			assert.True(t, active)
			assert.Equal(t, tt.final, state)
		})
	}
}

func TestTracker_AdNesting(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		want   []hit.Type
	}{
		{
			name:   "ad outside break ignored",
			events: []string{tracker.EventAdStart, tracker.EventAdComplete},
			want:   nil,
		},
		{
			name:   "full break",
			events: []string{tracker.EventAdBreakStart, tracker.EventAdStart, tracker.EventAdComplete, tracker.EventAdBreakComplete},
			want:   []hit.Type{hit.TypeAdBreakStart, hit.TypeAdStart, hit.TypeAdComplete, hit.TypeAdBreakComplete},
		},
		{
			name:   "new ad completes current",
			events: []string{tracker.EventAdBreakStart, tracker.EventAdStart, tracker.EventAdStart},
			want:   []hit.Type{hit.TypeAdBreakStart, hit.TypeAdStart, hit.TypeAdComplete, hit.TypeAdStart},
		},
		{
			name:   "new break closes ad and break",
			events: []string{tracker.EventAdBreakStart, tracker.EventAdStart, tracker.EventAdBreakStart},
			want: []hit.Type{
				hit.TypeAdBreakStart, hit.TypeAdStart,
				hit.TypeAdComplete, hit.TypeAdBreakComplete, hit.TypeAdBreakStart,
			},
		},
		{
			name:   "skip",
			events: []string{tracker.EventAdBreakStart, tracker.EventAdStart, tracker.EventAdSkip, tracker.EventAdSkip},
			want:   []hit.Type{hit.TypeAdBreakStart, hit.TypeAdStart, hit.TypeAdSkip},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			tr := tracker.New("t1", rec)
			track(tr, tracker.EventSessionStart)
			track(tr, tt.events...)

			assert.Equal(t, append([]hit.Type{hit.TypeSessionStart}, tt.want...), rec.types())
		})
	}
}

func TestTracker_Chapters(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)

	track(tr,
		tracker.EventChapterComplete,
		tracker.EventSessionStart,
		tracker.EventChapterComplete,
		tracker.EventChapterStart,
		tracker.EventChapterStart,
		tracker.EventChapterSkip,
	)

	assert.Equal(t, []hit.Type{
		hit.TypeSessionStart,
		hit.TypeChapterStart,
		hit.TypeChapterComplete,
		hit.TypeChapterStart,
		hit.TypeChapterSkip,
	}, rec.types())
}

func TestTracker_ErrorRequiresID(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)
	track(tr, tracker.EventSessionStart)

	trackAt(tr, tracker.EventError, 0, nil)
	trackAt(tr, tracker.EventError, 0, map[string]any{tracker.ParamErrorID: "drm-failure"})

	require.Equal(t, []hit.Type{hit.TypeSessionStart, hit.TypeError}, rec.types())
	assert.Equal(t, "drm-failure", rec.hits[1].Params[tracker.ParamErrorID])
}

func TestTracker_StatesAndBitrate(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)
	track(tr, tracker.EventSessionStart)

	trackAt(tr, tracker.EventStateStart, 0, map[string]any{tracker.ParamStateName: "fullscreen"})
	trackAt(tr, tracker.EventStateEnd, 0, map[string]any{})
	trackAt(tr, tracker.EventStateEnd, 0, map[string]any{tracker.ParamStateName: "fullscreen"})
	track(tr, tracker.EventBitrateChange)

	assert.Equal(t, []hit.Type{
		hit.TypeSessionStart,
		hit.TypeStatesUpdate,
		hit.TypeStatesUpdate,
		hit.TypeBitrateChange,
	}, rec.types())
}

func TestTracker_PingInterval(t *testing.T) {
	tests := []struct {
		name       string
		downloaded bool
		seconds    []int
		pings      int
	}{
		{"online", false, []int{1, 5, 10, 15, 20, 30}, 3},
		{"offline", true, []int{10, 49, 50, 60, 100}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			tr := tracker.New("t1", rec, tracker.WithDownloaded(tt.downloaded))
			trackAt(tr, tracker.EventSessionStart, 0, nil)

			for _, sec := range tt.seconds {
				trackAt(tr, tracker.EventPlayheadUpdate, sec, nil)
			}

			pings := 0
			for _, typ := range rec.types() {
				if typ == hit.TypePing {
					pings++
				}
			}
			assert.Equal(t, tt.pings, pings)
		})
	}
}

func TestTracker_PlayheadAndQoECarried(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)
	track(tr, tracker.EventSessionStart)

	evt := event.NewTrack("t1", tracker.EventQoEUpdate, nil, nil)
	evt.Data[event.KeyEventQoE] = map[string]any{"qoe.bitrate": 1200}
	tr.Track(evt)

	evt = event.NewTrack("t1", tracker.EventPlay, nil, nil)
	evt.Data[event.KeyEventPlayhead] = 42.5
	tr.Track(evt)

	require.Len(t, rec.hits, 2)
	assert.Equal(t, 42.5, rec.hits[1].Playhead)
	assert.Equal(t, 1200, rec.hits[1].QoE["qoe.bitrate"])
}

func TestTracker_MalformedCallsIgnored(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)

	assert.NotPanics(t, func() {
		tr.Track(event.New("x", event.TypeMedia, event.SourceTrackMedia, nil))
		tr.Track(event.New("x", event.TypeMedia, event.SourceTrackMedia, map[string]any{event.KeyEventName: 7}))
		track(tr, tracker.EventSessionStart, "rewind")
	})
	assert.Equal(t, []hit.Type{hit.TypeSessionStart}, rec.types())
}

func TestTracker_SessionLogsCarryTrackerContext(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tr := tracker.New("t1", &recorder{}, tracker.WithLogger(logger))

	track(tr, tracker.EventSessionStart, "rewind")

	out := logs.String()
	assert.Contains(t, out, "media session started")
	assert.Contains(t, out, "tracker_id=t1 session_key="+tr.SessionKey())
	assert.Contains(t, out, "unknown event name rewind")
	assert.Equal(t, 2, strings.Count(out, "session_key="+tr.SessionKey()))
}

func TestFactory_DownloadedContent(t *testing.T) {
	factory := tracker.NewFactory()
	rec := &recorder{}

	online := factory("a", rec, config.New(nil)).(*tracker.MediaTracker)
	offline := factory("b", rec, config.New(map[string]any{event.KeyDownloadedContent: true})).(*tracker.MediaTracker)

	assert.False(t, online.Downloaded())
	assert.True(t, offline.Downloaded())
	assert.Same(t, rec, offline.Processor().(*recorder))
	assert.Equal(t, "b", offline.ID())

	track(offline, tracker.EventSessionStart)
	require.Len(t, rec.hits, 1)
	assert.True(t, rec.hits[0].Downloaded)
}

func TestTracker_ConcurrentTrack(t *testing.T) {
	rec := &recorder{}
	tr := tracker.New("t1", rec)
	track(tr, tracker.EventSessionStart)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				track(tr, tracker.EventPlay)
			} else {
				track(tr, tracker.EventPause)
			}
		}(i)
	}
	wg.Wait()

	assert.NotEmpty(t, tr.SessionKey())
	assert.Equal(t, hit.TypeSessionStart, rec.types()[0])
}
