package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/event"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/extension"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/sharedstate"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/tracker"
)

type discardProcessor struct{}

func (discardProcessor) Submit(hit.Hit)      {}
func (discardProcessor) Reset()              {}
func (discardProcessor) NotifyStateChanged() {}

type discardCorrelator struct{}

func (discardCorrelator) ResolveSessionID(string, *string) error    { return nil }
func (discardCorrelator) ResolveError(string, map[string]any) error { return nil }

func newExtension() *extension.Extension {
	states := sharedstate.QuerierFunc(func(string) sharedstate.Result { return sharedstate.Result{} })
	return extension.New(discardProcessor{}, discardProcessor{}, states, discardCorrelator{})
}

// BenchmarkClassify measures (type, source) classification.
func BenchmarkClassify(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = event.Classify(event.TypeMedia, event.SourceTrackMedia)
	}
}

// BenchmarkHandle_Unknown measures the cost of ignoring an event.
func BenchmarkHandle_Unknown(b *testing.B) {
	ext := newExtension()
	evt := event.New("other", "some.type", "some.source", nil)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ext.Handle(ctx, evt)
	}
}

// BenchmarkHandle_Track measures routing a track call to a live tracker.
func BenchmarkHandle_Track(b *testing.B) {
	ext := newExtension()
	ctx := context.Background()

	create := event.NewCreateTracker(nil)
	ext.Handle(ctx, create)
	id := create.Data[event.KeyTrackerID].(string)
	ext.Handle(ctx, event.NewTrack(id, tracker.EventSessionStart, nil, nil))

	play := event.NewTrack(id, tracker.EventPlay, nil, nil)
	pause := event.NewTrack(id, tracker.EventPause, nil, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%2 == 0 {
			ext.Handle(ctx, play)
		} else {
			ext.Handle(ctx, pause)
		}
	}
}

// BenchmarkHandle_Parallel measures concurrent track calls across trackers.
func BenchmarkHandle_Parallel(b *testing.B) {
	ext := newExtension()
	ctx := context.Background()

	ids := make([]string, 8)
	for i := range ids {
		create := event.NewCreateTracker(nil)
		ext.Handle(ctx, create)
		ids[i] = create.Data[event.KeyTrackerID].(string)
		ext.Handle(ctx, event.NewTrack(ids[i], tracker.EventSessionStart, nil, nil))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			ext.Handle(ctx, event.NewTrack(ids[i%len(ids)], tracker.EventPlayheadUpdate, nil, nil))
			i++
		}
	})
}
