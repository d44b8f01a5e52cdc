package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message delivered by, or dispatched to, the host event bus.
//
// Type and Source together discriminate what the event means; see Classify.
// Data is nil when the event carries no payload at all, which is distinct
// from an empty payload.
type Event struct {
	ID        string
	Name      string
	Type      string
	Source    string
	Data      Data
	Timestamp time.Time
}

// Option configures event creation.
type Option func(*Event)

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = t
	}
}

// New creates an event. A nil data map leaves the payload absent.
func New(name, eventType, source string, data map[string]any, opts ...Option) Event {
	evt := Event{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
	}
	if data != nil {
		evt.Data = Data(data)
	}
	for _, opt := range opts {
		opt(&evt)
	}
	return evt
}

// Kind classifies the event by its (Type, Source) pair.
func (e Event) Kind() Kind {
	return Classify(e.Type, e.Source)
}

// Dispatcher publishes events back onto the host event bus.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt Event) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, evt Event) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// NewCreateTracker builds a tracker creation request with a freshly
// generated tracker ID. config may be nil.
func NewCreateTracker(config map[string]any, opts ...Option) Event {
	data := map[string]any{
		KeyTrackerID: uuid.New().String(),
	}
	if config != nil {
		data[KeyTrackerConfig] = config
	}
	return New("Media::CreateTrackerRequest", TypeMedia, SourceTrackerRequest, data, opts...)
}

// NewTrack builds a track call for an existing tracker. params and
// metadata may be nil.
func NewTrack(trackerID, eventName string, params, metadata map[string]any, opts ...Option) Event {
	data := map[string]any{
		KeyTrackerID: trackerID,
		KeyEventName: eventName,
	}
	if params != nil {
		data[KeyEventParam] = params
	}
	if metadata != nil {
		data[KeyEventMetadata] = metadata
	}
	return New("Media::TrackMedia", TypeMedia, SourceTrackMedia, data, opts...)
}
