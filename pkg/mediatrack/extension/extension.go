// Package extension is the entry point of the tracking core. It receives
// every event the host bus delivers, classifies it, and routes it to the
// tracker registry, the hit backends, the shared-state aggregator or the
// correlation registry.
//
// Handle never returns an error and never panics: invalid events are
// dropped and logged.
package extension

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/config"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/correlation"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/event"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/observability"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/sharedstate"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/tracker"
)

// Backend names reported when a tracker is created.
const (
	backendRealTime = "realtime"
	backendOffline  = "offline"
)

// Correlator receives edge responses. It is implemented by
// correlation.Registry.
type Correlator interface {
	ResolveSessionID(requestID string, sessionID *string) error
	ResolveError(requestID string, payload map[string]any) error
}

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger. Default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Extension) {
		e.metrics = m
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(e *Extension) {
		e.spans = s
	}
}

// WithDispatcher sets where tracker responses are published.
func WithDispatcher(d event.Dispatcher) Option {
	return func(e *Extension) {
		e.dispatcher = d
	}
}

// WithTrackerFactory overrides how trackers are built.
func WithTrackerFactory(f tracker.Factory) Option {
	return func(e *Extension) {
		e.factory = f
	}
}

// WithAggregator shares an existing aggregator, typically the one the
// backends read from.
func WithAggregator(a *sharedstate.Aggregator) Option {
	return func(e *Extension) {
		e.aggregator = a
	}
}

// Extension owns the tracker registry and routes inbound events.
type Extension struct {
	realTime     hit.Processor
	offline      hit.Processor
	states       sharedstate.Querier
	correlations Correlator
	aggregator   *sharedstate.Aggregator
	dispatcher   event.Dispatcher
	factory      tracker.Factory

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	router *event.Router

	mu       sync.RWMutex
	trackers map[string]tracker.Tracker
}

// New creates an extension bound to its two backends. The dispatch table
// is fixed here.
func New(realTime, offline hit.Processor, states sharedstate.Querier, correlations Correlator, opts ...Option) *Extension {
	e := configure(opts)
	e.realTime = realTime
	e.offline = offline
	e.states = states
	e.correlations = correlations
	e.buildRouter()
	return e
}

func configure(opts []Option) *Extension {
	e := &Extension{
		logger:   observability.DiscardLogger(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		trackers: make(map[string]tracker.Tracker),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.DiscardLogger()
	}
	if e.aggregator == nil {
		e.aggregator = sharedstate.NewAggregator()
	}
	if e.factory == nil {
		e.factory = tracker.NewFactory(tracker.WithLogger(e.logger))
	}
	return e
}

func (e *Extension) buildRouter() {
	e.router = event.NewRouter(event.RouterConfig{
		OnError: func(evt event.Event, kind event.Kind, err error) {
			observability.LogHandlerError(e.logger, kind.String(), evt.ID, err)
		},
		OnIgnored: func(evt event.Event) {
			observability.LogEventIgnored(e.logger, evt.ID, evt.Type, evt.Source)
			e.metrics.RecordEvent(context.Background(), event.KindUnknown.String(), false)
		},
	})
	e.router.Use(e.observe)
	e.router.Use(event.LoggingMiddleware(e.logHandled))
	e.router.Use(event.RecoveryMiddleware())

	handlers := map[event.Kind]event.HandlerFunc{
		event.KindCreateTracker:   e.handleCreateTracker,
		event.KindTrack:           e.handleTrack,
		event.KindReset:           e.handleReset,
		event.KindSharedState:     e.handleSharedState,
		event.KindSessionResolved: e.handleSessionResolved,
		event.KindErrorResponse:   e.handleErrorResponse,
	}
	for kind, h := range handlers {
		// Only KindUnknown is rejected.
		_ = e.router.Register(kind, h)
	}
}

// Handle routes one inbound event.
func (e *Extension) Handle(ctx context.Context, evt event.Event) {
	e.router.Route(ctx, evt)
}

// Tracker returns the tracker registered under id.
func (e *Extension) Tracker(id string) (tracker.Tracker, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.trackers[id]
	return t, ok
}

// TrackerIDs returns the registered tracker ids, sorted.
func (e *Extension) TrackerIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.trackers))
}

// TrackerCount returns the number of registered trackers.
func (e *Extension) TrackerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.trackers)
}

// ClearTrackers drops every tracker. Resets never do this; it is meant
// for process teardown.
func (e *Extension) ClearTrackers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.trackers)
}

// Aggregator returns the shared-state aggregator.
func (e *Extension) Aggregator() *sharedstate.Aggregator {
	return e.aggregator
}

// Close closes every backend that implements io.Closer.
func (e *Extension) Close() error {
	var errs []error
	for _, p := range []hit.Processor{e.realTime, e.offline} {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// observe wraps each handler in a span and records the event metric.
func (e *Extension) observe(kind event.Kind, next event.Handler) event.Handler {
	return event.HandlerFunc(func(ctx context.Context, evt event.Event) error {
		ctx, span := e.spans.StartEventSpan(ctx, kind.String(), evt.ID)
		err := next.Handle(ctx, evt)
		e.spans.EndSpanWithError(span, err)
		e.metrics.RecordEvent(ctx, kind.String(), true)
		return err
	})
}

func (e *Extension) logHandled(kind event.Kind, evt event.Event, d time.Duration, err error) {
	e.logger.Debug("event handled",
		slog.String("kind", kind.String()),
		slog.String("event_id", evt.ID),
		slog.Duration("duration", d),
		slog.Bool("failed", err != nil),
	)
}

func (e *Extension) drop(kind event.Kind, evt event.Event, reason string) error {
	observability.LogEventDropped(e.logger, kind.String(), evt.ID, reason)
	return nil
}

func (e *Extension) handleCreateTracker(ctx context.Context, evt event.Event) error {
	id, ok := evt.Data.NonEmptyString(event.KeyTrackerID)
	if !ok {
		return e.drop(event.KindCreateTracker, evt, "missing tracker id")
	}

	cfg := config.New(evt.Data.Map(event.KeyTrackerConfig))
	processor, name := e.realTime, backendRealTime
	if cfg.Bool(event.KeyDownloadedContent, false) {
		processor, name = e.offline, backendOffline
	}
	t := e.factory(id, processor, cfg)

	e.mu.Lock()
	_, replaced := e.trackers[id]
	e.trackers[id] = t
	e.mu.Unlock()

	observability.LogTrackerCreated(e.logger, id, name, replaced)

	if e.dispatcher == nil {
		return nil
	}
	resp := event.New("Media::TrackerResponse", event.TypeMedia, event.SourceTrackerResponse,
		map[string]any{event.KeyTrackerID: id})
	return e.dispatcher.Dispatch(ctx, resp)
}

func (e *Extension) handleTrack(_ context.Context, evt event.Event) error {
	id, ok := evt.Data.NonEmptyString(event.KeyTrackerID)
	if !ok {
		return e.drop(event.KindTrack, evt, "missing tracker id")
	}

	t, ok := e.Tracker(id)
	if !ok {
		return e.drop(event.KindTrack, evt, "unknown tracker "+id)
	}
	t.Track(evt)
	return nil
}

func (e *Extension) handleReset(_ context.Context, _ event.Event) error {
	e.realTime.Reset()
	e.offline.Reset()
	observability.LogBackendsReset(e.logger, e.TrackerCount())
	return nil
}

func (e *Extension) handleSharedState(ctx context.Context, evt event.Event) error {
	owner, ok := evt.Data.NonEmptyString(event.KeyStateOwner)
	if !ok {
		return e.drop(event.KindSharedState, evt, "missing state owner")
	}
	if !sharedstate.Tracked(owner) {
		return nil
	}

	res := e.states.SharedState(owner)
	observability.LogSharedState(e.logger, owner, res.Status.String())
	if res.Status != sharedstate.StatusSet {
		return nil
	}

	e.aggregator.Update(owner, res.Value)
	e.spans.AddSpanEvent(ctx, "aggregator.updated", attribute.String("owner", owner))
	e.realTime.NotifyStateChanged()
	e.offline.NotifyStateChanged()
	return nil
}

func (e *Extension) handleSessionResolved(ctx context.Context, evt event.Event) error {
	requestID, ok := evt.Data.NonEmptyString(event.KeyRequestEventID)
	if !ok {
		return e.drop(event.KindSessionResolved, evt, "missing request event id")
	}

	// A missing payload is not an error here: it resolves to no session id.
	sessionID := correlation.SessionIDFromPayload(evt.Data)
	if err := e.correlations.ResolveSessionID(requestID, sessionID); err != nil {
		return e.drop(event.KindSessionResolved, evt, err.Error())
	}
	e.spans.AddSpanEvent(ctx, "session.resolved",
		attribute.String("request_id", requestID),
		attribute.Bool("has_session_id", sessionID != nil))
	return nil
}

func (e *Extension) handleErrorResponse(_ context.Context, evt event.Event) error {
	requestID, ok := evt.Data.NonEmptyString(event.KeyRequestEventID)
	if !ok {
		return e.drop(event.KindErrorResponse, evt, "missing request event id")
	}

	if err := e.correlations.ResolveError(requestID, evt.Data.Raw()); err != nil {
		return e.drop(event.KindErrorResponse, evt, err.Error())
	}
	return nil
}
