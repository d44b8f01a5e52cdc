// Package correlation pairs asynchronous responses from the network layer
// with the requests that caused them.
//
// A backend registers the request identifier of every outbound request it
// cares about with Expect. Responses arrive later as separate events keyed
// by that identifier and are forwarded to the Notifier exactly once.
package correlation

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/event"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/observability"
)

// DefaultTTL is how long a request stays pending when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// Correlation outcomes, as recorded in metrics and logs.
const (
	OutcomeSessionID   = "session_id"
	OutcomeNullSession = "null_session"
	OutcomeError       = "error"
	OutcomeRejected    = "rejected"
	OutcomeAbandoned   = "abandoned"
)

// Validation errors returned by the Resolve methods.
var (
	ErrEmptyRequestID = errors.New("request id is empty")
	ErrNoPayload      = errors.New("error response has no payload")
)

// Notifier receives resolved responses. It is implemented by the
// real-time backend.
type Notifier interface {
	// NotifyBackendSessionID delivers the backend session id for a request.
	// sessionID is nil when the response carried none.
	NotifyBackendSessionID(requestID string, sessionID *string)

	// NotifyErrorResponse delivers an error response payload verbatim.
	NotifyErrorResponse(requestID string, payload map[string]any)
}

// NotifierFuncs adapts a pair of functions to the Notifier interface.
// Nil fields are skipped.
type NotifierFuncs struct {
	SessionID func(requestID string, sessionID *string)
	Error     func(requestID string, payload map[string]any)
}

// NotifyBackendSessionID implements Notifier.
func (n NotifierFuncs) NotifyBackendSessionID(requestID string, sessionID *string) {
	if n.SessionID != nil {
		n.SessionID(requestID, sessionID)
	}
}

// NotifyErrorResponse implements Notifier.
func (n NotifierFuncs) NotifyErrorResponse(requestID string, payload map[string]any) {
	if n.Error != nil {
		n.Error(requestID, payload)
	}
}

type pending struct {
	owner   string
	claimed atomic.Bool
}

// Registry tracks outstanding requests and routes responses to a Notifier.
type Registry struct {
	notifier Notifier
	entries  *cache.Cache
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a registry. Pending requests expire after ttl
// (DefaultTTL when ttl <= 0) and are logged as abandoned.
//
// The registry starts no goroutines. Expired requests are collected by
// Expect, Pending and Sweep.
func NewRegistry(notifier Notifier, ttl time.Duration, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	r := &Registry{
		notifier: notifier,
		entries:  cache.New(ttl, cache.NoExpiration),
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.entries.OnEvicted(r.evicted)
	return r
}

// SetNotifier replaces the notifier. It exists for wiring cycles where
// the notifier itself needs the registry.
func (r *Registry) SetNotifier(n Notifier) {
	r.notifier = n
}

// Expect records requestID as pending on behalf of owner.
func (r *Registry) Expect(requestID, owner string) {
	if requestID == "" {
		return
	}
	r.entries.DeleteExpired()
	r.entries.SetDefault(requestID, &pending{owner: owner})
}

// Pending returns the number of requests still waiting for a response.
func (r *Registry) Pending() int {
	r.entries.DeleteExpired()
	return r.entries.ItemCount()
}

// Sweep expires overdue requests and logs them as abandoned.
func (r *Registry) Sweep() {
	r.entries.DeleteExpired()
}

// ResolveSessionID forwards a session id response. Responses for unknown
// or already answered requests are still forwarded; the notifier decides
// whether they matter.
func (r *Registry) ResolveSessionID(requestID string, sessionID *string) error {
	if requestID == "" {
		r.reject()
		return ErrEmptyRequestID
	}

	wasPending := r.claim(requestID)
	outcome := OutcomeSessionID
	if sessionID == nil {
		outcome = OutcomeNullSession
	}
	observability.LogCorrelation(r.logger, requestID, outcome, wasPending)
	r.metrics.RecordCorrelation(context.Background(), outcome)

	if r.notifier != nil {
		r.notifier.NotifyBackendSessionID(requestID, sessionID)
	}
	return nil
}

// ResolveError forwards an error response payload unchanged.
func (r *Registry) ResolveError(requestID string, payload map[string]any) error {
	if requestID == "" {
		r.reject()
		return ErrEmptyRequestID
	}
	if payload == nil {
		r.reject()
		return ErrNoPayload
	}

	wasPending := r.claim(requestID)
	observability.LogCorrelation(r.logger, requestID, OutcomeError, wasPending)
	r.metrics.RecordCorrelation(context.Background(), OutcomeError)

	if r.notifier != nil {
		r.notifier.NotifyErrorResponse(requestID, payload)
	}
	return nil
}

func (r *Registry) claim(requestID string) bool {
	v, ok := r.entries.Get(requestID)
	if !ok {
		return false
	}
	p := v.(*pending)
	if !p.claimed.CompareAndSwap(false, true) {
		return false
	}
	r.entries.Delete(requestID)
	return true
}

func (r *Registry) reject() {
	r.metrics.RecordCorrelation(context.Background(), OutcomeRejected)
}

// evicted runs for both claimed and expired entries; only unclaimed ones
// were abandoned.
func (r *Registry) evicted(requestID string, v any) {
	p, ok := v.(*pending)
	if !ok || !p.claimed.CompareAndSwap(false, true) {
		return
	}
	observability.LogCorrelationAbandoned(r.logger, requestID, p.owner)
	r.metrics.RecordCorrelation(context.Background(), OutcomeAbandoned)
}

// SessionIDFromPayload extracts the backend session id from a session
// response payload.
//
// The payload is a list of records and only the first element is read. A
// missing or empty list, or a first element that is not a record or has
// no sessionId key, yields nil. A present sessionId is
// returned literally, including the empty string.
func SessionIDFromPayload(data event.Data) *string {
	records := data.Records(event.KeyPayload)
	if len(records) == 0 {
		return nil
	}
	v, ok := records[0][event.KeySessionID]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}
