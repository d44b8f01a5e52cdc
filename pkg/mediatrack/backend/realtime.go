package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mterrors "github.com/randalmurphal/mediatrack/pkg/mediatrack/errors"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/event"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/observability"
)

// Option configures a backend.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	queueSize int
}

// WithLogger sets the backend logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithQueueSize bounds the number of queued hits.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:    observability.DiscardLogger(),
		metrics:   observability.NoopMetrics{},
		queueSize: 512,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.DiscardLogger()
	}
	if o.queueSize <= 0 {
		o.queueSize = 512
	}
	return o
}

type sessionPhase int

const (
	// phaseStarting: sessionStart not yet answered with a session id.
	phaseStarting sessionPhase = iota
	phaseActive
	phaseAborted
)

type liveSession struct {
	key       string
	phase     sessionPhase
	requestID string
	backendID string

	// held are hits waiting for the session to become active or for
	// sending to be allowed. held[0] is the sessionStart hit until it
	// has been sent.
	held      []hit.Hit
	startSent bool
}

// RealTime is the backend for live content. Every session is opened with
// a sessionStart request; its remaining hits are held until the
// collection server answers with a backend session id.
//
// RealTime implements hit.Processor and correlation.Notifier.
type RealTime struct {
	transport Transport
	expecter  Expecter
	state     StateReader
	opts      options
	worker    *worker

	// Owned by the worker goroutine.
	sessions  map[string]*liveSession
	byRequest map[string]string
}

// NewRealTime creates and starts a real-time backend. Call Close to stop it.
func NewRealTime(transport Transport, expecter Expecter, state StateReader, opts ...Option) *RealTime {
	o := buildOptions(opts)
	return &RealTime{
		transport: transport,
		expecter:  expecter,
		state:     state,
		opts:      o,
		worker:    newWorker(o.queueSize),
		sessions:  make(map[string]*liveSession),
		byRequest: make(map[string]string),
	}
}

// Submit queues h. It never blocks; hits that cannot be queued are
// dropped and logged.
func (r *RealTime) Submit(h hit.Hit) {
	if err := r.TrySubmit(h); err != nil {
		observability.LogHitDropped(r.opts.logger, NameRealTime, string(h.Type), err.Error())
	}
}

// TrySubmit queues h and reports ErrQueueFull or ErrClosed.
func (r *RealTime) TrySubmit(h hit.Hit) error {
	err := r.worker.push(func() { r.process(h) }, true)
	if err == nil {
		r.opts.metrics.RecordHit(context.Background(), NameRealTime, string(h.Type))
	}
	return err
}

// Reset drops queued hits and forgets every session.
func (r *RealTime) Reset() {
	r.worker.discard()
	_ = r.worker.push(func() {
		clear(r.sessions)
		clear(r.byRequest)
	}, false)
}

// NotifyStateChanged re-evaluates privacy and configuration. Opting out
// drops every session; becoming able to send releases held hits.
func (r *RealTime) NotifyStateChanged() {
	_ = r.worker.push(r.stateChanged, false)
}

// NotifyBackendSessionID binds the backend session id to the session
// started by requestID. A nil or empty id aborts that session.
func (r *RealTime) NotifyBackendSessionID(requestID string, sessionID *string) {
	_ = r.worker.push(func() { r.sessionResolved(requestID, sessionID) }, false)
}

// NotifyErrorResponse aborts the session whose start request failed.
func (r *RealTime) NotifyErrorResponse(requestID string, payload map[string]any) {
	_ = r.worker.push(func() { r.errorResponse(requestID, payload) }, false)
}

// Flush waits until everything queued before the call has been processed.
func (r *RealTime) Flush(ctx context.Context) error {
	return r.worker.flush(ctx)
}

// Close processes queued work and stops the backend.
func (r *RealTime) Close() error {
	r.worker.close()
	return nil
}

// SessionCount returns the number of sessions the backend is tracking.
// Only meaningful after Flush.
func (r *RealTime) SessionCount() int {
	count := 0
	_ = r.worker.push(func() { count = len(r.sessions) }, false)
	_ = r.Flush(context.Background())
	return count
}

func (r *RealTime) process(h hit.Hit) {
	if r.state.OptedOut() {
		observability.LogHitDropped(r.opts.logger, NameRealTime, string(h.Type), "privacy opted out")
		return
	}

	if h.Type == hit.TypeSessionStart {
		if old, ok := r.sessions[h.SessionKey]; ok {
			r.drop(old)
		}
		s := &liveSession{key: h.SessionKey, held: []hit.Hit{h}}
		r.sessions[h.SessionKey] = s
		r.advance(s)
		return
	}

	s, ok := r.sessions[h.SessionKey]
	if !ok {
		observability.LogHitDropped(r.opts.logger, NameRealTime, string(h.Type), "unknown session")
		return
	}
	if s.phase == phaseAborted {
		if h.Type.Closes() {
			delete(r.sessions, s.key)
		}
		return
	}

	if len(s.held) >= r.opts.queueSize && !h.Type.Closes() {
		observability.LogHitDropped(r.opts.logger, NameRealTime, string(h.Type), "session backlog full")
		return
	}
	s.held = append(s.held, h)
	r.advance(s)
}

// advance sends whatever the session's phase and the shared state allow.
func (r *RealTime) advance(s *liveSession) {
	if s.phase == phaseAborted || !r.state.CanSend() {
		return
	}

	switch {
	case !s.startSent:
		r.sendStart(s)
	case s.phase == phaseActive:
		r.sendHeld(s)
	}
}

func (r *RealTime) sendStart(s *liveSession) {
	start := s.held[0]
	requestID, err := r.send(Request{SessionKey: s.key, Hits: []hit.Hit{start}})
	if err != nil {
		observability.LogDispatchError(r.opts.logger, NameRealTime, s.key, err)
		r.abort(s)
		return
	}

	s.startSent = true
	s.held = s.held[1:]
	s.requestID = requestID
	r.byRequest[requestID] = s.key
	if r.expecter != nil {
		r.expecter.Expect(requestID, NameRealTime)
	}
}

func (r *RealTime) sendHeld(s *liveSession) {
	for len(s.held) > 0 {
		h := s.held[0]
		_, err := r.send(Request{
			SessionKey:       s.key,
			BackendSessionID: s.backendID,
			Hits:             []hit.Hit{h},
		})
		if err != nil {
			observability.LogDispatchError(r.opts.logger, NameRealTime, s.key, err)
		}
		s.held = s.held[1:]

		if h.Type.Closes() {
			r.forget(s)
			return
		}
	}
}

func (r *RealTime) send(req Request) (string, error) {
	ctx := context.Background()
	start := time.Now()
	requestID, err := r.transport.Send(ctx, req)
	r.opts.metrics.RecordDispatch(ctx, NameRealTime, time.Since(start), err)
	return requestID, err
}

func (r *RealTime) sessionResolved(requestID string, sessionID *string) {
	key, ok := r.byRequest[requestID]
	if !ok {
		return
	}
	s, ok := r.sessions[key]
	if !ok || s.phase != phaseStarting {
		return
	}

	if sessionID == nil || *sessionID == "" {
		r.opts.logger.Warn("backend returned no session id, aborting session",
			slog.String("request_id", requestID),
			slog.String("session_key", key),
		)
		r.abort(s)
		return
	}

	s.phase = phaseActive
	s.backendID = *sessionID
	r.advance(s)
}

func (r *RealTime) errorResponse(requestID string, payload map[string]any) {
	key, ok := r.byRequest[requestID]
	if !ok {
		return
	}
	s, ok := r.sessions[key]
	if !ok {
		return
	}

	if s.phase == phaseStarting {
		observability.LogDispatchError(r.opts.logger, NameRealTime, key,
			fmt.Errorf("session start rejected: %w", EdgeError(payload)))
		r.abort(s)
	}
}

// EdgeError converts an edge error response payload into a StatusError.
// A payload without a title falls back to its error list.
func EdgeError(payload map[string]any) *mterrors.StatusError {
	e := &mterrors.StatusError{}
	switch v := payload[event.KeyStatus].(type) {
	case int:
		e.StatusCode = v
	case int64:
		e.StatusCode = int(v)
	case float64:
		e.StatusCode = int(v)
	}
	e.Type, _ = payload[event.KeyErrorType].(string)
	e.Title, _ = payload[event.KeyErrorTitle].(string)
	if e.Title == "" {
		if errs, ok := payload[event.KeyErrors]; ok && errs != nil {
			e.Title = fmt.Sprint(errs)
		}
	}
	return e
}

// abort drops the session's held hits. The session is kept so that its
// remaining hits are discarded until it closes.
func (r *RealTime) abort(s *liveSession) {
	if len(s.held) > 0 && s.held[len(s.held)-1].Type.Closes() {
		r.forget(s)
		return
	}
	s.phase = phaseAborted
	s.held = nil
	if s.requestID != "" {
		delete(r.byRequest, s.requestID)
	}
}

func (r *RealTime) drop(s *liveSession) {
	s.held = nil
	r.forget(s)
}

func (r *RealTime) forget(s *liveSession) {
	delete(r.sessions, s.key)
	if s.requestID != "" {
		delete(r.byRequest, s.requestID)
	}
}

func (r *RealTime) stateChanged() {
	if r.state.OptedOut() {
		if len(r.sessions) > 0 {
			r.opts.logger.Info("privacy opted out, dropping sessions",
				slog.Int("sessions", len(r.sessions)))
		}
		clear(r.sessions)
		clear(r.byRequest)
		return
	}
	for _, s := range r.sessions {
		r.advance(s)
	}
}
