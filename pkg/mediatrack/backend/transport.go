package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	mterrors "github.com/randalmurphal/mediatrack/pkg/mediatrack/errors"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/event"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/sharedstate"
)

// Request payload keys.
const (
	KeySessionKey = "sessionKey"
	KeyChannel    = "channel"
	KeyPlayerName = "playerName"
	KeyAppVersion = "appVersion"
	KeyDownloaded = "downloaded"
	KeyEvents     = "events"
)

// ConfigReader returns the last configuration shared state.
// It is implemented by sharedstate.Aggregator.
type ConfigReader interface {
	Get(extension string) (map[string]any, bool)
}

// DispatchTransport sends requests as edge request events through the
// host event bus. The dispatched event id is the request id.
type DispatchTransport struct {
	dispatcher event.Dispatcher
	config     ConfigReader
	retry      mterrors.RetryConfig
	timeout    time.Duration
}

// TransportOption configures a DispatchTransport.
type TransportOption func(*DispatchTransport)

// WithRetry sets the dispatch retry policy.
func WithRetry(cfg mterrors.RetryConfig) TransportOption {
	return func(t *DispatchTransport) {
		t.retry = cfg
	}
}

// WithDispatchTimeout bounds each dispatch attempt.
func WithDispatchTimeout(d time.Duration) TransportOption {
	return func(t *DispatchTransport) {
		t.timeout = d
	}
}

// NewDispatchTransport creates a transport over dispatcher. config may be
// nil, in which case requests carry no channel or player details.
func NewDispatchTransport(dispatcher event.Dispatcher, config ConfigReader, opts ...TransportOption) *DispatchTransport {
	t := &DispatchTransport{
		dispatcher: dispatcher,
		config:     config,
		retry:      mterrors.DefaultRetry,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send dispatches req and returns the id of the dispatched event.
// Transient dispatch failures are retried; the same event id is reused
// across attempts.
func (t *DispatchTransport) Send(ctx context.Context, req Request) (string, error) {
	if len(req.Hits) == 0 {
		return "", fmt.Errorf("send session %s: no hits", req.SessionKey)
	}

	evt := event.New("Media::EdgeRequest", event.TypeEdge, event.SourceEdgeRequest, t.payload(req))

	result := mterrors.WithRetryContext(ctx, t.retry, func(ctx context.Context) (string, error) {
		attemptCtx := ctx
		if t.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, t.timeout)
			defer cancel()
		}
		if err := t.dispatcher.Dispatch(attemptCtx, evt); err != nil {
			if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return "", &mterrors.TimeoutError{
					Operation: "dispatch " + evt.ID,
					Duration:  t.timeout.String(),
				}
			}
			return "", err
		}
		return evt.ID, nil
	})
	if result.Err != nil {
		return "", fmt.Errorf("dispatch session %s after %d attempts: %w",
			req.SessionKey, result.Attempts, result.Err)
	}
	return result.Value, nil
}

func (t *DispatchTransport) payload(req Request) map[string]any {
	events := make([]any, len(req.Hits))
	for i, h := range req.Hits {
		events[i] = hitRecord(h)
	}

	data := map[string]any{
		KeySessionKey: req.SessionKey,
		KeyDownloaded: req.Downloaded,
		KeyEvents:     events,
	}
	if req.BackendSessionID != "" {
		data[event.KeySessionID] = req.BackendSessionID
	}

	if t.config != nil {
		if cfg, ok := t.config.Get(sharedstate.Configuration); ok {
			copyString(data, KeyChannel, cfg, sharedstate.KeyEdgeChannel)
			copyString(data, KeyPlayerName, cfg, sharedstate.KeyPlayerName)
			copyString(data, KeyAppVersion, cfg, sharedstate.KeyAppVersion)
		}
	}
	return data
}

func copyString(dst map[string]any, dstKey string, src map[string]any, srcKey string) {
	if s, ok := src[srcKey].(string); ok && s != "" {
		dst[dstKey] = s
	}
}

func hitRecord(h hit.Hit) map[string]any {
	record := map[string]any{
		"eventType": "media." + string(h.Type),
		"playhead":  h.Playhead,
		"ts":        h.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(h.Params) > 0 {
		record["params"] = h.Params
	}
	if len(h.Metadata) > 0 {
		record["customMetadata"] = h.Metadata
	}
	if len(h.QoE) > 0 {
		record["qoeData"] = h.QoE
	}
	return record
}
