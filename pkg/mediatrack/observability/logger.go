// Package observability provides structured logging, metrics and tracing
// for the media tracking core.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every Log helper accepts a nil logger.
package observability

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// EnrichLogger adds tracker context to a logger.
func EnrichLogger(logger *slog.Logger, trackerID, sessionKey string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("tracker_id", trackerID),
		slog.String("session_key", sessionKey),
	)
}

// LogEventIgnored logs an inbound event that no handler claims.
func LogEventIgnored(logger *slog.Logger, eventID, eventType, source string) {
	if logger == nil {
		return
	}
	logger.Debug("event ignored",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("event_source", source),
	)
}

// LogEventDropped logs an event whose payload failed validation.
func LogEventDropped(logger *slog.Logger, kind, eventID, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("event dropped",
		slog.String("kind", kind),
		slog.String("event_id", eventID),
		slog.String("reason", reason),
	)
}

// LogHandlerError logs a failure swallowed by the router.
func LogHandlerError(logger *slog.Logger, kind, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event handler failed",
		slog.String("kind", kind),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogTrackerCreated logs a tracker registration.
func LogTrackerCreated(logger *slog.Logger, trackerID, backend string, replaced bool) {
	if logger == nil {
		return
	}
	logger.Info("tracker created",
		slog.String("tracker_id", trackerID),
		slog.String("backend", backend),
		slog.Bool("replaced", replaced),
	)
}

// LogSessionStarted logs the start of a media session. The logger is
// expected to carry tracker context from EnrichLogger.
func LogSessionStarted(logger *slog.Logger, downloaded bool) {
	if logger == nil {
		return
	}
	logger.Debug("media session started",
		slog.Bool("downloaded", downloaded),
	)
}

// LogBackendsReset logs a reset of both hit backends.
func LogBackendsReset(logger *slog.Logger, trackers int) {
	if logger == nil {
		return
	}
	logger.Info("hit backends reset",
		slog.Int("live_trackers", trackers),
	)
}

// LogSharedState logs an observed shared-state status for an extension.
func LogSharedState(logger *slog.Logger, owner, status string) {
	if logger == nil {
		return
	}
	logger.Debug("shared state observed",
		slog.String("owner", owner),
		slog.String("status", status),
	)
}

// LogCorrelation logs a correlation resolution.
func LogCorrelation(logger *slog.Logger, requestID, outcome string, pending bool) {
	if logger == nil {
		return
	}
	logger.Debug("correlation resolved",
		slog.String("request_id", requestID),
		slog.String("outcome", outcome),
		slog.Bool("was_pending", pending),
	)
}

// LogCorrelationAbandoned logs a request that expired without a response.
func LogCorrelationAbandoned(logger *slog.Logger, requestID, owner string) {
	if logger == nil {
		return
	}
	logger.Warn("correlation abandoned",
		slog.String("request_id", requestID),
		slog.String("owner", owner),
	)
}

// LogHitDropped logs a hit a backend discarded.
func LogHitDropped(logger *slog.Logger, backend, hitType, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("hit dropped",
		slog.String("backend", backend),
		slog.String("hit_type", hitType),
		slog.String("reason", reason),
	)
}

// LogDispatchError logs a failed dispatch (non-fatal).
func LogDispatchError(logger *slog.Logger, backend, sessionKey string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("dispatch failed",
		slog.String("backend", backend),
		slog.String("session_key", sessionKey),
		slog.String("error", err.Error()),
	)
}
