// Package backend provides the reference hit-processing backends.
//
// RealTime sends hits of live content as they happen and waits for the
// collection server to assign a session id before sending anything past
// sessionStart. Offline stores hits of downloaded content in SQLite and
// sends each session as one batch once it has closed.
//
// Both backends do their work on a single goroutine. Submit, Reset and
// NotifyStateChanged only enqueue and never block on I/O.
package backend

import (
	"context"
	"errors"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
)

// Sentinel errors.
var (
	// ErrClosed is returned when work is submitted to a closed backend.
	ErrClosed = errors.New("backend closed")

	// ErrQueueFull is returned when the hit queue is at capacity.
	ErrQueueFull = errors.New("hit queue full")
)

// Backend names used in logs and metrics.
const (
	NameRealTime = "realtime"
	NameOffline  = "offline"
)

// Request is one outbound collection request.
type Request struct {
	// SessionKey is the local session the hits belong to.
	SessionKey string

	// BackendSessionID is the id assigned by the collection server.
	// It is empty for the request that starts a session.
	BackendSessionID string

	Hits []hit.Hit

	// Downloaded marks a batch of downloaded content.
	Downloaded bool
}

// Transport sends requests to the collection server. The returned
// request id correlates later asynchronous responses.
type Transport interface {
	Send(ctx context.Context, req Request) (requestID string, err error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (string, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Expecter records outbound requests whose responses must be correlated.
// It is implemented by correlation.Registry.
type Expecter interface {
	Expect(requestID, owner string)
}

// StateReader exposes the shared state that gates sending.
// It is implemented by sharedstate.Aggregator.
type StateReader interface {
	CanSend() bool
	OptedOut() bool
}
