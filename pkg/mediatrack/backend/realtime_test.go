package backend_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/backend"
	mterrors "github.com/randalmurphal/mediatrack/pkg/mediatrack/errors"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
)

func newRealTime(t *testing.T, transport backend.Transport, state backend.StateReader, opts ...backend.Option) (*backend.RealTime, *fakeExpecter) {
	t.Helper()
	exp := &fakeExpecter{}
	rt := backend.NewRealTime(transport, exp, state, opts...)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, exp
}

func hitTypes(reqs []backend.Request) []hit.Type {
	var types []hit.Type
	for _, r := range reqs {
		for _, h := range r.Hits {
			types = append(types, h.Type)
		}
	}
	return types
}

func TestRealTime_HoldsHitsUntilSessionID(t *testing.T) {
	tr := &fakeTransport{}
	rt, exp := newRealTime(t, tr, sendingState())

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	rt.Submit(newHit(hit.TypePlay, "s1"))
	rt.Submit(newHit(hit.TypePauseStart, "s1"))
	flush(t, rt)

	require.Len(t, tr.sent(), 1)
	assert.Equal(t, []string{"req-1"}, exp.expected())
	assert.Empty(t, tr.sent()[0].BackendSessionID)

	rt.NotifyBackendSessionID("req-1", strPtr("abc"))
	flush(t, rt)

	sent := tr.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, []hit.Type{hit.TypeSessionStart, hit.TypePlay, hit.TypePauseStart}, hitTypes(sent))
	assert.Equal(t, "abc", sent[1].BackendSessionID)
	assert.Equal(t, "abc", sent[2].BackendSessionID)

	// Once active, hits go out immediately.
	rt.Submit(newHit(hit.TypePlay, "s1"))
	flush(t, rt)
	assert.Len(t, tr.sent(), 4)
}

func TestRealTime_MissingSessionIDAbortsSession(t *testing.T) {
	tests := []struct {
		name      string
		sessionID *string
	}{
		{"nil", nil},
		{"empty", strPtr("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{}
			rt, _ := newRealTime(t, tr, sendingState())

			rt.Submit(newHit(hit.TypeSessionStart, "s1"))
			rt.Submit(newHit(hit.TypePlay, "s1"))
			rt.NotifyBackendSessionID("req-1", tt.sessionID)
			rt.Submit(newHit(hit.TypePauseStart, "s1"))
			flush(t, rt)

			assert.Equal(t, []hit.Type{hit.TypeSessionStart}, hitTypes(tr.sent()))
			assert.Equal(t, 1, rt.SessionCount(), "aborted session kept until it closes")

			rt.Submit(newHit(hit.TypeSessionComplete, "s1"))
			flush(t, rt)
			assert.Equal(t, 0, rt.SessionCount())
			assert.Len(t, tr.sent(), 1)
		})
	}
}

func TestRealTime_ErrorResponseAbortsStartingSession(t *testing.T) {
	tr := &fakeTransport{}
	rt, _ := newRealTime(t, tr, sendingState())

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	rt.Submit(newHit(hit.TypePlay, "s1"))
	rt.NotifyErrorResponse("req-1", map[string]any{"errors": []any{"bad request"}})
	rt.NotifyBackendSessionID("req-1", strPtr("late"))
	rt.Submit(newHit(hit.TypePauseStart, "s1"))
	flush(t, rt)

	assert.Equal(t, []hit.Type{hit.TypeSessionStart}, hitTypes(tr.sent()))
}

func TestRealTime_ErrorResponseLogsEdgeStatus(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	rt, _ := newRealTime(t, &fakeTransport{}, sendingState(), backend.WithLogger(logger))

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	rt.NotifyErrorResponse("req-1", map[string]any{
		"status": float64(400),
		"type":   "https://ns.example.com/errors/edge-0400",
		"title":  "Invalid request",
	})
	flush(t, rt)

	assert.Contains(t, logs.String(), "dispatch failed")
	assert.Contains(t, logs.String(), "status 400 (https://ns.example.com/errors/edge-0400): Invalid request")
}

func TestEdgeError(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    mterrors.StatusError
	}{
		{
			name:    "full payload",
			payload: map[string]any{"status": 503, "type": "edge-0503", "title": "Unavailable"},
			want:    mterrors.StatusError{StatusCode: 503, Type: "edge-0503", Title: "Unavailable"},
		},
		{
			name:    "json number status",
			payload: map[string]any{"status": float64(429), "title": "Slow down"},
			want:    mterrors.StatusError{StatusCode: 429, Title: "Slow down"},
		},
		{
			name:    "error list only",
			payload: map[string]any{"errors": []any{"bad request"}},
			want:    mterrors.StatusError{Title: "[bad request]"},
		},
		{
			name:    "empty",
			payload: map[string]any{},
			want:    mterrors.StatusError{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, &tt.want, backend.EdgeError(tt.payload))
		})
	}
}

func TestRealTime_UnknownRequestIgnored(t *testing.T) {
	tr := &fakeTransport{}
	rt, _ := newRealTime(t, tr, sendingState())

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	rt.NotifyBackendSessionID("someone-else", strPtr("abc"))
	rt.NotifyErrorResponse("someone-else", map[string]any{})
	rt.Submit(newHit(hit.TypePlay, "s1"))
	flush(t, rt)

	assert.Len(t, tr.sent(), 1, "play still held for req-1")
}

func TestRealTime_SessionCloseForgetsSession(t *testing.T) {
	tr := &fakeTransport{}
	rt, _ := newRealTime(t, tr, sendingState())

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	rt.NotifyBackendSessionID("req-1", strPtr("abc"))
	rt.Submit(newHit(hit.TypeSessionEnd, "s1"))
	rt.Submit(newHit(hit.TypePlay, "s1"))
	flush(t, rt)

	assert.Equal(t, []hit.Type{hit.TypeSessionStart, hit.TypeSessionEnd}, hitTypes(tr.sent()))
	assert.Equal(t, 0, rt.SessionCount())
}

func TestRealTime_HitsWithoutSessionStartDropped(t *testing.T) {
	tr := &fakeTransport{}
	rt, _ := newRealTime(t, tr, sendingState())

	rt.Submit(newHit(hit.TypePlay, "orphan"))
	flush(t, rt)

	assert.Empty(t, tr.sent())
	assert.Equal(t, 0, rt.SessionCount())
}

func TestRealTime_WaitsForConfiguration(t *testing.T) {
	tr := &fakeTransport{}
	state := &fakeState{}
	rt, _ := newRealTime(t, tr, state)

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	rt.Submit(newHit(hit.TypePlay, "s1"))
	flush(t, rt)
	assert.Empty(t, tr.sent())

	state.canSend.Store(true)
	rt.NotifyStateChanged()
	rt.NotifyBackendSessionID("req-1", strPtr("abc"))
	flush(t, rt)

	assert.Equal(t, []hit.Type{hit.TypeSessionStart, hit.TypePlay}, hitTypes(tr.sent()))
}

func TestRealTime_OptOutDropsEverything(t *testing.T) {
	tr := &fakeTransport{}
	state := &fakeState{}
	rt, _ := newRealTime(t, tr, state)

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	flush(t, rt)
	require.Equal(t, 1, rt.SessionCount())

	state.optedOut.Store(true)
	rt.NotifyStateChanged()
	rt.Submit(newHit(hit.TypeSessionStart, "s2"))
	flush(t, rt)
	assert.Equal(t, 0, rt.SessionCount())

	state.optedOut.Store(false)
	state.canSend.Store(true)
	rt.NotifyStateChanged()
	flush(t, rt)
	assert.Empty(t, tr.sent())
}

func TestRealTime_ResetForgetsSessions(t *testing.T) {
	tr := &fakeTransport{}
	rt, _ := newRealTime(t, tr, sendingState())

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	flush(t, rt)
	rt.Reset()
	rt.NotifyBackendSessionID("req-1", strPtr("abc"))
	rt.Submit(newHit(hit.TypePlay, "s1"))
	flush(t, rt)

	assert.Len(t, tr.sent(), 1)
	assert.Equal(t, 0, rt.SessionCount())
}

func TestRealTime_StartFailureAbortsSession(t *testing.T) {
	tr := &fakeTransport{}
	tr.fail(errors.New("network down"))
	rt, exp := newRealTime(t, tr, sendingState())

	rt.Submit(newHit(hit.TypeSessionStart, "s1"))
	rt.Submit(newHit(hit.TypePlay, "s1"))
	flush(t, rt)

	assert.Empty(t, exp.expected())
	tr.fail(nil)
	rt.Submit(newHit(hit.TypePlay, "s1"))
	flush(t, rt)
	assert.Empty(t, tr.sent())
}

func TestRealTime_QueueFull(t *testing.T) {
	tr := &fakeTransport{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	rt, _ := newRealTime(t, tr, sendingState(), backend.WithQueueSize(2))

	// The first hit is taken by the worker, which blocks in Send.
	require.NoError(t, rt.TrySubmit(newHit(hit.TypeSessionStart, "s1")))
	select {
	case <-tr.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the transport")
	}

	require.NoError(t, rt.TrySubmit(newHit(hit.TypePlay, "s1")))
	require.NoError(t, rt.TrySubmit(newHit(hit.TypePlay, "s1")))

	assert.ErrorIs(t, rt.TrySubmit(newHit(hit.TypePlay, "s1")), backend.ErrQueueFull)
	assert.NotPanics(t, func() { rt.Submit(newHit(hit.TypePlay, "s1")) })

	close(tr.gate)
	flush(t, rt)
}

func TestRealTime_Closed(t *testing.T) {
	rt := backend.NewRealTime(&fakeTransport{}, nil, sendingState())
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	assert.ErrorIs(t, rt.TrySubmit(newHit(hit.TypeSessionStart, "s1")), backend.ErrClosed)
	assert.NotPanics(t, func() {
		rt.Submit(newHit(hit.TypeSessionStart, "s1"))
		rt.Reset()
		rt.NotifyStateChanged()
	})
}
