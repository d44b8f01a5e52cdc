package extension

import (
	"fmt"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/backend"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/config"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/correlation"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/event"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/sharedstate"
)

// NewDefault assembles an extension with the reference backends.
//
// Both backends send through dispatcher, which also receives tracker
// responses. Session responses are matched to real-time requests by a
// correlation registry, and both backends are gated by the aggregator
// the extension fills from shared state.
func NewDefault(settings config.Settings, dispatcher event.Dispatcher, states sharedstate.Querier, opts ...Option) (*Extension, error) {
	e := configure(append([]Option{WithDispatcher(dispatcher)}, opts...))

	common := []backend.Option{
		backend.WithLogger(e.logger),
		backend.WithMetrics(e.metrics),
		backend.WithQueueSize(settings.QueueSize),
	}

	transport := backend.NewDispatchTransport(dispatcher, e.aggregator,
		backend.WithRetry(settings.Retry),
		backend.WithDispatchTimeout(settings.DispatchTimeout),
	)

	registry := correlation.NewRegistry(nil, settings.CorrelationTTL,
		correlation.WithLogger(e.logger),
		correlation.WithMetrics(e.metrics),
	)
	realTime := backend.NewRealTime(transport, registry, e.aggregator, common...)
	registry.SetNotifier(realTime)

	offline, err := backend.OpenOffline(settings.OfflineDBPath, transport, e.aggregator, common...)
	if err != nil {
		_ = realTime.Close()
		return nil, fmt.Errorf("create offline backend: %w", err)
	}

	e.realTime = realTime
	e.offline = offline
	e.states = states
	e.correlations = registry
	e.buildRouter()
	return e, nil
}
