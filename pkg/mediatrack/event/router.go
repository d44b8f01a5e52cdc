package event

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handler processes one classified event. A returned error is reported
// through RouterConfig.OnError and never reaches the host event bus.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// MiddlewareFunc wraps handlers to add cross-cutting concerns.
type MiddlewareFunc func(kind Kind, next Handler) Handler

// ChainMiddleware applies middleware in order, with first middleware outermost.
func ChainMiddleware(kind Kind, handler Handler, middleware ...MiddlewareFunc) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](kind, handler)
	}
	return handler
}

// RouterConfig configures router behavior.
type RouterConfig struct {
	// OnError is called when a handler fails (for logging).
	OnError func(evt Event, kind Kind, err error)

	// OnIgnored is called for events whose kind has no handler.
	OnIgnored func(evt Event)
}

// Router is a static dispatch table from Kind to exactly one Handler.
//
// Handlers are registered once at startup. Route never returns an error
// and never panics when RecoveryMiddleware is installed.
type Router struct {
	config RouterConfig

	mu         sync.RWMutex
	table      map[Kind]Handler
	middleware []MiddlewareFunc
}

// NewRouter creates an empty router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		config: config,
		table:  make(map[Kind]Handler),
	}
}

// Use adds middleware that applies to subsequently registered handlers.
func (r *Router) Use(middleware MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware)
}

// Register binds handler to kind, replacing any previous binding.
// KindUnknown cannot be bound.
func (r *Router) Register(kind Kind, handler Handler) error {
	if kind == KindUnknown {
		return fmt.Errorf("cannot register handler for %s kind", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[kind] = ChainMiddleware(kind, handler, r.middleware...)
	return nil
}

// Route dispatches evt to the handler bound to its kind and reports
// whether one was found.
func (r *Router) Route(ctx context.Context, evt Event) bool {
	kind := evt.Kind()

	r.mu.RLock()
	handler, ok := r.table[kind]
	r.mu.RUnlock()

	if !ok {
		if r.config.OnIgnored != nil {
			r.config.OnIgnored(evt)
		}
		return false
	}

	if err := handler.Handle(ctx, evt); err != nil && r.config.OnError != nil {
		r.config.OnError(evt, kind, err)
	}
	return true
}

// RecoveryMiddleware converts handler panics into errors.
func RecoveryMiddleware() MiddlewareFunc {
	return func(kind Kind, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%s handler panic: %v", kind, rec)
				}
			}()
			return next.Handle(ctx, evt)
		})
	}
}

// LoggingMiddleware reports every handled event with its duration.
func LoggingMiddleware(logFn func(kind Kind, evt Event, duration time.Duration, err error)) MiddlewareFunc {
	return func(kind Kind, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) error {
			start := time.Now()
			err := next.Handle(ctx, evt)
			logFn(kind, evt, time.Since(start), err)
			return err
		})
	}
}
