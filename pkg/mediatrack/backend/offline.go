package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
	"github.com/randalmurphal/mediatrack/pkg/mediatrack/observability"
)

// Offline is the backend for downloaded content. Hits are persisted as
// they arrive; a session is sent as a single downloaded batch once it has
// closed and sending is allowed, then deleted.
//
// Offline implements hit.Processor.
type Offline struct {
	store     *HitStore
	transport Transport
	state     StateReader
	opts      options
	worker    *worker
}

// NewOffline creates and starts an offline backend over store. The
// backend owns the store and closes it on Close.
func NewOffline(store *HitStore, transport Transport, state StateReader, opts ...Option) *Offline {
	o := buildOptions(opts)
	return &Offline{
		store:     store,
		transport: transport,
		state:     state,
		opts:      o,
		worker:    newWorker(o.queueSize),
	}
}

// OpenOffline opens the hit store at path and creates an offline backend.
func OpenOffline(path string, transport Transport, state StateReader, opts ...Option) (*Offline, error) {
	store, err := NewHitStore(path)
	if err != nil {
		return nil, fmt.Errorf("open offline store: %w", err)
	}
	return NewOffline(store, transport, state, opts...), nil
}

// Submit queues h for persistence. It never blocks.
func (o *Offline) Submit(h hit.Hit) {
	err := o.worker.push(func() { o.persist(h) }, true)
	if err != nil {
		observability.LogHitDropped(o.opts.logger, NameOffline, string(h.Type), err.Error())
		return
	}
	o.opts.metrics.RecordHit(context.Background(), NameOffline, string(h.Type))
}

// Reset drops queued hits and deletes everything stored.
func (o *Offline) Reset() {
	o.worker.discard()
	_ = o.worker.push(o.deleteAll, false)
}

// NotifyStateChanged deletes everything on opt-out and sends closed
// sessions once sending is allowed.
func (o *Offline) NotifyStateChanged() {
	_ = o.worker.push(func() {
		if o.state.OptedOut() {
			o.deleteAll()
			return
		}
		o.sendClosed()
	}, false)
}

// Flush waits until everything queued before the call has been processed.
func (o *Offline) Flush(ctx context.Context) error {
	return o.worker.flush(ctx)
}

// Close processes queued work, stops the backend and closes the store.
func (o *Offline) Close() error {
	o.worker.close()
	return o.store.Close()
}

func (o *Offline) persist(h hit.Hit) {
	if o.state.OptedOut() {
		observability.LogHitDropped(o.opts.logger, NameOffline, string(h.Type), "privacy opted out")
		return
	}

	if err := o.store.Append(h); err != nil {
		observability.LogHitDropped(o.opts.logger, NameOffline, string(h.Type), err.Error())
		return
	}

	if h.Type.Closes() {
		o.sendClosed()
	}
}

// sendClosed sends every closed session. Sessions that fail to send stay
// stored and are retried on the next close or state change.
func (o *Offline) sendClosed() {
	if !o.state.CanSend() {
		return
	}

	keys, err := o.store.ClosedSessions()
	if err != nil {
		o.opts.logger.Error("list closed sessions failed", slog.String("error", err.Error()))
		return
	}
	for _, key := range keys {
		if err := o.sendSession(key); err != nil {
			observability.LogDispatchError(o.opts.logger, NameOffline, key, err)
		}
	}
}

func (o *Offline) sendSession(key string) error {
	hits, err := o.store.Session(key)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		return nil
	}

	ctx := context.Background()
	start := time.Now()
	_, err = o.transport.Send(ctx, Request{
		SessionKey: key,
		Hits:       hits,
		Downloaded: true,
	})
	o.opts.metrics.RecordDispatch(ctx, NameOffline, time.Since(start), err)
	if err != nil {
		return err
	}
	return o.store.DeleteSession(key)
}

func (o *Offline) deleteAll() {
	if err := o.store.DeleteAll(); err != nil {
		o.opts.logger.Error("delete stored hits failed", slog.String("error", err.Error()))
	}
}
