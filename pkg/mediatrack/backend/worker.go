package backend

import (
	"context"
	"sync"
)

type job struct {
	run func()

	// hit jobs count against the queue limit and are dropped by discard.
	hit bool
}

// worker runs jobs one at a time, in submission order, on its own goroutine.
type worker struct {
	limit int

	mu     sync.Mutex
	jobs   []job
	hits   int
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newWorker(limit int) *worker {
	w := &worker{
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) push(run func(), isHit bool) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if isHit && w.limit > 0 && w.hits >= w.limit {
		w.mu.Unlock()
		return ErrQueueFull
	}
	w.jobs = append(w.jobs, job{run: run, hit: isHit})
	if isHit {
		w.hits++
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// discard drops every queued hit job. Control jobs stay queued.
func (w *worker) discard() {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.jobs[:0]
	for _, j := range w.jobs {
		if !j.hit {
			kept = append(kept, j)
		}
	}
	clear(w.jobs[len(kept):])
	w.jobs = kept
	w.hits = 0
}

func (w *worker) next() (job, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.jobs) == 0 {
		return job{}, false, w.closed
	}
	j := w.jobs[0]
	w.jobs[0] = job{}
	w.jobs = w.jobs[1:]
	if j.hit {
		w.hits--
	}
	return j, true, false
}

func (w *worker) loop() {
	defer close(w.done)
	for {
		j, ok, closed := w.next()
		if ok {
			j.run()
			continue
		}
		if closed {
			return
		}
		<-w.wake
	}
}

// flush waits until every job queued before the call has run.
func (w *worker) flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := w.push(func() { close(barrier) }, false); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs, runs what is queued and waits for the
// goroutine to exit. It is safe to call more than once.
func (w *worker) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	w.mu.Unlock()
	<-w.done
}
