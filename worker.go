package synthpub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Sink accepts one produced unit. The unit must not be retained after return.
type Sink[T any] func(unit T) error

// Generator produces the units delivered by a CaptureWorker.
//
// Open is called by Start on the caller's goroutine and allocates per-run
// buffers; Next and Close run on the worker goroutine. Close is called exactly
// once per successful Open, after the last Next.
type Generator[T any] interface {
	Open() error
	Next() T
	Close()
}

// workerRun is the state of one Start/Stop cycle. The stop flag belongs to
// the run so a late Stop of an earlier run cannot end a newer one.
type workerRun struct {
	stop          chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	stopRequested atomic.Bool
}

// CaptureWorker owns one goroutine that produces units from a Generator and
// hands them to a Sink at a fixed interval until stopped.
type CaptureWorker[T any] struct {
	name     string
	gen      Generator[T]
	interval time.Duration
	log      *logrus.Entry

	run     atomic.Pointer[workerRun]
	running atomic.Bool

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewCaptureWorker creates a stopped worker producing one unit per interval.
func NewCaptureWorker[T any](name string, gen Generator[T], interval time.Duration) *CaptureWorker[T] {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &CaptureWorker[T]{
		name:     name,
		gen:      gen,
		interval: interval,
		log:      NewComponentLogger(name),
	}
}

// Start launches the worker goroutine delivering to sink.
// It returns ErrAlreadyRunning if a previous Start has not been stopped.
func (w *CaptureWorker[T]) Start(sink Sink[T]) error {
	r := &workerRun{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if !w.run.CompareAndSwap(nil, r) {
		return ErrAlreadyRunning
	}

	if err := w.gen.Open(); err != nil {
		w.run.Store(nil)
		return wrapKind(ErrInitialization, err)
	}

	go w.loop(r, sink)

	w.log.WithField("interval", w.interval).Debug("capture worker started")
	return nil
}

// Stop requests the worker to exit and waits until it has. No sink call
// happens after Stop returns. Stopping a stopped worker is a no-op.
//
// Stop must not be called from the sink: it would wait for itself.
func (w *CaptureWorker[T]) Stop() {
	r := w.run.Load()
	if r == nil {
		return
	}
	w.stopRun(r)
}

// stopRun stops run r and unregisters it if it is still the current run.
func (w *CaptureWorker[T]) stopRun(r *workerRun) {
	r.stopRequested.Store(true)
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	if w.run.CompareAndSwap(r, nil) {
		w.log.WithFields(logrus.Fields{
			"delivered": w.delivered.Load(),
			"failed":    w.failed.Load(),
		}).Debug("capture worker stopped")
	}
}

// Running reports whether the worker goroutine is executing its loop.
func (w *CaptureWorker[T]) Running() bool {
	return w.running.Load()
}

// Active reports whether the worker has been started and not yet stopped.
func (w *CaptureWorker[T]) Active() bool {
	return w.run.Load() != nil
}

// Delivered returns the number of units accepted by the sink.
func (w *CaptureWorker[T]) Delivered() uint64 {
	return w.delivered.Load()
}

// Failed returns the number of units the sink rejected.
func (w *CaptureWorker[T]) Failed() uint64 {
	return w.failed.Load()
}

func (w *CaptureWorker[T]) loop(r *workerRun, sink Sink[T]) {
	defer close(r.done)
	defer w.gen.Close()

	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for !r.stopRequested.Load() {
		unit := w.gen.Next()
		if err := sink(unit); err != nil {
			w.failed.Inc()
			w.log.WithError(wrapKind(ErrDeliveryFailure, err)).Warn("unable to deliver unit")
		} else {
			w.delivered.Inc()
		}

		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
	}
}
