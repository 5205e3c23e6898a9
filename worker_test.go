package synthpub

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type countingGenerator struct {
	opens   atomic.Int32
	closes  atomic.Int32
	next    atomic.Int64
	openErr error
}

func (g *countingGenerator) Open() error {
	g.opens.Inc()
	return g.openErr
}

func (g *countingGenerator) Next() int64 { return g.next.Inc() }

func (g *countingGenerator) Close() { g.closes.Inc() }

// recordingSink records when each unit arrived.
type recordingSink struct {
	mu    sync.Mutex
	units []int64
	times []time.Time
	err   error
}

func (s *recordingSink) deliver(unit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = append(s.units, unit)
	s.times = append(s.times, time.Now())
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

func (s *recordingSink) lastTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.times) == 0 {
		return time.Time{}
	}
	return s.times[len(s.times)-1]
}

func useTestLogger(t *testing.T) *test.Hook {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	SetLogger(logger)
	t.Cleanup(func() { SetLogger(nil) })
	return hook
}

func TestCaptureWorker_StartStop(t *testing.T) {
	useTestLogger(t)
	gen := &countingGenerator{}
	w := NewCaptureWorker[int64]("test", gen, time.Millisecond)
	sink := &recordingSink{}

	require.NoError(t, w.Start(sink.deliver))
	assert.True(t, w.Active())

	require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, time.Millisecond)

	w.Stop()
	stoppedAt := time.Now()
	assert.False(t, w.Active())
	assert.False(t, w.Running())

	n := sink.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sink.count(), "sink invoked after Stop returned")
	assert.False(t, sink.lastTime().After(stoppedAt))

	assert.Equal(t, uint64(n), w.Delivered())
	assert.Equal(t, int32(1), gen.opens.Load())
	assert.Equal(t, int32(1), gen.closes.Load())
}

func TestCaptureWorker_UnitsInOrder(t *testing.T) {
	useTestLogger(t)
	w := NewCaptureWorker[int64]("test", &countingGenerator{}, time.Millisecond)
	sink := &recordingSink{}

	require.NoError(t, w.Start(sink.deliver))
	require.Eventually(t, func() bool { return sink.count() >= 5 }, 2*time.Second, time.Millisecond)
	w.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, u := range sink.units {
		require.Equal(t, int64(i+1), u)
	}
}

func TestCaptureWorker_AlreadyRunning(t *testing.T) {
	useTestLogger(t)
	gen := &countingGenerator{}
	w := NewCaptureWorker[int64]("test", gen, time.Millisecond)
	sink := &recordingSink{}

	require.NoError(t, w.Start(sink.deliver))
	defer w.Stop()

	err := w.Start(sink.deliver)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Equal(t, KindLifecycle, KindOf(err))
	assert.Equal(t, int32(1), gen.opens.Load(), "second Start opened the generator")

	// Every unit is delivered once: a second goroutine would duplicate indices
	require.Eventually(t, func() bool { return sink.count() >= 5 }, 2*time.Second, time.Millisecond)
	w.Stop()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	seen := make(map[int64]bool)
	for _, u := range sink.units {
		require.False(t, seen[u], "unit %d delivered twice", u)
		seen[u] = true
	}
}

func TestCaptureWorker_ImmediateStop(t *testing.T) {
	useTestLogger(t)
	gen := &countingGenerator{}
	w := NewCaptureWorker[int64]("test", gen, time.Hour)
	sink := &recordingSink{}

	require.NoError(t, w.Start(sink.deliver))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	// The first unit may already be out; no second one within the hour
	assert.LessOrEqual(t, sink.count(), 1)
	assert.Equal(t, uint64(sink.count()), w.Delivered())
	assert.Equal(t, int32(1), gen.closes.Load())
}

func TestCaptureWorker_FirstUnitWithoutWaiting(t *testing.T) {
	useTestLogger(t)
	w := NewCaptureWorker[int64]("test", &countingGenerator{}, time.Hour)
	sink := &recordingSink{}

	require.NoError(t, w.Start(sink.deliver))
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, time.Millisecond)
	w.Stop()
	assert.Equal(t, 1, sink.count())
}

func TestCaptureWorker_StaleStopKeepsNewRun(t *testing.T) {
	useTestLogger(t)
	w := NewCaptureWorker[int64]("test", &countingGenerator{}, time.Millisecond)

	require.NoError(t, w.Start((&recordingSink{}).deliver))
	stale := w.run.Load()
	require.NotNil(t, stale)

	// Another caller stops the run and the worker is restarted before the
	// first caller finishes stopping the old run.
	w.Stop()
	sink := &recordingSink{}
	require.NoError(t, w.Start(sink.deliver))
	w.stopRun(stale)

	assert.True(t, w.Active())
	require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, time.Millisecond)
	assert.True(t, w.Running())
	assert.True(t, errors.Is(w.Start(sink.deliver), ErrAlreadyRunning))

	w.Stop()
	assert.False(t, w.Active())
}

func TestCaptureWorker_StopIdempotent(t *testing.T) {
	useTestLogger(t)
	w := NewCaptureWorker[int64]("test", &countingGenerator{}, time.Millisecond)

	// Never started
	w.Stop()

	require.NoError(t, w.Start((&recordingSink{}).deliver))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
	}
	wg.Wait()
	w.Stop()

	assert.False(t, w.Active())
}

func TestCaptureWorker_Restart(t *testing.T) {
	useTestLogger(t)
	gen := &countingGenerator{}
	w := NewCaptureWorker[int64]("test", gen, time.Millisecond)

	for i := 0; i < 3; i++ {
		sink := &recordingSink{}
		require.NoError(t, w.Start(sink.deliver))
		require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, time.Millisecond)
		w.Stop()
	}
	assert.Equal(t, int32(3), gen.opens.Load())
	assert.Equal(t, int32(3), gen.closes.Load())
}

func TestCaptureWorker_DeliveryFailureContinues(t *testing.T) {
	hook := useTestLogger(t)
	w := NewCaptureWorker[int64]("test", &countingGenerator{}, time.Millisecond)
	sink := &recordingSink{err: errors.New("rejected")}

	require.NoError(t, w.Start(sink.deliver))
	require.Eventually(t, func() bool { return w.Failed() >= 3 }, 2*time.Second, time.Millisecond)
	w.Stop()

	assert.Zero(t, w.Delivered())
	assert.Equal(t, uint64(sink.count()), w.Failed())

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level != logrus.WarnLevel {
			continue
		}
		err, ok := e.Data[logrus.ErrorKey].(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrDeliveryFailure))
		assert.Equal(t, KindDelivery, KindOf(err))
		assert.Contains(t, err.Error(), "rejected")
		warned = true
	}
	assert.True(t, warned, "delivery failure not logged")
}

func TestCaptureWorker_OpenFailure(t *testing.T) {
	useTestLogger(t)
	gen := &countingGenerator{openErr: errors.New("no buffer")}
	w := NewCaptureWorker[int64]("test", gen, time.Millisecond)

	err := w.Start((&recordingSink{}).deliver)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInitialization))
	assert.False(t, w.Active())

	// A failed Start leaves the worker startable
	gen.openErr = nil
	require.NoError(t, w.Start((&recordingSink{}).deliver))
	w.Stop()
}
