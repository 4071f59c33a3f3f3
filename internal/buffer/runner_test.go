package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/szibis/sensu-relay/internal/logging"
	"github.com/szibis/sensu-relay/internal/metric"
	"go.uber.org/goleak"
)

func newTestRunner(t *testing.T, cfg Config, tr Transport, interval time.Duration, opts ...RunnerOption) (*Runner, *Dispatcher) {
	t.Helper()
	d := newTestDispatcher(t, cfg, tr)
	opts = append([]RunnerOption{WithRunnerLogger(logging.Nop())}, opts...)
	return NewRunner(d, interval, 16, opts...), d
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunner_ProcessesSubmittedMetrics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := &mockTransport{}
	r, _ := newTestRunner(t, Config{BatchSize: 2, MaxBacklogMultiplier: 5, TrimBacklogMultiplier: 4}, tr, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)

	for i := 1; i <= 4; i++ {
		if err := r.Submit(context.Background(), m(i)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	waitFor(t, func() bool {
		_, transmits, _ := tr.counts()
		return transmits == 2
	})

	cancel()
	r.Wait()
}

func TestRunner_PeriodicFlush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := &mockTransport{}
	r, _ := newTestRunner(t, Config{BatchSize: 100, MaxBacklogMultiplier: 5, TrimBacklogMultiplier: 4}, tr, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)

	if err := r.Submit(context.Background(), m(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, func() bool {
		_, transmits, _ := tr.counts()
		return transmits >= 1
	})

	cancel()
	r.Wait()
}

func TestRunner_RequestFlush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := &mockTransport{}
	r, _ := newTestRunner(t, Config{BatchSize: 100, MaxBacklogMultiplier: 5, TrimBacklogMultiplier: 4}, tr, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)

	_ = r.Submit(context.Background(), m(1))
	_ = r.Submit(context.Background(), m(2))

	// The worker may see a request before the queued metrics, so keep
	// asking; pending requests are coalesced.
	waitFor(t, func() bool {
		r.RequestFlush()
		_, transmits, _ := tr.counts()
		return transmits >= 1
	})

	tr.mu.Lock()
	payload := tr.payloads[0]
	tr.mu.Unlock()
	if payload != "e1\ne2\n" && payload != "e1\n" {
		t.Errorf("unexpected payload %q", payload)
	}

	cancel()
	r.Wait()
}

func TestRunner_ShutdownFlushesAndCloses(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := &mockTransport{}
	r, d := newTestRunner(t, Config{BatchSize: 100, MaxBacklogMultiplier: 5, TrimBacklogMultiplier: 4}, tr, 0)

	// Queue before the worker starts; shutdown must still process them.
	for i := 1; i <= 3; i++ {
		if err := r.Submit(context.Background(), m(i)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Start(ctx)

	tr.mu.Lock()
	payloads := append([]string(nil), tr.payloads...)
	tr.mu.Unlock()
	if len(payloads) != 1 || payloads[0] != "e1\ne2\ne3\n" {
		t.Errorf("expected final flush of queued metrics, got %q", payloads)
	}
	if _, _, closes := tr.counts(); closes != 1 {
		t.Errorf("expected transport closed on shutdown, got %d", closes)
	}
	if d.Len() != 0 {
		t.Errorf("backlog should be discarded, Len() = %d", d.Len())
	}

	select {
	case <-r.Done():
	default:
		t.Fatal("Done should be closed after Start returns")
	}
}

func TestRunner_ShutdownDiscardsUndeliverable(t *testing.T) {
	tr := &mockTransport{refuse: true}
	r, d := newTestRunner(t, Config{BatchSize: 100, MaxBacklogMultiplier: 5, TrimBacklogMultiplier: 4}, tr, 0)

	_ = r.Submit(context.Background(), m(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Start(ctx)

	if d.Len() != 0 {
		t.Errorf("expected backlog discarded, Len() = %d", d.Len())
	}
}

func TestRunner_SubmitAfterStop(t *testing.T) {
	tr := &mockTransport{}
	r, _ := newTestRunner(t, Config{BatchSize: 1, MaxBacklogMultiplier: 5, TrimBacklogMultiplier: 4}, tr, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Start(ctx)

	if err := r.Submit(context.Background(), m(1)); !errors.Is(err, ErrRunnerStopped) {
		t.Fatalf("expected ErrRunnerStopped, got %v", err)
	}
}

func TestRunner_SubmitHonoursContext(t *testing.T) {
	tr := &mockTransport{}
	d := newTestDispatcher(t, Config{BatchSize: 1, MaxBacklogMultiplier: 5, TrimBacklogMultiplier: 4}, tr)
	r := NewRunner(d, 0, 0, WithRunnerLogger(logging.Nop()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Nobody is reading and the queue is unbuffered.
	if err := r.Submit(ctx, m(1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRunner_Observer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var (
		mu   sync.Mutex
		seen []string
	)
	tr := &mockTransport{}
	r, _ := newTestRunner(t, Config{BatchSize: 10, MaxBacklogMultiplier: 5, TrimBacklogMultiplier: 4}, tr, 0,
		WithObserver(func(mt metric.Metric) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, mt.Name)
		}))

	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)

	_ = r.Submit(context.Background(), m(1))
	_ = r.Submit(context.Background(), m(2))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})

	cancel()
	r.Wait()

	if seen[0] != "e1" || seen[1] != "e2" {
		t.Errorf("observer saw %v", seen)
	}
}
