package buffer

import (
	"context"
	"errors"
	"time"

	"github.com/szibis/sensu-relay/internal/logging"
	"github.com/szibis/sensu-relay/internal/metric"
)

// ErrRunnerStopped is returned by Submit after the runner has shut down.
var ErrRunnerStopped = errors.New("runner stopped")

// RunnerOption is a functional option for Runner.
type RunnerOption func(*Runner)

// WithObserver registers a callback invoked for every metric before it is
// processed (e.g. for stats). It runs on the runner goroutine.
func WithObserver(fn func(metric.Metric)) RunnerOption {
	return func(r *Runner) { r.observer = fn }
}

// WithRunnerLogger sets the logger used for runner events.
func WithRunnerLogger(l logging.FieldLogger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// Runner is the single owner of a Dispatcher. Producers hand it metrics from
// any goroutine; Start processes them one at a time and also flushes on a
// timer and on request.
type Runner struct {
	dispatcher    *Dispatcher
	flushInterval time.Duration
	in            chan metric.Metric
	flushChan     chan struct{}
	doneChan      chan struct{}
	observer      func(metric.Metric)
	log           logging.FieldLogger
}

// NewRunner creates a Runner. flushInterval <= 0 disables periodic flushing;
// queueSize is the number of metrics that may wait for the worker.
func NewRunner(d *Dispatcher, flushInterval time.Duration, queueSize int, opts ...RunnerOption) *Runner {
	if queueSize < 0 {
		queueSize = 0
	}
	r := &Runner{
		dispatcher:    d,
		flushInterval: flushInterval,
		in:            make(chan metric.Metric, queueSize),
		flushChan:     make(chan struct{}, 1),
		doneChan:      make(chan struct{}),
		log:           logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit queues m for processing. It blocks only until the worker accepts the
// metric, ctx is done, or the runner has stopped.
func (r *Runner) Submit(ctx context.Context, m metric.Metric) error {
	select {
	case <-r.doneChan:
		return ErrRunnerStopped
	default:
	}

	select {
	case r.in <- m:
		submittedTotal.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.doneChan:
		return ErrRunnerStopped
	}
}

// RequestFlush asks the worker to flush. It never blocks; requests made while
// one is already pending are coalesced.
func (r *Runner) RequestFlush() {
	select {
	case r.flushChan <- struct{}{}:
	default:
	}
}

// Start runs the worker loop until ctx is canceled. On shutdown it processes
// metrics already queued, makes a final flush attempt and closes the
// dispatcher. Whatever could not be delivered is discarded.
func (r *Runner) Start(ctx context.Context) {
	var tick <-chan time.Time
	if r.flushInterval > 0 {
		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case m := <-r.in:
			r.process(ctx, m)
		case <-tick:
			r.flush(ctx, "interval")
		case <-r.flushChan:
			r.flush(ctx, "request")
		}
	}
}

func (r *Runner) shutdown() {
	ctx := context.Background()

drain:
	for {
		select {
		case m := <-r.in:
			r.process(ctx, m)
		default:
			break drain
		}
	}

	r.flush(ctx, "shutdown")
	if err := r.dispatcher.Close(); err != nil {
		r.log.Warn("error closing collector connection", logging.F("error", err.Error()))
	}
	close(r.doneChan)
}

func (r *Runner) process(ctx context.Context, m metric.Metric) {
	if r.observer != nil {
		r.observer(m)
	}
	if err := r.dispatcher.Process(ctx, m); err != nil {
		r.log.Warn("metric processing failed", logging.F(
			"name", m.Name,
			"error", err.Error(),
		))
	}
}

func (r *Runner) flush(ctx context.Context, trigger string) {
	if err := r.dispatcher.Flush(ctx); err != nil {
		r.log.Warn("flush failed", logging.F(
			"trigger", trigger,
			"error", err.Error(),
		))
	}
}

// Done is closed once Start has finished shutting down.
func (r *Runner) Done() <-chan struct{} {
	return r.doneChan
}

// Wait blocks until Start has finished shutting down.
func (r *Runner) Wait() {
	<-r.doneChan
}
