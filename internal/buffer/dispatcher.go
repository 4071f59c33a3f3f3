package buffer

import (
	"context"
	"errors"
	"fmt"

	"github.com/szibis/sensu-relay/internal/logging"
	"github.com/szibis/sensu-relay/internal/metric"
	"github.com/szibis/sensu-relay/internal/pipeline"
)

// Transport is the connection the dispatcher delivers batches over.
// *exporter.Conn implements it.
type Transport interface {
	// Connect opens a socket; failures leave Connected false.
	Connect(ctx context.Context)
	Connected() bool
	// Transmit writes the payload, retrying once on a fresh socket.
	Transmit(ctx context.Context, payload []byte) error
	Close() error
}

// Config holds batching and backlog limits.
type Config struct {
	// BatchSize is the backlog length that triggers a flush.
	BatchSize int
	// MaxBacklogMultiplier times BatchSize is the length at which the
	// backlog gets trimmed.
	MaxBacklogMultiplier int
	// TrimBacklogMultiplier times BatchSize is the length kept after trimming.
	TrimBacklogMultiplier int
}

// Validate checks the batching limits.
func (c Config) Validate() error {
	var errs []error
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize))
	}
	if c.MaxBacklogMultiplier < 1 {
		errs = append(errs, fmt.Errorf("max backlog multiplier must be >= 1, got %d", c.MaxBacklogMultiplier))
	}
	if c.TrimBacklogMultiplier < 1 {
		errs = append(errs, fmt.Errorf("trim backlog multiplier must be >= 1, got %d", c.TrimBacklogMultiplier))
	}
	if c.TrimBacklogMultiplier >= c.MaxBacklogMultiplier {
		errs = append(errs, fmt.Errorf("trim backlog multiplier (%d) must be less than max backlog multiplier (%d)",
			c.TrimBacklogMultiplier, c.MaxBacklogMultiplier))
	}
	return errors.Join(errs...)
}

// MaxBacklog is the backlog length at which trimming fires.
func (c Config) MaxBacklog() int {
	return c.BatchSize * c.MaxBacklogMultiplier
}

// TrimTarget is the backlog length left after trimming.
func (c Config) TrimTarget() int {
	return c.BatchSize * c.TrimBacklogMultiplier
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used for flush and trim events.
func WithLogger(l logging.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher owns the backlog and decides when to hand it to the transport.
// It is not safe for concurrent use; see Runner.
type Dispatcher struct {
	cfg       Config
	backlog   *Backlog
	transport Transport
	encoder   metric.Encoder
	log       logging.FieldLogger
}

// NewDispatcher validates cfg and builds a dispatcher. No socket activity
// happens here.
func NewDispatcher(cfg Config, transport Transport, enc metric.Encoder, opts ...DispatcherOption) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batching config: %w", err)
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if enc == nil {
		enc = metric.JSONLineEncoder{}
	}

	d := &Dispatcher{
		cfg:       cfg,
		backlog:   NewBacklog(cfg.MaxBacklog()),
		transport: transport,
		encoder:   enc,
		log:       logging.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Len returns the backlog length.
func (d *Dispatcher) Len() int {
	return d.backlog.Len()
}

// Backlog exposes the backlog for inspection.
func (d *Dispatcher) Backlog() *Backlog {
	return d.backlog
}

// Process encodes m, queues it and flushes once the batch size is reached.
// The returned error comes from encoding or from a flush whose retry failed;
// in the latter case m is still queued.
func (d *Dispatcher) Process(ctx context.Context, m metric.Metric) error {
	done := pipeline.Track(pipeline.Encode)
	entry, err := d.encoder.Encode(m)
	done()
	if err != nil {
		encodeErrorsTotal.Inc()
		return fmt.Errorf("encode metric %q: %w", m.Name, err)
	}
	pipeline.RecordBytes(pipeline.Encode, len(entry))

	d.backlog.Append(entry)
	d.updateGauges()

	if d.backlog.Len() >= d.cfg.BatchSize {
		return d.Flush(ctx)
	}
	return nil
}

// Flush tries to deliver the whole backlog in one payload.
//
// Without a connection the backlog is kept and nil is returned. A transmit
// failure closes the connection and is returned. Whatever the outcome, a
// backlog at or above MaxBacklog is then trimmed to TrimTarget, oldest first.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if d.backlog.Len() == 0 {
		return nil
	}
	defer d.enforceLimit()

	if !d.transport.Connected() {
		d.log.Debug("socket is not connected, reconnecting")
		d.transport.Connect(ctx)
	}
	if !d.transport.Connected() {
		flushTotal.WithLabelValues("no_connection").Inc()
		d.log.Debug("reconnect failed, keeping backlog", logging.F("backlog", d.backlog.Len()))
		return nil
	}

	n := d.backlog.Len()
	if err := d.transport.Transmit(ctx, d.backlog.Payload()); err != nil {
		_ = d.transport.Close()
		flushTotal.WithLabelValues("failure").Inc()
		d.log.Error("error sending metrics", logging.F(
			"error", err.Error(),
			"backlog", n,
		))
		return fmt.Errorf("flush %d metrics: %w", n, err)
	}

	d.backlog.Clear()
	d.updateGauges()
	flushTotal.WithLabelValues("success").Inc()
	sentEntriesTotal.Add(float64(n))
	return nil
}

// enforceLimit trims the backlog once it reaches MaxBacklog.
func (d *Dispatcher) enforceLimit() {
	if d.backlog.Len() < d.cfg.MaxBacklog() {
		return
	}
	defer pipeline.Track(pipeline.Trim)()

	removed := d.backlog.Trim(d.cfg.TrimTarget())
	trimEventsTotal.Inc()
	trimmedEntriesTotal.Add(float64(removed))
	d.updateGauges()
	d.log.Warn("trimming backlog, removing oldest metrics", logging.F(
		"removed", removed,
		"kept", d.backlog.Len(),
	))
}

// Close closes the transport and discards anything still queued.
func (d *Dispatcher) Close() error {
	if n := d.backlog.Len(); n > 0 {
		discardedOnCloseTotal.Add(float64(n))
		d.log.Warn("discarding undelivered metrics on close", logging.F("backlog", n))
	}
	d.backlog.Clear()
	d.updateGauges()
	return d.transport.Close()
}

func (d *Dispatcher) updateGauges() {
	backlogEntries.Set(float64(d.backlog.Len()))
	backlogBytes.Set(float64(d.backlog.Bytes()))
}
