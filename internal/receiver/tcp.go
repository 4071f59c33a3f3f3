package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/szibis/sensu-relay/internal/logging"
)

// Option configures a receiver.
type Option func(*options)

type options struct {
	log logging.FieldLogger
}

// WithLogger sets the logger used for receiver events.
func WithLogger(l logging.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{log: logging.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TCPConfig holds the plaintext TCP receiver configuration.
type TCPConfig struct {
	// Addr is the listen address.
	Addr string
	// MaxLineLength bounds a single line; longer lines end the connection.
	MaxLineLength int
	// ReadTimeout closes connections idle for longer than this (0 = never).
	ReadTimeout time.Duration
}

// TCPReceiver accepts Graphite plaintext metrics, one per line, over TCP.
type TCPReceiver struct {
	cfg  TCPConfig
	sink Sink
	log  logging.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// NewTCP creates a plaintext TCP receiver.
func NewTCP(cfg TCPConfig, sink Sink, opts ...Option) *TCPReceiver {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPReceiver{
		cfg:    cfg,
		sink:   sink,
		log:    o.log,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the listen address without accepting connections yet.
func (r *TCPReceiver) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return net.ErrClosed
	}
	if r.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("tcp receiver listen on %s: %w", r.cfg.Addr, err)
	}
	r.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *TCPReceiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Start listens and serves until Stop is called. It returns nil after Stop.
func (r *TCPReceiver) Start() error {
	if err := r.Listen(); err != nil {
		return err
	}
	r.log.Info("TCP receiver started", logging.F("addr", r.Addr().String()))
	return r.serve()
}

func (r *TCPReceiver) serve() error {
	r.mu.Lock()
	ln := r.listener
	r.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || r.ctx.Err() != nil {
				return nil
			}
			receiverErrorsTotal.WithLabelValues("accept").Inc()
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("tcp receiver accept: %w", err)
		}

		if !r.track(conn) {
			conn.Close()
			return nil
		}
		go r.handle(conn)
	}
}

func (r *TCPReceiver) track(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.conns[conn] = struct{}{}
	r.wg.Add(1)
	receiverOpenConnections.Inc()
	return true
}

func (r *TCPReceiver) untrack(conn net.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
	receiverOpenConnections.Dec()
	r.wg.Done()
}

func (r *TCPReceiver) handle(conn net.Conn) {
	defer r.untrack(conn)
	defer conn.Close()

	receiverRequestsTotal.WithLabelValues("tcp").Inc()

	reader := newDeadlineReader(conn, r.cfg.ReadTimeout)
	res, err := ingest(r.ctx, reader, r.cfg.MaxLineLength, r.sink, "tcp", r.log)
	if err != nil && r.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		r.log.Warn("plaintext connection ended with error", logging.F(
			"remote", conn.RemoteAddr().String(),
			"error", err.Error(),
			"accepted", res.accepted,
			"malformed", res.malformed,
		))
		return
	}
	r.log.Debug("plaintext connection closed", logging.F(
		"remote", conn.RemoteAddr().String(),
		"accepted", res.accepted,
		"malformed", res.malformed,
	))
}

// Stop closes the listener and all open connections, then waits for the
// connection handlers to return or ctx to expire.
func (r *TCPReceiver) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.cancel()
	var err error
	if r.listener != nil {
		err = r.listener.Close()
	}
	for c := range r.conns {
		c.Close()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// deadlineReader refreshes the read deadline before every read so that only
// idle connections time out.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func newDeadlineReader(conn net.Conn, timeout time.Duration) *deadlineReader {
	return &deadlineReader{conn: conn, timeout: timeout}
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.conn.Read(p)
}
