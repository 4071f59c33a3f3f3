package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/szibis/sensu-relay/internal/logging"
	"github.com/szibis/sensu-relay/internal/pipeline"
)

// keepAliveProbes is the number of unanswered TCP keepalive probes before the
// OS considers the collector dead.
const keepAliveProbes = 3

// Protocol is the socket type used to reach the collector.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// ParseProtocol normalizes a protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case ProtocolTCP:
		return ProtocolTCP, nil
	case ProtocolUDP:
		return ProtocolUDP, nil
	default:
		return "", fmt.Errorf("unsupported protocol %q (expected tcp or udp)", s)
	}
}

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Config holds the collector connection settings.
type Config struct {
	Protocol Protocol
	Host     string
	Port     int
	// Timeout bounds both dialing and each payload write.
	Timeout time.Duration
	// KeepAlive enables TCP keepalive probes. Ignored for UDP.
	KeepAlive bool
	// KeepAliveInterval is used as both the idle time and the probe interval.
	KeepAliveInterval time.Duration
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the connection settings.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseProtocol(string(c.Protocol)); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.KeepAlive && c.KeepAliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("keepalive interval must be positive, got %s", c.KeepAliveInterval))
	}
	return errors.Join(errs...)
}

// Dialer opens sockets. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a Conn.
type Option func(*Conn)

// WithDialer replaces the socket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// WithLogger sets the logger used for connection events.
func WithLogger(l logging.FieldLogger) Option {
	return func(c *Conn) { c.log = l }
}

// Conn owns the single outbound socket to the collector.
//
// Conn is not safe for concurrent use except for State and Connected, which
// may be called from any goroutine.
type Conn struct {
	cfg    Config
	dialer Dialer
	log    logging.FieldLogger

	conn  net.Conn
	state atomic.Int32
}

// New validates cfg and returns a disconnected Conn.
func New(cfg Config, opts ...Option) (*Conn, error) {
	proto, err := ParseProtocol(string(cfg.Protocol))
	if err != nil {
		return nil, fmt.Errorf("invalid collector config: %w", err)
	}
	cfg.Protocol = proto
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collector config: %w", err)
	}

	c := &Conn{
		cfg: cfg,
		log: logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = newNetDialer(cfg)
	}
	return c, nil
}

// newNetDialer builds a dialer applying the timeout and keepalive settings.
func newNetDialer(cfg Config) *net.Dialer {
	d := &net.Dialer{Timeout: cfg.Timeout}
	if cfg.Protocol == ProtocolTCP && cfg.KeepAlive {
		d.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     cfg.KeepAliveInterval,
			Interval: cfg.KeepAliveInterval,
			Count:    keepAliveProbes,
		}
	} else {
		d.KeepAlive = -1
	}
	return d
}

// Config returns the connection settings.
func (c *Conn) Config() Config {
	return c.cfg
}

// State returns the current connection state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Connected reports whether a socket is open.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	if s == StateConnected {
		connectionState.Set(1)
	} else {
		connectionState.Set(0)
	}
}

// Connect replaces any open socket with a fresh one. Failures are logged and
// absorbed; callers check Connected afterwards.
func (c *Conn) Connect(ctx context.Context) {
	c.closeSocket()
	defer pipeline.Track(pipeline.Connect)()

	if c.cfg.Protocol == ProtocolTCP && c.cfg.KeepAlive {
		c.log.Debug("enabling socket keepalives", logging.F(
			"idle", c.cfg.KeepAliveInterval.String(),
			"probes", keepAliveProbes,
		))
	}

	conn, err := c.dialer.DialContext(ctx, string(c.cfg.Protocol), c.cfg.Address())
	if err != nil {
		connectTotal.WithLabelValues("failure").Inc()
		c.log.Error("failed to connect to collector", logging.F(
			"address", c.cfg.Address(),
			"proto", string(c.cfg.Protocol),
			"error", err.Error(),
		))
		return
	}
	if conn == nil {
		connectTotal.WithLabelValues("failure").Inc()
		c.log.Error("unable to create socket", logging.F("address", c.cfg.Address()))
		return
	}

	c.conn = conn
	c.setState(StateConnected)
	connectTotal.WithLabelValues("success").Inc()
	c.log.Debug("established connection to collector", logging.F(
		"address", c.cfg.Address(),
		"proto", string(c.cfg.Protocol),
	))
}

// Transmit writes the whole payload. If the write fails the socket is
// reopened once and the payload written once more; a second failure is
// returned as a *SendError with the connection left closed.
func (c *Conn) Transmit(ctx context.Context, payload []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	err := c.write(payload)
	if err == nil {
		return nil
	}

	c.closeSocket()
	c.log.Error("socket error, trying reconnect", logging.F(
		"address", c.cfg.Address(),
		"error", err.Error(),
	))
	reconnectTotal.Inc()
	c.Connect(ctx)
	if c.conn == nil {
		return &SendError{Address: c.cfg.Address(), Attempts: 1, Err: err}
	}

	if err := c.write(payload); err != nil {
		c.closeSocket()
		return &SendError{Address: c.cfg.Address(), Attempts: 2, Err: err}
	}
	return nil
}

func (c *Conn) write(payload []byte) error {
	defer pipeline.Track(pipeline.Transmit)()

	if c.cfg.Timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return c.recordWrite(0, err)
		}
	}
	n, err := c.conn.Write(payload)
	if err == nil && n < len(payload) {
		err = io.ErrShortWrite
	}
	return c.recordWrite(n, err)
}

func (c *Conn) recordWrite(n int, err error) error {
	transmitBytesTotal.Add(float64(n))
	pipeline.RecordBytes(pipeline.Transmit, n)
	if err != nil {
		transmitTotal.WithLabelValues("failure").Inc()
		transmitErrorsTotal.WithLabelValues(string(classifyError(err))).Inc()
		return err
	}
	transmitTotal.WithLabelValues("success").Inc()
	return nil
}

// Close closes the socket if one is open. Safe to call repeatedly.
func (c *Conn) Close() error {
	return c.closeSocket()
}

func (c *Conn) closeSocket() error {
	conn := c.conn
	c.conn = nil
	c.setState(StateDisconnected)
	if conn == nil {
		return nil
	}
	return conn.Close()
}
