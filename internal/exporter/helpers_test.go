package exporter

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// fakeAddr satisfies net.Addr for fakeConn.
type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn records writes and fails the first failWrites of them.
type fakeConn struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	writes     int
	failWrites int
	writeErr   error
	deadline   time.Time
	closed     bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.failWrites > 0 {
		c.failWrites--
		err := c.writeErr
		if err == nil {
			err = errors.New("broken pipe")
		}
		return 0, err
	}
	return c.buf.Write(p)
}

func (c *fakeConn) Read(p []byte) (int, error) { return 0, errors.New("not readable") }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr  { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr("remote") }

func (c *fakeConn) SetDeadline(t time.Time) error { return c.SetWriteDeadline(t) }

func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *fakeConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// dialResult is one scripted DialContext outcome.
type dialResult struct {
	conn *fakeConn
	err  error
}

// fakeDialer hands out scripted results in order; once exhausted it keeps
// returning the last one.
type fakeDialer struct {
	mu       sync.Mutex
	results  []dialResult
	calls    int
	networks []string
	addrs    []string
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.networks = append(d.networks, network)
	d.addrs = append(d.addrs, address)

	idx := d.calls
	if idx >= len(d.results) {
		idx = len(d.results) - 1
	}
	d.calls++
	r := d.results[idx]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

func testConfig() Config {
	return Config{
		Protocol: ProtocolTCP,
		Host:     "localhost",
		Port:     2003,
		Timeout:  time.Second,
	}
}
