package health

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by health endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

var readyGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sensu_relay_readiness_check",
	Help: "Result of the last readiness check per component (1 = up, 0 = down)",
}, []string{"component"})

func init() {
	prometheus.MustRegister(readyGauge)
}

// ErrDisconnected is reported while the collector connection is closed.
var ErrDisconnected = errors.New("collector connection is closed")

// CheckFunc returns nil if the component is healthy, or an error describing the issue.
type CheckFunc func() error

// ConnectionState reports whether a connection is open. *exporter.Conn
// implements it and is safe to probe from the HTTP goroutines.
type ConnectionState interface {
	Connected() bool
}

// ConnectedCheck is a readiness check that fails while c is disconnected.
func ConnectedCheck(c ConnectionState) CheckFunc {
	return func() error {
		if !c.Connected() {
			return ErrDisconnected
		}
		return nil
	}
}

// Checker provides liveness and readiness probes.
// Components register themselves and report their status.
type Checker struct {
	mu              sync.RWMutex
	readinessChecks map[string]CheckFunc
	shuttingDown    atomic.Bool
	now             func() time.Time
}

// New creates a new health Checker.
func New() *Checker {
	return &Checker{
		readinessChecks: make(map[string]CheckFunc),
		now:             time.Now,
	}
}

// RegisterReadiness registers a named readiness check.
// The check is called on each /ready request.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks[name] = check
	readyGauge.WithLabelValues(name).Set(0)
}

// SetShuttingDown marks the instance as shutting down.
// After this, both /live and /ready return 503.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// Ready runs every readiness check and returns the overall status with the
// per-component results.
func (c *Checker) Ready() (Status, map[string]ComponentCheck) {
	c.mu.RLock()
	names := make([]string, 0, len(c.readinessChecks))
	for name := range c.readinessChecks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(names))
	for k, v := range c.readinessChecks {
		checks[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	overall := StatusUp
	components := make(map[string]ComponentCheck, len(names))
	for _, name := range names {
		if err := checks[name](); err != nil {
			overall = StatusDown
			components[name] = ComponentCheck{Status: StatusDown, Message: err.Error()}
			readyGauge.WithLabelValues(name).Set(0)
		} else {
			components[name] = ComponentCheck{Status: StatusUp}
			readyGauge.WithLabelValues(name).Set(1)
		}
	}
	return overall, components
}

func (c *Checker) shuttingDownResponse() Response {
	return Response{
		Status:    StatusDown,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	}
}

// LiveHandler returns an http.HandlerFunc for the /live endpoint.
// Liveness checks that the process is running and not in shutdown.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, c.shuttingDownResponse())
			return
		}

		writeJSON(w, http.StatusOK, Response{
			Status:    StatusUp,
			Timestamp: c.now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyHandler returns an http.HandlerFunc for the /ready endpoint.
// Readiness runs all registered checks; if any fail, the response is 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, c.shuttingDownResponse())
			return
		}

		overall, components := c.Ready()
		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, Response{
			Status:     overall,
			Components: components,
			Timestamp:  c.now().UTC().Format(time.RFC3339),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(resp)
}
