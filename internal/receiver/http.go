package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/szibis/sensu-relay/internal/compression"
	"github.com/szibis/sensu-relay/internal/logging"
)

// HTTPConfig holds the HTTP receiver configuration.
type HTTPConfig struct {
	// Addr is the listen address.
	Addr string
	// MaxRequestBodySize limits the request body (0 = unlimited).
	MaxRequestBodySize int64
	// MaxLineLength bounds a single plaintext line.
	MaxLineLength int
	// ReadTimeout bounds reading a whole request.
	ReadTimeout time.Duration
}

// HTTPReceiver accepts Graphite plaintext bodies on POST /v1/metrics and
// explicit flush requests on POST /v1/flush. Bodies may be compressed with
// any Content-Encoding the compression package understands.
type HTTPReceiver struct {
	server  *http.Server
	sink    Sink
	flusher Flusher
	cfg     HTTPConfig
	log     logging.FieldLogger
}

// NewHTTP creates an HTTP receiver. If sink also implements Flusher the
// flush endpoint triggers it; otherwise the endpoint answers 501.
func NewHTTP(cfg HTTPConfig, sink Sink, opts ...Option) *HTTPReceiver {
	o := buildOptions(opts)
	r := &HTTPReceiver{
		sink: sink,
		cfg:  cfg,
		log:  o.log,
	}
	if f, ok := sink.(Flusher); ok {
		r.flusher = f
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/metrics", r.handleMetrics)
	mux.HandleFunc("/v1/flush", r.handleFlush)

	readHeaderTimeout := 10 * time.Second
	r.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       time.Minute,
	}
	return r
}

// Handler returns the receiver's HTTP handler.
func (r *HTTPReceiver) Handler() http.Handler {
	return r.server.Handler
}

func (r *HTTPReceiver) handleMetrics(w http.ResponseWriter, req *http.Request) {
	receiverRequestsTotal.WithLabelValues("http").Inc()

	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	encoding, err := compression.ParseContentEncoding(req.Header.Get("Content-Encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	body := req.Body
	if r.cfg.MaxRequestBodySize > 0 {
		body = http.MaxBytesReader(w, req.Body, r.cfg.MaxRequestBodySize)
	}
	defer body.Close()

	decoded, err := compression.NewReader(encoding, body)
	if err != nil {
		http.Error(w, "Failed to decode body", http.StatusBadRequest)
		return
	}
	defer decoded.Close()
	// The limit applies again after decoding so a small compressed body
	// cannot expand without bound.
	if r.cfg.MaxRequestBodySize > 0 && encoding != compression.TypeNone {
		decoded = http.MaxBytesReader(w, decoded, r.cfg.MaxRequestBodySize)
	}

	res, err := ingest(req.Context(), decoded, r.cfg.MaxLineLength, r.sink, "http", r.log)
	w.Header().Set("X-Metrics-Accepted", strconv.Itoa(res.accepted))
	w.Header().Set("X-Metrics-Malformed", strconv.Itoa(res.malformed))

	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			http.Error(w, fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge)
		case errors.Is(err, bufio.ErrTooLong):
			http.Error(w, "Line too long", http.StatusBadRequest)
		case errors.Is(err, errSubmit):
			r.log.Warn("http receiver could not queue metrics", logging.F(
				"error", err.Error(),
				"accepted", res.accepted,
			))
			http.Error(w, "Relay is shutting down", http.StatusServiceUnavailable)
		default:
			http.Error(w, "Failed to read body", http.StatusBadRequest)
		}
		return
	}

	if res.accepted == 0 && res.malformed > 0 {
		http.Error(w, "No valid metric lines", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *HTTPReceiver) handleFlush(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.flusher == nil {
		http.Error(w, "Flush not supported", http.StatusNotImplemented)
		return
	}
	r.flusher.RequestFlush()
	w.WriteHeader(http.StatusAccepted)
}

// Start starts the HTTP server. It returns nil once Stop has been called.
func (r *HTTPReceiver) Start() error {
	r.log.Info("HTTP receiver started", logging.F("addr", r.cfg.Addr))
	if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (r *HTTPReceiver) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}
