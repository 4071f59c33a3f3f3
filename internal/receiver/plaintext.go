package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/szibis/sensu-relay/internal/logging"
	"github.com/szibis/sensu-relay/internal/metric"
	"github.com/szibis/sensu-relay/internal/pipeline"
)

// Sink accepts parsed metrics. *buffer.Runner implements it.
type Sink interface {
	Submit(ctx context.Context, m metric.Metric) error
}

// Flusher triggers a flush without waiting for the batch threshold.
// *buffer.Runner implements it.
type Flusher interface {
	RequestFlush()
}

// errSubmit marks a metric the sink refused, as opposed to a read failure.
var errSubmit = errors.New("metric not accepted")

// defaultMaxLineLength bounds a single plaintext line when no limit is set.
const defaultMaxLineLength = 64 * 1024

// ingestResult summarizes one plaintext stream.
type ingestResult struct {
	accepted  int
	malformed int
}

// ingest reads "name value [timestamp]" lines from r and submits each parsed
// metric to sink. Blank lines are ignored and malformed lines are counted and
// skipped. It stops at EOF, on a read error, or when sink refuses a metric.
func ingest(ctx context.Context, r io.Reader, maxLine int, sink Sink, protocol string, log logging.FieldLogger) (ingestResult, error) {
	if maxLine <= 0 {
		maxLine = defaultMaxLineLength
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(maxLine, 4096)), maxLine)

	var res ingestResult
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		start := time.Now()
		m, err := metric.ParseLine(line, start)
		pipeline.Record(pipeline.ReceiveParse, time.Since(start))
		pipeline.RecordBytes(pipeline.ReceiveParse, len(line))
		if err != nil {
			res.malformed++
			receiverMalformedTotal.WithLabelValues(protocol).Inc()
			log.Debug("skipping malformed line", logging.F(
				"protocol", protocol,
				"error", err.Error(),
			))
			continue
		}

		if err := sink.Submit(ctx, m); err != nil {
			receiverErrorsTotal.WithLabelValues("submit").Inc()
			return res, fmt.Errorf("%w: %w", errSubmit, err)
		}
		res.accepted++
		receiverMetricsTotal.WithLabelValues(protocol).Inc()
	}

	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			receiverErrorsTotal.WithLabelValues("line_too_long").Inc()
		} else {
			receiverErrorsTotal.WithLabelValues("read").Inc()
		}
		return res, err
	}
	return res, nil
}
