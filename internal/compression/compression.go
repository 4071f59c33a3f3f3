// Package compression decodes compressed HTTP request bodies.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type string

const (
	// TypeNone means the body is sent as is.
	TypeNone    Type = "none"
	TypeGzip    Type = "gzip"
	TypeZstd    Type = "zstd"
	TypeSnappy  Type = "snappy"
	TypeZlib    Type = "zlib"
	TypeDeflate Type = "deflate"
	TypeLZ4     Type = "lz4"
)

// ErrUnsupported is returned for a Content-Encoding the relay cannot decode.
var ErrUnsupported = errors.New("unsupported content encoding")

// ParseContentEncoding maps an HTTP Content-Encoding header value to a Type.
// An empty header or "identity" is TypeNone.
func ParseContentEncoding(encoding string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity", "none":
		return TypeNone, nil
	case "gzip", "x-gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "snappy", "x-snappy-framed":
		return TypeSnappy, nil
	case "zlib":
		return TypeZlib, nil
	case "deflate":
		return TypeDeflate, nil
	case "lz4":
		return TypeLZ4, nil
	default:
		return TypeNone, fmt.Errorf("%w: %q", ErrUnsupported, encoding)
	}
}

// NewReader wraps r with a streaming decoder for t. Closing the returned
// reader releases decoder state but does not close r.
func NewReader(t Type, r io.Reader) (io.ReadCloser, error) {
	rc, err := newReader(t, r)
	if err != nil {
		return nil, err
	}
	if t == "" {
		t = TypeNone
	}
	decodedBodies.WithLabelValues(string(t)).Inc()
	return rc, nil
}

func newReader(t Type, r io.Reader) (io.ReadCloser, error) {
	switch t {
	case TypeNone, "":
		return io.NopCloser(r), nil
	case TypeGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gr, nil
	case TypeZstd:
		// A single goroutine keeps per-request decoders cheap.
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return zr.IOReadCloser(), nil
	case TypeSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case TypeZlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
		return zr, nil
	case TypeDeflate:
		return flate.NewReader(r), nil
	case TypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, string(t))
	}
}

// Compress encodes data with t. The relay never compresses on the wire; it
// is used by clients and tests to produce request bodies.
func Compress(t Type, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error

	switch t {
	case TypeNone, "":
		return data, nil
	case TypeGzip:
		w = gzip.NewWriter(&buf)
	case TypeZstd:
		w, err = zstd.NewWriter(&buf)
	case TypeSnappy:
		w = snappy.NewBufferedWriter(&buf)
	case TypeZlib:
		w = zlib.NewWriter(&buf)
	case TypeDeflate:
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
	case TypeLZ4:
		w = lz4.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, string(t))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s writer: %w", t, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write %s data: %w", t, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s writer: %w", t, err)
	}
	return buf.Bytes(), nil
}
