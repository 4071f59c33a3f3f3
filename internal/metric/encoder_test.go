package metric

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLineEncoder(t *testing.T) {
	m := Metric{Name: "servers.web01.cpu.user", Value: 12.5, Timestamp: 1700000000}

	data, err := JSONLineEncoder{}.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	s := string(data)
	if !strings.HasSuffix(s, "\n") {
		t.Fatalf("expected newline terminated entry, got %q", s)
	}
	if strings.Count(s, "\n") != 1 {
		t.Fatalf("expected a single line, got %q", s)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	if decoded["name"] != "servers.web01.cpu.user" {
		t.Errorf("name = %v", decoded["name"])
	}
	if decoded["output"] != "12.5" {
		t.Errorf("output = %v", decoded["output"])
	}
	if decoded["issued"] != float64(1700000000) {
		t.Errorf("issued = %v", decoded["issued"])
	}
}

func TestJSONLineEncoderEscapesName(t *testing.T) {
	data, err := JSONLineEncoder{}.Encode(Metric{Name: "weird\"name\nwith newline", Value: 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Fatalf("embedded newline leaked into the wire entry: %q", data)
	}
}

func TestEncoderFunc(t *testing.T) {
	boom := errors.New("boom")
	var enc Encoder = EncoderFunc(func(Metric) ([]byte, error) { return nil, boom })
	if _, err := enc.Encode(Metric{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
