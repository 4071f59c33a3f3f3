package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestComponentString(t *testing.T) {
	tests := []struct {
		c    Component
		want string
	}{
		{ReceiveParse, "receive_parse"},
		{Encode, "encode"},
		{Connect, "connect"},
		{Transmit, "transmit"},
		{Trim, "trim"},
		{numComponents, "unknown"},
		{Component(-1), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("Component(%d).String() = %q, want %q", int(tt.c), got, tt.want)
		}
	}
}

func TestRecord(t *testing.T) {
	counter := componentSeconds.WithLabelValues("transmit")
	before := testutil.ToFloat64(counter)
	Record(Transmit, 1500*time.Millisecond)
	Record(Transmit, -time.Second)
	after := testutil.ToFloat64(counter)

	if diff := after - before; diff < 1.49 || diff > 1.51 {
		t.Errorf("expected +1.5s, got %+f", diff)
	}
}

func TestRecordUnknownComponentIgnored(t *testing.T) {
	// Must not panic or create a series.
	Record(numComponents, time.Second)
	RecordBytes(Component(99), 10)

	if n := testutil.CollectAndCount(componentSeconds); n != int(numComponents) {
		t.Errorf("expected %d series, got %d", numComponents, n)
	}
}

func TestRecordBytes(t *testing.T) {
	counter := componentBytes.WithLabelValues("encode")
	before := testutil.ToFloat64(counter)
	RecordBytes(Encode, 4096)
	RecordBytes(Encode, 0)
	RecordBytes(Encode, -5)
	after := testutil.ToFloat64(counter)

	if after-before != 4096 {
		t.Errorf("expected +4096 bytes, got %+f", after-before)
	}
}

func TestTrack(t *testing.T) {
	counter := componentSeconds.WithLabelValues("connect")
	before := testutil.ToFloat64(counter)
	done := Track(Connect)
	time.Sleep(5 * time.Millisecond)
	done()
	after := testutil.ToFloat64(counter)

	if after-before < 0.004 {
		t.Errorf("expected connect seconds to grow by at least 4ms, before=%f after=%f", before, after)
	}
}

func TestRecordConcurrent(t *testing.T) {
	counter := componentBytes.WithLabelValues("trim")
	before := testutil.ToFloat64(counter)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Record(Trim, time.Microsecond)
				RecordBytes(Trim, 1)
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(counter) - before; got != 800 {
		t.Errorf("expected +800 bytes, got %+f", got)
	}
}

func BenchmarkRecord(b *testing.B) {
	d := 100 * time.Microsecond
	for i := 0; i < b.N; i++ {
		Record(Transmit, d)
	}
}
