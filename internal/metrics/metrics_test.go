package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.ObserveConquest("ok", 0.012)
	r.ObserveConquest("ok", 0.020)
	r.ObserveConquest("conflict", 0.5)
	r.ObserveResolution("clipped")
	r.ObserveResolution("destroyed")
	r.ObserveResolution("clipped")
	r.IncConflictRetry()

	if got := testutil.ToFloat64(r.conquestsTotal.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok conquests, got %v", got)
	}
	if got := testutil.ToFloat64(r.resolutionsTotal.WithLabelValues("clipped")); got != 2 {
		t.Fatalf("expected 2 clipped resolutions, got %v", got)
	}
	if got := testutil.ToFloat64(r.conflictRetries); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder()
	r.ObserveConquest("rejected", 0.001)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics error = %v", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	text := string(body)
	for _, want := range []string{`turf_conquests_total{status="rejected"} 1`, "turf_conquest_duration_ms_bucket", "go_goroutines"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestRecorderRegistersRuntimeCollectors(t *testing.T) {
	families, err := NewRecorder().Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	want := []string{"go_goroutines"}
	if runtime.GOOS == "linux" {
		want = append(want, "process_cpu_seconds_total", "process_start_time_seconds")
	}
	for _, name := range want {
		if !names[name] {
			t.Fatalf("expected %s to be registered", name)
		}
	}
}
