package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveOperation("schedule", nil)
	c.ObserveReload(time.Millisecond)
	c.StoreFailure("load")
	c.StaleRead("get")
	c.SetGeneration(map[string]int{"Scheduled": 1}, 1)
	c.ObserveRequest("GET", "/appointments", 200, time.Millisecond)
}

func TestCollector_Operations(t *testing.T) {
	c := NewCollector("ledger_test")
	c.ObserveOperation("schedule", nil)
	c.ObserveOperation("schedule", nil)
	c.ObserveOperation("schedule", errors.New("conflict"))
	c.StoreFailure("save")
	c.StaleRead("list_all")

	if got := testutil.ToFloat64(c.OperationsTotal.WithLabelValues("schedule", "ok")); got != 2 {
		t.Fatalf("ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.OperationsTotal.WithLabelValues("schedule", "error")); got != 1 {
		t.Fatalf("error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.StoreFailures.WithLabelValues("save")); got != 1 {
		t.Fatalf("store failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.StaleReads.WithLabelValues("list_all")); got != 1 {
		t.Fatalf("stale reads = %v, want 1", got)
	}
}

func TestCollector_SetGenerationReplacesCounts(t *testing.T) {
	c := NewCollector("ledger_test")
	c.SetGeneration(map[string]int{"Scheduled": 3, "Confirmed": 1}, 2)
	c.SetGeneration(map[string]int{"Scheduled": 1}, 0)

	if got := testutil.ToFloat64(c.RecordsByStatus.WithLabelValues("Scheduled")); got != 1 {
		t.Fatalf("scheduled = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.RecordsByStatus); got != 1 {
		t.Fatalf("status series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(c.SlotHolds); got != 0 {
		t.Fatalf("holds = %v, want 0", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("ledger_test")
	c.ObserveRequest("POST", "/appointments", 201, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	want := `ledger_test_http_requests_total{method="POST",route="/appointments",status="201"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("metrics output missing %q", want)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("metrics output missing runtime collectors")
	}
}
