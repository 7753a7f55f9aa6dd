package telemetry

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/odectl/internal/simerr"
)

func TestObserveOperation(t *testing.T) {
	c := NewCollector("test")

	c.ObserveOperation("run", 10*time.Millisecond, nil)
	c.ObserveOperation("run", 20*time.Millisecond, simerr.New(simerr.KindSolve, "run").Build())
	c.ObserveOperation("load_string", time.Millisecond, errors.New("plain"))

	if got := testutil.ToFloat64(c.operations.WithLabelValues("run", "success")); got != 1 {
		t.Errorf("expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(c.operations.WithLabelValues("run", "failure")); got != 1 {
		t.Errorf("expected 1 failed run, got %v", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("solve")); got != 1 {
		t.Errorf("expected 1 solve failure, got %v", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("other")); got != 1 {
		t.Errorf("expected 1 unclassified failure, got %v", got)
	}
	if n := testutil.CollectAndCount(c.duration); n != 2 {
		t.Errorf("expected 2 duration series, got %d", n)
	}
}

func TestHandles(t *testing.T) {
	c := NewCollector("")

	c.HandleAcquired()
	c.HandleAcquired()
	c.HandleReleased()

	if got := testutil.ToFloat64(c.handles); got != 1 {
		t.Errorf("expected 1 open handle, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector("test")
	c.ObserveOperation("finalize", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `test_simulation_operations_total{op="finalize",result="success"} 1`) {
		t.Errorf("expected finalize counter in output, got:\n%s", body)
	}
}
