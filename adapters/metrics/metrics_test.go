package metrics_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Pylons/pyramid-zcml/adapters/metrics"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.DirectivesTotal == nil || m.LoadsTotal == nil || m.RequestsTotal == nil || m.RequestDuration == nil {
		t.Error("metric vectors not initialized")
	}
}

func TestConfigurationCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.DirectiveProcessed("view")
	m.DirectiveProcessed("view")
	m.DirectiveProcessed("route")
	m.LoadFinished("ok")
	m.LoadFinished("conflict")
	m.ActionsCommitted(7)
	m.Conflicts(2)

	if got := testutil.ToFloat64(m.DirectivesTotal.WithLabelValues("view")); got != 2 {
		t.Errorf("directives_total{view} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LoadsTotal.WithLabelValues("conflict")); got != 1 {
		t.Errorf("loads_total{conflict} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActionsTotal); got != 7 {
		t.Errorf("actions_committed_total = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.ConflictsTotal); got != 2 {
		t.Errorf("conflicts_total = %v, want 2", got)
	}
}

func TestRequestDispatched(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RequestDispatched("item", 200, 15*time.Millisecond)
	m.RequestDispatched("", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("item", "200")); got != 1 {
		t.Errorf("requests_total{item,200} = %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("(traversal)", "404")); got != 1 {
		t.Errorf("requests_total{(traversal),404} = %v", got)
	}
	if n := testutil.CollectAndCount(m.RequestDuration); n != 2 {
		t.Errorf("request_duration series = %d, want 2", n)
	}
}

func TestReloaded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	at := time.Unix(1700000000, 0)
	m.Reloaded(at, nil)
	m.Reloaded(at, errors.New("boom"))

	if got := testutil.ToFloat64(m.ConfigReloads); got != 1 {
		t.Errorf("config_reloads_total = %v", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadErrors); got != 1 {
		t.Errorf("config_reload_errors_total = %v", got)
	}
	if got := testutil.ToFloat64(m.ConfigLastReload); got != float64(at.Unix()) {
		t.Errorf("config_last_reload_timestamp = %v", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.DirectiveProcessed("utility")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `zcml_directives_total{directive="utility"} 1`) {
		t.Errorf("body missing directive counter:\n%s", w.Body)
	}
}
