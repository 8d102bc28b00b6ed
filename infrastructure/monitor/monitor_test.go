package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFetch(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordFetch(0.2, 40, 3, 1)
	m.RecordFetchError("status", 0.1)

	if got := testutil.ToFloat64(m.fetchRequests); got != 2 {
		t.Errorf("Expected fetchRequests to be 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.tradesFetched); got != 40 {
		t.Errorf("Expected tradesFetched to be 40, got %f", got)
	}
	if got := testutil.ToFloat64(m.giftsDropped); got != 3 {
		t.Errorf("Expected giftsDropped to be 3, got %f", got)
	}
	if got := testutil.ToFloat64(m.fetchErrors.WithLabelValues("status")); got != 1 {
		t.Errorf("Expected fetchErrors[status] to be 1, got %f", got)
	}
}

func TestPipelineAndSettingsMetrics(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordPipelineRun(ResultOK)
	m.RecordPipelineRun(ResultSuperseded)
	m.RecordPipelineRun(ResultSuperseded)
	m.UpdateFairValue(1.25, 1.5)
	m.RecordSettingsChange("api")
	m.SetWSClients(4)

	if got := testutil.ToFloat64(m.pipelineRuns.WithLabelValues(ResultSuperseded)); got != 2 {
		t.Errorf("Expected superseded runs to be 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.fairValue); got != 1.25 {
		t.Errorf("Expected fairValue to be 1.25, got %f", got)
	}
	if got := testutil.ToFloat64(m.rollingLast); got != 1.5 {
		t.Errorf("Expected rollingLast to be 1.5, got %f", got)
	}
	if got := testutil.ToFloat64(m.settingsChanges.WithLabelValues("api")); got != 1 {
		t.Errorf("Expected settingsChanges[api] to be 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.wsClients); got != 4 {
		t.Errorf("Expected wsClients to be 4, got %f", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordPipelineRun(ResultOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cardfmv_tracker_pipeline_runs_total") {
		t.Fatalf("metrics output missing pipeline counter:\n%s", body)
	}
}

func TestSeparateRegistries(t *testing.T) {
	a := New(DefaultConfig())
	b := New(DefaultConfig())
	a.RecordSettingsChange("cli")
	if got := testutil.ToFloat64(b.settingsChanges.WithLabelValues("cli")); got != 0 {
		t.Errorf("registries should be independent, got %f", got)
	}
}
