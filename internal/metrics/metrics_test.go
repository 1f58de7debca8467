package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestRecordLockRequest_LabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLockRequest(true)
	c.RecordLockRequest(false)
	c.RecordLockRequest(false)

	got := map[string]float64{}
	for _, m := range gather(t, reg, "collab_lock_requests_total") {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if got["granted"] != 1 || got["busy"] != 2 {
		t.Errorf("lock requests = %v, want granted=1 busy=2", got)
	}
}

func TestRecordPoll_LabelsModified(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPoll(true)
	c.RecordPoll(false)

	got := map[string]float64{}
	for _, m := range gather(t, reg, "collab_polls_total") {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if got["true"] != 1 || got["false"] != 1 {
		t.Errorf("polls = %v, want true=1 false=1", got)
	}
}

func TestRecordFileWrite_CountsAndObservesSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFileWrite(10)
	c.RecordFileWrite(5000)

	if v := gather(t, reg, "collab_file_writes_total")[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("file writes = %v, want 2", v)
	}
	h := gather(t, reg, "collab_file_write_bytes")[0].GetHistogram()
	if h.GetSampleCount() != 2 || h.GetSampleSum() != 5010 {
		t.Errorf("histogram count=%d sum=%v, want 2 and 5010", h.GetSampleCount(), h.GetSampleSum())
	}
}

func TestRecordTokenCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenIssued()
	c.RecordTokenIssued()
	c.RecordTokenAuthenticated()
	c.RecordTokensSwept(3)

	if v := gather(t, reg, "collab_tokens_issued_total")[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("tokens issued = %v, want 2", v)
	}
	if v := gather(t, reg, "collab_tokens_authenticated_total")[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("tokens authenticated = %v, want 1", v)
	}
	if v := gather(t, reg, "collab_tokens_swept_total")[0].GetCounter().GetValue(); v != 3 {
		t.Errorf("tokens swept = %v, want 3", v)
	}
}

func TestHandler_ServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTPStatus(200)
	c.RecordRequestLatency(15 * time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `collab_http_status_total{status_code="200"} 1`) {
		t.Errorf("scrape output missing status counter:\n%s", body)
	}
	if !strings.Contains(string(body), "collab_http_request_seconds_count 1") {
		t.Errorf("scrape output missing latency histogram:\n%s", body)
	}
}

func TestNop_SatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordLockRequest(true)
	r.RecordPoll(false)
	r.RecordHTTPStatus(500)
}
