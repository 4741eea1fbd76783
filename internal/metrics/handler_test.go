package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ServesRegisteredMetrics はスクレイプ結果に登録済みメトリクスが含まれることを検証する。
func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPurchaseCompleted()
	c.RecordRefundOutcome("refunded")
	c.RecordProcessorLatency("confirm", 120*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{
		"studydesk_purchase_completed_total 1",
		`studydesk_refund_outcomes_total{outcome="refunded"} 1`,
		`studydesk_processor_latency_seconds_count{operation="confirm"} 1`,
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("response should contain %q", name)
		}
	}
}

// TestHandler_OnlyExposesGivenRegistry は別レジストリのメトリクスが混ざらないことを検証する。
func TestHandler_OnlyExposesGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if strings.Contains(w.Body.String(), "studydesk_") {
		t.Errorf("empty registry exposed studydesk metrics: %s", w.Body.String())
	}
}
