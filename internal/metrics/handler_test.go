package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

// TestHandler_ServesMetrics はHandlerがメトリクスを返すことを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordLogout()

	if !strings.Contains(scrape(t, reg), "ayurleaf_logout_total 1") {
		t.Error("response should contain ayurleaf_logout_total metric")
	}
}

func TestRegisterRuntimeGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	sessions := 3
	RegisterRuntimeGauges(reg, RuntimeStats{
		ActiveSessions: func() int { return sessions },
		ChatLimiters:   func() int { return 1 },
	})

	body := scrape(t, reg)
	if !strings.Contains(body, "ayurleaf_active_sessions 3") {
		t.Errorf("missing active sessions gauge:\n%s", body)
	}
	if !strings.Contains(body, "ayurleaf_chat_cooldown_entries 1") {
		t.Errorf("missing chat cooldown gauge:\n%s", body)
	}
	if strings.Contains(body, "ayurleaf_rate_limiter_entries") {
		t.Error("nil stats should not be registered")
	}

	// スクレイプ時点の値が反映される
	sessions = 5
	if !strings.Contains(scrape(t, reg), "ayurleaf_active_sessions 5") {
		t.Error("gauge should reflect the current value")
	}
}
