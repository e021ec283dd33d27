package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Poll(PollRateLimited, 20*time.Second)
	m.Merge(true)
	m.Analysis("synthetic", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`callscope_polls_total{result="rate_limited"} 1`,
		`callscope_poll_delay_seconds 20`,
		`callscope_chain_merges_total{partial="true"} 1`,
		`callscope_analyses_total{source="synthetic"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Poll(PollOK, time.Second)
	m.Event("started")
	m.StreamClients(3)
}
