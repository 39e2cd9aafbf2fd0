package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExposition(t *testing.T) {
	c := NewCollector()
	requests := c.Counter("test_requests_total", "Total requests", "")
	requests.Add(3)
	byReason := c.Counter("test_escalations_total", "By reason", `reason="explicit_request"`)
	byReason.Inc()
	streams := c.Gauge("test_streams", "Active streams", "")
	streams.Set(2)
	lat := c.Histogram("test_latency_seconds", "Latency", "", []float64{0.1, 1})
	lat.Observe(0.05)
	lat.Observe(0.5)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"test_requests_total 3",
		`test_escalations_total{reason="explicit_request"} 1`,
		"test_streams 2",
		`test_latency_seconds_bucket{le="0.1"} 1`,
		`test_latency_seconds_bucket{le="1"} 2`,
		"test_latency_seconds_count 2",
		"# TYPE test_latency_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestCounterIdentity(t *testing.T) {
	c := NewCollector()
	a := c.Counter("x_total", "", "")
	b := c.Counter("x_total", "", "")
	a.Inc()
	if b.Value() != 1 {
		t.Error("same name must return the same counter")
	}
	labeled := c.Counter("x_total", "", `reason="r"`)
	if labeled == a {
		t.Error("distinct labels must produce distinct counters")
	}
}
