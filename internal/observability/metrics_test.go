package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSample("accepted")
	m.ObserveInterval(time.Second)
	m.ObserveWrite(nil)
	m.ObserveQuery("ok", time.Millisecond)
	m.ObserveEvent("position_changed", "removed")
	m.SessionStarted()
	m.SessionStopped()
}

func TestHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveSample("accepted")
	m.ObserveWrite(errors.New("boom"))
	m.ObserveQuery("ok", 20*time.Millisecond)
	m.SessionStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`tribe_position_samples_total{outcome="accepted"} 1`,
		`tribe_position_writes_total{outcome="error"} 1`,
		`tribe_proximity_queries_total{outcome="ok"} 1`,
		`tribe_active_sessions 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}
