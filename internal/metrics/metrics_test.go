package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/classpulse/classpulse/internal/version"
)

// gather returns the metric family by name, or nil if absent.
func gather(t *testing.T, m *ServerMetrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(t *testing.T, m *ServerMetrics, name string, labels map[string]string) float64 {
	t.Helper()
	mf := gather(t, m, name)
	if mf == nil {
		return 0
	}
next:
	for _, metric := range mf.GetMetric() {
		for k, v := range labels {
			found := false
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == v {
					found = true
					break
				}
			}
			if !found {
				continue next
			}
		}
		return metric.GetCounter().GetValue()
	}
	return 0
}

func TestDomainCounters(t *testing.T) {
	m := New()

	m.IncQuestionSubmitted("NORMAL")
	m.IncQuestionSubmitted("NORMAL")
	m.IncQuestionSubmitted("WARNING")
	m.IncQuestionRejected("rate_limited")
	m.IncQuestionRejected("blocked")
	m.IncStudentBlocked()
	m.IncHistorySweep()

	if got := counterValue(t, m, "questions_submitted_total", map[string]string{"alert_level": "NORMAL"}); got != 2 {
		t.Errorf("questions_submitted_total{NORMAL} = %v, want 2", got)
	}
	if got := counterValue(t, m, "questions_submitted_total", map[string]string{"alert_level": "WARNING"}); got != 1 {
		t.Errorf("questions_submitted_total{WARNING} = %v, want 1", got)
	}
	if got := counterValue(t, m, "questions_rejected_total", map[string]string{"reason": "rate_limited"}); got != 1 {
		t.Errorf("questions_rejected_total{rate_limited} = %v, want 1", got)
	}
	if got := counterValue(t, m, "students_blocked_total", nil); got != 1 {
		t.Errorf("students_blocked_total = %v, want 1", got)
	}
	if got := counterValue(t, m, "history_sweeps_total", nil); got != 1 {
		t.Errorf("history_sweeps_total = %v, want 1", got)
	}
}

func TestStudentsTrackedGauge(t *testing.T) {
	m := New()
	m.SetStudentsTracked(17)

	mf := gather(t, m, "students_tracked")
	if mf == nil || len(mf.GetMetric()) == 0 {
		t.Fatal("students_tracked not registered")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 17 {
		t.Errorf("students_tracked = %v, want 17", got)
	}
}

func TestBuildInfo(t *testing.T) {
	m := New()
	m.SetBuildInfoFromVersion("server", version.Info{
		AppName: "classpulse",
		Version: "1.2.3",
		Commit:  "abc",
	})

	mf := gather(t, m, "build_info")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatal("build_info not registered exactly once")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("build_info value = %v, want 1", got)
	}
}

func TestMiddleware_CountsRequests(t *testing.T) {
	m := New()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := m.Middleware(inner)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d", w.Code)
		}
	}

	got := counterValue(t, m, "http_requests_total", map[string]string{
		"method": "GET", "route": "/api/config", "status": "204",
	})
	if got != 3 {
		t.Errorf("http_requests_total = %v, want 3", got)
	}
}

func TestMiddleware_Counts5xxAsErrors(t *testing.T) {
	m := New()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	h := m.Middleware(inner)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	got := counterValue(t, m, "http_errors_total", map[string]string{"method": "GET", "route": "/x"})
	if got != 1 {
		t.Errorf("http_errors_total = %v, want 1", got)
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	m := New()

	// handler that writes a body without WriteHeader
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	h := m.Middleware(inner)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/y", nil))

	got := counterValue(t, m, "http_requests_total", map[string]string{"status": "200"})
	if got != 1 {
		t.Errorf("http_requests_total{200} = %v, want 1", got)
	}
}
