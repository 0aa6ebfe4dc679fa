package askhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/classpulse/classpulse/internal/asklimit"
)

func newTestRouter(t *testing.T, opts ...asklimit.Option) (chi.Router, *asklimit.Limiter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	limiter := asklimit.New(ctx, opts...)
	api := NewAPI(limiter, nil)

	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r, limiter
}

func submitBody(id, question string) *strings.Reader {
	b, _ := json.Marshal(SubmitRequest{
		StudentID: id,
		Name:      "Ada",
		Email:     "ada@example.edu",
		Question:  question,
	})
	return strings.NewReader(string(b))
}

func doJSON(t *testing.T, r chi.Router, method, path string, body *strings.Reader) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, parsed
}

func TestSubmitAllowed(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, body := doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "what is recursion?"))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if body["allowed"] != true {
		t.Fatalf("got allowed=%v, want true", body["allowed"])
	}
	if _, ok := body["remainingQuestions"]; !ok {
		t.Fatal("remainingQuestions missing from allowed response")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("got Content-Type %q", ct)
	}
}

func TestSubmitBindsWireFieldNames(t *testing.T) {
	r, limiter := newTestRouter(t)

	body := `{"studentId":"s1","studentName":"Ada","studentEmail":"ada@example.edu","question":"what is recursion?"}`
	rec, _ := doJSON(t, r, http.MethodPost, "/api/questions", strings.NewReader(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	stats, err := limiter.Stats("s1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Name != "Ada" {
		t.Fatalf("got name %q, want Ada", stats.Name)
	}
	if stats.Email != "ada@example.edu" {
		t.Fatalf("got email %q, want ada@example.edu", stats.Email)
	}
}

func TestSubmitRateLimitedReturns429(t *testing.T) {
	r, _ := newTestRouter(t, asklimit.WithLimits(1, 10*time.Minute, 5*time.Minute))

	rec, _ := doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first submit got %d, want 200", rec.Code)
	}

	rec, body := doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q2"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit got %d, want 429", rec.Code)
	}
	if body["allowed"] != false {
		t.Fatalf("got allowed=%v, want false", body["allowed"])
	}
	if body["alertLevel"] != string(asklimit.AlertRateLimited) {
		t.Fatalf("got alertLevel %v, want RATE_LIMITED", body["alertLevel"])
	}
	if _, ok := body["cooldownUntil"]; !ok {
		t.Fatal("cooldownUntil missing from rate-limited response")
	}
}

func TestSubmitBlockedReturns429(t *testing.T) {
	r, _ := newTestRouter(t, asklimit.WithLimits(1, 10*time.Minute, 5*time.Minute))

	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q1"))
	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q2"))

	rec, body := doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q3"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", rec.Code)
	}
	if body["alertLevel"] != string(asklimit.AlertBlocked) {
		t.Fatalf("got alertLevel %v, want BLOCKED", body["alertLevel"])
	}
}

func TestSubmitValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing student id", `{"question":"hi"}`},
		{"missing question", `{"studentId":"s1"}`},
		{"whitespace question", `{"studentId":"s1","question":"   "}`},
		{"malformed json", `{"studentId":`},
		{"trailing garbage", `{"studentId":"s1","question":"hi"}{}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := doJSON(t, r, http.MethodPost, "/api/questions", strings.NewReader(tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("got %d, want 400", rec.Code)
			}
			if body["error"] == "" {
				t.Fatal("expected error message in body")
			}
		})
	}
}

func TestSubmitRejectedDoesNotRecordQuestion(t *testing.T) {
	r, limiter := newTestRouter(t, asklimit.WithLimits(1, 10*time.Minute, 5*time.Minute))

	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q1"))
	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q2"))

	stats, err := limiter.Stats("s1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalQuestions != 1 {
		t.Fatalf("got totalQuestions=%d, want 1", stats.TotalQuestions)
	}
	if len(stats.QuestionHistory) != 1 {
		t.Fatalf("got %d history entries, want 1", len(stats.QuestionHistory))
	}
}

func TestOnResultObserver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	limiter := asklimit.New(ctx, asklimit.WithLimits(1, 10*time.Minute, 5*time.Minute))

	var levels []string
	api := NewAPI(limiter, nil, WithOnResult(func(res asklimit.Result) {
		levels = append(levels, string(res.AlertLevel))
	}))

	r := chi.NewRouter()
	api.RegisterRoutes(r)

	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q1"))
	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q2"))

	if len(levels) != 2 {
		t.Fatalf("observer fired %d times, want 2", len(levels))
	}
	if levels[1] != string(asklimit.AlertRateLimited) {
		t.Fatalf("second outcome %q, want RATE_LIMITED", levels[1])
	}
}

func TestStats(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q1"))

	rec, body := doJSON(t, r, http.MethodGet, "/api/students/s1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if body["id"] != "s1" {
		t.Fatalf("got id %v, want s1", body["id"])
	}
	if body["totalQuestions"] != float64(1) {
		t.Fatalf("got totalQuestions %v, want 1", body["totalQuestions"])
	}
}

func TestStatsNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, body := doJSON(t, r, http.MethodGet, "/api/students/ghost/stats", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
	if body["error"] != "student not found" {
		t.Fatalf("got error %v", body["error"])
	}
}

func TestSummary(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q1"))
	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s2", "q1"))

	rec, body := doJSON(t, r, http.MethodGet, "/api/students/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if body["count"] != float64(2) {
		t.Fatalf("got count %v, want 2", body["count"])
	}
	students, ok := body["students"].([]any)
	if !ok || len(students) != 2 {
		t.Fatalf("got students %v, want 2 rows", body["students"])
	}
}

func TestReset(t *testing.T) {
	r, limiter := newTestRouter(t, asklimit.WithLimits(1, 10*time.Minute, 5*time.Minute))

	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q1"))
	doJSON(t, r, http.MethodPost, "/api/questions", submitBody("s1", "q2"))

	rec, _ := doJSON(t, r, http.MethodPost, "/api/students/s1/reset", strings.NewReader(""))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	stats, err := limiter.Stats("s1")
	if err != nil {
		t.Fatalf("stats after reset: %v", err)
	}
	if stats.IsBlocked || len(stats.QuestionHistory) != 0 {
		t.Fatalf("reset did not clear state: %+v", stats)
	}
	if stats.TotalQuestions != 1 {
		t.Fatalf("reset should preserve totalQuestions, got %d", stats.TotalQuestions)
	}
}

func TestResetNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, _ := doJSON(t, r, http.MethodPost, "/api/students/ghost/reset", strings.NewReader(""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestConfig(t *testing.T) {
	r, _ := newTestRouter(t, asklimit.WithLimits(5, 20*time.Minute, 8*time.Minute))

	rec, body := doJSON(t, r, http.MethodGet, "/api/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if body["maxQuestions"] != float64(5) {
		t.Fatalf("got maxQuestions %v, want 5", body["maxQuestions"])
	}
	if body["timeWindowMinutes"] != float64(20) {
		t.Fatalf("got timeWindowMinutes %v, want 20", body["timeWindowMinutes"])
	}
	if body["cooldownMinutes"] != float64(8) {
		t.Fatalf("got cooldownMinutes %v, want 8", body["cooldownMinutes"])
	}
}
