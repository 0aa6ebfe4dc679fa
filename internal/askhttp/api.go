// Package askhttp exposes the question limiter over a JSON HTTP API:
// question submission for students and stats/summary/reset endpoints for
// the teacher dashboard.
package askhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/classpulse/classpulse/internal/asklimit"
	"github.com/classpulse/classpulse/internal/log"
)

// API implements the question limiter endpoints.
type API struct {
	limiter *asklimit.Limiter
	logger  log.Logger

	// onResult observes every submission outcome, used for metrics
	onResult func(asklimit.Result)
}

type APIOption func(*API)

// WithOnResult registers an observer called with every submission result.
func WithOnResult(fn func(asklimit.Result)) APIOption {
	return func(api *API) { api.onResult = fn }
}

// NewAPI creates the API handler. A nil logger falls back to a no-op.
func NewAPI(limiter *asklimit.Limiter, logger log.Logger, opts ...APIOption) *API {
	if logger == nil {
		logger = log.Nop()
	}
	api := &API{
		limiter: limiter,
		logger:  logger,
	}
	for _, o := range opts {
		o(api)
	}
	return api
}

// RegisterRoutes attaches the limiter endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Post("/api/questions", api.HandleSubmit)
	r.Get("/api/students/summary", api.HandleSummary)
	r.Get("/api/students/{studentID}/stats", api.HandleStats)
	r.Post("/api/students/{studentID}/reset", api.HandleReset)
	r.Get("/api/config", api.HandleConfig)
}

// SubmitRequest is the question submission payload.
type SubmitRequest struct {
	StudentID string `json:"studentId"`
	Name      string `json:"studentName"`
	Email     string `json:"studentEmail"`
	Question  string `json:"question"`
}

// SummaryResponse wraps the dashboard rows with a total count.
type SummaryResponse struct {
	Students []asklimit.SummaryEntry `json:"students"`
	Count    int                     `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleSubmit runs a submission attempt through the limiter. Allowed
// submissions return 200; blocked or rate-limited ones return 429 with the
// same result shape so clients always parse one body.
func (api *API) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	req.StudentID = strings.TrimSpace(req.StudentID)
	req.Question = strings.TrimSpace(req.Question)
	if req.StudentID == "" || req.Question == "" {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "studentId and question are required"})
		return
	}

	res := api.limiter.Submit(req.StudentID, req.Name, req.Email, req.Question)
	if api.onResult != nil {
		api.onResult(res)
	}

	status := http.StatusOK
	if !res.Allowed {
		status = http.StatusTooManyRequests
	}

	api.logger.Debug(ctx, "question submission",
		"student_id", req.StudentID,
		"allowed", res.Allowed,
		"alert_level", string(res.AlertLevel),
	)

	api.writeJSON(ctx, w, status, res)
}

// HandleStats serves the full stored record for one student.
func (api *API) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "studentID")

	stats, err := api.limiter.Stats(id)
	if err != nil {
		if errors.Is(err, asklimit.ErrNotFound) {
			api.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "student not found"})
			return
		}
		api.logger.Error(ctx, err, "stats lookup failed", "student_id", id)
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	api.writeJSON(ctx, w, http.StatusOK, stats)
}

// HandleSummary serves the per-student dashboard rows.
func (api *API) HandleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	students := api.limiter.Summary()
	api.writeJSON(ctx, w, http.StatusOK, SummaryResponse{
		Students: students,
		Count:    len(students),
	})
}

// HandleReset clears a student's question history and block state.
func (api *API) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "studentID")

	if err := api.limiter.Reset(id); err != nil {
		if errors.Is(err, asklimit.ErrNotFound) {
			api.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "student not found"})
			return
		}
		api.logger.Error(ctx, err, "reset failed", "student_id", id)
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	api.logger.Info(ctx, "student reset", "student_id", id)
	api.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleConfig serves the active limiter configuration.
func (api *API) HandleConfig(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, api.limiter.Config())
}

// decodeJSON decodes a single JSON value and rejects trailing garbage.
func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
