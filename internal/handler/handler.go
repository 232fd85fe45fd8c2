// Package handler exposes the generation and evaluation engines over a JSON
// HTTP API. It is a thin transport layer: all validation, scoring, and
// progress logic lives in the engines.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutorlab/testcraft/internal/evaluate"
	"github.com/tutorlab/testcraft/internal/generate"
	"github.com/tutorlab/testcraft/internal/llm"
	"github.com/tutorlab/testcraft/internal/progress"
	"github.com/tutorlab/testcraft/internal/schema"
	"github.com/tutorlab/testcraft/internal/store"
)

// defaultLearnerID is used when a submission carries no learner id.
const defaultLearnerID = "default_student"

// Info describes the running service for the health endpoints.
type Info struct {
	Model  string
	LLMURL string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	generator *generate.Engine
	evaluator *evaluate.Engine
	tracker   *progress.Tracker
	info      Info
}

// New creates a new Handler.
func New(s *store.Store, g *generate.Engine, e *evaluate.Engine, t *progress.Tracker, info Info) *Handler {
	return &Handler{store: s, generator: g, evaluator: e, tracker: t, info: info}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Post("/test/generate", h.handleGenerate)
	r.Post("/test/evaluate", h.handleEvaluate)
	r.Get("/learner/{learnerID}", h.handleLearner)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"service": "testcraft",
		"endpoints": map[string]string{
			"generate": "/test/generate",
			"evaluate": "/test/evaluate",
			"learner":  "/learner/{learner_id}",
		},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"model":   h.info.Model,
		"llm_url": h.info.LLMURL,
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req schema.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return
	}

	test, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, "test generation failed", err)
		return
	}

	if err := h.store.SaveTest(test); err != nil {
		slog.Error("failed to store test", "test_id", test.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store test")
		return
	}

	writeJSON(w, http.StatusOK, test.Public())
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req schema.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	test, err := h.store.GetTest(req.TestID)
	if err != nil {
		slog.Error("failed to load test", "test_id", req.TestID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load test")
		return
	}
	if test == nil {
		writeError(w, http.StatusNotFound, "test "+req.TestID+" not found")
		return
	}

	result, err := h.evaluator.Evaluate(r.Context(), test, req.StudentAnswers)
	if err != nil {
		h.writeEngineError(w, "test evaluation failed", err)
		return
	}

	// The result is computed; persistence and progress failures from here
	// on are reported but must not withhold it from the student.
	learnerID := req.LearnerID
	if learnerID == "" {
		learnerID = defaultLearnerID
	}
	if err := h.store.SaveEvaluation(learnerID, result); err != nil {
		slog.Error("failed to store evaluation", "test_id", result.TestID, "error", err)
	}
	recorded := true
	if _, err := h.tracker.Record(learnerID, test.Topic, result); err != nil {
		slog.Error("failed to record progress", "learner_id", learnerID, "test_id", result.TestID, "error", err)
		recorded = false
	}

	writeJSON(w, http.StatusOK, struct {
		*schema.EvaluationResult
		ProgressRecorded bool `json:"progress_recorded"`
	}{result, recorded})
}

func (h *Handler) handleLearner(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")

	rec, err := h.store.GetLearnerRecord(learnerID)
	if err != nil {
		slog.Error("failed to load learner record", "learner_id", learnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load learner record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "learner "+learnerID+" not found")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*schema.LearnerRecord
		Trend           string   `json:"trend"`
		Recommendations []string `json:"recommendations"`
	}{
		LearnerRecord:   rec,
		Trend:           progress.Trend(rec),
		Recommendations: progress.Recommendations(rec),
	})
}

// writeEngineError maps the error taxonomy onto HTTP statuses: caller
// mistakes are 400, an uncooperative model is 502, everything else 500.
func (h *Handler) writeEngineError(w http.ResponseWriter, prefix string, err error) {
	var verr *schema.ValidationError
	var uerr *evaluate.UnknownQuestionError
	var ferr *llm.FormatError
	switch {
	case errors.As(err, &verr), errors.As(err, &uerr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ferr):
		slog.Error(prefix, "error", err, "attempts", ferr.Attempts)
		writeError(w, http.StatusBadGateway, prefix+": "+err.Error())
	default:
		slog.Error(prefix, "error", err)
		writeError(w, http.StatusInternalServerError, prefix+": "+err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
