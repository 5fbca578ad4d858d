package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/mq"
	"github.com/shaiso/neuroflow/internal/repo"
	"github.com/shaiso/neuroflow/internal/telemetry"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?study=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{
		Study:  q.Get("study"),
		Status: domain.RunStatus(q.Get("status")),
		Limit:  parseInt(q.Get("limit"), 50),
		Offset: parseInt(q.Get("offset"), 0),
	}

	runs, err := h.runs.List(r.Context(), filter)
	if err != nil {
		fail(w, r, err, "")
		return
	}

	writeList(w, runs)
}

// GetRun возвращает полный отчёт run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid run id")
		return
	}

	report, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		fail(w, r, err, "run")
		return
	}

	writeData(w, http.StatusOK, report)
}

// ListRunFailures возвращает ошибки run.
// GET /api/v1/runs/{id}/failures?subject=...
func (h *Handler) ListRunFailures(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid run id")
		return
	}

	report, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		fail(w, r, err, "run")
		return
	}

	subject := r.URL.Query().Get("subject")
	result := make([]domain.Failure, 0, len(report.Failures))
	for _, f := range report.Failures {
		if subject == "" || f.Subject == subject {
			result = append(result, f)
		}
	}

	writeList(w, result)
}

// RequestRun ставит выполнение исследования в очередь.
// POST /api/v1/runs
func (h *Handler) RequestRun(w http.ResponseWriter, r *http.Request) {
	if h.requester == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "run queue is not configured")
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Study == "" {
		badRequest(w, "study is required")
		return
	}

	runID := uuid.New()
	if req.RunID != nil {
		runID = *req.RunID
	}

	err := h.requester.PublishRunRequested(r.Context(), mq.RunRequestPayload{
		RunID:   runID,
		Study:   req.Study,
		Options: req.Options,
	})
	if err != nil {
		fail(w, r, err, "")
		return
	}

	telemetry.FromContext(r.Context()).Info("run requested", "run_id", runID, "study", req.Study)
	writeData(w, http.StatusAccepted, RunRequestedResponse{RunID: runID, Study: req.Study})
}

// parseInt парсит строку в int с дефолтным значением.
func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
