package api

import (
	"net/http"

	"github.com/shaiso/neuroflow/internal/domain"
)

// ListSchedules возвращает расписания планировщика.
// GET /api/v1/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	var schedules []domain.Schedule
	if h.schedules != nil {
		schedules = h.schedules.Schedules()
	}
	writeList(w, schedules)
}
