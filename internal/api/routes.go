package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Observe(h.logger),
		Recovery(),
	)

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.RequestRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/failures", chain(http.HandlerFunc(h.ListRunFailures)))

	// Artifacts
	mux.Handle("GET /api/v1/artifacts", chain(http.HandlerFunc(h.ListArtifacts)))
	mux.Handle("GET /api/v1/artifacts/{fingerprint}", chain(http.HandlerFunc(h.GetArtifact)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
}
