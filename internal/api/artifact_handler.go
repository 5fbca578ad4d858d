package api

import (
	"net/http"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/domain"
)

// ListArtifacts возвращает артефакты с фильтрацией.
// GET /api/v1/artifacts?subject=...&modality=...&type=...&produced_by=...&limit=...
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := artifact.Filter{
		Subject:    q.Get("subject"),
		Modality:   domain.Modality(q.Get("modality")),
		Type:       domain.ArtifactType(q.Get("type")),
		ProducedBy: q.Get("produced_by"),
		Limit:      parseInt(q.Get("limit"), 100),
	}

	if filter.Modality != "" && !filter.Modality.IsValid() {
		badRequest(w, "unknown modality")
		return
	}

	artifacts, err := h.artifacts.List(r.Context(), filter)
	if err != nil {
		fail(w, r, err, "")
		return
	}

	writeList(w, artifacts)
}

// GetArtifact возвращает артефакт по fingerprint.
// GET /api/v1/artifacts/{fingerprint}
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fingerprint")
	if fp == "" {
		badRequest(w, "fingerprint is required")
		return
	}

	a, err := h.artifacts.Get(r.Context(), fp)
	if err != nil {
		fail(w, r, err, "artifact")
		return
	}

	writeData(w, http.StatusOK, a)
}
