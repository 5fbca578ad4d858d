package api

import (
	"github.com/google/uuid"
)

// RunRequest — тело POST /api/v1/runs.
type RunRequest struct {
	// Study — путь к файлу исследования на стороне исполнителя.
	Study string `json:"study"`

	// Options — переопределения опций исследования.
	Options map[string]any `json:"options,omitempty"`

	// RunID — желаемый ID run (для идемпотентных повторов).
	RunID *uuid.UUID `json:"run_id,omitempty"`
}

// RunRequestedResponse — ответ на постановку run в очередь.
type RunRequestedResponse struct {
	RunID uuid.UUID `json:"run_id"`
	Study string    `json:"study"`
}
