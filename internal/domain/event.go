package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeEvent — изменение статуса узла во время run.
type NodeEvent struct {
	RunID     uuid.UUID  `json:"run_id"`
	NodeID    string     `json:"node_id"`
	Subject   string     `json:"subject,omitempty"`
	Modality  Modality   `json:"modality"`
	Kind      NodeKind   `json:"kind"`
	Status    NodeStatus `json:"status"`
	Cached    bool       `json:"cached,omitempty"`
	Attempts  int        `json:"attempts,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// RunEvent — начало или завершение run.
type RunEvent struct {
	RunID     uuid.UUID          `json:"run_id"`
	Study     string             `json:"study,omitempty"`
	Status    RunStatus          `json:"status"`
	Nodes     int                `json:"nodes"`
	Counts    map[NodeStatus]int `json:"counts,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
