package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunReport — итог выполнения графа.
//
// Содержит статус каждого узла, статус каждого экземпляра пайплайна
// (модальность × субъект), итоговые артефакты и список ошибок. Отличает
// "не запускался" (SKIPPED) от "запускался и упал" (FAILED).
type RunReport struct {
	// RunID — идентификатор run.
	RunID uuid.UUID `json:"run_id"`

	// Study — имя исследования, для которого строился граф.
	Study string `json:"study,omitempty"`

	// Status — итоговый статус.
	Status RunStatus `json:"status"`

	// StartedAt — время начала.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения.
	FinishedAt time.Time `json:"finished_at"`

	// Nodes — результаты узлов в топологическом порядке.
	Nodes []NodeResult `json:"nodes"`

	// Subjects — статус экземпляров пайплайнов.
	Subjects []SubjectResult `json:"subjects"`

	// Outputs — итоговые артефакты запрошенных выходов.
	Outputs []OutputRef `json:"outputs"`

	// Failures — все ошибки с узлом, субъектом и причиной.
	Failures []Failure `json:"failures,omitempty"`

	// Selections — выбранный вариант для каждого слота (provenance).
	Selections map[string]string `json:"selections,omitempty"`
}

// NodeResult — результат одного узла.
type NodeResult struct {
	NodeID     string            `json:"node_id"`
	Modality   Modality          `json:"modality"`
	Subject    string            `json:"subject,omitempty"`
	Slot       string            `json:"slot"`
	Variant    string            `json:"variant"`
	Kind       NodeKind          `json:"kind"`
	Status     NodeStatus        `json:"status"`
	Attempts   int               `json:"attempts"`
	Cached     bool              `json:"cached"`
	Outputs    map[string]string `json:"outputs,omitempty"` // port → fingerprint
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// SubjectResult — статус экземпляра пайплайна (модальность × субъект).
type SubjectResult struct {
	Subject  string    `json:"subject"`
	Modality Modality  `json:"modality"`
	Status   RunStatus `json:"status"`
}

// OutputRef — ссылка на итоговый артефакт.
type OutputRef struct {
	Subject     string       `json:"subject,omitempty"`
	Modality    Modality     `json:"modality"`
	Type        ArtifactType `json:"type"`
	NodeID      string       `json:"node_id"`
	ArtifactID  string       `json:"artifact_id,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Location    string       `json:"location,omitempty"`
}

// Failure — запись об ошибке узла.
type Failure struct {
	NodeID   string      `json:"node_id"`
	Subject  string      `json:"subject,omitempty"`
	Modality Modality    `json:"modality"`
	Kind     FailureKind `json:"kind"`
	Cause    string      `json:"cause"`
}

// Duration возвращает продолжительность выполнения.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Counts возвращает количество узлов по статусам.
func (r *RunReport) Counts() map[NodeStatus]int {
	counts := make(map[NodeStatus]int)
	for _, n := range r.Nodes {
		counts[n.Status]++
	}
	return counts
}

// Node возвращает результат узла по ID.
func (r *RunReport) Node(id string) (NodeResult, bool) {
	for _, n := range r.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeResult{}, false
}

// Invocations возвращает количество узлов, для которых шаг реально вызывался.
func (r *RunReport) Invocations() int {
	total := 0
	for _, n := range r.Nodes {
		if n.Attempts > 0 && !n.Cached {
			total++
		}
	}
	return total
}

// RunSummary — краткая запись о run для списков.
type RunSummary struct {
	RunID      uuid.UUID  `json:"run_id"`
	Study      string     `json:"study,omitempty"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Summary возвращает краткую запись об отчёте.
func (r *RunReport) Summary() RunSummary {
	s := RunSummary{
		RunID:     r.RunID,
		Study:     r.Study,
		Status:    r.Status,
		StartedAt: r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		s.FinishedAt = &finished
	}
	return s
}
