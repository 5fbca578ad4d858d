package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/engine"
)

// RunState — состояние выполнения одного run в памяти.
//
// Хранит статус каждого узла, выходные артефакты завершённых узлов и
// список ошибок. Все переходы проверяются через NodeStatus.CanTransition,
// недопустимый переход игнорируется.
type RunState struct {
	runID uuid.UUID
	graph *engine.RunGraph

	status   map[string]domain.NodeStatus
	attempts map[string]int
	cached   map[string]bool
	errs     map[string]string
	outputs  map[string]map[string]*domain.Artifact
	started  map[string]time.Time
	finished map[string]time.Time

	failures []domain.Failure

	mu sync.RWMutex
}

// NewRunState создаёт состояние, в котором все узлы PENDING.
func NewRunState(runID uuid.UUID, g *engine.RunGraph) *RunState {
	s := &RunState{
		runID:    runID,
		graph:    g,
		status:   make(map[string]domain.NodeStatus, g.Len()),
		attempts: make(map[string]int),
		cached:   make(map[string]bool),
		errs:     make(map[string]string),
		outputs:  make(map[string]map[string]*domain.Artifact),
		started:  make(map[string]time.Time),
		finished: make(map[string]time.Time),
	}
	for _, n := range g.Nodes {
		s.status[n.ID] = domain.NodeStatusPending
	}
	return s
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.runID
}

// Status возвращает статус узла.
func (s *RunState) Status(nodeID string) domain.NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[nodeID]
}

// transition выполняет переход. Вызывается под блокировкой.
func (s *RunState) transition(nodeID string, to domain.NodeStatus) bool {
	from, ok := s.status[nodeID]
	if !ok || !from.CanTransition(to) {
		return false
	}
	s.status[nodeID] = to
	return true
}

// Promote переводит PENDING узлы в READY.
//
// Обычный узел готов, когда все зависимости COMPLETED. Узел агрегации
// готов, когда все зависимости в терминальном статусе: решение о том,
// хватает ли входов, принимает оркестратор.
func (s *RunState) Promote() []*engine.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := make([]*engine.Node, 0)
	for _, n := range s.graph.Nodes {
		if s.status[n.ID] != domain.NodeStatusPending {
			continue
		}

		ok := true
		for _, dep := range n.DependsOn {
			st := s.status[dep]
			if n.Kind == domain.NodeKindAggregate {
				if !st.IsTerminal() {
					ok = false
					break
				}
				continue
			}
			if st != domain.NodeStatusCompleted {
				ok = false
				break
			}
		}
		if ok && s.transition(n.ID, domain.NodeStatusReady) {
			ready = append(ready, n)
		}
	}
	return ready
}

// Ready возвращает узлы в статусе READY в топологическом порядке.
func (s *RunState) Ready() []*engine.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ready := make([]*engine.Node, 0)
	for _, n := range s.graph.Nodes {
		if s.status[n.ID] == domain.NodeStatusReady {
			ready = append(ready, n)
		}
	}
	return ready
}

// MarkRunning помечает узел как выполняющийся.
func (s *RunState) MarkRunning(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transition(nodeID, domain.NodeStatusRunning) {
		return false
	}
	s.started[nodeID] = time.Now()
	return true
}

// MarkCompleted помечает узел как завершённый и сохраняет его выходы.
func (s *RunState) MarkCompleted(nodeID string, outputs map[string]*domain.Artifact, cached bool, attempts int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transition(nodeID, domain.NodeStatusCompleted) {
		return false
	}
	s.outputs[nodeID] = outputs
	s.cached[nodeID] = cached
	s.attempts[nodeID] = attempts
	s.finished[nodeID] = time.Now()
	return true
}

// MarkFailed помечает выполнявшийся узел как упавший и записывает ошибку.
func (s *RunState) MarkFailed(nodeID string, kind domain.FailureKind, cause error, attempts int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transition(nodeID, domain.NodeStatusFailed) {
		return false
	}
	s.attempts[nodeID] = attempts
	s.errs[nodeID] = cause.Error()
	s.finished[nodeID] = time.Now()
	s.addFailure(nodeID, kind, cause.Error())
	return true
}

// Skip помечает узел как пропущенный.
func (s *RunState) Skip(nodeID string, kind domain.FailureKind, cause string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skip(nodeID, kind, cause)
}

func (s *RunState) skip(nodeID string, kind domain.FailureKind, cause string) bool {
	if !s.transition(nodeID, domain.NodeStatusSkipped) {
		return false
	}
	s.errs[nodeID] = cause
	s.addFailure(nodeID, kind, cause)
	return true
}

// SkipDependents помечает транзитивных потомков упавшего узла как SKIPPED.
//
// Узлы агрегации не пропускаются: они дожидаются всех входов и решают
// сами (fail-closed или best-effort). Возвращает ID пропущенных узлов.
func (s *RunState) SkipDependents(nodeID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make([]string, 0)
	cause := "ancestor " + nodeID + " did not complete"

	stack := []string{nodeID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, ok := s.graph.Node(cur)
		if !ok {
			continue
		}
		for _, dep := range n.Dependents {
			child, ok := s.graph.Node(dep)
			if !ok || child.Kind == domain.NodeKindAggregate {
				continue
			}
			if s.skip(dep, domain.FailureSkipped, cause) {
				skipped = append(skipped, dep)
				stack = append(stack, dep)
			}
		}
	}
	return skipped
}

// SkipRemaining помечает все PENDING и READY узлы как пропущенные
// (отмена run). Возвращает ID пропущенных узлов.
func (s *RunState) SkipRemaining(cause string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make([]string, 0)
	for _, n := range s.graph.Nodes {
		st := s.status[n.ID]
		if st != domain.NodeStatusPending && st != domain.NodeStatusReady {
			continue
		}
		if s.skip(n.ID, domain.FailureCancelled, cause) {
			skipped = append(skipped, n.ID)
		}
	}
	return skipped
}

// Output возвращает выходной артефакт завершённого узла.
func (s *RunState) Output(nodeID, port string) (*domain.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.outputs[nodeID][port]
	return a, ok
}

// addFailure записывает ошибку. Вызывается под блокировкой.
func (s *RunState) addFailure(nodeID string, kind domain.FailureKind, cause string) {
	f := domain.Failure{NodeID: nodeID, Kind: kind, Cause: cause}
	if n, ok := s.graph.Node(nodeID); ok {
		f.Subject = n.Subject
		f.Modality = n.Modality
	}
	s.failures = append(s.failures, f)
}

// IsComplete проверяет, все ли узлы в терминальном статусе.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.status {
		if !st.IsTerminal() {
			return false
		}
	}
	return true
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalNodes: len(s.status)}
	for id, st := range s.status {
		switch st {
		case domain.NodeStatusCompleted:
			stats.CompletedNodes++
			if s.cached[id] {
				stats.CachedNodes++
			}
		case domain.NodeStatusRunning:
			stats.RunningNodes++
		case domain.NodeStatusFailed:
			stats.FailedNodes++
		case domain.NodeStatusSkipped:
			stats.SkippedNodes++
		default:
			stats.PendingNodes++
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalNodes     int `json:"total_nodes"`
	CompletedNodes int `json:"completed_nodes"`
	CachedNodes    int `json:"cached_nodes"`
	RunningNodes   int `json:"running_nodes"`
	FailedNodes    int `json:"failed_nodes"`
	SkippedNodes   int `json:"skipped_nodes"`
	PendingNodes   int `json:"pending_nodes"`
}

// result возвращает снимок узла для отчёта.
func (s *RunState) result(n *engine.Node) domain.NodeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := domain.NodeResult{
		NodeID:   n.ID,
		Modality: n.Modality,
		Subject:  n.Subject,
		Slot:     n.Slot,
		Variant:  string(n.Variant),
		Kind:     n.Kind,
		Status:   s.status[n.ID],
		Attempts: s.attempts[n.ID],
		Cached:   s.cached[n.ID],
		Error:    s.errs[n.ID],
	}
	if outs := s.outputs[n.ID]; len(outs) > 0 {
		r.Outputs = make(map[string]string, len(outs))
		for port, a := range outs {
			r.Outputs[port] = a.Fingerprint
		}
	}
	if t, ok := s.started[n.ID]; ok {
		r.StartedAt = &t
	}
	if t, ok := s.finished[n.ID]; ok {
		r.FinishedAt = &t
	}
	return r
}

// snapshotFailures возвращает копию списка ошибок.
func (s *RunState) snapshotFailures() []domain.Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Failure(nil), s.failures...)
}
