package orchestrator

import (
	"sort"
	"time"

	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/engine"
)

// buildReport формирует итоговый отчёт run.
func (o *Orchestrator) buildReport(rc *runContext, started time.Time) *domain.RunReport {
	g := rc.graph

	report := &domain.RunReport{
		RunID:      rc.id,
		Study:      rc.study,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Nodes:      make([]domain.NodeResult, 0, g.Len()),
		Subjects:   make([]domain.SubjectResult, 0, len(g.Modalities)*len(g.Subjects)),
		Outputs:    make([]domain.OutputRef, 0, len(g.Outputs)),
		Selections: g.Selections,
	}

	for _, n := range g.Nodes {
		report.Nodes = append(report.Nodes, rc.state.result(n))
	}

	failures := rc.state.snapshotFailures()
	kinds := make(map[string]domain.FailureKind, len(failures))
	for _, f := range failures {
		kinds[f.NodeID] = f.Kind
	}

	for _, inst := range g.Instances() {
		report.Subjects = append(report.Subjects, domain.SubjectResult{
			Subject:  inst.Subject,
			Modality: inst.Modality,
			Status:   instanceStatus(rc.state, g.NodesOf(inst.Modality, inst.Subject), kinds),
		})
	}

	for _, out := range g.Outputs {
		ref := domain.OutputRef{
			Subject:  out.Subject,
			Modality: out.Modality,
			Type:     out.Type,
			NodeID:   out.NodeID,
		}
		if a, ok := rc.state.Output(out.NodeID, out.Port); ok {
			ref.ArtifactID = a.ID.String()
			ref.Fingerprint = a.Fingerprint
			ref.Location = a.Location
		}
		report.Outputs = append(report.Outputs, ref)
	}

	// Ошибки в топологическом порядке узлов, а не в порядке завершения
	order := make(map[string]int, g.Len())
	for i, n := range g.Nodes {
		order[n.ID] = i
	}
	sort.SliceStable(failures, func(i, j int) bool {
		return order[failures[i].NodeID] < order[failures[j].NodeID]
	})
	if len(failures) > 0 {
		report.Failures = failures
	}

	completed := 0
	for _, n := range report.Nodes {
		if n.Status == domain.NodeStatusCompleted {
			completed++
		}
	}

	switch {
	case rc.cancelled:
		report.Status = domain.RunStatusCancelled
	case len(failures) == 0:
		report.Status = domain.RunStatusSucceeded
	case completed > 0:
		report.Status = domain.RunStatusPartial
	default:
		report.Status = domain.RunStatusFailed
	}

	return report
}

// instanceStatus вычисляет статус экземпляра пайплайна по его узлам.
func instanceStatus(state *RunState, nodes []*engine.Node, kinds map[string]domain.FailureKind) domain.RunStatus {
	completed, cancelled := 0, false
	for _, n := range nodes {
		if state.Status(n.ID) == domain.NodeStatusCompleted {
			completed++
		}
		if kinds[n.ID] == domain.FailureCancelled {
			cancelled = true
		}
	}

	switch {
	case completed == len(nodes):
		return domain.RunStatusSucceeded
	case cancelled:
		return domain.RunStatusCancelled
	case completed > 0:
		return domain.RunStatusPartial
	default:
		return domain.RunStatusFailed
	}
}
