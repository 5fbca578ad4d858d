package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/neuroflow/internal/domain"
)

// printReport выводит отчёт run: сводку, экземпляры пайплайнов и ошибки.
func printReport(out *Output, report *domain.RunReport) {
	if out.IsJSON() {
		out.JSON(report)
		return
	}

	counts := report.Counts()
	statuses := make([]string, 0, len(counts))
	for s, n := range counts {
		statuses = append(statuses, fmt.Sprintf("%s=%d", strings.ToLower(string(s)), n))
	}
	sort.Strings(statuses)

	cached := 0
	for _, n := range report.Nodes {
		if n.Cached {
			cached++
		}
	}

	out.Table(NewTable("RUN", "STUDY", "STATUS", "NODES", "CACHED", "DURATION").
		Row(report.RunID, report.Study, report.Status, strings.Join(statuses, " "), cached,
			report.Duration().Round(time.Millisecond)))

	if len(report.Subjects) > 0 {
		out.Println()
		t := NewTable("SUBJECT", "MODALITY", "STATUS")
		for _, s := range report.Subjects {
			t.Row(s.Subject, s.Modality, s.Status)
		}
		out.Table(t)
	}

	if len(report.Failures) > 0 {
		out.Println()
		t := NewTable("NODE", "KIND", "CAUSE")
		for _, f := range report.Failures {
			t.Row(f.NodeID, f.Kind, f.Cause)
		}
		out.Table(t)
	}
}
