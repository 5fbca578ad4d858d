package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewRunsCmd создаёт группу команд для отчётов runs на сервере.
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs stored on the server",
	}

	cmd.AddCommand(
		newRunsListCmd(clientFn, outputFn),
		newRunsShowCmd(clientFn, outputFn),
		newRunsFailuresCmd(clientFn, outputFn),
		newRunsRequestCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var study string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(cmd.Context(), ListRunsOpts{
				Study:  study,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			t := NewTable("ID", "STUDY", "STATUS", "STARTED", "FINISHED").WhenEmpty("No runs found.")
			for _, r := range runs {
				t.Row(r.RunID, r.Study, r.Status, r.StartedAt, r.FinishedAt)
			}

			out.Render(runs, t)
			return nil
		},
	}

	cmd.Flags().StringVar(&study, "study", "", "Filter by study name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (RUNNING, SUCCEEDED, PARTIAL, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			report, err := client.GetRun(cmd.Context(), args[0])
			if IsNotFound(err) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}

			printReport(out, report)
			return nil
		},
	}
}

func newRunsFailuresCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "failures ID",
		Short: "List failed and skipped nodes of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			failures, err := client.ListFailures(cmd.Context(), args[0], subject)
			if err != nil {
				return err
			}

			t := NewTable("NODE", "SUBJECT", "MODALITY", "KIND", "CAUSE").WhenEmpty("No failures.")
			for _, f := range failures {
				t.Row(f.NodeID, f.Subject, f.Modality, f.Kind, f.Cause)
			}

			out.Render(failures, t)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Only failures of this subject")

	return cmd
}

func newRunsRequestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var sets []string
	var runID string

	cmd := &cobra.Command{
		Use:   "request STUDY",
		Short: "Queue a study for execution on the server",
		Long:  "STUDY is the path to the study file as seen by the server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			opts, err := ParseSet(sets)
			if err != nil {
				return err
			}

			req := RunRequest{Study: args[0], Options: opts}
			if runID != "" {
				id, err := uuid.Parse(runID)
				if err != nil {
					return fmt.Errorf("invalid run id: %w", err)
				}
				req.RunID = &id
			}

			result, err := client.RequestRun(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Notice("Run requested: %s", result.RunID)
			out.Render(result, NewTable("ID", "STUDY").Row(result.RunID, result.Study))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Override an option as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run ID to use (generated if empty)")

	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.DateTime)
}
