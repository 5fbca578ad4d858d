package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// NewSchedulesCmd создаёт группу команд для расписаний сервера.
func NewSchedulesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect server schedules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedules, err := client.ListSchedules(cmd.Context())
			if err != nil {
				return err
			}

			t := NewTable("NAME", "STUDY", "CRON", "INTERVAL", "ENABLED", "NEXT_DUE", "LAST_RUN").
				WhenEmpty("No schedules configured.")
			for _, s := range schedules {
				interval := ""
				if s.IntervalSec > 0 {
					interval = (time.Duration(s.IntervalSec) * time.Second).String()
				}
				t.Row(s.Name, s.Study, s.CronExpr, interval, s.Enabled, s.NextDueAt, s.LastRunID)
			}

			out.Render(schedules, t)
			return nil
		},
	})

	return cmd
}
