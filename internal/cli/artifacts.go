package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewArtifactsCmd создаёт группу команд для артефактов.
func NewArtifactsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect stored artifacts",
	}

	cmd.AddCommand(
		newArtifactsListCmd(clientFn, outputFn),
		newArtifactsShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newArtifactsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListArtifactsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			artifacts, err := client.ListArtifacts(cmd.Context(), opts)
			if err != nil {
				return err
			}

			t := NewTable("FINGERPRINT", "TYPE", "SUBJECT", "PRODUCED_BY", "LOCATION").
				WhenEmpty("No artifacts found.")
			for _, a := range artifacts {
				t.Row(shortFingerprint(a.Fingerprint), a.Type, a.Subject, a.ProducedBy, a.Location)
			}

			out.Render(artifacts, t)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "Filter by subject")
	cmd.Flags().StringVar(&opts.Modality, "modality", "", "Filter by modality")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Filter by artifact type")
	cmd.Flags().StringVar(&opts.ProducedBy, "produced-by", "", "Filter by producing node ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newArtifactsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show FINGERPRINT",
		Short: "Show artifact details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			a, err := client.GetArtifact(cmd.Context(), args[0])
			if IsNotFound(err) {
				return fmt.Errorf("no artifact with fingerprint %s", args[0])
			}
			if err != nil {
				return err
			}

			out.Render(a, NewTable("ID", "TYPE", "MODALITY", "SUBJECT", "SCOPE", "PRODUCED_BY", "PORT", "LOCATION").
				Row(a.ID, a.Type, a.Modality, a.Subject, a.Scope, a.ProducedBy, a.Port, a.Location))
			return nil
		},
	}
}

// shortFingerprint — первые 12 символов fingerprint.
func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
