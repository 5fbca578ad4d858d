package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/engine"
	"github.com/shaiso/neuroflow/internal/mq"
	"github.com/shaiso/neuroflow/internal/repo"
	"github.com/shaiso/neuroflow/internal/runner"
)

// PlanNode — узел графа в выводе plan.
type PlanNode struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Step      string   `json:"step"`
	Variant   string   `json:"variant"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Plan — граф исследования в выводе plan.
type Plan struct {
	Study      string            `json:"study"`
	Modalities []string          `json:"modalities"`
	Subjects   []string          `json:"subjects"`
	Nodes      []PlanNode        `json:"nodes"`
	Selections map[string]string `json:"selections,omitempty"`
}

// NewPlan описывает граф для вывода.
func NewPlan(study string, g *engine.RunGraph) Plan {
	p := Plan{
		Study:      study,
		Modalities: make([]string, len(g.Modalities)),
		Subjects:   g.Subjects,
		Nodes:      make([]PlanNode, len(g.Nodes)),
		Selections: g.Selections,
	}
	for i, m := range g.Modalities {
		p.Modalities[i] = string(m)
	}
	for i, n := range g.Nodes {
		p.Nodes[i] = PlanNode{
			ID:        n.ID,
			Kind:      string(n.Kind),
			Step:      n.Step,
			Variant:   string(n.Variant),
			DependsOn: n.DependsOn,
		}
	}
	return p
}

// NewPlanCmd создаёт команду plan: построить граф без выполнения.
func NewPlanCmd(outputFn func() *Output, loggerFn func() *slog.Logger) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "plan STUDY",
		Short: "Build the run graph of a study without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			study, err := config.Load(args[0])
			if err != nil {
				return err
			}
			overrides, err := ParseSet(sets)
			if err != nil {
				return err
			}

			r := runner.New(runner.Config{Overrides: overrides, Logger: loggerFn()})
			g, err := r.Plan(cmd.Context(), study, nil)
			if err != nil {
				return err
			}

			plan := NewPlan(study.Name, g)
			t := NewTable("NODE", "KIND", "STEP", "VARIANT", "DEPENDS_ON")
			for _, n := range plan.Nodes {
				t.Row(n.ID, n.Kind, n.Step, n.Variant, strings.Join(n.DependsOn, ","))
			}
			out.Render(plan, t)

			if !out.IsJSON() {
				out.Notice("%d nodes, %d subjects, modalities: %s",
					len(plan.Nodes), len(plan.Subjects), strings.Join(plan.Modalities, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Override an option as KEY=VALUE (repeatable)")

	return cmd
}

// runFlags — флаги команды run.
type runFlags struct {
	sets           []string
	maxConcurrency int
	bestEffort     bool
	export         bool
	dbURL          string
	amqpURL        string
}

// overrides собирает опции из --set и флагов движка.
func (f *runFlags) overrides(cmd *cobra.Command) (config.Options, error) {
	opts, err := ParseSet(f.sets)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = make(config.Options)
	}
	if cmd.Flags().Changed("max-concurrency") {
		opts["engine.max_concurrency"] = f.maxConcurrency
	}
	if cmd.Flags().Changed("best-effort") {
		opts["engine.best_effort_aggregation"] = f.bestEffort
	}
	return opts, nil
}

// NewRunCmd создаёт команду run: построить и выполнить граф локально.
func NewRunCmd(outputFn func() *Output, loggerFn func() *slog.Logger) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run STUDY",
		Short: "Build and execute a study locally",
		Long: `Build and execute a study locally.

Artifacts are kept in memory unless --db is given, in which case they are
stored in PostgreSQL and reused by later runs. With --amqp node and run
events are published to RabbitMQ for 'neuroflow watch'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			logger := loggerFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			study, err := config.Load(args[0])
			if err != nil {
				return err
			}
			overrides, err := flags.overrides(cmd)
			if err != nil {
				return err
			}

			cfg := runner.Config{Overrides: overrides, Logger: logger}

			if flags.dbURL != "" {
				pool, err := repo.NewPool(ctx, flags.dbURL)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := repo.Migrate(ctx, pool); err != nil {
					return err
				}
				cfg.Store = repo.NewArtifactRepo(pool)
				cfg.Reports = repo.NewRunRepo(pool)
			}

			if flags.amqpURL != "" {
				conn, err := mq.NewConnection(flags.amqpURL, logger)
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := mq.SetupTopology(ctx, conn); err != nil {
					return err
				}
				cfg.Events = mq.NewPublisher(conn, logger)
			}

			report, err := runner.New(cfg).Run(ctx, study, nil)
			if err != nil {
				return err
			}

			printReport(out, report)

			if flags.export {
				exported, err := runner.Export(report, study.OutputDir)
				if err != nil {
					return err
				}
				out.Notice("Exported %d outputs to %s", len(exported), study.OutputDir)
			}

			return exitStatus(report.Status)
		},
	}

	cmd.Flags().StringArrayVar(&flags.sets, "set", nil, "Override an option as KEY=VALUE (repeatable)")
	cmd.Flags().IntVar(&flags.maxConcurrency, "max-concurrency", 0, "Maximum number of concurrently executing nodes")
	cmd.Flags().BoolVar(&flags.bestEffort, "best-effort", false, "Aggregate group templates over successful subjects only")
	cmd.Flags().BoolVar(&flags.export, "export", false, "Copy final outputs into the study output_dir")
	cmd.Flags().StringVar(&flags.dbURL, "db", "", "PostgreSQL URL for the artifact store and run reports")
	cmd.Flags().StringVar(&flags.amqpURL, "amqp", "", "RabbitMQ URL for publishing run events")

	return cmd
}

// ExitError — run завершился, но не успешно.
type ExitError struct {
	Status domain.RunStatus
}

func (e *ExitError) Error() string {
	return "run finished with status " + string(e.Status)
}

func exitStatus(status domain.RunStatus) error {
	if status == domain.RunStatusSucceeded {
		return nil
	}
	return &ExitError{Status: status}
}
