// neuroflow CLI — построение и выполнение графов обработки
// нейровизуализационных исследований.
//
// Использование:
//
//	neuroflow [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	plan       Построить граф исследования
//	run        Выполнить исследование локально
//	watch      Поток событий выполнения из RabbitMQ
//	runs       Отчёты runs на сервере
//	artifacts  Артефакты на сервере
//	schedules  Расписания сервера
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/neuroflow/internal/cli"
	"github.com/shaiso/neuroflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "neuroflow",
		Short:         "neuroflow — neuroimaging pipeline composition and execution",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultAPI := "http://localhost:8080"
	if v := os.Getenv("NEUROFLOW_API_URL"); v != "" {
		defaultAPI = v
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultAPI, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	loggerFn := func() *slog.Logger { return telemetry.SetupLoggerTo(os.Stderr) }

	rootCmd.AddCommand(
		cli.NewPlanCmd(outputFn, loggerFn),
		cli.NewRunCmd(outputFn, loggerFn),
		cli.NewWatchCmd(outputFn, loggerFn),
		cli.NewRunsCmd(clientFn, outputFn),
		cli.NewArtifactsCmd(clientFn, outputFn),
		cli.NewSchedulesCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
