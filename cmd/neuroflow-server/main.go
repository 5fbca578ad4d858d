// neuroflow-server — API, исполнитель очереди run.requested и планировщик.
//
// Сервер:
//   - Отдаёт отчёты run и артефакты по HTTP (/api/v1/...)
//   - Выполняет исследования из очереди runs.requested (если доступен RabbitMQ)
//   - Перезапускает исследование из NEUROFLOW_STUDY по его расписанию
//     (только лидер, выбранный через pg_try_advisory_lock)
//   - Отдаёт /healthz и /metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/neuroflow/internal/api"
	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/mq"
	"github.com/shaiso/neuroflow/internal/orchestrator"
	"github.com/shaiso/neuroflow/internal/repo"
	"github.com/shaiso/neuroflow/internal/runner"
	"github.com/shaiso/neuroflow/internal/scheduler"
	"github.com/shaiso/neuroflow/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting neuroflow-server")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, repo.DefaultDSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	runRepo := repo.NewRunRepo(pool)
	artifactRepo := repo.NewArtifactRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.DefaultURL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, queue and events disabled", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		} else {
			logger.Debug("topology configured", "layout", mq.TopologyInfo())
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	runnerCfg := runner.Config{
		Store:   artifactRepo,
		Reports: runRepo,
		Logger:  logger,
	}
	if v := os.Getenv("NEUROFLOW_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Error("invalid NEUROFLOW_MAX_CONCURRENCY", "value", v)
			os.Exit(1)
		}
		runnerCfg.MaxConcurrency = n
	}
	if publisher != nil {
		runnerCfg.Events = publisher
	}
	r := runner.New(runnerCfg)

	// Scheduler
	leader := repo.NewLeader(pool, repo.SchedulerLockKey)
	defer leader.Release(context.Background())

	sched := scheduler.New(scheduler.Config{
		Launch: launcher(ctx, r, publisher, logger),
		Leader: leader.IsLeader,
		Logger: logger,
	})
	if path := os.Getenv("NEUROFLOW_STUDY"); path != "" {
		if err := addStudySchedule(sched, path); err != nil {
			logger.Error("failed to schedule study", "study", path, "error", err)
			os.Exit(1)
		}
	}

	// API
	apiCfg := api.Config{
		Runs:      runRepo,
		Artifacts: artifactRepo,
		Schedules: sched,
		Logger:    logger,
	}
	if publisher != nil {
		apiCfg.Requester = publisher
	}
	handler := api.NewHandler(apiCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		broker := "disabled"
		if mqConn != nil {
			broker = "down"
			if mqConn.IsConnected() {
				broker = "up"
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s broker=%s", time.Since(startTime).Round(time.Second), broker)
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Graceful shutdown с таймаутом 10 секунд
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return ignoreCancel(sched.Run(gctx))
	})

	if mqConn != nil {
		consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:   string(mq.QueueRunsRequested),
			Handler: r.HandleRunRequest,
		})
		g.Go(func() error {
			return ignoreCancel(consumer.Start(gctx))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

// launcher запускает исследование расписания: через очередь, если она
// доступна, иначе в фоне в этом процессе.
func launcher(ctx context.Context, r *runner.Runner, publisher *mq.Publisher, logger *slog.Logger) scheduler.LaunchFunc {
	return func(launchCtx context.Context, sched *domain.Schedule, runID uuid.UUID) error {
		if publisher != nil {
			return publisher.PublishRunRequested(launchCtx, mq.RunRequestPayload{
				RunID: runID,
				Study: sched.Study,
			})
		}

		study, err := config.Load(sched.Study)
		if err != nil {
			return err
		}
		go func() {
			report, err := r.Run(ctx, study, nil, orchestrator.WithRunID(runID))
			if err != nil {
				logger.Error("scheduled run failed", "run_id", runID, "study", study.Name, "error", err)
				return
			}
			logger.Info("scheduled run finished", "run_id", runID, "status", report.Status)
		}()
		return nil
	}
}

// addStudySchedule регистрирует расписание из поля schedule исследования.
func addStudySchedule(sched *scheduler.Scheduler, path string) error {
	study, err := config.Load(path)
	if err != nil {
		return err
	}
	if study.Schedule == "" {
		return nil
	}
	return sched.Add(&domain.Schedule{
		Name:     study.Name,
		Study:    path,
		CronExpr: study.Schedule,
		Timezone: os.Getenv("NEUROFLOW_TZ"),
		Enabled:  true,
	})
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
