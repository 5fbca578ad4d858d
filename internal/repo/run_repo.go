package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/neuroflow/internal/domain"
)

// RunRepo — репозиторий отчётов run.
//
// Отчёт целиком хранится в JSONB, статус и время вынесены в колонки
// для фильтрации. Реализует orchestrator.ReportSink.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// SaveReport создаёт или обновляет отчёт run.
func (r *RunRepo) SaveReport(ctx context.Context, report *domain.RunReport) error {
	if report.RunID == uuid.Nil || report.Status == "" {
		return ErrInvalidReport
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	var finishedAt any
	if !report.FinishedAt.IsZero() {
		finishedAt = report.FinishedAt
	}

	query := `
		INSERT INTO runs (id, study, status, started_at, finished_at, report)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    finished_at = EXCLUDED.finished_at,
		    report = EXCLUDED.report
	`
	_, err = r.pool.Exec(ctx, query,
		report.RunID,
		report.Study,
		report.Status,
		report.StartedAt,
		finishedAt,
		reportJSON,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// GetByID возвращает отчёт run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RunReport, error) {
	var reportJSON []byte
	err := r.pool.QueryRow(ctx, `SELECT report FROM runs WHERE id = $1`, id).Scan(&reportJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	var report domain.RunReport
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Study  string
	Status domain.RunStatus
	Limit  int
	Offset int
}

// List возвращает краткие записи о runs, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.RunSummary, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, study, status, started_at, finished_at
		FROM runs
		WHERE ($1::text IS NULL OR study = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Study),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.RunSummary, 0)
	for rows.Next() {
		var s domain.RunSummary
		if err := rows.Scan(&s.RunID, &s.Study, &s.Status, &s.StartedAt, &s.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
