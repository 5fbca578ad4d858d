package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/domain"
)

// ArtifactRepo — хранилище артефактов в PostgreSQL.
//
// Реализует artifact.Store. Запись только добавляет строки: повторный Put
// с тем же fingerprint возвращает уже сохранённый артефакт.
type ArtifactRepo struct {
	pool *pgxpool.Pool
}

// NewArtifactRepo создаёт новый ArtifactRepo.
func NewArtifactRepo(pool *pgxpool.Pool) *ArtifactRepo {
	return &ArtifactRepo{pool: pool}
}

const artifactColumns = `id, fingerprint, type, modality, subject, scope, produced_by, port, location, created_at`

// Get возвращает артефакт по fingerprint или artifact.ErrNotFound.
func (r *ArtifactRepo) Get(ctx context.Context, fingerprint string) (*domain.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE fingerprint = $1`
	return scanArtifact(r.pool.QueryRow(ctx, query, fingerprint))
}

// Put записывает артефакт, если fingerprint ещё не встречался.
func (r *ArtifactRepo) Put(ctx context.Context, a *domain.Artifact) (*domain.Artifact, error) {
	if a.Fingerprint == "" {
		return nil, artifact.ErrEmptyFingerprint
	}

	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO artifacts (` + artifactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING ` + artifactColumns
	stored, err := scanArtifact(r.pool.QueryRow(ctx, query,
		id,
		a.Fingerprint,
		a.Type,
		a.Modality,
		a.Subject,
		a.Scope,
		a.ProducedBy,
		a.Port,
		a.Location,
		createdAt,
	))
	if errors.Is(err, artifact.ErrNotFound) {
		// Конфликт: артефакт уже записан, в том числе параллельным узлом
		return r.Get(ctx, a.Fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	return stored, nil
}

// List возвращает артефакты по фильтру в порядке создания.
func (r *ArtifactRepo) List(ctx context.Context, filter artifact.Filter) ([]domain.Artifact, error) {
	query := `
		SELECT ` + artifactColumns + `
		FROM artifacts
		WHERE ($1::text IS NULL OR subject = $1)
		  AND ($2::text IS NULL OR modality = $2)
		  AND ($3::text IS NULL OR type = $3)
		  AND ($4::text IS NULL OR produced_by = $4)
		ORDER BY created_at, fingerprint
		LIMIT $5
	`
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}

	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Subject),
		nullString(string(filter.Modality)),
		nullString(string(filter.Type)),
		nullString(filter.ProducedBy),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Artifact, 0)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// scanArtifact сканирует одну строку в Artifact.
// pgx.Rows реализует pgx.Row, поэтому функция подходит для обоих случаев.
func scanArtifact(row pgx.Row) (*domain.Artifact, error) {
	var a domain.Artifact
	err := row.Scan(
		&a.ID,
		&a.Fingerprint,
		&a.Type,
		&a.Modality,
		&a.Subject,
		&a.Scope,
		&a.ProducedBy,
		&a.Port,
		&a.Location,
		&a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	return &a, nil
}
