package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/domain"
)

// testPool подключается к БД из NEUROFLOW_TEST_DB и пропускает тест,
// если переменная не задана.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("NEUROFLOW_TEST_DB")
	if dsn == "" {
		t.Skip("NEUROFLOW_TEST_DB not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestRunRepo_SaveAndGet(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	runs := NewRunRepo(pool)

	report := &domain.RunReport{
		RunID:     uuid.New(),
		Study:     "repo-test",
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := runs.SaveReport(ctx, report); err != nil {
		t.Fatalf("save running: %v", err)
	}

	report.Status = domain.RunStatusPartial
	report.FinishedAt = report.StartedAt.Add(time.Minute)
	report.Failures = []domain.Failure{{NodeID: "s01/pet/pvc", Subject: "s01", Modality: domain.ModalityPET, Kind: domain.FailureStepExecution, Cause: "boom"}}
	if err := runs.SaveReport(ctx, report); err != nil {
		t.Fatalf("save final: %v", err)
	}

	got, err := runs.GetByID(ctx, report.RunID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.RunStatusPartial || len(got.Failures) != 1 {
		t.Errorf("unexpected report: %+v", got)
	}

	list, err := runs.List(ctx, RunFilter{Study: "repo-test", Status: domain.RunStatusPartial})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, s := range list {
		if s.RunID == report.RunID {
			found = true
			if s.FinishedAt == nil {
				t.Error("finished_at should be set")
			}
		}
	}
	if !found {
		t.Error("saved run not listed")
	}
}

func TestRunRepo_NotFound(t *testing.T) {
	pool := testPool(t)
	_, err := NewRunRepo(pool).GetByID(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRepo_InvalidReport(t *testing.T) {
	// Проверка выполняется до обращения к БД
	err := NewRunRepo(nil).SaveReport(context.Background(), &domain.RunReport{})
	if !errors.Is(err, ErrInvalidReport) {
		t.Errorf("expected ErrInvalidReport, got %v", err)
	}
}

func TestArtifactRepo_AppendOnly(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewArtifactRepo(pool)

	fp := uuid.NewString()
	first, err := store.Put(ctx, &domain.Artifact{
		Type:        domain.ArtifactAnatMNI,
		Modality:    domain.ModalityStructural,
		Subject:     "s01",
		Scope:       domain.ScopeSubject,
		ProducedBy:  "s01/structural/normalize",
		Port:        "warped",
		Fingerprint: fp,
		Location:    "/work/a",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	second, err := store.Put(ctx, &domain.Artifact{
		Type:        domain.ArtifactAnatMNI,
		Scope:       domain.ScopeSubject,
		Fingerprint: fp,
		Location:    "/work/b",
	})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if second.ID != first.ID || second.Location != "/work/a" {
		t.Errorf("expected existing artifact, got %+v", second)
	}

	list, err := store.List(ctx, artifact.Filter{ProducedBy: "s01/structural/normalize"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) == 0 {
		t.Error("expected artifact in list")
	}

	if _, err := store.Get(ctx, uuid.NewString()); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("expected artifact.ErrNotFound, got %v", err)
	}
}

func TestArtifactRepo_EmptyFingerprint(t *testing.T) {
	_, err := NewArtifactRepo(nil).Put(context.Background(), &domain.Artifact{})
	if !errors.Is(err, artifact.ErrEmptyFingerprint) {
		t.Errorf("expected ErrEmptyFingerprint, got %v", err)
	}
}

func TestLeader_SingleHolder(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	key := SchedulerLockKey + 1
	a := NewLeader(pool, key)
	b := NewLeader(pool, key)
	defer a.Release(ctx)
	defer b.Release(ctx)

	ok, err := a.IsLeader(ctx)
	if err != nil || !ok {
		t.Fatalf("first leader: ok=%v err=%v", ok, err)
	}
	if ok, err := b.IsLeader(ctx); err != nil || ok {
		t.Fatalf("second leader while first holds the lock: ok=%v err=%v", ok, err)
	}
	if ok, err := a.IsLeader(ctx); err != nil || !ok {
		t.Fatalf("leader lost the lock: ok=%v err=%v", ok, err)
	}

	a.Release(ctx)
	if ok, err := b.IsLeader(ctx); err != nil || !ok {
		t.Fatalf("second leader after release: ok=%v err=%v", ok, err)
	}
}
