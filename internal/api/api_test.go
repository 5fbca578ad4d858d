package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/mq"
	"github.com/shaiso/neuroflow/internal/repo"
)

type fakeRuns struct {
	reports map[uuid.UUID]*domain.RunReport
	filter  repo.RunFilter
}

func (f *fakeRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.RunReport, error) {
	r, ok := f.reports[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) List(_ context.Context, filter repo.RunFilter) ([]domain.RunSummary, error) {
	f.filter = filter
	result := make([]domain.RunSummary, 0, len(f.reports))
	for _, r := range f.reports {
		if filter.Study != "" && r.Study != filter.Study {
			continue
		}
		result = append(result, r.Summary())
	}
	return result, nil
}

type fakeRequester struct {
	payloads []mq.RunRequestPayload
	err      error
}

func (f *fakeRequester) PublishRunRequested(_ context.Context, p mq.RunRequestPayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

type fakeSchedules []domain.Schedule

func (f fakeSchedules) Schedules() []domain.Schedule { return f }

type fixture struct {
	mux       *http.ServeMux
	runs      *fakeRuns
	store     *artifact.MemStore
	requester *fakeRequester
	runID     uuid.UUID
	artifact  *domain.Artifact
}

func newFixture(t *testing.T, withRequester bool) *fixture {
	t.Helper()

	runID := uuid.New()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := &fakeRuns{reports: map[uuid.UUID]*domain.RunReport{
		runID: {
			RunID:     runID,
			Study:     "memory-clinic",
			Status:    domain.RunStatusPartial,
			StartedAt: started,
			Failures: []domain.Failure{
				{NodeID: "s01/pet/pvc", Subject: "s01", Modality: domain.ModalityPET, Kind: domain.FailureStepExecution, Cause: "exit status 1"},
				{NodeID: "s01/pet/normalize", Subject: "s01", Modality: domain.ModalityPET, Kind: domain.FailureSkipped, Cause: "ancestor s01/pet/pvc did not complete"},
				{NodeID: "s02/pet/pvc", Subject: "s02", Modality: domain.ModalityPET, Kind: domain.FailureStepExecution, Cause: "exit status 2"},
			},
		},
	}}

	store := artifact.NewMemStore()
	a, err := store.Put(context.Background(), &domain.Artifact{
		Type:        domain.ArtifactAnatMNI,
		Modality:    domain.ModalityStructural,
		Subject:     "s01",
		Scope:       domain.ScopeSubject,
		ProducedBy:  "s01/structural/normalize",
		Port:        "warped",
		Fingerprint: "abc123",
		Location:    "/work/structural/s01/normalize/warped.nii.gz",
	})
	if err != nil {
		t.Fatalf("put artifact: %v", err)
	}

	cfg := Config{
		Runs:      runs,
		Artifacts: store,
		Schedules: fakeSchedules{{Name: "memory-clinic", Study: "study.yaml", CronExpr: "0 3 * * *", Enabled: true}},
	}
	f := &fixture{runs: runs, store: store, runID: runID, artifact: a}
	if withRequester {
		f.requester = &fakeRequester{}
		cfg.Requester = f.requester
	}

	f.mux = http.NewServeMux()
	NewHandler(cfg).RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestGetRun(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/v1/runs/"+f.runID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	resp := decode[struct{ Data domain.RunReport }](t, rec)
	if resp.Data.RunID != f.runID || resp.Data.Status != domain.RunStatusPartial {
		t.Errorf("report = %s/%s, want %s/PARTIAL", resp.Data.RunID, resp.Data.Status, f.runID)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown run: status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/v1/runs?study=memory-clinic&status=PARTIAL&limit=10&offset=x", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	want := repo.RunFilter{Study: "memory-clinic", Status: domain.RunStatusPartial, Limit: 10, Offset: 0}
	if diff := cmp.Diff(want, f.runs.filter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}

	resp := decode[struct {
		Data  []domain.RunSummary
		Total int
	}](t, rec)
	if resp.Total != 1 || resp.Data[0].RunID != f.runID {
		t.Errorf("runs = %+v, want the single fixture run", resp.Data)
	}
}

func TestListRunFailures(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/v1/runs/"+f.runID.String()+"/failures?subject=s01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[struct{ Data []domain.Failure }](t, rec)
	var ids []string
	for _, fl := range resp.Data {
		ids = append(ids, fl.NodeID)
	}
	if diff := cmp.Diff([]string{"s01/pet/pvc", "s01/pet/normalize"}, ids); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
}

func TestArtifacts(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/v1/artifacts/abc123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[struct{ Data domain.Artifact }](t, rec)
	if got.Data.ID != f.artifact.ID || got.Data.Location != f.artifact.Location {
		t.Errorf("artifact = %+v, want %+v", got.Data, f.artifact)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/artifacts/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing artifact: status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/artifacts?subject=s01&modality=structural", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", rec.Code)
	}
	list := decode[struct{ Total int }](t, rec)
	if list.Total != 1 {
		t.Errorf("list total = %d, want 1", list.Total)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/artifacts?modality=xray", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown modality: status = %d, want 400", rec.Code)
	}
}

func TestRequestRun(t *testing.T) {
	f := newFixture(t, true)

	runID := uuid.New()
	rec := f.do(t, http.MethodPost, "/api/v1/runs", RunRequest{
		Study:   "/studies/memory-clinic.yaml",
		Options: map[string]any{"pet.pvc": "rbv"},
		RunID:   &runID,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	want := []mq.RunRequestPayload{{
		RunID:   runID,
		Study:   "/studies/memory-clinic.yaml",
		Options: map[string]any{"pet.pvc": "rbv"},
	}}
	if diff := cmp.Diff(want, f.requester.payloads); diff != "" {
		t.Errorf("published payloads mismatch (-want +got):\n%s", diff)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/runs", RunRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty study: status = %d, want 400", rec.Code)
	}

	f.requester.err = errors.New("channel closed")
	if rec := f.do(t, http.MethodPost, "/api/v1/runs", RunRequest{Study: "s.yaml"}); rec.Code != http.StatusInternalServerError {
		t.Errorf("publish failure: status = %d, want 500", rec.Code)
	}

	f.requester.err = fmt.Errorf("publish: %w", mq.ErrNotConnected)
	rec = f.do(t, http.MethodPost, "/api/v1/runs", RunRequest{Study: "s.yaml"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("broker down: status = %d, want 503", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error.Code != ErrCodeUnavailable {
		t.Errorf("broker down: code = %s, want %s", got.Error.Code, ErrCodeUnavailable)
	}
}

func TestRequestRun_NoQueue(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/runs", RunRequest{Study: "s.yaml"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestListSchedules(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/v1/schedules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[struct{ Data []domain.Schedule }](t, rec)
	if len(resp.Data) != 1 || resp.Data[0].Name != "memory-clinic" {
		t.Errorf("schedules = %+v", resp.Data)
	}
}

func TestRecovery(t *testing.T) {
	h := Chain(Observe(slog.Default()), Recovery())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("expected request id header")
	}
}

func TestObserve_KeepsIncomingRequestID(t *testing.T) {
	f := newFixture(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}
