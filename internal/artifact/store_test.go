package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/neuroflow/internal/domain"
)

func TestMemStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	stored, err := s.Put(ctx, &domain.Artifact{
		Type:        domain.ArtifactAnatBiasCorrected,
		Subject:     "sub-01",
		Scope:       domain.ScopeSubject,
		ProducedBy:  "sub-01/structural/bias_correct",
		Fingerprint: "abc",
		Location:    "/work/a.nii.gz",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected generated ID")
	}
	if stored.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := s.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != stored.ID {
		t.Errorf("expected ID %s, got %s", stored.ID, got.ID)
	}
}

func TestMemStore_PutIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	first, _ := s.Put(ctx, &domain.Artifact{Fingerprint: "fp", Location: "/first"})
	second, err := s.Put(ctx, &domain.Artifact{Fingerprint: "fp", Location: "/second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.ID != first.ID {
		t.Error("second Put should return the existing artifact")
	}
	if second.Location != "/first" {
		t.Errorf("existing artifact must not be overwritten, got location %s", second.Location)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 artifact, got %d", s.Len())
	}
}

func TestMemStore_GetNotFound(t *testing.T) {
	s := NewMemStore()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_PutEmptyFingerprint(t *testing.T) {
	s := NewMemStore()

	_, err := s.Put(context.Background(), &domain.Artifact{Location: "/x"})
	if !errors.Is(err, ErrEmptyFingerprint) {
		t.Errorf("expected ErrEmptyFingerprint, got %v", err)
	}
}

func TestMemStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	s.Put(ctx, &domain.Artifact{Fingerprint: "1", Subject: "sub-01", Type: domain.ArtifactAnatMNI})
	s.Put(ctx, &domain.Artifact{Fingerprint: "2", Subject: "sub-02", Type: domain.ArtifactAnatMNI})
	s.Put(ctx, &domain.Artifact{Fingerprint: "3", Subject: "sub-01", Type: domain.ArtifactPETMNI})

	list, err := s.List(ctx, Filter{Subject: "sub-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 artifacts, got %d", len(list))
	}

	list, _ = s.List(ctx, Filter{Type: domain.ArtifactAnatMNI, Limit: 1})
	if len(list) != 1 {
		t.Errorf("expected limit 1, got %d", len(list))
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	in := KeyInput{
		StepType: "ants.register",
		Slot:     "normalize",
		Variant:  "ants",
		Inputs:   map[string]string{"image": "aaa", "mask": "bbb"},
		Params:   map[string]any{"fwhm": 8.0, "iterations": []any{100, 50}},
	}

	k1, err := CacheKey(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, _ := CacheKey(in)
	if k1 != k2 {
		t.Error("cache key must be deterministic")
	}

	in.Params = map[string]any{"fwhm": 6.0, "iterations": []any{100, 50}}
	k3, _ := CacheKey(in)
	if k3 == k1 {
		t.Error("changing params must change the cache key")
	}

	in.Params = map[string]any{"fwhm": 8.0, "iterations": []any{100, 50}}
	in.Inputs = map[string]string{"image": "aaa", "mask": "ccc"}
	k4, _ := CacheKey(in)
	if k4 == k1 {
		t.Error("changing an input fingerprint must change the cache key")
	}
}

func TestOutputFingerprint(t *testing.T) {
	a := OutputFingerprint("key", "warped")
	b := OutputFingerprint("key", "warp_field")
	if a == b {
		t.Error("different ports must have different fingerprints")
	}
	if a != OutputFingerprint("key", "warped") {
		t.Error("output fingerprint must be deterministic")
	}
}

func TestFileFingerprint(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.nii")
	p2 := filepath.Join(dir, "b.nii")
	os.WriteFile(p1, []byte("volume-1"), 0o644)
	os.WriteFile(p2, []byte("volume-1"), 0o644)

	f1, err := FileFingerprint(p1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f2, _ := FileFingerprint(p2)
	if f1 != f2 {
		t.Error("identical contents must give identical fingerprints")
	}

	os.WriteFile(p2, []byte("volume-2"), 0o644)
	f3, _ := FileFingerprint(p2)
	if f3 == f1 {
		t.Error("changed contents must change the fingerprint")
	}

	if _, err := FileFingerprint(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}

	fd, err := FileFingerprint(dir)
	if err != nil {
		t.Fatalf("unexpected error for directory: %v", err)
	}
	if fd == "" {
		t.Error("expected non-empty directory fingerprint")
	}
}

func TestExternal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "atlas.nii")
	os.WriteFile(p, []byte("atlas"), 0o644)

	a, err := External(domain.ArtifactAtlas, "", "", p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Scope != domain.ScopeCohort {
		t.Errorf("expected cohort scope, got %s", a.Scope)
	}
	if !a.IsExternal() {
		t.Error("expected external artifact")
	}

	s, _ := External(domain.ArtifactAnatRaw, domain.ModalityStructural, "sub-01", p)
	if s.Scope != domain.ScopeSubject {
		t.Errorf("expected subject scope, got %s", s.Scope)
	}
}
