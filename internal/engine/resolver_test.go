package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/pipeline"
)

func TestResolve_Order(t *testing.T) {
	reg := pipeline.Builtin()

	res, err := Resolve(reg, []domain.Modality{
		domain.ModalityTractography,
		domain.ModalityDiffusion,
		domain.ModalityStructural,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []domain.Modality{domain.ModalityStructural, domain.ModalityDiffusion, domain.ModalityTractography}
	if len(res.Order) != len(want) {
		t.Fatalf("expected %v, got %v", want, res.Order)
	}
	for i := range want {
		if res.Order[i] != want[i] {
			t.Errorf("expected %v, got %v", want, res.Order)
			break
		}
	}

	from, ok := res.Provider(domain.ModalityTractography, domain.ArtifactDWIEddy)
	if !ok || from != domain.ModalityDiffusion {
		t.Errorf("dwi.eddy should come from diffusion, got %s (%v)", from, ok)
	}
	if _, ok := res.Provider(domain.ModalityStructural, domain.ArtifactAnatRaw); ok {
		t.Error("structural has no bindings")
	}
}

func TestResolve_AllModalities(t *testing.T) {
	reg := pipeline.Builtin()

	res, err := Resolve(reg, reg.Modalities())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[domain.Modality]int)
	for i, m := range res.Order {
		pos[m] = i
	}
	edges := [][2]domain.Modality{
		{domain.ModalityStructural, domain.ModalityPET},
		{domain.ModalityStructural, domain.ModalityFunctional},
		{domain.ModalityStructural, domain.ModalityDiffusion},
		{domain.ModalityDiffusion, domain.ModalityTractography},
		{domain.ModalityTractography, domain.ModalityConnectivity},
		{domain.ModalityFunctional, domain.ModalityICA},
	}
	for _, e := range edges {
		if pos[e[0]] >= pos[e[1]] {
			t.Errorf("%s must precede %s in %v", e[0], e[1], res.Order)
		}
	}
}

func TestResolve_Unresolved(t *testing.T) {
	reg := pipeline.Builtin()

	tests := []struct {
		name     string
		enabled  []domain.Modality
		modality domain.Modality
		requires domain.Modality
	}{
		{
			name:     "tractography without diffusion",
			enabled:  []domain.Modality{domain.ModalityStructural, domain.ModalityTractography},
			modality: domain.ModalityTractography,
			requires: domain.ModalityDiffusion,
		},
		{
			name:     "pet without structural",
			enabled:  []domain.Modality{domain.ModalityPET},
			modality: domain.ModalityPET,
			requires: domain.ModalityStructural,
		},
		{
			name:     "ica without functional",
			enabled:  []domain.Modality{domain.ModalityStructural, domain.ModalityICA},
			modality: domain.ModalityICA,
			requires: domain.ModalityFunctional,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(reg, tt.enabled)
			if res != nil {
				t.Error("expected nil resolution")
			}
			var unresolved *UnresolvedDependencyError
			if !errors.As(err, &unresolved) {
				t.Fatalf("expected *UnresolvedDependencyError, got %v", err)
			}
			if unresolved.Modality != tt.modality || unresolved.Requires != tt.requires {
				t.Errorf("unexpected error fields: %+v", unresolved)
			}
			if !errors.Is(err, ErrUnresolvedDependency) {
				t.Error("expected errors.Is(err, ErrUnresolvedDependency)")
			}
		})
	}
}

func TestResolve_UnknownModality(t *testing.T) {
	reg := pipeline.NewRegistry()
	_, err := Resolve(reg, []domain.Modality{domain.ModalityPET})
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Errorf("expected pipeline.ErrNotFound, got %v", err)
	}
}

// fakeTemplates обходит проверки реестра, чтобы получить цикл.
type fakeTemplates struct {
	order     []domain.Modality
	templates map[domain.Modality]pipeline.Template
}

func (f *fakeTemplates) Modalities() []domain.Modality { return f.order }

func (f *fakeTemplates) Get(m domain.Modality) (pipeline.Template, error) {
	t, ok := f.templates[m]
	if !ok {
		return pipeline.Template{}, fmt.Errorf("%w: %s", pipeline.ErrNotFound, m)
	}
	return t, nil
}

func TestResolve_Cycle(t *testing.T) {
	a, b := domain.ModalityFunctional, domain.ModalityICA
	src := &fakeTemplates{
		order: []domain.Modality{a, b},
		templates: map[domain.Modality]pipeline.Template{
			a: {Modality: a, Requires: []pipeline.Dependency{{Modality: b, Type: domain.ArtifactICAComponents}}},
			b: {Modality: b, Requires: []pipeline.Dependency{{Modality: a, Type: domain.ArtifactFMRIMNI}}},
		},
	}

	_, err := Resolve(src, []domain.Modality{a, b})
	var cyclic *CyclicDependencyError
	if !errors.As(err, &cyclic) {
		t.Fatalf("expected *CyclicDependencyError, got %v", err)
	}
	if len(cyclic.Modalities) != 2 {
		t.Errorf("expected 2 modalities in cycle, got %v", cyclic.Modalities)
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Error("expected errors.Is(err, ErrCyclicDependency)")
	}
}

func TestResolve_SelfCycle(t *testing.T) {
	m := domain.ModalityPET
	src := &fakeTemplates{
		order: []domain.Modality{m},
		templates: map[domain.Modality]pipeline.Template{
			m: {Modality: m, Requires: []pipeline.Dependency{{Modality: m, Type: domain.ArtifactPETMNI}}},
		},
	}

	_, err := Resolve(src, []domain.Modality{m})
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}
