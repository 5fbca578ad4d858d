package engine

import (
	"errors"

	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/pipeline"
)

// Templates — источник шаблонов пайплайнов. Реализуется *pipeline.Registry.
type Templates interface {
	Modalities() []domain.Modality
	Get(m domain.Modality) (pipeline.Template, error)
}

// Binding — артефакт, который модальность получает от предпосылки.
type Binding struct {
	From domain.Modality
	Type domain.ArtifactType
}

// Resolution — результат разрешения зависимостей между модальностями.
type Resolution struct {
	// Order — модальности в топологическом порядке.
	Order []domain.Modality

	// Bindings — межмодальные привязки по зависимой модальности.
	Bindings map[domain.Modality][]Binding
}

// Resolve строит граф модальностей по Requires шаблонов и упорядочивает его.
//
// Модальности без взаимных зависимостей идут в порядке регистрации.
// Если предпосылка не включена, возвращается *UnresolvedDependencyError,
// если шаблоны образуют цикл — *CyclicDependencyError.
func Resolve(templates Templates, enabled []domain.Modality) (*Resolution, error) {
	on := make(map[domain.Modality]bool, len(enabled))
	for _, m := range enabled {
		on[m] = true
	}

	dag := NewDAG()
	selected := make([]pipeline.Template, 0, len(enabled))
	known := make(map[domain.Modality]bool)

	for _, m := range templates.Modalities() {
		known[m] = true
		if !on[m] {
			continue
		}
		t, err := templates.Get(m)
		if err != nil {
			return nil, err
		}
		selected = append(selected, t)
		if _, err := dag.AddVertex(string(m)); err != nil {
			return nil, err
		}
	}

	// Включённая модальность без шаблона
	for _, m := range enabled {
		if !known[m] {
			if _, err := templates.Get(m); err != nil {
				return nil, err
			}
		}
	}

	res := &Resolution{
		Bindings: make(map[domain.Modality][]Binding, len(selected)),
	}

	for _, t := range selected {
		bindings := make([]Binding, 0, len(t.Requires))
		for _, dep := range t.Requires {
			if !on[dep.Modality] {
				return nil, &UnresolvedDependencyError{
					Modality: t.Modality,
					Requires: dep.Modality,
					Type:     dep.Type,
				}
			}
			if dep.Modality == t.Modality {
				return nil, &CyclicDependencyError{Modalities: []domain.Modality{t.Modality}}
			}
			if err := dag.AddEdge(string(dep.Modality), string(t.Modality)); err != nil {
				return nil, err
			}
			bindings = append(bindings, Binding{From: dep.Modality, Type: dep.Type})
		}
		res.Bindings[t.Modality] = bindings
	}

	order, err := dag.Sort()
	if err != nil {
		var cycle *CycleError
		if errors.As(err, &cycle) {
			mods := make([]domain.Modality, len(cycle.Nodes))
			for i, id := range cycle.Nodes {
				mods[i] = domain.Modality(id)
			}
			return nil, &CyclicDependencyError{Modalities: mods}
		}
		return nil, err
	}

	res.Order = make([]domain.Modality, len(order))
	for i, v := range order {
		res.Order[i] = domain.Modality(v.ID)
	}
	return res, nil
}

// Provider возвращает модальность-предпосылку, от которой приходит тип at.
func (r *Resolution) Provider(m domain.Modality, at domain.ArtifactType) (domain.Modality, bool) {
	for _, b := range r.Bindings[m] {
		if b.Type == at {
			return b.From, true
		}
	}
	return "", false
}
