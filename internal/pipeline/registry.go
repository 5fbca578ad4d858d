package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
)

// Registry — реестр шаблонов пайплайнов.
//
// Регистрация только добавляет шаблоны и проверяет их сразу, поэтому
// ошибки схемы обнаруживаются при старте процесса, а не при построении
// графа. Порядок регистрации сохраняется и используется для
// детерминированного разрешения зависимостей.
type Registry struct {
	mu        sync.RWMutex
	templates map[domain.Modality]*Template
	order     []domain.Modality
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[domain.Modality]*Template),
	}
}

// Register проверяет и добавляет шаблон.
func (r *Registry) Register(t Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[t.Modality]; exists {
		return schemaError(t.Modality, "", "already registered")
	}
	if err := r.validate(&t); err != nil {
		return err
	}

	r.templates[t.Modality] = &t
	r.order = append(r.order, t.Modality)
	return nil
}

// MustRegister регистрирует шаблон и паникует при ошибке.
// Используется для встроенного каталога.
func (r *Registry) MustRegister(t Template) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get возвращает шаблон модальности.
func (r *Registry) Get(m domain.Modality) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[m]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, m)
	}
	return *t, nil
}

// Has проверяет, зарегистрирован ли шаблон.
func (r *Registry) Has(m domain.Modality) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[m]
	return ok
}

// Modalities возвращает модальности в порядке регистрации.
func (r *Registry) Modalities() []domain.Modality {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Modality, len(r.order))
	copy(result, r.order)
	return result
}

// Index возвращает позицию модальности в порядке регистрации или -1.
func (r *Registry) Index(m domain.Modality) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, known := range r.order {
		if known == m {
			return i
		}
	}
	return -1
}

// StepTypes возвращает все типы шагов, на которые ссылаются шаблоны,
// включая шаги групповых фаз.
func (r *Registry) StepTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, t := range r.templates {
		for _, slot := range t.Slots {
			for _, v := range slot.Variants {
				seen[v.Step] = true
			}
		}
		if t.Group != nil {
			seen[t.Group.ScatterStep] = true
			seen[t.Group.AggregateStep] = true
			seen[t.Group.RenormStep] = true
		}
	}

	types := make([]string, 0, len(seen))
	for s := range seen {
		types = append(types, s)
	}
	sort.Strings(types)
	return types
}

// Enabled вычисляет включённые модальности.
//
// Модальность с сырыми данными включена, если хотя бы у одного субъекта
// есть все её сырые входы. OptIn-модальность включена только ключом
// modalities.<m>: true. Ключ modalities.<m>: false выключает любую
// модальность, true включает даже без данных (тогда построитель графа
// сообщит о недостающих входах).
func (r *Registry) Enabled(opts config.Options, subjects []domain.Subject) []domain.Modality {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Modality, 0, len(r.order))
	for _, m := range r.order {
		t := r.templates[m]

		explicit, present, err := opts.Bool("modalities." + string(m))
		if err == nil && present {
			if explicit {
				result = append(result, m)
			}
			continue
		}
		if t.OptIn {
			continue
		}

		for _, s := range subjects {
			if hasAll(&s, t.RawInputs) {
				result = append(result, m)
				break
			}
		}
	}
	return result
}

func hasAll(s *domain.Subject, types []domain.ArtifactType) bool {
	if len(types) == 0 {
		return false
	}
	for _, at := range types {
		if !s.Has(at) {
			return false
		}
	}
	return true
}

// validate проверяет шаблон. Вызывается под блокировкой.
func (r *Registry) validate(t *Template) error {
	m := t.Modality
	if m == "" {
		return schemaError(m, "", "empty modality")
	}
	if len(t.Slots) == 0 {
		return schemaError(m, "", "template has no slots")
	}

	// Артефакты, доступные слоту: сырые, внешние, от других модальностей
	// и выходы предыдущих слотов.
	available := make(map[domain.ArtifactType]bool)
	for _, at := range t.RawInputs {
		available[at] = true
	}
	for _, at := range t.External {
		available[at] = true
	}

	for _, dep := range t.Requires {
		if dep.Modality == m {
			return schemaError(m, "", "template requires its own output "+string(dep.Type))
		}
		provider, ok := r.templates[dep.Modality]
		if !ok {
			return schemaError(m, "", fmt.Sprintf("requires %s from unregistered modality %s", dep.Type, dep.Modality))
		}
		if !provides(provider, dep.Type) {
			return schemaError(m, "", fmt.Sprintf("requires %s which %s does not provide", dep.Type, dep.Modality))
		}
		available[dep.Type] = true
	}

	seen := make(map[string]bool)
	for i := range t.Slots {
		slot := &t.Slots[i]
		if err := validateSlot(m, slot, seen, available); err != nil {
			return err
		}
		seen[slot.ID] = true
		for _, p := range slot.Variants[0].Outputs {
			available[p.Type] = true
		}
	}

	for _, at := range t.Provides {
		if !t.Produces(at) {
			return schemaError(m, "", "provides "+string(at)+" but no unconditional slot produces it")
		}
	}
	if t.Final != "" && !t.Produces(t.Final) {
		return schemaError(m, "", "final output "+string(t.Final)+" is not produced by an unconditional slot")
	}

	if g := t.Group; g != nil {
		tail, ok := t.Slot(g.TailSlot)
		if !ok {
			return schemaError(m, g.TailSlot, "group tail slot does not exist")
		}
		if tail.When != nil {
			return schemaError(m, g.TailSlot, "group tail slot must be unconditional")
		}
		if g.Flag == "" || g.IntermediateType == "" || g.TemplateType == "" {
			return schemaError(m, g.TailSlot, "group spec requires flag, intermediate and template types")
		}
		if g.ScatterStep == "" || g.AggregateStep == "" || g.RenormStep == "" {
			return schemaError(m, g.TailSlot, "group spec requires scatter, aggregate and renormalize steps")
		}
	}

	return nil
}

// validateSlot проверяет варианты слота на взаимозаменяемость и доступность входов.
func validateSlot(m domain.Modality, slot *Slot, seen map[string]bool, available map[domain.ArtifactType]bool) error {
	if slot.ID == "" {
		return schemaError(m, "", "slot has empty ID")
	}
	if seen[slot.ID] {
		return schemaError(m, slot.ID, "duplicate slot ID")
	}
	if len(slot.Variants) == 0 {
		return schemaError(m, slot.ID, "slot has no variants")
	}
	if len(slot.Variants) > 1 && slot.Select == nil {
		return schemaError(m, slot.ID, "conditional slot has no selector")
	}

	first := slot.Variants[0]
	if len(first.Outputs) == 0 {
		return schemaError(m, slot.ID, "variant "+string(first.ID)+" declares no outputs")
	}

	ids := make(map[VariantID]bool)
	for _, v := range slot.Variants {
		if v.ID == "" {
			return schemaError(m, slot.ID, "variant has empty ID")
		}
		if ids[v.ID] {
			return schemaError(m, slot.ID, "duplicate variant "+string(v.ID))
		}
		ids[v.ID] = true

		if v.Step == "" {
			return schemaError(m, slot.ID, "variant "+string(v.ID)+" has no step type")
		}
		if !samePorts(first.Inputs, v.Inputs) {
			return schemaError(m, slot.ID, fmt.Sprintf("variant %s inputs differ from variant %s", v.ID, first.ID))
		}
		if !samePorts(first.Outputs, v.Outputs) {
			return schemaError(m, slot.ID, fmt.Sprintf("variant %s outputs differ from variant %s", v.ID, first.ID))
		}
	}

	for _, p := range first.Inputs {
		if !available[p.Type] {
			return schemaError(m, slot.ID, fmt.Sprintf("input %s (%s) is not produced upstream", p.Name, p.Type))
		}
	}
	return nil
}

// provides проверяет, объявляет ли шаблон артефакт в Provides.
func provides(t *Template, at domain.ArtifactType) bool {
	for _, p := range t.Provides {
		if p == at {
			return true
		}
	}
	return false
}

// samePorts сравнивает наборы портов без учёта порядка.
func samePorts(a, b []Port) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[Port]int, len(a))
	for _, p := range a {
		set[p]++
	}
	for _, p := range b {
		if set[p] == 0 {
			return false
		}
		set[p]--
	}
	return true
}
