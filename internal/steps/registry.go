package steps

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
)

// Registry — реализации шагов по типу. Безопасен для конкурентного чтения.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Step
}

// NewRegistry создаёт реестр с шагами steps.
func NewRegistry(steps ...Step) *Registry {
	r := &Registry{byType: make(map[string]Step, len(steps))}
	for _, s := range steps {
		r.byType[s.Type()] = s
	}
	return r
}

// DefaultRegistry привязывает каждый тип из stepTypes к обёртке
// <toolsDir>/<type>, вызываемой как CommandStep.
func DefaultRegistry(toolsDir string, stepTypes []string) *Registry {
	steps := make([]Step, 0, len(stepTypes))
	for _, t := range stepTypes {
		steps = append(steps, NewCommandStep(t, filepath.Join(toolsDir, t)))
	}
	return NewRegistry(steps...)
}

// Register добавляет шаг, заменяя прежний шаг того же типа.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	r.byType[step.Type()] = step
	r.mu.Unlock()
}

// Get возвращает шаг типа stepType или ErrStepNotFound.
func (r *Registry) Get(stepType string) (Step, error) {
	r.mu.RLock()
	step, ok := r.byType[stepType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}
	return step, nil
}

// Has сообщает, есть ли реализация для stepType.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byType[stepType]
	return ok
}

// Types — зарегистрированные типы по алфавиту.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byType))
}

// Len — число зарегистрированных шагов.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}
