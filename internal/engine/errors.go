package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/neuroflow/internal/domain"
)

// Ошибки построения графа.
var (
	// ErrDuplicateNode — узел с таким ID уже добавлен.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrMissingDependency — ребро ссылается на несуществующий узел.
	ErrMissingDependency = errors.New("node depends on unknown node")

	// ErrSelfDependency — узел зависит от самого себя.
	ErrSelfDependency = errors.New("node depends on itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrUnresolvedDependency — вход узла или модальность-предпосылка недоступны.
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// ErrNoSubjects — граф строится для пустой когорты.
	ErrNoSubjects = errors.New("no subjects to build graph for")
)

// UnresolvedDependencyError — недоступная предпосылка.
//
// Для модальности: Requires содержит выключенную модальность-предпосылку.
// Для входа узла: Subject и Slot указывают на экземпляр, Type — на тип
// артефакта, который не удалось найти ни в графе, ни среди внешних данных.
type UnresolvedDependencyError struct {
	Modality domain.Modality
	Requires domain.Modality
	Subject  string
	Slot     string
	Type     domain.ArtifactType
}

// Error реализует интерфейс error.
func (e *UnresolvedDependencyError) Error() string {
	if e.Requires != "" {
		return fmt.Sprintf("modality %s requires %s from %s, which is not enabled", e.Modality, e.Type, e.Requires)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "modality %s", e.Modality)
	if e.Subject != "" {
		fmt.Fprintf(&b, " subject %s", e.Subject)
	}
	if e.Slot != "" {
		fmt.Fprintf(&b, " slot %s", e.Slot)
	}
	fmt.Fprintf(&b, ": no source for %s", e.Type)
	return b.String()
}

// Unwrap возвращает ErrUnresolvedDependency.
func (e *UnresolvedDependencyError) Unwrap() error {
	return ErrUnresolvedDependency
}

// CyclicDependencyError — цикл в зависимостях между модальностями.
type CyclicDependencyError struct {
	Modalities []domain.Modality
}

// Error реализует интерфейс error.
func (e *CyclicDependencyError) Error() string {
	names := make([]string, len(e.Modalities))
	for i, m := range e.Modalities {
		names[i] = string(m)
	}
	return "cyclic dependency between modalities: " + strings.Join(names, ", ")
}

// Unwrap возвращает ErrCyclicDependency.
func (e *CyclicDependencyError) Unwrap() error {
	return ErrCyclicDependency
}

// CycleError — цикл в DAG. Nodes — узлы, не попавшие в топологический порядок.
type CycleError struct {
	Nodes []string
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	return "cyclic dependency detected among: " + strings.Join(e.Nodes, ", ")
}

// Unwrap возвращает ErrCyclicDependency.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
