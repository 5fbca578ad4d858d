package engine

import (
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/pipeline"
)

// CohortSubject — префикс ID узлов уровня когорты.
const CohortSubject = "cohort"

// ExternalInput — внешний файл, поступающий в граф: сырые данные субъекта,
// атлас или готовый групповой шаблон.
type ExternalInput struct {
	Type     domain.ArtifactType
	Modality domain.Modality
	Subject  string // пустой для файлов когорты
	Location string
}

// Key — ключ внешнего входа, уникальный в графе.
func (e ExternalInput) Key() string {
	return e.Subject + "|" + string(e.Type) + "|" + e.Location
}

// InputBinding — источник одного входа узла.
//
// Либо выход другого узла (FromNode, FromPort), либо внешний файл.
type InputBinding struct {
	Port     string
	Type     domain.ArtifactType
	FromNode string
	FromPort string
	Subject  string
	External *ExternalInput
}

// IsExternal возвращает true для внешнего входа.
func (b InputBinding) IsExternal() bool {
	return b.External != nil
}

// Node — экземпляр варианта слота, привязанный к конкретным входам.
type Node struct {
	// ID — "<subject>/<modality>/<slot>" или "cohort/<modality>/<slot>".
	ID string

	Modality domain.Modality
	Subject  string // пустой для узлов когорты
	Slot     string
	Variant  pipeline.VariantID
	Kind     domain.NodeKind
	Step     string

	// Inputs — привязки входов в порядке портов варианта.
	// У узла агрегации на порт приходится по привязке на субъекта.
	Inputs []InputBinding

	// Outputs — объявленные выходные порты.
	Outputs []pipeline.Port

	// Params — статические параметры варианта и значения опций из Variant.Params.
	Params map[string]any

	// DependsOn и Dependents — ID соседних узлов.
	DependsOn  []string
	Dependents []string
}

// IsCohort возвращает true для узла уровня когорты.
func (n *Node) IsCohort() bool {
	return n.Subject == ""
}

// OutputType возвращает тип артефакта выходного порта.
func (n *Node) OutputType(port string) (domain.ArtifactType, bool) {
	for _, p := range n.Outputs {
		if p.Name == port {
			return p.Type, true
		}
	}
	return "", false
}

// Output — запрошенный итоговый артефакт экземпляра пайплайна.
type Output struct {
	Subject  string
	Modality domain.Modality
	Type     domain.ArtifactType
	NodeID   string
	Port     string
}

// Instance — экземпляр пайплайна (модальность × субъект).
type Instance struct {
	Modality domain.Modality
	Subject  string
}

// RunGraph — полный граф run для всей когорты.
type RunGraph struct {
	// Nodes — узлы в топологическом порядке.
	Nodes []*Node

	// Modalities — модальности в порядке разрешения.
	Modalities []domain.Modality

	// Subjects — ID субъектов в порядке входа.
	Subjects []string

	// Selections — выбранный вариант по "<modality>.<slot>".
	Selections map[string]string

	// External — внешние входы графа.
	External []ExternalInput

	// Outputs — итоговые артефакты каждого экземпляра пайплайна.
	Outputs []Output

	// Groups — применённые групповые перезаписи.
	Groups []GroupPlan

	byID map[string]*Node
}

// Node возвращает узел по ID.
func (g *RunGraph) Node(id string) (*Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// Len возвращает количество узлов.
func (g *RunGraph) Len() int {
	return len(g.Nodes)
}

// Instances возвращает экземпляры пайплайнов в порядке модальностей и субъектов.
func (g *RunGraph) Instances() []Instance {
	result := make([]Instance, 0, len(g.Modalities)*len(g.Subjects))
	for _, m := range g.Modalities {
		for _, s := range g.Subjects {
			result = append(result, Instance{Modality: m, Subject: s})
		}
	}
	return result
}

// NodesOf возвращает узлы экземпляра пайплайна. Для узлов когорты subject пустой.
func (g *RunGraph) NodesOf(m domain.Modality, subject string) []*Node {
	result := make([]*Node, 0)
	for _, n := range g.Nodes {
		if n.Modality == m && n.Subject == subject {
			result = append(result, n)
		}
	}
	return result
}

// NodesByKind возвращает узлы с заданной ролью.
func (g *RunGraph) NodesByKind(kind domain.NodeKind) []*Node {
	result := make([]*Node, 0)
	for _, n := range g.Nodes {
		if n.Kind == kind {
			result = append(result, n)
		}
	}
	return result
}

// StepTypes возвращает типы шагов, используемые графом, без повторов.
func (g *RunGraph) StepTypes() []string {
	seen := make(map[string]bool)
	result := make([]string, 0)
	for _, n := range g.Nodes {
		if !seen[n.Step] {
			seen[n.Step] = true
			result = append(result, n.Step)
		}
	}
	return result
}

// NodeID формирует ID узла.
func NodeID(subject string, m domain.Modality, slot string) string {
	if subject == "" {
		subject = CohortSubject
	}
	return subject + "/" + string(m) + "/" + slot
}
