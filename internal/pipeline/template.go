package pipeline

import (
	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
)

// VariantID — идентификатор альтернативы внутри слота.
type VariantID string

// Port — именованный вход или выход шага с типом артефакта.
type Port struct {
	Name string
	Type domain.ArtifactType
}

// Variant — одна из взаимоисключающих реализаций слота.
//
// Все варианты слота объявляют одинаковые порты, поэтому взаимозаменяемы.
type Variant struct {
	// ID — идентификатор варианта в слоте.
	ID VariantID

	// Step — тип шага в steps.Registry.
	Step string

	// Inputs и Outputs — порты шага.
	Inputs  []Port
	Outputs []Port

	// Params — ключи опций, значения которых передаются шагу как параметры.
	Params []string

	// Static — фиксированные параметры шага.
	Static map[string]any
}

// Selector выбирает вариант слота по конфигурации. Чистая функция.
type Selector func(opts config.Options) (VariantID, error)

// Condition решает, создавать ли необязательный слот.
// supplied сообщает, передан ли внешний артефакт заданного типа.
type Condition func(opts config.Options, supplied func(domain.ArtifactType) bool) (bool, error)

// Slot — позиция в шаблоне, заполняемая ровно одним вариантом.
type Slot struct {
	// ID — имя слота, уникальное в шаблоне.
	ID string

	// Variants — альтернативы. Один вариант — безусловный слот.
	Variants []Variant

	// Select — селектор варианта. Обязателен, если вариантов больше одного.
	Select Selector

	// When — условие необязательного слота. nil — слот создаётся всегда.
	When Condition

	// Kind — роль узлов слота (заполняется групповой перезаписью).
	Kind domain.NodeKind

	// Scope — cohort для узла агрегации, иначе subject.
	Scope domain.Scope
}

// IsCohort возвращает true для слота уровня когорты.
func (s *Slot) IsCohort() bool {
	return s.Scope == domain.ScopeCohort
}

// NodeKind возвращает роль узлов слота.
func (s *Slot) NodeKind() domain.NodeKind {
	if s.Kind == "" {
		return domain.NodeKindStep
	}
	return s.Kind
}

// Variant возвращает вариант по ID.
func (s *Slot) Variant(id VariantID) (Variant, bool) {
	for _, v := range s.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Dependency — артефакт, который шаблон получает от другой модальности.
type Dependency struct {
	Modality domain.Modality
	Type     domain.ArtifactType
}

// GroupSpec — описание режима группового шаблона.
//
// TailSlot — слот нормализации, который в групповом режиме заменяется на
// scatter → aggregate → renormalize.
type GroupSpec struct {
	// Flag — булев ключ опций, включающий режим.
	Flag string

	// TemplateFile — ключ опций с путём к готовому шаблону.
	TemplateFile string

	// TailSlot — заменяемый слот.
	TailSlot string

	// IntermediateType — промежуточный артефакт субъекта (фаза 1).
	IntermediateType domain.ArtifactType

	// TemplateType — артефакт шаблона когорты (фаза 2).
	TemplateType domain.ArtifactType

	// Шаги трёх фаз.
	ScatterStep   string
	AggregateStep string
	RenormStep    string

	// AggregateParams — ключи опций для шага агрегации.
	AggregateParams []string
}

// Template — декларативное описание пайплайна одной модальности.
type Template struct {
	// Modality — модальность шаблона.
	Modality domain.Modality

	// Slots — слоты в порядке выполнения.
	Slots []Slot

	// Requires — артефакты других модальностей.
	Requires []Dependency

	// Provides — артефакты, от которых могут зависеть другие модальности.
	Provides []domain.ArtifactType

	// RawInputs — сырые данные субъекта.
	RawInputs []domain.ArtifactType

	// External — внешние файлы когорты, которые может потреблять шаблон.
	External []domain.ArtifactType

	// Final — основной итоговый артефакт экземпляра.
	Final domain.ArtifactType

	// OptIn — модальность включается только явно (modalities.<m>: true).
	OptIn bool

	// Group — режим группового шаблона, nil если не поддерживается.
	Group *GroupSpec
}

// Slot возвращает слот по ID.
func (t *Template) Slot(id string) (*Slot, bool) {
	for i := range t.Slots {
		if t.Slots[i].ID == id {
			return &t.Slots[i], true
		}
	}
	return nil, false
}

// Produces проверяет, выдаёт ли безусловный слот артефакт данного типа.
func (t *Template) Produces(at domain.ArtifactType) bool {
	for _, slot := range t.Slots {
		if slot.When != nil || len(slot.Variants) == 0 {
			continue
		}
		for _, p := range slot.Variants[0].Outputs {
			if p.Type == at {
				return true
			}
		}
	}
	return false
}
