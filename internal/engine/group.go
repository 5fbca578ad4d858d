package engine

import (
	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/pipeline"
)

// GroupMode — режим группового шаблона для модальности.
type GroupMode string

const (
	// GroupOff — групповой режим выключен, шаблон не меняется.
	GroupOff GroupMode = "off"

	// GroupBuild — шаблон когорты строится: scatter → aggregate → renormalize.
	GroupBuild GroupMode = "build"

	// GroupSupplied — используется готовый файл шаблона, только renormalize.
	GroupSupplied GroupMode = "supplied"
)

// Слоты, которые добавляет групповая перезапись.
const (
	ScatterSlot   = "group_scatter"
	AggregateSlot = "group_template"
)

// Порты узлов групповых фаз.
const (
	portIntermediate = "intermediate"
	portImages       = "images"
	portImage        = "image"
	portTemplate     = "template"
)

// GroupPlan — описание применённой групповой перезаписи.
type GroupPlan struct {
	Modality domain.Modality
	Mode     GroupMode

	// TemplateFile — путь к готовому шаблону в режиме GroupSupplied.
	TemplateFile string

	// RenormSlot — слот, заменивший хвост (ID хвоста сохраняется).
	RenormSlot string
}

// ApplyGroupTemplate переписывает шаблон для группового режима.
//
// Чистая функция Template → Template'. Хвостовой слот заменяется:
//   - GroupBuild: scatter (промежуточный артефакт субъекта), aggregate
//     (слот когорты, шаблон из всех промежуточных), renormalize (промежуточный
//     артефакт + шаблон → исходные выходы хвоста);
//   - GroupSupplied: только renormalize, который берёт входы хвоста
//     и внешний файл шаблона.
//
// Готовый шаблон берётся из опции GroupSpec.TemplateFile, а если она не
// задана, из supplied по типу GroupSpec.TemplateType (внешние файлы
// исследования). supplied может быть nil.
//
// Renormalize сохраняет ID, порты и типы выходов хвоста, поэтому
// зависимые слоты и модальности перезаписи не замечают.
func ApplyGroupTemplate(t pipeline.Template, opts config.Options, supplied map[domain.ArtifactType]string) (pipeline.Template, GroupPlan, error) {
	plan := GroupPlan{Modality: t.Modality, Mode: GroupOff}

	g := t.Group
	if g == nil {
		return t, plan, nil
	}

	on, _, err := opts.Bool(g.Flag)
	if err != nil {
		return t, plan, err
	}
	if !on {
		return t, plan, nil
	}

	idx := -1
	for i := range t.Slots {
		if t.Slots[i].ID == g.TailSlot {
			idx = i
			break
		}
	}
	if idx < 0 {
		return t, plan, &pipeline.SchemaError{Modality: t.Modality, Slot: g.TailSlot, Message: "group tail slot does not exist"}
	}

	tail := t.Slots[idx]
	tailVariant := tail.Variants[0]
	plan.RenormSlot = tail.ID

	file := ""
	if g.TemplateFile != "" {
		s, present, err := opts.String(g.TemplateFile)
		if err != nil {
			return t, plan, err
		}
		if present {
			file = s
		}
	}
	if file == "" {
		file = supplied[g.TemplateType]
	}

	renorm := pipeline.Slot{
		ID:    tail.ID,
		Kind:  domain.NodeKindRenormalize,
		Scope: domain.ScopeSubject,
		Variants: []pipeline.Variant{{
			ID:      "group",
			Step:    g.RenormStep,
			Outputs: clonePorts(tailVariant.Outputs),
			Params:  append([]string(nil), tailVariant.Params...),
			Static:  tailVariant.Static,
		}},
	}

	var replacement []pipeline.Slot
	if file != "" {
		plan.Mode = GroupSupplied
		plan.TemplateFile = file

		renorm.Variants[0].Inputs = append(clonePorts(tailVariant.Inputs), pipeline.Port{Name: portTemplate, Type: g.TemplateType})
		replacement = []pipeline.Slot{renorm}
		t.External = append(append([]domain.ArtifactType(nil), t.External...), g.TemplateType)
	} else {
		plan.Mode = GroupBuild

		scatter := pipeline.Slot{
			ID:    ScatterSlot,
			Kind:  domain.NodeKindScatter,
			Scope: domain.ScopeSubject,
			Variants: []pipeline.Variant{{
				ID:      "affine",
				Step:    g.ScatterStep,
				Inputs:  clonePorts(tailVariant.Inputs),
				Outputs: []pipeline.Port{{Name: portIntermediate, Type: g.IntermediateType}},
			}},
		}
		aggregate := pipeline.Slot{
			ID:    AggregateSlot,
			Kind:  domain.NodeKindAggregate,
			Scope: domain.ScopeCohort,
			Variants: []pipeline.Variant{{
				ID:      "mean",
				Step:    g.AggregateStep,
				Inputs:  []pipeline.Port{{Name: portImages, Type: g.IntermediateType}},
				Outputs: []pipeline.Port{{Name: portTemplate, Type: g.TemplateType}},
				Params:  append([]string(nil), g.AggregateParams...),
			}},
		}
		renorm.Variants[0].Inputs = []pipeline.Port{
			{Name: portImage, Type: g.IntermediateType},
			{Name: portTemplate, Type: g.TemplateType},
		}
		replacement = []pipeline.Slot{scatter, aggregate, renorm}
	}

	slots := make([]pipeline.Slot, 0, len(t.Slots)+len(replacement)-1)
	slots = append(slots, t.Slots[:idx]...)
	slots = append(slots, replacement...)
	slots = append(slots, t.Slots[idx+1:]...)
	t.Slots = slots

	return t, plan, nil
}

func clonePorts(ports []pipeline.Port) []pipeline.Port {
	return append([]pipeline.Port(nil), ports...)
}
