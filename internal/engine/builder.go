package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/pipeline"
	"github.com/shaiso/neuroflow/internal/steps"
)

// externalOptions — ключи опций с путями к внешним файлам когорты.
// Готовые групповые шаблоны задаются опцией GroupSpec.TemplateFile
// или в BuildInput.External.
var externalOptions = map[string]domain.ArtifactType{
	"normalize.atlas_file": domain.ArtifactAtlas,
}

// BuilderConfig — конфигурация построителя графа.
type BuilderConfig struct {
	// Templates — реестр шаблонов пайплайнов.
	Templates Templates

	// Steps — реестр шагов. Если задан, все шаги графа должны быть в нём.
	Steps *steps.Registry

	// Logger — логгер. Если nil, используется slog.Default().
	Logger *slog.Logger
}

// Builder — построитель графа run.
type Builder struct {
	templates Templates
	steps     *steps.Registry
	logger    *slog.Logger
}

// NewBuilder создаёт построитель графа.
func NewBuilder(cfg BuilderConfig) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		templates: cfg.Templates,
		steps:     cfg.Steps,
		logger:    logger,
	}
}

// BuildInput — всё, из чего строится граф.
type BuildInput struct {
	// Options — конфигурация. Значения по умолчанию не подставляются:
	// вызывающий код применяет config.Normalize явно.
	Options config.Options

	// Modalities — включённые модальности.
	Modalities []domain.Modality

	// Subjects — когорта в порядке обработки.
	Subjects []domain.Subject

	// External — внешние файлы когорты по типу артефакта.
	External map[domain.ArtifactType]string
}

// Build строит граф run.
//
// Порядок: проверка опций, разрешение модальностей, затем для каждой
// модальности выбор вариантов, условия необязательных слотов, групповая
// перезапись и создание узлов. Любая ошибка прерывает построение,
// частичный граф не возвращается.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*RunGraph, error) {
	if err := config.Validate(in.Options); err != nil {
		return nil, err
	}
	if len(in.Subjects) == 0 {
		return nil, ErrNoSubjects
	}

	res, err := Resolve(b.templates, in.Modalities)
	if err != nil {
		return nil, err
	}

	st := newBuildState(in, res)

	for _, m := range res.Order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t, err := b.templates.Get(m)
		if err != nil {
			return nil, err
		}

		t, optional, err := st.selectVariants(t)
		if err != nil {
			return nil, err
		}

		t, plan, err := ApplyGroupTemplate(t, in.Options, st.external)
		if err != nil {
			return nil, slotError(m, t.Group.TailSlot, err)
		}
		if plan.Mode == GroupSupplied {
			st.external[t.Group.TemplateType] = plan.TemplateFile
		}
		if plan.Mode != GroupOff {
			st.graph.Groups = append(st.graph.Groups, plan)
		}

		if err := st.checkRawInputs(&t); err != nil {
			return nil, err
		}
		if err := b.checkSteps(&t); err != nil {
			return nil, err
		}
		if err := st.instantiate(&t, optional); err != nil {
			return nil, err
		}

		b.logger.Debug("pipeline instantiated",
			"modality", m,
			"group_mode", plan.Mode,
			"slots", len(t.Slots),
		)
	}

	graph, err := st.finish()
	if err != nil {
		return nil, err
	}

	b.logger.Info("run graph built",
		"modalities", len(graph.Modalities),
		"subjects", len(graph.Subjects),
		"nodes", graph.Len(),
		"outputs", len(graph.Outputs),
	)
	return graph, nil
}

// checkSteps проверяет, что все шаги шаблона зарегистрированы.
func (b *Builder) checkSteps(t *pipeline.Template) error {
	if b.steps == nil {
		return nil
	}
	for _, slot := range t.Slots {
		for _, v := range slot.Variants {
			if !b.steps.Has(v.Step) {
				return &pipeline.SchemaError{
					Modality: t.Modality,
					Slot:     slot.ID,
					Message:  fmt.Sprintf("step type %s is not registered", v.Step),
				}
			}
		}
	}
	return nil
}

// source — выход узла, производящий артефакт.
type source struct {
	node string
	port string
}

// buildState — состояние одного построения.
type buildState struct {
	opts      config.Options
	res       *Resolution
	subjects  []domain.Subject
	external  map[domain.ArtifactType]string
	producers map[Instance]map[domain.ArtifactType]source
	externals map[string]*ExternalInput
	nodes     []*Node
	graph     *RunGraph
}

func newBuildState(in BuildInput, res *Resolution) *buildState {
	external := make(map[domain.ArtifactType]string, len(in.External)+len(externalOptions))
	for at, path := range in.External {
		external[at] = path
	}
	for key, at := range externalOptions {
		if path, present, err := in.Options.String(key); err == nil && present && path != "" {
			external[at] = path
		}
	}

	subjectIDs := make([]string, len(in.Subjects))
	for i, s := range in.Subjects {
		subjectIDs[i] = s.ID
	}

	return &buildState{
		opts:      in.Options,
		res:       res,
		subjects:  in.Subjects,
		external:  external,
		producers: make(map[Instance]map[domain.ArtifactType]source),
		externals: make(map[string]*ExternalInput),
		graph: &RunGraph{
			Modalities: append([]domain.Modality(nil), res.Order...),
			Subjects:   subjectIDs,
			Selections: make(map[string]string),
			External:   make([]ExternalInput, 0),
			Outputs:    make([]Output, 0),
			Groups:     make([]GroupPlan, 0),
		},
	}
}

func (st *buildState) supplied(at domain.ArtifactType) bool {
	_, ok := st.external[at]
	return ok
}

// selectVariants оставляет в каждом слоте ровно выбранный вариант
// и убирает необязательные слоты с ложным условием.
// Возвращает ID созданных необязательных слотов.
func (st *buildState) selectVariants(t pipeline.Template) (pipeline.Template, map[string]bool, error) {
	optional := make(map[string]bool)
	slots := make([]pipeline.Slot, 0, len(t.Slots))

	for _, slot := range t.Slots {
		if slot.When != nil {
			ok, err := slot.When(st.opts, st.supplied)
			if err != nil {
				return t, nil, slotError(t.Modality, slot.ID, err)
			}
			if !ok {
				continue
			}
			optional[slot.ID] = true
		}

		v := slot.Variants[0]
		if slot.Select != nil {
			id, err := slot.Select(st.opts)
			if err != nil {
				return t, nil, slotError(t.Modality, slot.ID, err)
			}
			selected, ok := slot.Variant(id)
			if !ok {
				cfgErr := config.NewConfigurationError("", id, "selector returned undeclared variant", config.ErrInvalidOption)
				cfgErr.Slot = string(t.Modality) + "." + slot.ID
				return t, nil, cfgErr
			}
			v = selected
		}

		slot.Variants = []pipeline.Variant{v}
		slot.Select = nil
		slot.When = nil
		slots = append(slots, slot)
	}

	t.Slots = slots
	return t, optional, nil
}

// checkRawInputs требует сырые данные модальности у каждого субъекта.
func (st *buildState) checkRawInputs(t *pipeline.Template) error {
	for _, s := range st.subjects {
		for _, at := range t.RawInputs {
			if !s.Has(at) {
				return &UnresolvedDependencyError{
					Modality: t.Modality,
					Subject:  s.ID,
					Type:     at,
				}
			}
		}
	}
	return nil
}

// instantiate создаёт узлы шаблона: слот за слотом, внутри слота
// по субъектам. Слот когорты создаёт один узел.
func (st *buildState) instantiate(t *pipeline.Template, optional map[string]bool) error {
	m := t.Modality

	for i := range t.Slots {
		slot := &t.Slots[i]
		v := slot.Variants[0]
		st.graph.Selections[string(m)+"."+slot.ID] = string(v.ID)

		if slot.IsCohort() {
			if err := st.addNode(t, slot, v, nil); err != nil {
				return err
			}
			continue
		}
		for j := range st.subjects {
			if err := st.addNode(t, slot, v, &st.subjects[j]); err != nil {
				return err
			}
		}
	}

	for _, s := range st.subjects {
		inst := Instance{Modality: m, Subject: s.ID}
		if t.Final != "" {
			if src, ok := st.producers[inst][t.Final]; ok {
				st.graph.Outputs = append(st.graph.Outputs, Output{
					Subject: s.ID, Modality: m, Type: t.Final, NodeID: src.node, Port: src.port,
				})
			}
		}
		for _, slot := range t.Slots {
			if !optional[slot.ID] {
				continue
			}
			for _, p := range slot.Variants[0].Outputs {
				st.graph.Outputs = append(st.graph.Outputs, Output{
					Subject: s.ID, Modality: m, Type: p.Type, NodeID: NodeID(s.ID, m, slot.ID), Port: p.Name,
				})
			}
		}
	}
	return nil
}

// addNode создаёт узел слота для субъекта (или когорты, если subj == nil).
func (st *buildState) addNode(t *pipeline.Template, slot *pipeline.Slot, v pipeline.Variant, subj *domain.Subject) error {
	m := t.Modality
	subjectID := ""
	if subj != nil {
		subjectID = subj.ID
	}

	node := &Node{
		ID:       NodeID(subjectID, m, slot.ID),
		Modality: m,
		Subject:  subjectID,
		Slot:     slot.ID,
		Variant:  v.ID,
		Kind:     slot.NodeKind(),
		Step:     v.Step,
		Inputs:   make([]InputBinding, 0, len(v.Inputs)),
		Outputs:  clonePorts(v.Outputs),
		Params:   st.params(v),
	}

	deps := make(map[string]bool)
	for _, p := range v.Inputs {
		var bindings []InputBinding
		var err error
		if subj == nil {
			bindings, err = st.resolveCohortInput(m, slot.ID, p)
		} else {
			var b InputBinding
			b, err = st.resolveInput(m, slot.ID, subj, p)
			bindings = []InputBinding{b}
		}
		if err != nil {
			return err
		}

		for _, b := range bindings {
			node.Inputs = append(node.Inputs, b)
			if b.FromNode != "" && !deps[b.FromNode] {
				deps[b.FromNode] = true
				node.DependsOn = append(node.DependsOn, b.FromNode)
			}
		}
	}

	inst := Instance{Modality: m, Subject: subjectID}
	if st.producers[inst] == nil {
		st.producers[inst] = make(map[domain.ArtifactType]source)
	}
	for _, p := range v.Outputs {
		st.producers[inst][p.Type] = source{node: node.ID, port: p.Name}
	}

	st.nodes = append(st.nodes, node)
	return nil
}

// resolveInput находит источник входа узла субъекта.
//
// Порядок: предыдущий слот того же экземпляра, узел когорты той же
// модальности, экземпляр модальности-предпосылки того же субъекта,
// сырые данные субъекта, внешний файл когорты.
func (st *buildState) resolveInput(m domain.Modality, slot string, subj *domain.Subject, p pipeline.Port) (InputBinding, error) {
	b := InputBinding{Port: p.Name, Type: p.Type, Subject: subj.ID}

	if src, ok := st.producers[Instance{Modality: m, Subject: subj.ID}][p.Type]; ok {
		b.FromNode, b.FromPort = src.node, src.port
		return b, nil
	}
	if src, ok := st.producers[Instance{Modality: m}][p.Type]; ok {
		b.FromNode, b.FromPort, b.Subject = src.node, src.port, ""
		return b, nil
	}
	if from, ok := st.res.Provider(m, p.Type); ok {
		if src, ok := st.producers[Instance{Modality: from, Subject: subj.ID}][p.Type]; ok {
			b.FromNode, b.FromPort = src.node, src.port
			return b, nil
		}
	}
	if path, ok := subj.Inputs[p.Type]; ok {
		b.External = st.externalInput(p.Type, m, subj.ID, path)
		return b, nil
	}
	if path, ok := st.external[p.Type]; ok {
		b.External = st.externalInput(p.Type, m, "", path)
		b.Subject = ""
		return b, nil
	}

	return b, &UnresolvedDependencyError{Modality: m, Subject: subj.ID, Slot: slot, Type: p.Type}
}

// resolveCohortInput собирает вход узла когорты со всех субъектов.
func (st *buildState) resolveCohortInput(m domain.Modality, slot string, p pipeline.Port) ([]InputBinding, error) {
	bindings := make([]InputBinding, 0, len(st.subjects))
	for _, s := range st.subjects {
		src, ok := st.producers[Instance{Modality: m, Subject: s.ID}][p.Type]
		if !ok {
			continue
		}
		bindings = append(bindings, InputBinding{
			Port: p.Name, Type: p.Type, Subject: s.ID, FromNode: src.node, FromPort: src.port,
		})
	}
	if len(bindings) == len(st.subjects) {
		return bindings, nil
	}
	if len(bindings) == 0 {
		if path, ok := st.external[p.Type]; ok {
			return []InputBinding{{Port: p.Name, Type: p.Type, External: st.externalInput(p.Type, m, "", path)}}, nil
		}
	}
	return nil, &UnresolvedDependencyError{Modality: m, Slot: slot, Type: p.Type}
}

// externalInput регистрирует внешний вход графа без повторов.
func (st *buildState) externalInput(at domain.ArtifactType, m domain.Modality, subject, path string) *ExternalInput {
	e := ExternalInput{Type: at, Modality: m, Subject: subject, Location: path}
	if existing, ok := st.externals[e.Key()]; ok {
		return existing
	}
	st.externals[e.Key()] = &e
	st.graph.External = append(st.graph.External, e)
	return &e
}

// params собирает параметры узла: статические и значения опций варианта.
func (st *buildState) params(v pipeline.Variant) map[string]any {
	params := make(map[string]any, len(v.Static)+len(v.Params))
	for k, val := range v.Static {
		params[k] = val
	}
	for _, key := range v.Params {
		if val, ok := st.opts[key]; ok {
			params[key] = val
		}
	}
	return params
}

// finish упорядочивает узлы топологически и заполняет обратные рёбра.
func (st *buildState) finish() (*RunGraph, error) {
	dag := NewDAG()
	byID := make(map[string]*Node, len(st.nodes))
	for _, n := range st.nodes {
		if _, err := dag.AddVertex(n.ID); err != nil {
			return nil, err
		}
		byID[n.ID] = n
	}
	for _, n := range st.nodes {
		for _, dep := range n.DependsOn {
			if err := dag.AddEdge(dep, n.ID); err != nil {
				return nil, err
			}
		}
	}

	order, err := dag.Sort()
	if err != nil {
		return nil, err
	}

	g := st.graph
	g.Nodes = make([]*Node, 0, len(order))
	for _, v := range order {
		n := byID[v.ID]
		for _, dep := range v.Dependents {
			n.Dependents = append(n.Dependents, dep.ID)
		}
		g.Nodes = append(g.Nodes, n)
	}
	g.byID = byID
	return g, nil
}

// slotError добавляет к ошибке конфигурации слот "<modality>.<slot>".
func slotError(m domain.Modality, slot string, err error) error {
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		withSlot := *cfgErr
		withSlot.Slot = string(m) + "." + slot
		return &withSlot
	}
	return err
}
