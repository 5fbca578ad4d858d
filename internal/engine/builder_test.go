package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/pipeline"
	"github.com/shaiso/neuroflow/internal/steps"
)

// cohort создаёт n субъектов s01..sNN с сырыми данными указанных типов.
func cohort(n int, types ...domain.ArtifactType) []domain.Subject {
	subjects := make([]domain.Subject, n)
	for i := range subjects {
		id := fmt.Sprintf("s%02d", i+1)
		inputs := make(map[domain.ArtifactType]string, len(types))
		for _, at := range types {
			inputs[at] = "/data/" + id + "/" + string(at)
		}
		subjects[i] = domain.Subject{ID: id, Inputs: inputs}
	}
	return subjects
}

var diffusionInputs = []domain.ArtifactType{
	domain.ArtifactAnatRaw,
	domain.ArtifactDWIRaw,
	domain.ArtifactDWIBval,
	domain.ArtifactDWIBvec,
}

func newTestBuilder() *Builder {
	return NewBuilder(BuilderConfig{Templates: pipeline.Builtin()})
}

func build(t *testing.T, in BuildInput) *RunGraph {
	t.Helper()
	g, err := newTestBuilder().Build(context.Background(), in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return g
}

func mustNode(t *testing.T, g *RunGraph, id string) *Node {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("node %s not found", id)
	}
	return n
}

func dependsOn(n *Node, id string) bool {
	for _, dep := range n.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

func TestBuild_StructuralDiffusionTractography(t *testing.T) {
	g := build(t, BuildInput{
		Options: config.Normalize(config.Options{}),
		Modalities: []domain.Modality{
			domain.ModalityStructural,
			domain.ModalityDiffusion,
			domain.ModalityTractography,
		},
		Subjects: cohort(3, diffusionInputs...),
	})

	// structural: 3 слота, diffusion: 6, tractography: 2
	if g.Len() != 3*(3+6+2) {
		t.Errorf("expected %d nodes, got %d", 3*(3+6+2), g.Len())
	}
	if len(g.Outputs) != 9 {
		t.Errorf("expected 9 outputs, got %d", len(g.Outputs))
	}
	if len(g.Instances()) != 9 {
		t.Errorf("expected 9 instances, got %d", len(g.Instances()))
	}

	for _, s := range []string{"s01", "s02", "s03"} {
		eddy := mustNode(t, g, s+"/diffusion/eddy")
		if !dependsOn(mustNode(t, g, s+"/diffusion/coreg"), s+"/structural/bias_correct") {
			t.Errorf("%s diffusion coreg should depend on structural bias_correct", s)
		}
		if !dependsOn(eddy, s+"/diffusion/coreg") {
			t.Errorf("%s eddy should depend on diffusion coreg", s)
		}

		response := mustNode(t, g, s+"/tractography/response")
		if !dependsOn(response, s+"/diffusion/eddy") || !dependsOn(response, s+"/diffusion/coreg") {
			t.Errorf("%s tractography response deps: %v", s, response.DependsOn)
		}
		track := mustNode(t, g, s+"/tractography/track")
		if !dependsOn(track, s+"/structural/segment") {
			t.Errorf("%s track should depend on structural segment, deps: %v", s, track.DependsOn)
		}
	}

	// Межсубъектных рёбер нет
	for _, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			if !strings.HasPrefix(dep, n.Subject+"/") {
				t.Errorf("node %s depends on other subject's node %s", n.ID, dep)
			}
		}
	}

	// Топологический порядок
	pos := make(map[string]int, g.Len())
	for i, n := range g.Nodes {
		pos[n.ID] = i
	}
	for _, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			if pos[dep] >= pos[n.ID] {
				t.Errorf("%s appears before its dependency %s", n.ID, dep)
			}
		}
	}
}

func TestBuild_RawInputsBecomeExternal(t *testing.T) {
	g := build(t, BuildInput{
		Options:    config.Normalize(config.Options{}),
		Modalities: []domain.Modality{domain.ModalityStructural},
		Subjects:   cohort(2, domain.ArtifactAnatRaw),
	})

	if len(g.External) != 2 {
		t.Fatalf("expected 2 external inputs, got %d", len(g.External))
	}
	n := mustNode(t, g, "s01/structural/bias_correct")
	if len(n.Inputs) != 1 || !n.Inputs[0].IsExternal() {
		t.Fatalf("expected one external input, got %+v", n.Inputs)
	}
	if n.Inputs[0].External.Location != "/data/s01/anat.raw" {
		t.Errorf("unexpected location: %s", n.Inputs[0].External.Location)
	}
	if len(n.DependsOn) != 0 {
		t.Errorf("root node has dependencies: %v", n.DependsOn)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	in := BuildInput{
		Options: config.Normalize(config.Options{
			"functional.group_template": true,
			"modalities.ica":            true,
			"ica.algorithm":             "fastica",
		}),
		Modalities: []domain.Modality{
			domain.ModalityStructural,
			domain.ModalityFunctional,
			domain.ModalityICA,
		},
		Subjects: cohort(3, domain.ArtifactAnatRaw, domain.ArtifactFMRIRaw),
	}

	first := build(t, in)
	second := build(t, in)

	if diff := cmp.Diff(first, second, cmpopts.IgnoreUnexported(RunGraph{})); diff != "" {
		t.Errorf("graphs differ (-first +second):\n%s", diff)
	}
}

func TestBuild_Selections(t *testing.T) {
	g := build(t, BuildInput{
		Options: config.Normalize(config.Options{
			"coreg.anat2pet":  false,
			"pet.pvc":         "rbv",
			"pet.smooth_fwhm": 6.0,
		}),
		Modalities: []domain.Modality{domain.ModalityStructural, domain.ModalityPET},
		Subjects:   cohort(2, domain.ArtifactAnatRaw, domain.ArtifactPETRaw),
	})

	if g.Selections["pet.coreg"] != "pet2anat" {
		t.Errorf("expected pet2anat, got %s", g.Selections["pet.coreg"])
	}
	if g.Selections["pet.pvc"] != "rbv" {
		t.Errorf("expected rbv, got %s", g.Selections["pet.pvc"])
	}

	pvc := mustNode(t, g, "s02/pet/pvc")
	if pvc.Step != "petpvc.rbv" {
		t.Errorf("expected petpvc.rbv, got %s", pvc.Step)
	}
	if pvc.Params["pet.smooth_fwhm"] != 6.0 {
		t.Errorf("expected smooth param 6.0, got %v", pvc.Params["pet.smooth_fwhm"])
	}
	if !dependsOn(pvc, "s02/structural/segment") {
		t.Errorf("pvc should depend on structural segment, deps: %v", pvc.DependsOn)
	}

	coreg := mustNode(t, g, "s01/pet/coreg")
	if coreg.Step != "spm.coregister.pet2anat" {
		t.Errorf("unexpected coreg step: %s", coreg.Step)
	}
	if coreg.Params["cost_function"] != "mi" {
		t.Errorf("static params missing: %v", coreg.Params)
	}
}

func TestBuild_AtlasTail(t *testing.T) {
	base := BuildInput{
		Modalities: []domain.Modality{domain.ModalityStructural},
		Subjects:   cohort(2, domain.ArtifactAnatRaw),
	}

	tests := []struct {
		name      string
		opts      config.Options
		wantAtlas bool
	}{
		{"flag and file", config.Options{"normalize.atlas": true, "normalize.atlas_file": "/atlas.nii.gz"}, true},
		{"flag without file", config.Options{"normalize.atlas": true}, false},
		{"file without flag", config.Options{"normalize.atlas_file": "/atlas.nii.gz"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Options = config.Normalize(tt.opts)
			g := build(t, in)

			_, ok := g.Node("s01/structural/atlas")
			if ok != tt.wantAtlas {
				t.Fatalf("atlas node present=%v, want %v", ok, tt.wantAtlas)
			}
			wantOutputs := 2
			if tt.wantAtlas {
				wantOutputs = 4
			}
			if len(g.Outputs) != wantOutputs {
				t.Errorf("expected %d outputs, got %d", wantOutputs, len(g.Outputs))
			}
		})
	}
}

func TestBuild_FunctionalGroupTemplate(t *testing.T) {
	g := build(t, BuildInput{
		Options:    config.Normalize(config.Options{"functional.group_template": true}),
		Modalities: []domain.Modality{domain.ModalityStructural, domain.ModalityFunctional},
		Subjects:   cohort(4, domain.ArtifactAnatRaw, domain.ArtifactFMRIRaw),
	})

	scatter := g.NodesByKind(domain.NodeKindScatter)
	aggregate := g.NodesByKind(domain.NodeKindAggregate)
	renorm := g.NodesByKind(domain.NodeKindRenormalize)

	if len(scatter) != 4 {
		t.Errorf("expected 4 scatter nodes, got %d", len(scatter))
	}
	if len(aggregate) != 1 {
		t.Fatalf("expected 1 aggregate node, got %d", len(aggregate))
	}
	if len(renorm) != 4 {
		t.Errorf("expected 4 renormalize nodes, got %d", len(renorm))
	}

	agg := aggregate[0]
	if agg.ID != "cohort/functional/group_template" {
		t.Errorf("unexpected aggregate ID: %s", agg.ID)
	}
	if !agg.IsCohort() {
		t.Error("aggregate node should be cohort-scoped")
	}
	if len(agg.DependsOn) != 4 {
		t.Errorf("aggregate should depend on 4 scatter nodes, got %v", agg.DependsOn)
	}
	if len(agg.Inputs) != 4 {
		t.Errorf("aggregate should have 4 inputs, got %d", len(agg.Inputs))
	}
	if agg.Params["group.smooth_fwhm"] != 8.0 {
		t.Errorf("expected group.smooth_fwhm 8.0, got %v", agg.Params["group.smooth_fwhm"])
	}

	for _, n := range renorm {
		if !dependsOn(n, agg.ID) {
			t.Errorf("%s should depend on aggregate", n.ID)
		}
		own := n.Subject + "/functional/" + ScatterSlot
		if !dependsOn(n, own) {
			t.Errorf("%s should depend on %s", n.ID, own)
		}
		if len(n.DependsOn) != 2 {
			t.Errorf("%s should have 2 dependencies, got %v", n.ID, n.DependsOn)
		}
		if typ, ok := n.OutputType("warped"); !ok || typ != domain.ArtifactFMRIMNI {
			t.Errorf("%s should keep the tail output contract", n.ID)
		}
	}

	// Итоговые артефакты functional идут от renormalize
	for _, out := range g.Outputs {
		if out.Modality != domain.ModalityFunctional {
			continue
		}
		if out.NodeID != out.Subject+"/functional/normalize" || out.Type != domain.ArtifactFMRIMNI {
			t.Errorf("unexpected functional output: %+v", out)
		}
	}

	if len(g.Groups) != 1 || g.Groups[0].Mode != GroupBuild {
		t.Errorf("unexpected group plans: %+v", g.Groups)
	}
}

func TestBuild_SuppliedGroupTemplate(t *testing.T) {
	g := build(t, BuildInput{
		Options: config.Normalize(config.Options{
			"functional.group_template":      true,
			"functional.group_template_file": "/templates/rest.nii.gz",
		}),
		Modalities: []domain.Modality{domain.ModalityStructural, domain.ModalityFunctional},
		Subjects:   cohort(4, domain.ArtifactAnatRaw, domain.ArtifactFMRIRaw),
	})

	if n := len(g.NodesByKind(domain.NodeKindScatter)); n != 0 {
		t.Errorf("expected no scatter nodes, got %d", n)
	}
	if n := len(g.NodesByKind(domain.NodeKindAggregate)); n != 0 {
		t.Errorf("expected no aggregate nodes, got %d", n)
	}

	renorm := g.NodesByKind(domain.NodeKindRenormalize)
	if len(renorm) != 4 {
		t.Fatalf("expected 4 renormalize nodes, got %d", len(renorm))
	}
	for _, n := range renorm {
		var tmpl *InputBinding
		for i := range n.Inputs {
			if n.Inputs[i].Port == "template" {
				tmpl = &n.Inputs[i]
			}
		}
		if tmpl == nil || !tmpl.IsExternal() {
			t.Fatalf("%s should consume external template, inputs: %+v", n.ID, n.Inputs)
		}
		if tmpl.External.Location != "/templates/rest.nii.gz" {
			t.Errorf("unexpected template location: %s", tmpl.External.Location)
		}
		if !dependsOn(n, n.Subject+"/functional/clean") {
			t.Errorf("%s should consume the tail's inputs", n.ID)
		}
	}

	// Файл шаблона — один внешний вход на всю когорту
	count := 0
	for _, e := range g.External {
		if e.Type == domain.ArtifactFMRITemplate {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected 1 template external, got %d", count)
	}
}

func TestBuild_GroupTemplateFromStudyExternal(t *testing.T) {
	g := build(t, BuildInput{
		Options:    config.Normalize(config.Options{"functional.group_template": true}),
		Modalities: []domain.Modality{domain.ModalityStructural, domain.ModalityFunctional},
		Subjects:   cohort(4, domain.ArtifactAnatRaw, domain.ArtifactFMRIRaw),
		External:   map[domain.ArtifactType]string{domain.ArtifactFMRITemplate: "/templates/rest.nii.gz"},
	})

	if n := len(g.NodesByKind(domain.NodeKindScatter)); n != 0 {
		t.Errorf("expected no scatter nodes, got %d", n)
	}
	if n := len(g.NodesByKind(domain.NodeKindAggregate)); n != 0 {
		t.Errorf("expected no aggregate nodes, got %d", n)
	}
	if n := len(g.NodesByKind(domain.NodeKindRenormalize)); n != 4 {
		t.Errorf("expected 4 renormalize nodes, got %d", n)
	}
	if len(g.Groups) != 1 || g.Groups[0].Mode != GroupSupplied || g.Groups[0].TemplateFile != "/templates/rest.nii.gz" {
		t.Errorf("unexpected group plans: %+v", g.Groups)
	}
}

func TestBuild_UnresolvedPrerequisite(t *testing.T) {
	_, err := newTestBuilder().Build(context.Background(), BuildInput{
		Options:    config.Normalize(config.Options{}),
		Modalities: []domain.Modality{domain.ModalityStructural, domain.ModalityTractography},
		Subjects:   cohort(3, diffusionInputs...),
	})

	var unresolved *UnresolvedDependencyError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected *UnresolvedDependencyError, got %v", err)
	}
	if unresolved.Requires != domain.ModalityDiffusion {
		t.Errorf("expected missing diffusion, got %s", unresolved.Requires)
	}
}

func TestBuild_MissingRawInput(t *testing.T) {
	subjects := cohort(3, diffusionInputs...)
	delete(subjects[1].Inputs, domain.ArtifactDWIBvec)

	g, err := newTestBuilder().Build(context.Background(), BuildInput{
		Options:    config.Normalize(config.Options{}),
		Modalities: []domain.Modality{domain.ModalityStructural, domain.ModalityDiffusion},
		Subjects:   subjects,
	})
	if g != nil {
		t.Error("expected no graph on error")
	}

	var unresolved *UnresolvedDependencyError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected *UnresolvedDependencyError, got %v", err)
	}
	if unresolved.Subject != "s02" || unresolved.Type != domain.ArtifactDWIBvec {
		t.Errorf("unexpected error fields: %+v", unresolved)
	}
}

func TestBuild_ConnectivityNeedsAtlas(t *testing.T) {
	_, err := newTestBuilder().Build(context.Background(), BuildInput{
		Options: config.Normalize(config.Options{}),
		Modalities: []domain.Modality{
			domain.ModalityStructural,
			domain.ModalityDiffusion,
			domain.ModalityTractography,
			domain.ModalityConnectivity,
		},
		Subjects: cohort(1, diffusionInputs...),
	})

	var unresolved *UnresolvedDependencyError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected *UnresolvedDependencyError, got %v", err)
	}
	if unresolved.Slot != "parcellate" || unresolved.Type != domain.ArtifactAtlas {
		t.Errorf("unexpected error fields: %+v", unresolved)
	}
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		opts     config.Options
		wantSlot string
		wantErr  error
	}{
		{
			name:     "missing selector key",
			opts:     config.Options{},
			wantSlot: "pet.coreg",
			wantErr:  config.ErrMissingOption,
		},
		{
			name:    "invalid enum",
			opts:    config.Options{"coreg.anat2pet": true, "pet.pvc": "gtm"},
			wantErr: config.ErrInvalidOption,
		},
		{
			name:    "out of range",
			opts:    config.Options{"coreg.anat2pet": true, "pet.pvc": "mg", "pet.smooth_fwhm": 50.0},
			wantErr: config.ErrInvalidOption,
		},
		{
			name:    "wrong type",
			opts:    config.Options{"coreg.anat2pet": "yes"},
			wantErr: config.ErrInvalidOption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := newTestBuilder().Build(context.Background(), BuildInput{
				Options:    tt.opts,
				Modalities: []domain.Modality{domain.ModalityStructural, domain.ModalityPET},
				Subjects:   cohort(2, domain.ArtifactAnatRaw, domain.ArtifactPETRaw),
			})
			if g != nil {
				t.Error("expected no graph on error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			var cfgErr *config.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigurationError, got %T", err)
			}
			if tt.wantSlot != "" && cfgErr.Slot != tt.wantSlot {
				t.Errorf("expected slot %s, got %q", tt.wantSlot, cfgErr.Slot)
			}
		})
	}
}

func TestBuild_UnknownStep(t *testing.T) {
	reg := steps.NewRegistry()
	for _, st := range pipeline.Builtin().StepTypes() {
		if st == "fsl.eddy" {
			continue
		}
		reg.Register(steps.NewFuncStep(st, func(context.Context, *steps.Request) (*steps.Response, error) {
			return steps.NewResponse(nil), nil
		}))
	}

	b := NewBuilder(BuilderConfig{Templates: pipeline.Builtin(), Steps: reg})

	_, err := b.Build(context.Background(), BuildInput{
		Options:    config.Normalize(config.Options{}),
		Modalities: []domain.Modality{domain.ModalityStructural},
		Subjects:   cohort(1, domain.ArtifactAnatRaw),
	})
	if err != nil {
		t.Fatalf("structural does not use fsl.eddy: %v", err)
	}

	_, err = b.Build(context.Background(), BuildInput{
		Options:    config.Normalize(config.Options{}),
		Modalities: []domain.Modality{domain.ModalityStructural, domain.ModalityDiffusion},
		Subjects:   cohort(1, diffusionInputs...),
	})
	var schemaErr *pipeline.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected *pipeline.SchemaError, got %v", err)
	}
	if schemaErr.Slot != "eddy" {
		t.Errorf("expected slot eddy, got %s", schemaErr.Slot)
	}
}

func TestBuild_NoSubjects(t *testing.T) {
	_, err := newTestBuilder().Build(context.Background(), BuildInput{
		Options:    config.Options{},
		Modalities: []domain.Modality{domain.ModalityStructural},
	})
	if !errors.Is(err, ErrNoSubjects) {
		t.Errorf("expected ErrNoSubjects, got %v", err)
	}
}

func TestBuild_ICAFromFunctional(t *testing.T) {
	g := build(t, BuildInput{
		Options: config.Normalize(config.Options{"ica.algorithm": "infomax"}),
		Modalities: []domain.Modality{
			domain.ModalityStructural,
			domain.ModalityFunctional,
			domain.ModalityICA,
		},
		Subjects: cohort(2, domain.ArtifactAnatRaw, domain.ArtifactFMRIRaw),
	})

	n := mustNode(t, g, "s01/ica/decompose")
	if n.Step != "mne.infomax" {
		t.Errorf("expected mne.infomax, got %s", n.Step)
	}
	if !dependsOn(n, "s01/functional/normalize") {
		t.Errorf("ica should depend on functional normalize, deps: %v", n.DependsOn)
	}
}
