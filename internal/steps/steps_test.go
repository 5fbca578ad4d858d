package steps

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/neuroflow/internal/domain"
)

// Registry Tests

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Errorf("expected empty registry")
	}

	r.Register(NewFuncStep("fsl.bet", nil))
	if r.Len() != 1 {
		t.Errorf("expected 1 step, got %d", r.Len())
	}

	step, err := r.Get("fsl.bet")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if step.Type() != "fsl.bet" {
		t.Errorf("expected fsl.bet, got %s", step.Type())
	}

	_, err = r.Get("unknown")
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}

	// Повторная регистрация заменяет шаг
	replacement := NewFuncStep("fsl.bet", nil).NonCacheable()
	r.Register(replacement)
	if r.Len() != 1 {
		t.Errorf("expected 1 step after replace, got %d", r.Len())
	}
	if got, _ := r.Get("fsl.bet"); got != Step(replacement) {
		t.Error("expected replaced step")
	}
}

func TestNewRegistry_WithSteps(t *testing.T) {
	r := NewRegistry(NewFuncStep("b", nil), NewFuncStep("a", nil))
	if !r.Has("a") || !r.Has("b") || r.Has("c") {
		t.Errorf("unexpected membership: %v", r.Types())
	}
	if got := strings.Join(r.Types(), ","); got != "a,b" {
		t.Errorf("types = %s", got)
	}
}

func TestDefaultRegistry(t *testing.T) {
	types := []string{"ants.n4", "fsl.bet", "fsl.eddy"}
	r := DefaultRegistry("/opt/tools", types)

	got := r.Types()
	if strings.Join(got, ",") != strings.Join(types, ",") {
		t.Errorf("expected %v, got %v", types, got)
	}

	step, _ := r.Get("fsl.eddy")
	cmd, ok := step.(*CommandStep)
	if !ok {
		t.Fatalf("expected *CommandStep, got %T", step)
	}
	if cmd.Path != "/opt/tools/fsl.eddy" {
		t.Errorf("unexpected path %s", cmd.Path)
	}
}

// Request / Cacheable Tests

func TestRequest_CheckResponse(t *testing.T) {
	req := &Request{
		Outputs: map[string]domain.ArtifactType{
			"warped":     domain.ArtifactAnatMNI,
			"warp_field": domain.ArtifactAnatWarpField,
		},
	}

	err := req.CheckResponse(NewResponse(map[string]string{"warped": "/w.nii"}))
	if !errors.Is(err, ErrMissingOutput) {
		t.Errorf("expected ErrMissingOutput, got %v", err)
	}

	err = req.CheckResponse(NewResponse(map[string]string{"warped": "/w.nii", "warp_field": "/f.nii"}))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := req.CheckResponse(nil); !errors.Is(err, ErrMissingOutput) {
		t.Errorf("expected ErrMissingOutput for nil response, got %v", err)
	}
}

func TestRequest_Input(t *testing.T) {
	req := &Request{
		Inputs: map[string][]InputRef{
			"image": {{Location: "/a.nii"}},
		},
	}

	ref, err := req.Input("image")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Location != "/a.nii" {
		t.Errorf("expected /a.nii, got %s", ref.Location)
	}

	if _, err := req.Input("mask"); !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}

func TestIsCacheable(t *testing.T) {
	if !IsCacheable(NewFuncStep("a", nil)) {
		t.Error("func step should be cacheable by default")
	}
	if IsCacheable(NewFuncStep("a", nil).NonCacheable()) {
		t.Error("non-cacheable func step reported cacheable")
	}

	cmd := NewCommandStep("b", "/bin/true")
	cmd.NonCacheable = true
	if IsCacheable(cmd) {
		t.Error("non-cacheable command step reported cacheable")
	}
}

// Template Tests

func TestRender(t *testing.T) {
	req := &Request{
		NodeID:  "sub-01/pet/pvc",
		Subject: "sub-01",
		Inputs: map[string][]InputRef{
			"image":  {{Location: "/data/pet.nii"}},
			"images": {{Location: "/a.nii"}, {Location: "/b.nii"}},
		},
		Params: map[string]any{"fwhm": 8},
	}
	data := NewTemplateData(req, map[string]string{"out": "/work/out.nii.gz"})

	tests := []struct {
		tmpl string
		want string
	}{
		{"plain", "plain"},
		{"{{ .Inputs.image }}", "/data/pet.nii"},
		{"{{ .Outputs.out }}", "/work/out.nii.gz"},
		{`{{ join "," .InputLists.images }}`, "/a.nii,/b.nii"},
		{`{{ default 6 (index .Params "smooth") }}`, "6"},
		{"{{ .Params.fwhm }}", "8"},
		{"{{ base .Inputs.image }}", "pet.nii"},
		{"{{ upper .Subject }}", "SUB-01"},
	}

	for _, tt := range tests {
		got, err := Render(tt.tmpl, data)
		if err != nil {
			t.Errorf("Render(%q): unexpected error: %v", tt.tmpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestRender_Errors(t *testing.T) {
	data := NewTemplateData(&Request{}, map[string]string{})

	if _, err := Render("{{ .Inputs.image", data); !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
	if _, err := Render("{{ .Inputs.image }}", data); !errors.Is(err, ErrTemplateRender) {
		t.Errorf("expected ErrTemplateRender for missing input, got %v", err)
	}
}

// CommandStep Tests

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestCommandStep_TemplateArgs(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "t1.nii")
	os.WriteFile(in, []byte("t1"), 0o644)

	step := NewCommandStep("copy", sh, "-c", "cp {{ .Inputs.image }} {{ .Outputs.corrected }}")
	req := &Request{
		NodeID:  "sub-01/structural/bias_correct",
		Inputs:  map[string][]InputRef{"image": {{Location: in}}},
		Outputs: map[string]domain.ArtifactType{"corrected": domain.ArtifactAnatBiasCorrected},
		WorkDir: filepath.Join(dir, "work"),
	}

	resp, err := step.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := filepath.Join(dir, "work", "corrected.nii.gz")
	if resp.Outputs["corrected"] != want {
		t.Errorf("expected output %s, got %s", want, resp.Outputs["corrected"])
	}
	if b, _ := os.ReadFile(want); string(b) != "t1" {
		t.Errorf("unexpected output content %q", b)
	}
}

func TestCommandStep_WrapperProtocol(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	tool := filepath.Join(dir, "fake.tool")
	script := `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --out) f="${2#*=}"; echo "$*" > "$f"; shift 2 ;;
    *) shift ;;
  esac
done
`
	if err := os.WriteFile(tool, []byte(script), 0o755); err != nil {
		t.Fatalf("write tool: %v", err)
	}

	step := NewCommandStep("fake.tool", tool)
	req := &Request{
		NodeID:  "sub-02/diffusion/eddy",
		Subject: "sub-02",
		Inputs:  map[string][]InputRef{"dwi": {{Location: "/data/dwi.nii"}}},
		Outputs: map[string]domain.ArtifactType{"corrected": domain.ArtifactDWIEddy},
		Params:  map[string]any{"nthreads": 4},
		WorkDir: filepath.Join(dir, "work"),
	}

	resp, err := step.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(resp.Outputs["corrected"]); err != nil {
		t.Errorf("expected output file: %v", err)
	}
}

func TestCommandStep_Failure(t *testing.T) {
	sh := requireShell(t)

	step := NewCommandStep("boom", sh, "-c", "echo segmentation failed >&2; exit 3")
	_, err := step.Execute(context.Background(), &Request{WorkDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "segmentation failed") {
		t.Errorf("error should include command output, got %v", err)
	}
}

func TestCommandStep_MissingOutput(t *testing.T) {
	sh := requireShell(t)

	step := NewCommandStep("noop", sh, "-c", "true")
	req := &Request{
		Outputs: map[string]domain.ArtifactType{"mask": domain.ArtifactAnatBrainMask},
		WorkDir: t.TempDir(),
	}

	_, err := step.Execute(context.Background(), req)
	if !errors.Is(err, ErrMissingOutput) {
		t.Errorf("expected ErrMissingOutput, got %v", err)
	}
}

func TestCommandStep_Timeout(t *testing.T) {
	sh := requireShell(t)

	step := NewCommandStep("slow", sh, "-c", "exec sleep 5")
	req := &Request{WorkDir: t.TempDir(), Timeout: 50 * time.Millisecond}

	start := time.Now()
	_, err := step.Execute(context.Background(), req)
	if !errors.Is(err, ErrStepTimeout) {
		t.Errorf("expected ErrStepTimeout, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not interrupt the command")
	}
}

func TestCommandStep_EmptyPath(t *testing.T) {
	step := NewCommandStep("broken", "")
	_, err := step.Execute(context.Background(), &Request{WorkDir: t.TempDir()})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
