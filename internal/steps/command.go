package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// defaultOutputExt — расширение выходных файлов по умолчанию.
	defaultOutputExt = ".nii.gz"

	// maxOutputTail — сколько байт вывода команды включать в ошибку.
	maxOutputTail = 2048

	// waitDelay — сколько ждать закрытия вывода после отмены команды.
	waitDelay = 5 * time.Second
)

// CommandStep — шаг, запускающий внешний инструмент (FSL, ANTs, SPM-обёртки).
//
// Для каждого выходного порта шаг заранее назначает путь
// <workdir>/<port><ext> и после завершения команды проверяет, что файл
// существует.
//
// Если Args пуст, используется протокол обёрток:
//
//	<tool> --node ID --workdir DIR [--subject S]
//	       --in port=path ... --out port=path ... --param key=value ...
//
// Иначе Args — шаблоны text/template над TemplateData:
//
//	[]string{"-i", "{{ .Inputs.image }}", "-o", "{{ .Outputs.corrected }}"}
type CommandStep struct {
	stepType string

	// Path — исполняемый файл.
	Path string

	// Args — шаблоны аргументов.
	Args []string

	// Ext — расширение выходных файлов.
	Ext string

	// Env — дополнительные переменные окружения KEY=VALUE.
	Env []string

	// NonCacheable — шаг недетерминирован и не должен браться из кэша.
	NonCacheable bool
}

// NewCommandStep создаёт CommandStep.
func NewCommandStep(stepType, path string, args ...string) *CommandStep {
	return &CommandStep{
		stepType: stepType,
		Path:     path,
		Args:     args,
		Ext:      defaultOutputExt,
	}
}

// Type возвращает тип шага.
func (s *CommandStep) Type() string {
	return s.stepType
}

// Cacheable реализует интерфейс Cacheable.
func (s *CommandStep) Cacheable() bool {
	return !s.NonCacheable
}

// Execute запускает команду и проверяет выходы.
func (s *CommandStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if s.Path == "" {
		return nil, fmt.Errorf("%w: %s: empty command path", ErrInvalidConfig, s.stepType)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}

	ext := s.Ext
	if ext == "" {
		ext = defaultOutputExt
	}
	outputs := make(map[string]string, len(req.Outputs))
	for _, port := range req.OutputPorts() {
		outputs[port] = filepath.Join(req.WorkDir, port+ext)
	}

	args, err := s.buildArgs(req, outputs)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, s.Path, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.WaitDelay = waitDelay

	out, err := cmd.CombinedOutput()
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s", ErrStepTimeout, s.stepType)
		case errors.Is(ctx.Err(), context.Canceled):
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("run %s: %w: %s", filepath.Base(s.Path), err, tail(out))
	}

	for _, port := range req.OutputPorts() {
		if _, err := os.Stat(outputs[port]); err != nil {
			return nil, fmt.Errorf("%w: %s (%s)", ErrMissingOutput, port, outputs[port])
		}
	}

	return NewResponse(outputs), nil
}

// buildArgs формирует аргументы по шаблонам или по протоколу обёрток.
func (s *CommandStep) buildArgs(req *Request, outputs map[string]string) ([]string, error) {
	if len(s.Args) > 0 {
		return RenderArgs(s.Args, NewTemplateData(req, outputs))
	}

	args := []string{"--node", req.NodeID, "--workdir", req.WorkDir}
	if req.Subject != "" {
		args = append(args, "--subject", req.Subject)
	}
	for _, port := range req.InputPorts() {
		for _, ref := range req.Inputs[port] {
			args = append(args, "--in", port+"="+ref.Location)
		}
	}
	for _, port := range req.OutputPorts() {
		args = append(args, "--out", port+"="+outputs[port])
	}

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--param", fmt.Sprintf("%s=%v", k, req.Params[k]))
	}

	return args, nil
}

// tail возвращает последние maxOutputTail байт вывода.
func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}
