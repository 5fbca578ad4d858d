package steps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shaiso/neuroflow/internal/domain"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepTimeout — шаг превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")

	// ErrMissingOutput — шаг не вернул объявленный выход.
	ErrMissingOutput = errors.New("step did not produce declared output")

	// ErrMissingInput — у запроса нет обязательного входа.
	ErrMissingInput = errors.New("step input missing")
)

// Ошибки рендеринга шаблонов аргументов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// Step — непрозрачный вычислительный шаг.
//
// Шаг получает фиксированный набор именованных входов и параметры и
// возвращает фиксированный набор именованных выходов. При одинаковых
// входах и параметрах результат должен быть одинаковым, иначе шаг
// обязан объявить себя некэшируемым (см. Cacheable).
type Step interface {
	// Type возвращает тип шага.
	Type() string

	// Execute выполняет шаг и возвращает пути к выходам.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Cacheable — опциональный интерфейс шага.
// Шаги, вернувшие false, запускаются всегда, без поиска в кэше.
type Cacheable interface {
	Cacheable() bool
}

// IsCacheable возвращает true, если результат шага можно переиспользовать.
func IsCacheable(s Step) bool {
	if c, ok := s.(Cacheable); ok {
		return c.Cacheable()
	}
	return true
}

// InputRef — ссылка на входной артефакт.
type InputRef struct {
	// Type — семантический тип артефакта.
	Type domain.ArtifactType `json:"type"`

	// Subject — субъект артефакта (для входов агрегации).
	Subject string `json:"subject,omitempty"`

	// Location — путь к данным.
	Location string `json:"location"`

	// Fingerprint — fingerprint артефакта.
	Fingerprint string `json:"fingerprint"`
}

// Request — входные данные для выполнения шага.
type Request struct {
	// NodeID — идентификатор узла графа.
	NodeID string

	// Subject — субъект узла. Пустой для узлов когорты.
	Subject string

	// Inputs — входы по имени порта. У узла агрегации на порт приходится
	// по одному входу на субъекта, у остальных ровно один.
	Inputs map[string][]InputRef

	// Outputs — объявленные выходные порты и их типы.
	Outputs map[string]domain.ArtifactType

	// Params — параметры шага, передаются без интерпретации.
	Params map[string]any

	// WorkDir — рабочая директория узла.
	WorkDir string

	// Timeout — таймаут выполнения шага. Если 0, таймаута нет.
	Timeout time.Duration
}

// Response — результат выполнения шага.
type Response struct {
	// Outputs — путь к данным для каждого выходного порта.
	Outputs map[string]string
}

// NewResponse создаёт новый Response с outputs.
func NewResponse(outputs map[string]string) *Response {
	if outputs == nil {
		outputs = make(map[string]string)
	}
	return &Response{
		Outputs: outputs,
	}
}

// Input возвращает единственный вход порта.
func (r *Request) Input(port string) (InputRef, error) {
	refs := r.Inputs[port]
	if len(refs) == 0 {
		return InputRef{}, fmt.Errorf("%w: %s", ErrMissingInput, port)
	}
	return refs[0], nil
}

// OutputPorts возвращает отсортированный список выходных портов.
func (r *Request) OutputPorts() []string {
	ports := make([]string, 0, len(r.Outputs))
	for port := range r.Outputs {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}

// InputPorts возвращает отсортированный список входных портов.
func (r *Request) InputPorts() []string {
	ports := make([]string, 0, len(r.Inputs))
	for port := range r.Inputs {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}

// CheckResponse проверяет, что шаг вернул все объявленные выходы.
func (r *Request) CheckResponse(resp *Response) error {
	if resp == nil {
		return fmt.Errorf("%w: empty response", ErrMissingOutput)
	}
	for _, port := range r.OutputPorts() {
		if resp.Outputs[port] == "" {
			return fmt.Errorf("%w: %s", ErrMissingOutput, port)
		}
	}
	return nil
}
