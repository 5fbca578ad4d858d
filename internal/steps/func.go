package steps

import "context"

// Func — сигнатура шага, реализованного внутри процесса.
type Func func(ctx context.Context, req *Request) (*Response, error)

// FuncStep — адаптер функции к интерфейсу Step.
type FuncStep struct {
	stepType  string
	fn        Func
	cacheable bool
}

// NewFuncStep создаёт кэшируемый шаг из функции.
func NewFuncStep(stepType string, fn Func) *FuncStep {
	return &FuncStep{
		stepType:  stepType,
		fn:        fn,
		cacheable: true,
	}
}

// NonCacheable помечает шаг как некэшируемый.
func (s *FuncStep) NonCacheable() *FuncStep {
	s.cacheable = false
	return s
}

// Type возвращает тип шага.
func (s *FuncStep) Type() string {
	return s.stepType
}

// Cacheable реализует интерфейс Cacheable.
func (s *FuncStep) Cacheable() bool {
	return s.cacheable
}

// Execute вызывает функцию шага.
func (s *FuncStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	return s.fn(ctx, req)
}
