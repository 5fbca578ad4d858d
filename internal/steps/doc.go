// Package steps — интерфейс непрозрачных вычислительных шагов.
//
// Движок не знает, какой алгоритм выполняет шаг (коррекция поля
// смещения, сегментация, eddy, dtifit...). Шаг получает именованные
// входные артефакты и параметры и возвращает именованные выходы.
//
// # Интерфейс Step
//
//	type Step interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Шаг обязан быть детерминированным при одинаковых входах и параметрах.
// Если это не так, шаг реализует Cacheable и возвращает false.
//
// # Реализации
//
//   - CommandStep — запуск внешнего инструмента через os/exec
//   - FuncStep — функция внутри процесса (тесты, лёгкие шаги)
//
// # Registry
//
//	registry := steps.DefaultRegistry("/opt/neuroflow/tools", catalog.StepTypes())
//	step, err := registry.Get("fsl.bet")
//	if err != nil {
//	    // неизвестный тип
//	}
package steps
