// Package scheduler перезапускает исследования по расписанию.
//
// Scheduler периодически проверяет расписания с истекшим next_due_at
// и запускает исследование заново. Благодаря кэшу артефактов повторный
// run пересчитывает только то, что изменилось.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Add, Tick, Run)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Launch: launchFn,
//	    Logger: logger,
//	})
//	_ = sched.Add(&domain.Schedule{Name: "adni", Study: "adni.yaml", CronExpr: "0 3 * * *", Enabled: true})
//	go sched.Run(ctx)
//
// ID запуска детерминирован (см. RunID): повторный тик для того же
// времени не создаёт второй run.
//
// Leader election не реализуется здесь: в neuroflow-server Tick
// вызывается только процессом, удерживающим pg_try_advisory_lock.
package scheduler
