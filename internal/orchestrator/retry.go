package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/steps"
	"github.com/shaiso/neuroflow/internal/telemetry"
)

// executeWithRetry выполняет шаг с retry согласно policy (nil — одна попытка).
// Возвращает ответ шага и количество сделанных попыток.
func (o *Orchestrator) executeWithRetry(ctx context.Context, step steps.Step, req *steps.Request, policy *domain.RetryPolicy) (*steps.Response, int, error) {
	maxAttempts := 1
	if policy != nil && policy.MaxAttempts > 0 {
		maxAttempts = policy.MaxAttempts
	}

	logger := telemetry.WithNodeID(o.logger, req.NodeID)

	var lastErr error
	attempt := 0
	for {
		attempt++

		start := time.Now()
		resp, err := step.Execute(ctx, req)
		telemetry.StepDuration.WithLabelValues(step.Type()).Observe(time.Since(start).Seconds())

		if err == nil {
			err = req.CheckResponse(resp)
		}
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if attempt >= maxAttempts || !shouldRetry(err) {
			break
		}

		delay := calculateBackoff(attempt, policy)
		telemetry.StepRetriesTotal.WithLabelValues(step.Type()).Inc()

		logger.Debug("retrying step",
			"step", step.Type(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		}
	}

	return nil, attempt, lastErr
}

// shouldRetry определяет, имеет ли смысл повторять попытку.
// Отмена и отсутствие шага в реестре не лечатся повтором.
func shouldRetry(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, steps.ErrStepCancelled),
		errors.Is(err, steps.ErrStepNotFound),
		errors.Is(err, steps.ErrInvalidConfig):
		return false
	default:
		return true
	}
}

// calculateBackoff вычисляет задержку перед retry.
func calculateBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}
