package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/engine"
	"github.com/shaiso/neuroflow/internal/steps"
)

// nonceParam — параметр ключа некэшируемого шага, делает ключ уникальным.
const nonceParam = "neuroflow.nonce"

// produced — результат вычисления (или поиска в кэше) одного ключа.
type produced struct {
	outputs  map[string]*domain.Artifact
	cached   bool
	attempts int
}

// runNode выполняет узел: собирает входы, ищет выходы в кэше, при
// промахе вызывает шаг и записывает выходы в хранилище.
func (o *Orchestrator) runNode(ctx context.Context, rc *runContext, n *engine.Node) nodeOutcome {
	out := nodeOutcome{node: n}

	step, err := rc.opts.steps.Get(n.Step)
	if err != nil {
		out.err = &StepExecutionError{NodeID: n.ID, Step: n.Step, Err: err}
		return out
	}

	inputs, fingerprints, err := o.collectInputs(rc, n)
	if err != nil {
		out.err = &StepExecutionError{NodeID: n.ID, Step: n.Step, Err: err}
		return out
	}

	cacheable := steps.IsCacheable(step)
	key, err := cacheKey(n, fingerprints, cacheable)
	if err != nil {
		out.err = &StepExecutionError{NodeID: n.ID, Step: n.Step, Err: err}
		return out
	}

	// Второй узел с тем же ключом ждёт первого вместо повторного вызова шага
	ran := false
	v, err, _ := o.flight.Do(key, func() (any, error) {
		ran = true
		return o.produce(ctx, rc, n, step, inputs, key, cacheable)
	})

	p, _ := v.(*produced)
	if p != nil {
		out.attempts = p.attempts
	}
	if err != nil {
		if !ran {
			out.attempts = 0
			err = &StepExecutionError{NodeID: n.ID, Step: n.Step, Err: err}
		}
		out.err = err
		return out
	}

	out.outputs = p.outputs
	out.cached = p.cached
	if !ran {
		out.cached = true
		out.attempts = 0
	}
	return out
}

// produce ищет выходы ключа в хранилище и при промахе вызывает шаг.
func (o *Orchestrator) produce(ctx context.Context, rc *runContext, n *engine.Node, step steps.Step, inputs map[string][]steps.InputRef, key string, cacheable bool) (*produced, error) {
	if cacheable {
		outputs, hit, err := o.lookup(ctx, n, key)
		if err != nil {
			return nil, &StepExecutionError{NodeID: n.ID, Step: n.Step, Err: err}
		}
		if hit {
			return &produced{outputs: outputs, cached: true}, nil
		}
	}

	workDir := nodeWorkDir(rc.opts.workDir, n, key)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &StepExecutionError{NodeID: n.ID, Step: n.Step, Err: fmt.Errorf("create work dir: %w", err)}
	}

	req := &steps.Request{
		NodeID:  n.ID,
		Subject: n.Subject,
		Inputs:  inputs,
		Outputs: make(map[string]domain.ArtifactType, len(n.Outputs)),
		Params:  n.Params,
		WorkDir: workDir,
		Timeout: rc.opts.stepTimeout,
	}
	for _, p := range n.Outputs {
		req.Outputs[p.Name] = p.Type
	}

	resp, attempts, err := o.executeWithRetry(ctx, step, req, rc.opts.retry)
	if err != nil {
		return &produced{attempts: attempts}, &StepExecutionError{
			NodeID:   n.ID,
			Step:     n.Step,
			Attempts: attempts,
			Err:      err,
		}
	}

	outputs, err := o.storeOutputs(ctx, n, key, resp)
	if err != nil {
		return &produced{attempts: attempts}, &StepExecutionError{
			NodeID:   n.ID,
			Step:     n.Step,
			Attempts: attempts,
			Err:      err,
		}
	}

	return &produced{outputs: outputs, attempts: attempts}, nil
}

// collectInputs собирает входы узла и fingerprint каждого порта.
//
// У порта с несколькими входами (агрегация) fingerprint — склейка
// fingerprint входов в порядке привязок. Входы от незавершённых узлов
// пропускаются: так агрегат в режиме best-effort видит только успешных
// субъектов.
func (o *Orchestrator) collectInputs(rc *runContext, n *engine.Node) (map[string][]steps.InputRef, map[string]string, error) {
	inputs := make(map[string][]steps.InputRef)
	parts := make(map[string][]string)

	for _, b := range n.Inputs {
		var a *domain.Artifact
		if b.IsExternal() {
			ext, ok := rc.externals[b.External.Key()]
			if !ok {
				return nil, nil, fmt.Errorf("%w: external %s", ErrInputNotReady, b.External.Location)
			}
			a = ext
		} else {
			if rc.state.Status(b.FromNode) != domain.NodeStatusCompleted {
				if n.Kind == domain.NodeKindAggregate {
					continue
				}
				return nil, nil, fmt.Errorf("%w: %s.%s", ErrInputNotReady, b.FromNode, b.FromPort)
			}
			src, ok := rc.state.Output(b.FromNode, b.FromPort)
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s.%s", ErrInputNotReady, b.FromNode, b.FromPort)
			}
			a = src
		}

		inputs[b.Port] = append(inputs[b.Port], steps.InputRef{
			Type:        b.Type,
			Subject:     b.Subject,
			Location:    a.Location,
			Fingerprint: a.Fingerprint,
		})
		parts[b.Port] = append(parts[b.Port], a.Fingerprint)
	}

	fingerprints := make(map[string]string, len(parts))
	for port, fps := range parts {
		fingerprints[port] = strings.Join(fps, ",")
	}
	return inputs, fingerprints, nil
}

// cacheKey вычисляет ключ кэша узла.
func cacheKey(n *engine.Node, fingerprints map[string]string, cacheable bool) (string, error) {
	params := n.Params
	if !cacheable {
		params = make(map[string]any, len(n.Params)+1)
		for k, v := range n.Params {
			params[k] = v
		}
		params[nonceParam] = uuid.NewString()
	}

	return artifact.CacheKey(artifact.KeyInput{
		StepType: n.Step,
		Slot:     n.Slot,
		Variant:  string(n.Variant),
		Inputs:   fingerprints,
		Params:   params,
	})
}

// lookup ищет все выходы ключа в хранилище.
// hit — true только если найден каждый объявленный выход.
func (o *Orchestrator) lookup(ctx context.Context, n *engine.Node, key string) (map[string]*domain.Artifact, bool, error) {
	outputs := make(map[string]*domain.Artifact, len(n.Outputs))
	for _, p := range n.Outputs {
		a, err := o.store.Get(ctx, artifact.OutputFingerprint(key, p.Name))
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("cache lookup: %w", err)
		}
		outputs[p.Name] = a
	}
	return outputs, true, nil
}

// storeOutputs записывает выходы шага в хранилище.
func (o *Orchestrator) storeOutputs(ctx context.Context, n *engine.Node, key string, resp *steps.Response) (map[string]*domain.Artifact, error) {
	scope := domain.ScopeSubject
	if n.IsCohort() {
		scope = domain.ScopeCohort
	}

	outputs := make(map[string]*domain.Artifact, len(n.Outputs))
	for _, p := range n.Outputs {
		stored, err := o.store.Put(ctx, &domain.Artifact{
			Type:        p.Type,
			Modality:    n.Modality,
			Subject:     n.Subject,
			Scope:       scope,
			ProducedBy:  n.ID,
			Port:        p.Name,
			Fingerprint: artifact.OutputFingerprint(key, p.Name),
			Location:    resp.Outputs[p.Name],
		})
		if err != nil {
			return nil, fmt.Errorf("store output %s: %w", p.Name, err)
		}
		outputs[p.Name] = stored
	}
	return outputs, nil
}

// nodeWorkDir — <workDir>/<modality>/<subject|cohort>/<slot>/<key[:12]>.
func nodeWorkDir(root string, n *engine.Node, key string) string {
	subject := n.Subject
	if subject == "" {
		subject = engine.CohortSubject
	}
	short := key
	if len(short) > 12 {
		short = short[:12]
	}
	return filepath.Join(root, string(n.Modality), subject, n.Slot, short)
}

func externalError(e engine.ExternalInput, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrExternalInput, e.Type, e.Location, err)
}
