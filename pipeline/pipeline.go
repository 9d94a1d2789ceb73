// Package pipeline wires steps together and runs hooks around them.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
)

// Pipeline executes a sequence of Steps on one item.
type Pipeline struct {
	steps []core.Step
	hooks []core.Hook
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes the pipeline on item.  It returns the final Item and a map of
// per-step timings.  The first failing step stops the run.
func (p *Pipeline) Run(ctx context.Context, item *core.Item) (*core.Item, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := item

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		p.callHooksBefore(ctx, step.Name(), current)
		start := time.Now()
		next, err := step.Execute(ctx, current)
		elapsed := time.Since(start)
		timings[step.Name()] = elapsed
		p.callHooksAfter(ctx, step.Name(), next, elapsed, err)

		if err != nil {
			return nil, timings, err
		}
		current = next
	}
	return current, timings, nil
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, item *core.Item) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, item)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, item *core.Item, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, item, d, err)
	}
}
