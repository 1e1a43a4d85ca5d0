// Package pipeline runs the fixed sequence of processing steps applied to
// every valid order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

// ErrProcessingFailure is wrapped by every StepError.
var ErrProcessingFailure = errors.New("processing failure")

// StepFunc does the work of one step after its wait elapsed.
type StepFunc func(ctx context.Context, order models.Order) error

// Step is one named stage of the pipeline.
type Step struct {
	Name     string
	Duration time.Duration
	Run      StepFunc
}

// Sleeper blocks for d. Tests swap it out to avoid wall-clock delays.
type Sleeper func(d time.Duration)

// StepError reports which step failed for which order.
type StepError struct {
	Step    string
	OrderID int
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed for order %d: %v", e.Step, e.OrderID, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrProcessingFailure, e.Err}
}

// Pipeline runs its steps in order for one order at a time.
type Pipeline struct {
	steps  []Step
	sleep  Sleeper
	logger *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSleeper replaces time.Sleep.
func WithSleeper(s Sleeper) Option {
	return func(p *Pipeline) {
		p.sleep = s
	}
}

func New(steps []Step, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		steps:  steps,
		sleep:  time.Sleep,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Steps returns the configured steps in execution order.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Process runs every step for order. The first failing step stops the run
// and is returned as a *StepError. Cancellation of ctx does not interrupt a
// run that already started.
func (p *Pipeline) Process(ctx context.Context, order models.Order) error {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	for _, step := range p.steps {
		if err := p.runStep(ctx, step, order); err != nil {
			metrics.StepFailuresTotal.WithLabelValues(step.Name).Inc()
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, step Step, order models.Order) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &StepError{Step: step.Name, OrderID: order.OrderID, Err: fmt.Errorf("panic: %v", r)}
		}
		metrics.StepDuration.WithLabelValues(step.Name).Observe(time.Since(start).Seconds())
	}()

	p.logger.Debug("running step", zap.Int("order_id", order.OrderID), zap.String("step", step.Name))
	if step.Duration > 0 {
		p.sleep(step.Duration)
	}
	if step.Run == nil {
		return nil
	}
	if err := step.Run(ctx, order); err != nil {
		return &StepError{Step: step.Name, OrderID: order.OrderID, Err: err}
	}
	return nil
}
