package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step represents a single step in a saga with an execute and compensate function.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports which step failed and whether undoing the earlier steps
// worked.
type StepError struct {
	Saga          string
	Step          string
	Index         int
	Err           error
	CompensateErr error
}

func (e *StepError) Error() string {
	if e.CompensateErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v",
			e.Saga, e.Step, e.Err, e.CompensateErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Saga orchestrates a series of steps with automatic compensation on failure.
type Saga struct {
	name  string
	steps []Step
}

// New creates a new saga with the given name.
func New(name string) *Saga {
	return &Saga{name: name}
}

// AddStep adds a step to the saga.
func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the steps in order. When one fails, the completed steps are
// compensated in reverse order and a *StepError is returned.
//
// Compensation runs on a context that is not cancelled with ctx: a step that
// failed because its deadline passed must still be undone.
func (s *Saga) Execute(ctx context.Context) error {
	completed := make([]int, 0, len(s.steps))

	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:          s.name,
				Step:          step.Name,
				Index:         i,
				Err:           err,
				CompensateErr: s.compensate(context.WithoutCancel(ctx), completed),
			}
		}
		completed = append(completed, i)
	}

	return nil
}

func (s *Saga) compensate(ctx context.Context, completedIndexes []int) error {
	var errs []error
	for i := len(completedIndexes) - 1; i >= 0; i-- {
		step := s.steps[completedIndexes[i]]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
