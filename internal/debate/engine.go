package debate

import "context"

// Engine drives a run through the machine's states.
type Engine interface {
	Drive(ctx context.Context, r *Run) (State, error)
}

// LoopEngine runs phases until the run reaches a terminal state or a
// checkpoint.
type LoopEngine struct {
	m *Machine
}

// NewLoopEngine creates a LoopEngine over m.
func NewLoopEngine(m *Machine) *LoopEngine {
	return &LoopEngine{m: m}
}

// Drive implements Engine.
func (e *LoopEngine) Drive(ctx context.Context, r *Run) (State, error) {
	for !r.State.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return r.State, err
		}
		if err := e.m.step(ctx, r); err != nil {
			return r.State, err
		}
	}
	return r.State, nil
}

// StepEngine runs a single phase per Drive call. It lets callers render
// progress between phases or stop at a state of their choosing.
type StepEngine struct {
	m *Machine
}

// NewStepEngine creates a StepEngine over m.
func NewStepEngine(m *Machine) *StepEngine {
	return &StepEngine{m: m}
}

// Drive implements Engine.
func (e *StepEngine) Drive(ctx context.Context, r *Run) (State, error) {
	err := e.m.step(ctx, r)
	return r.State, err
}

var (
	_ Engine = (*LoopEngine)(nil)
	_ Engine = (*StepEngine)(nil)
)
