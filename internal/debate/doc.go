// Package debate drives a task through the debate workflow.
//
// The workflow is one transition table over a closed set of states:
//
//	scoping -> exploration -> analysis -> questions -> consensus -> approval
//	                             |             ^                     |
//	                             v             |                     v
//	                analysis_failure_decision -+        increment_round -> analysis
//
// Each state has one Phase holding its logic. An Engine decides how phases
// are executed: LoopEngine runs them until the task reaches a terminal
// state or a checkpoint, StepEngine runs exactly one per call. Both persist
// the task status after every transition, so a task can be resumed from
// the store at the state its status names.
//
// The questions and approval states need a human. Without a Prompter they
// stop with ErrCheckpoint and the task waits in that status until it is
// resumed.
//
// # Usage
//
//	m := debate.NewMachine(deps, cfg)
//	run, err := m.Start(ctx, debate.StartRequest{Request: "Add caching to the API"})
//	if err != nil { ... }
//	state, err := debate.NewLoopEngine(m).Drive(ctx, run)
//	if errors.Is(err, errors.ErrCheckpoint) {
//		// waiting on a human; debate resume picks it up later
//	}
package debate
