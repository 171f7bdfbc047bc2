// Package approval implements the human approval gate at the end of a
// debate round.
//
// A task reaching the approval checkpoint is held in the "approval" status
// until a decision is applied. The gate decides which decisions are on
// offer (revise only while rounds remain) and applies them to the store:
// approve marks the latest consensus approved and moves the task to
// "approved", cancel moves it to "cancelled", revise leaves the task for
// the next round.
//
// # Usage
//
//	gate := approval.NewGate(store, bus)
//
//	req, err := gate.Request(ctx, task)
//	// present req.Consensus and req.Options to a human
//
//	err = gate.Apply(ctx, task, approval.Approve, "ship it")
//
// # Thread Safety
//
// Gate holds no mutable state of its own; concurrent decisions on the same
// task are last-writer-wins in the store.
package approval
