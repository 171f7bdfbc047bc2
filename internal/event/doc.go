// Package event provides the pub-sub bus through which debate phases report
// progress, and the two side channels that consume it.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [TaskEvent]: An Event scoped to a task that flattens to a journal [Entry]
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Journal]: Handler persisting every TaskEvent to the execution log
//   - [Notifier]: Lossy, non-blocking forwarder to a pub/sub channel per task
//
// # Event Categories
//
//   - task.created, task.status_changed
//   - triage.classified, triage.shadow_mode
//   - phase.started, phase.completed, phase.failed, phase.skipped
//   - agent.started, agent.completed, agent.failed
//   - consensus.calculated
//   - human.decision, question.answered
//   - cost.logged
//   - job.enqueued, job.dead_lettered
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously and protected against panics. [Notifier.Handle] never
// blocks; when its buffer is full the entry is dropped and counted.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	event.NewJournal(st, logger).Attach(bus)
//	notifier := event.NewNotifier(broker, 256, logger)
//	notifier.Attach(bus)
//	defer notifier.Close()
//
//	bus.Publish(event.NewPhaseStartedEvent(task.ID, "analysis", 1))
package event
