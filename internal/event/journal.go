package event

import (
	"context"
	"time"

	"github.com/Iron-Ham/debate/internal/logging"
)

// JournalWriter persists journal entries. The store implements it.
type JournalWriter interface {
	AppendEntry(ctx context.Context, entry Entry) error
}

// Journal writes every TaskEvent to the execution log. A write failure is
// logged and never propagated to the publisher.
type Journal struct {
	w       JournalWriter
	logger  *logging.Logger
	timeout time.Duration
}

// NewJournal creates a Journal writing through w.
func NewJournal(w JournalWriter, logger *logging.Logger) *Journal {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Journal{w: w, logger: logger, timeout: 5 * time.Second}
}

// Attach subscribes the journal to every event on the bus.
func (j *Journal) Attach(bus *Bus) string {
	return bus.SubscribeAll(j.Handle)
}

// Handle records e if it is a TaskEvent.
func (j *Journal) Handle(e Event) {
	te, ok := e.(TaskEvent)
	if !ok {
		return
	}
	entry := te.Entry()
	if entry.TaskID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.w.AppendEntry(ctx, entry); err != nil {
		j.logger.Warn("failed to journal event",
			"event", entry.Name,
			"task_id", entry.TaskID,
			"error", err.Error())
	}
}
