package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/debate/internal/logging"
)

// Publisher sends a payload on a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// ChannelFor returns the pub/sub channel carrying a task's notifications.
func ChannelFor(taskID string) string {
	return "channel:task:" + taskID
}

// Notifier forwards TaskEvents to an external pub/sub channel.
//
// Delivery is at-most-once and lossy: Handle never blocks, entries are
// dropped when the buffer is full, and publish errors are only logged.
// Nothing in the workflow depends on a notification arriving.
type Notifier struct {
	pub     Publisher
	logger  *logging.Logger
	ch      chan Entry
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier with the given buffer size and starts its
// delivery goroutine. Call Close to stop it.
func NewNotifier(pub Publisher, buffer int, logger *logging.Logger) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	n := &Notifier{
		pub:    pub,
		logger: logger,
		ch:     make(chan Entry, buffer),
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Attach subscribes the notifier to every event on the bus.
func (n *Notifier) Attach(bus *Bus) string {
	return bus.SubscribeAll(n.Handle)
}

// Handle enqueues e for delivery if it is a TaskEvent and there is room.
func (n *Notifier) Handle(e Event) {
	te, ok := e.(TaskEvent)
	if !ok {
		return
	}
	entry := te.Entry()
	if entry.TaskID == "" {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.ch <- entry:
	default:
		n.dropped.Add(1)
	}
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for entry := range n.ch {
		payload, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := n.pub.Publish(ctx, ChannelFor(entry.TaskID), string(payload)); err != nil {
			n.logger.Debug("notification publish failed", "event", entry.Name, "error", err.Error())
		}
		cancel()
	}
}

// Dropped returns the number of entries discarded because the buffer was full.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close stops accepting entries and waits for buffered ones to be sent.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.ch)
	n.mu.Unlock()

	n.wg.Wait()
}
