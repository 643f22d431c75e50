package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher is a Notifier that queues messages and delivers them from a
// fixed pool of goroutines. A full queue drops the message with a warning.
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	workers int
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup

	// mu guards closed; Notify holds the read lock while sending so Close
	// cannot close the queue under it.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher; call Start before use.
func NewDispatcher(sender Sender, cfg *NotifyConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Message, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.SendTimeout,
		logger:  logger,
	}
}

// Notify enqueues msg without blocking. Messages sent after Close are
// dropped.
func (d *Dispatcher) Notify(_ context.Context, msg Message) {
	if len(msg.To) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notification dispatcher closed, dropping message",
			"kind", msg.Kind, "subject", msg.Subject)
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("notification queue full, dropping message",
			"kind", msg.Kind, "subject", msg.Subject)
	}
}

// Start launches the delivery goroutines.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for msg := range d.queue {
				d.deliver(msg)
			}
		}()
	}
}

// Close stops accepting messages, drains the queue and waits for the
// workers to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Error("notification delivery failed",
			"kind", msg.Kind, "subject", msg.Subject, "recipients", len(msg.To), "error", err)
		return
	}
	d.logger.Debug("notification delivered", "kind", msg.Kind, "recipients", len(msg.To))
}
