// Package notify delivers outbound messages (email) on a best-effort basis.
// Callers hand a Message to a Notifier and never wait for delivery.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Message is one outbound notification.
type Message struct {
	Kind    string // e.g. "version_added", "access_decision", "anomaly_alert"
	To      []string
	Subject string
	Body    string
}

// Notifier accepts messages for asynchronous delivery. Notify never blocks
// on delivery and never reports delivery failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Sender performs a synchronous delivery attempt.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender logs messages instead of delivering them; used when SMTP is not
// configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification (delivery disabled)",
		"kind", msg.Kind, "to", msg.To, "subject", msg.Subject)
	return nil
}

// Recorder is a Notifier that keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) {}
