package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/archivum/docflow/pkg/metrics"
	"github.com/archivum/docflow/pkg/notify"
)

// CooldownSink bars a user from new access requests until a time.
// *access.CooldownStore satisfies it.
type CooldownSink interface {
	ApplyCooldown(ctx context.Context, userID string, until time.Time, reason, alertID string) error
}

type options struct {
	notifier  notify.Notifier
	directory notify.Directory
	cooldowns CooldownSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Detector.
type Option func(*options)

func WithNotifier(n notify.Notifier, d notify.Directory) Option {
	return func(o *options) { o.notifier, o.directory = n, d }
}

// WithCooldownSink receives cooldowns for rules that carry one.
func WithCooldownSink(s CooldownSink) Option { return func(o *options) { o.cooldowns = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func buildOptions(opts []Option) *options {
	o := &options{
		notifier:  notify.Nop{},
		directory: notify.NewStaticDirectory(notify.DirectoryFile{}),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	clock := o.now
	o.now = func() time.Time { return clock().UTC() }
	return o
}
