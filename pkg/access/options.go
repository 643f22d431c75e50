package access

import (
	"context"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/metrics"
	"github.com/archivum/docflow/pkg/notify"
	"github.com/archivum/docflow/pkg/workflow"
)

// DocumentSource resolves the document an access request targets.
// *workflow.DocumentStore satisfies it.
type DocumentSource interface {
	Get(ctx context.Context, id string) (*workflow.DocumentRecord, error)
}

type options struct {
	notifier  notify.Notifier
	directory notify.Directory
	overrides mapset.Set[authz.Role]
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	cfg       *AccessConfig
}

// Option configures a Service.
type Option func(*options)

func WithNotifier(n notify.Notifier, d notify.Directory) Option {
	return func(o *options) { o.notifier, o.directory = n, d }
}

func WithOverrideRoles(roles mapset.Set[authz.Role]) Option {
	return func(o *options) { o.overrides = roles }
}

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock overrides time.Now for request and grant timestamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithConfig(cfg *AccessConfig) Option { return func(o *options) { o.cfg = cfg } }

func buildOptions(opts []Option) *options {
	o := &options{
		notifier:  notify.Nop{},
		directory: notify.NewStaticDirectory(notify.DirectoryFile{}),
		overrides: authz.DefaultOverrideRoles(),
		logger:    slog.Default(),
		now:       time.Now,
		cfg:       DefaultAccessConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	// Timestamps are bound as query arguments; SQLite compares them as text.
	clock := o.now
	o.now = func() time.Time { return clock().UTC() }
	return o
}
