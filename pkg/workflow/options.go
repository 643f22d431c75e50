package workflow

import (
	"context"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/metrics"
	"github.com/archivum/docflow/pkg/notify"
)

// Tagger derives tags from document text. Implementations must bound
// their own run time.
type Tagger interface {
	Tags(ctx context.Context, text string) ([]string, error)
}

// Download describes one attempt to read a version payload.
type Download struct {
	UserID     string
	DocumentID string
	VersionID  string
	IPAddress  string
	UserAgent  string
	Success    bool
	At         time.Time
}

// DownloadRecorder persists download attempts for anomaly detection.
type DownloadRecorder interface {
	RecordDownload(ctx context.Context, d Download) error
}

// GrantChecker reports whether a user holds a live access grant.
type GrantChecker interface {
	HasAccess(ctx context.Context, userID, documentID string, now time.Time) (bool, error)
}

// AutoApprover decides an auto-approval step. An error leaves the step
// pending and halts the chain for manual handling.
type AutoApprover interface {
	AutoApprove(ctx context.Context, doc DocumentRecord, step StepRecord) (note string, err error)
}

// AutoApproverFunc adapts a function to AutoApprover.
type AutoApproverFunc func(ctx context.Context, doc DocumentRecord, step StepRecord) (string, error)

func (f AutoApproverFunc) AutoApprove(ctx context.Context, doc DocumentRecord, step StepRecord) (string, error) {
	return f(ctx, doc, step)
}

// DefaultAutoApprover approves every auto step.
var DefaultAutoApprover = AutoApproverFunc(func(context.Context, DocumentRecord, StepRecord) (string, error) {
	return "approved automatically", nil
})

type options struct {
	notifier  notify.Notifier
	directory notify.Directory
	tagger    Tagger
	downloads DownloadRecorder
	grants    GrantChecker
	auto      AutoApprover
	overrides mapset.Set[authz.Role]
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	cfg       *WorkflowConfig
}

// Option configures the version store and step engine.
type Option func(*options)

func WithNotifier(n notify.Notifier, d notify.Directory) Option {
	return func(o *options) { o.notifier, o.directory = n, d }
}

func WithTagger(t Tagger) Option { return func(o *options) { o.tagger = t } }

func WithDownloadRecorder(r DownloadRecorder) Option { return func(o *options) { o.downloads = r } }

func WithGrantChecker(g GrantChecker) Option { return func(o *options) { o.grants = g } }

func WithAutoApprover(a AutoApprover) Option { return func(o *options) { o.auto = a } }

func WithOverrideRoles(roles mapset.Set[authz.Role]) Option {
	return func(o *options) { o.overrides = roles }
}

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithConfig(cfg *WorkflowConfig) Option { return func(o *options) { o.cfg = cfg } }

func buildOptions(opts []Option) *options {
	o := &options{
		notifier:  notify.Nop{},
		directory: notify.NewStaticDirectory(notify.DirectoryFile{}),
		auto:      DefaultAutoApprover,
		overrides: authz.DefaultOverrideRoles(),
		logger:    slog.Default(),
		now:       time.Now,
		cfg:       DefaultWorkflowConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	clock := o.now
	o.now = func() time.Time { return clock().UTC() }
	return o
}
