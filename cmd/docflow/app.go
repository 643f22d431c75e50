package main

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/access"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/db"
	"github.com/archivum/docflow/pkg/detect"
	"github.com/archivum/docflow/pkg/jobs"
	"github.com/archivum/docflow/pkg/llm"
	"github.com/archivum/docflow/pkg/metrics"
	"github.com/archivum/docflow/pkg/notify"
	"github.com/archivum/docflow/pkg/server"
	"github.com/archivum/docflow/pkg/storage"
	"github.com/archivum/docflow/pkg/workflow"
)

// app owns every store and service of one docflow process.
type app struct {
	cfg    *config
	logger *slog.Logger

	db         *gorm.DB
	metrics    *metrics.Metrics
	dispatcher *notify.Dispatcher
	overrides  mapset.Set[authz.Role]

	audit     *audit.Store
	docs      *workflow.DocumentStore
	versions  *workflow.VersionStore
	steps     *workflow.StepEngine
	policies  *access.PolicyStore
	cooldowns *access.CooldownStore
	access    *access.Service
	alerts    *detect.AlertStore
	downloads *detect.DownloadLog
	detector  *detect.Detector
	runs      *jobs.RunStore
	scheduler *jobs.Scheduler
}

// newApp opens the database and builds the object graph. Only the
// notification workers are started; call close when done.
func newApp(ctx context.Context, cfg *config, logger *slog.Logger) (*app, error) {
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open file storage: %w", err)
	}

	directory := notify.NewStaticDirectory(notify.DirectoryFile{})
	if cfg.Notify.DirectoryPath != "" {
		directory, err = notify.LoadDirectory(cfg.Notify.DirectoryPath)
		if err != nil {
			return nil, err
		}
	}
	var sender notify.Sender = notify.LogSender{Logger: logger}
	if mailer := notify.NewMailer(cfg.Notify.SMTP); mailer.IsConfigured() {
		sender = mailer
	} else {
		logger.Info("SMTP not configured, notifications are logged only")
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		db:         gdb,
		metrics:    metrics.New(nil),
		dispatcher: notify.NewDispatcher(sender, cfg.Notify, logger),
		overrides:  mapset.NewSet(cfg.Auth.OverrideRoles...),
	}
	if a.overrides.Cardinality() == 0 {
		a.overrides = authz.DefaultOverrideRoles()
	}

	a.audit = audit.NewStore(gdb)
	a.docs = workflow.NewDocumentStore(gdb, a.audit,
		workflow.WithOverrideRoles(a.overrides),
		workflow.WithLogger(logger),
	)
	a.policies = access.NewPolicyStore(gdb, a.audit, cfg.Cache)
	a.cooldowns = access.NewCooldownStore(gdb)
	a.access = access.NewService(gdb, a.docs, a.policies, access.NewEvaluator(cfg.Cache, logger), a.cooldowns, a.audit,
		access.WithNotifier(a.dispatcher, directory),
		access.WithOverrideRoles(a.overrides),
		access.WithMetrics(a.metrics),
		access.WithLogger(logger),
		access.WithConfig(cfg.Access),
	)

	a.downloads = detect.NewDownloadLog(gdb)
	wfOpts := []workflow.Option{
		workflow.WithNotifier(a.dispatcher, directory),
		workflow.WithDownloadRecorder(a.downloads),
		workflow.WithGrantChecker(a.access),
		workflow.WithAutoApprover(workflow.DefaultAutoApprover),
		workflow.WithOverrideRoles(a.overrides),
		workflow.WithMetrics(a.metrics),
		workflow.WithLogger(logger),
		workflow.WithConfig(cfg.Workflow),
	}
	if client := llm.NewClient(cfg.LLM, logger); client.Enabled() {
		wfOpts = append(wfOpts, workflow.WithTagger(llm.Tagger{Client: client, Timeout: cfg.Workflow.TaggingTimeout}))
	}
	a.versions = workflow.NewVersionStore(gdb, files, a.audit, wfOpts...)
	a.steps = workflow.NewStepEngine(gdb, a.audit, wfOpts...)

	a.alerts = detect.NewAlertStore(gdb, a.audit)
	rules := append(detect.DefaultAccessRules(cfg.Detect), detect.DefaultDownloadRules(cfg.Detect)...)
	a.detector = detect.NewDetector(gdb, a.audit, rules,
		detect.WithNotifier(a.dispatcher, directory),
		detect.WithCooldownSink(a.cooldowns),
		detect.WithMetrics(a.metrics),
		detect.WithLogger(logger),
	)

	a.runs = jobs.NewRunStore(gdb)
	a.scheduler, err = jobs.NewScheduler(a.runs, a.routines(), cfg.Jobs, a.metrics, logger)
	if err != nil {
		return nil, err
	}
	a.dispatcher.Start()
	return a, nil
}

// migrate creates or updates every table under the migration lock.
func (a *app) migrate(ctx context.Context) error {
	locker := db.NewMigrationLocker(a.db, a.cfg.DB.MigrationLock)
	return db.Migrate(ctx, locker, a.audit, a.docs, a.policies, a.alerts, a.runs)
}

// server returns the HTTP API over the app's services.
func (a *app) server() *server.Server {
	return &server.Server{
		DB:      a.db,
		Auth:    a.cfg.Auth,
		Metrics: a.metrics,
		Workflow: &workflow.Handlers{
			Documents:      a.docs,
			Versions:       a.versions,
			Steps:          a.steps,
			MaxUploadBytes: a.cfg.Workflow.MaxUploadBytes,
		},
		Access: &access.Handlers{
			Service:   a.access,
			Policies:  a.policies,
			Cooldowns: a.cooldowns,
		},
		Detect: &detect.Handlers{
			Detector:  a.detector,
			Alerts:    a.alerts,
			Overrides: a.overrides,
		},
		Audit:     a.audit,
		Runs:      a.runs,
		Scheduler: a.scheduler,
		Logger:    a.logger,
	}
}

// close waits for background work, drains the notification queue and
// closes the database.
func (a *app) close() {
	a.versions.Wait()
	a.dispatcher.Close()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
