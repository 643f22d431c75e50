package detect

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/db"
	"github.com/archivum/docflow/pkg/dbtypes"
	"github.com/archivum/docflow/pkg/notify"
)

// Detector runs rules and records one alert per rule, subject and window.
type Detector struct {
	db    *gorm.DB
	rules []Rule
	audit *audit.Store
	opts  *options
}

// RunReport summarises one detector run.
type RunReport struct {
	Rules      int      `json:"rules"`
	Findings   int      `json:"findings"`
	Created    []string `json:"created"`
	Duplicates int      `json:"duplicates"`
	Failed     []string `json:"failed"`
}

// NewDetector creates a Detector over rules.
func NewDetector(db *gorm.DB, auditStore *audit.Store, rules []Rule, opts ...Option) *Detector {
	return &Detector{db: db, rules: rules, audit: auditStore, opts: buildOptions(opts)}
}

// Rules returns the configured rules.
func (d *Detector) Rules() []Rule { return d.rules }

// Run evaluates every rule at now.
func (d *Detector) Run(ctx context.Context, now time.Time) (*RunReport, error) {
	return d.run(ctx, d.rules, now)
}

// RunKind evaluates the rules of one kind at now.
func (d *Detector) RunKind(ctx context.Context, kind AlertKind, now time.Time) (*RunReport, error) {
	var rules []Rule
	for _, r := range d.rules {
		if r.Kind() == kind {
			rules = append(rules, r)
		}
	}
	return d.run(ctx, rules, now)
}

// run isolates rules from each other: a failing or panicking rule is
// reported and the remaining rules still run.
func (d *Detector) run(ctx context.Context, rules []Rule, now time.Time) (*RunReport, error) {
	// Windows are bound as query arguments and SQLite compares timestamps
	// as text, so every bound must share one zone.
	now = now.UTC()
	report := &RunReport{Rules: len(rules), Created: []string{}, Failed: []string{}}
	var errs *multierror.Error
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		findings, err := d.evaluate(ctx, rule, now)
		if err != nil {
			report.Failed = append(report.Failed, rule.ID())
			d.opts.metrics.RuleFailed(rule.ID())
			d.opts.logger.Error("detector rule failed", "rule", rule.ID(), "error", err)
			errs = multierror.Append(errs, fmt.Errorf("rule %s: %w", rule.ID(), err))
			continue
		}
		report.Findings += len(findings)
		for _, f := range findings {
			alert, created, err := d.record(ctx, rule, f)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("rule %s: record %s: %w", rule.ID(), f.Subject.Key(), err))
				continue
			}
			if !created {
				report.Duplicates++
				continue
			}
			report.Created = append(report.Created, alert.ID)
			d.raised(ctx, rule, alert)
		}
	}
	return report, errs.ErrorOrNil()
}

func (d *Detector) evaluate(ctx context.Context, rule Rule, now time.Time) (findings []Finding, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.opts.logger.Error("detector rule panicked", "rule", rule.ID(), "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return rule.Evaluate(ctx, d.db, now)
}

// record inserts an alert for f unless one already covers an overlapping
// window for the same rule and subject.
func (d *Detector) record(ctx context.Context, rule Rule, f Finding) (*AlertRecord, bool, error) {
	key := f.Subject.Key()
	var alert *AlertRecord
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := subjectAlerts(tx, rule.ID(), key)
		if err != nil {
			return err
		}
		var existing int64
		if err := q.Where("window_from < ? AND window_to > ?", f.To.UTC(), f.From.UTC()).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("check duplicate alert: %w", err)
		}
		if existing > 0 {
			return nil
		}

		evidence := dbtypes.Map{"count": f.Count}
		for k, v := range f.Details {
			evidence[k] = v
		}
		sample := make([]any, 0, len(f.Sample))
		for _, s := range f.Sample {
			sample = append(sample, s)
		}
		evidence["sample"] = sample

		alert = &AlertRecord{
			ID:         uuid.New().String(),
			Kind:       rule.Kind(),
			RuleID:     rule.ID(),
			Severity:   rule.Severity(),
			SubjectKey: key,
			UserID:     f.Subject.UserID,
			DocumentID: f.Subject.DocumentID,
			IPAddress:  f.Subject.IPAddress,
			WindowFrom: f.From.UTC(),
			WindowTo:   f.To.UTC(),
			EventCount: f.Count,
			Evidence:   evidence,
			Status:     AlertNew,
			CreatedAt:  d.opts.now().UTC(),
		}
		if err := tx.Create(alert).Error; err != nil {
			return fmt.Errorf("create alert: %w", err)
		}
		return d.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
			EventType:  audit.EventAlertRaised,
			DocumentID: alert.DocumentID,
			EntityType: "alert",
			EntityID:   alert.ID,
			Action:     "raise",
			Reason:     rule.ID(),
			Metadata: dbtypes.Map{
				"severity": string(alert.Severity),
				"subject":  key,
				"count":    f.Count,
			},
		})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return alert, alert != nil, nil
}

// subjectAlerts scopes tx to the alerts of one rule and subject and holds
// a lock until tx ends, so concurrent runs on other replicas wait for the
// duplicate check instead of both inserting. SQLite already serialises
// writers.
func subjectAlerts(tx *gorm.DB, ruleID, key string) (*gorm.DB, error) {
	q := tx.Model(&AlertRecord{}).Where("rule_id = ? AND subject_key = ?", ruleID, key)
	switch tx.Dialector.Name() {
	case db.TypePostgres:
		lock := int64(crc32.ChecksumIEEE([]byte(ruleID + "|" + key)))
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", lock).Error; err != nil {
			return nil, fmt.Errorf("lock alert subject: %w", err)
		}
	case db.TypeMySQL:
		// Next-key locks on idx_alert_dedup block inserts into the range.
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q, nil
}

// raised runs the side effects of a committed alert.
func (d *Detector) raised(ctx context.Context, rule Rule, alert *AlertRecord) {
	d.opts.metrics.AlertCreated(alert.RuleID, string(alert.Severity))
	d.opts.logger.Warn("anomaly detected",
		"rule", alert.RuleID, "severity", alert.Severity, "subject", alert.SubjectKey, "count", alert.EventCount)

	if alert.Severity == SeverityCritical {
		d.notifyAdmins(ctx, alert)
	}
	if cd := rule.CooldownFor(); cd > 0 && alert.UserID != "" && d.opts.cooldowns != nil {
		until := alert.WindowTo.Add(cd)
		reason := fmt.Sprintf("alert %s (%s)", alert.ID, alert.RuleID)
		if err := d.opts.cooldowns.ApplyCooldown(ctx, alert.UserID, until, reason, alert.ID); err != nil {
			d.opts.logger.Error("apply cooldown", "user", alert.UserID, "alert", alert.ID, "error", err)
		}
	}
}

func (d *Detector) notifyAdmins(ctx context.Context, alert *AlertRecord) {
	to, err := d.opts.directory.Admins(ctx)
	if err != nil {
		d.opts.logger.Warn("resolve admin recipients", "error", err)
		return
	}
	if len(to) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Rule: %s\nSeverity: %s\nSubject: %s\nEvents: %d\nWindow: %s to %s\n",
		alert.RuleID, alert.Severity, alert.SubjectKey, alert.EventCount,
		alert.WindowFrom.Format(time.RFC3339), alert.WindowTo.Format(time.RFC3339))
	d.opts.notifier.Notify(ctx, notify.Message{
		Kind:    "anomaly_alert",
		To:      to,
		Subject: fmt.Sprintf("[docflow] critical alert: %s", alert.RuleID),
		Body:    b.String(),
	})
	d.opts.metrics.NotificationQueued("anomaly_alert")
}
