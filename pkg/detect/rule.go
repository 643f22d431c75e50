package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Source describes an event table the rules aggregate over.
type Source struct {
	Kind           AlertKind
	Table          string
	UserColumn     string
	DocumentColumn string
	IPColumn       string
	// SampleColumns are copied into alert evidence.
	SampleColumns []string
}

// AccessRequests aggregates the access_requests table.
var AccessRequests = Source{
	Kind:           KindAccess,
	Table:          "access_requests",
	UserColumn:     "requester_id",
	DocumentColumn: "document_id",
	IPColumn:       "ip_address",
	SampleColumns:  []string{"id", "requester_id", "document_id", "status", "ip_address", "user_agent", "created_at"},
}

// Downloads aggregates the download_events table.
var Downloads = Source{
	Kind:           KindDownload,
	Table:          "download_events",
	UserColumn:     "user_id",
	DocumentColumn: "document_id",
	IPColumn:       "ip_address",
	SampleColumns:  []string{"id", "user_id", "document_id", "version_id", "success", "ip_address", "user_agent", "created_at"},
}

// Dimension is a subject attribute events can be grouped or counted by.
type Dimension string

const (
	DimUser     Dimension = "user"
	DimDocument Dimension = "document"
	DimIP       Dimension = "ip"
)

func (s Source) column(d Dimension) string {
	switch d {
	case DimUser:
		return s.UserColumn
	case DimDocument:
		return s.DocumentColumn
	case DimIP:
		return s.IPColumn
	}
	return ""
}

// Subject identifies who or what an alert is about. Empty fields are not
// part of the grouping.
type Subject struct {
	UserID     string
	DocumentID string
	IPAddress  string
}

// Key is the stable deduplication key of the subject.
func (s Subject) Key() string {
	var parts []string
	if s.UserID != "" {
		parts = append(parts, "user="+s.UserID)
	}
	if s.DocumentID != "" {
		parts = append(parts, "document="+s.DocumentID)
	}
	if s.IPAddress != "" {
		parts = append(parts, "ip="+s.IPAddress)
	}
	if len(parts) == 0 {
		return "org"
	}
	return strings.Join(parts, ";")
}

// Finding is one group that crossed a rule's threshold.
type Finding struct {
	Subject  Subject
	Count    int64
	From, To time.Time
	Sample   []map[string]any
	Details  map[string]any
}

// Rule detects anomalies in one source.
type Rule interface {
	ID() string
	Kind() AlertKind
	Severity() Severity
	// CooldownFor is how long the subject user is barred from new access
	// requests when the rule fires; zero means no cooldown.
	CooldownFor() time.Duration
	Evaluate(ctx context.Context, db *gorm.DB, now time.Time) ([]Finding, error)
}

// HourRange restricts a rule to local hours [From, To).
type HourRange struct {
	From, To int
	Location *time.Location
}

// spans returns the parts of [from, to) that fall in the range, in order.
func (h *HourRange) spans(from, to time.Time) [][2]time.Time {
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	local := from.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	var out [][2]time.Time
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		// Wall-clock bounds keep the range right on DST transition days.
		y, m, dd := day.Date()
		start := time.Date(y, m, dd, h.From, 0, 0, 0, loc)
		end := time.Date(y, m, dd, h.To, 0, 0, 0, loc)
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if start.Before(end) {
			out = append(out, [2]time.Time{start.UTC(), end.UTC()})
		}
	}
	return out
}

// ThresholdRule fires for every group of events in [now-Window, now) whose
// count reaches Threshold.
type ThresholdRule struct {
	RuleID string
	Source Source
	// GroupBy lists the subject dimensions; empty means one group for the
	// whole organisation.
	GroupBy []Dimension
	// Distinct counts distinct values of a dimension instead of events.
	Distinct Dimension
	// Where is an optional extra SQL filter with its arguments.
	Where     string
	WhereArgs []any
	Window    time.Duration
	Threshold int64
	Level     Severity
	// Hours counts only events whose local time falls in the range.
	Hours      *HourRange
	SampleSize int
	Cooldown   time.Duration
}

func (r *ThresholdRule) ID() string                 { return r.RuleID }
func (r *ThresholdRule) Kind() AlertKind            { return r.Source.Kind }
func (r *ThresholdRule) Severity() Severity         { return r.Level }
func (r *ThresholdRule) CooldownFor() time.Duration { return r.Cooldown }
func (r *ThresholdRule) WindowSize() time.Duration  { return r.Window }

type groupRow struct {
	UserID     string
	DocumentID string
	IPAddress  string
	N          int64
}

var dimensionAlias = map[Dimension]string{
	DimUser:     "user_id",
	DimDocument: "document_id",
	DimIP:       "ip_address",
}

func (r *ThresholdRule) Evaluate(ctx context.Context, db *gorm.DB, now time.Time) ([]Finding, error) {
	now = now.UTC()
	from := now.Add(-r.Window)
	if r.Hours != nil && len(r.Hours.spans(from, now)) == 0 {
		return nil, nil
	}
	countExpr := "COUNT(*)"
	if r.Distinct != "" {
		countExpr = fmt.Sprintf("COUNT(DISTINCT %s)", r.Source.column(r.Distinct))
	}

	selects := make([]string, 0, len(r.GroupBy)+1)
	groups := make([]string, 0, len(r.GroupBy))
	for _, d := range r.GroupBy {
		col := r.Source.column(d)
		selects = append(selects, fmt.Sprintf("%s AS %s", col, dimensionAlias[d]))
		groups = append(groups, col)
	}
	selects = append(selects, countExpr+" AS n")

	q := r.window(db.WithContext(ctx), from, now).Select(strings.Join(selects, ", "))
	for _, g := range groups {
		q = q.Group(g)
	}
	// Older SQLite rejects HAVING without GROUP BY, so the organisation-wide
	// total is compared below instead.
	if len(groups) > 0 {
		q = q.Having(countExpr+" >= ?", r.Threshold)
	}
	var rows []groupRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("rule %s: aggregate %s: %w", r.RuleID, r.Source.Table, err)
	}

	findings := make([]Finding, 0, len(rows))
	for _, row := range rows {
		if row.N < r.Threshold {
			continue
		}
		subj := Subject{UserID: row.UserID, DocumentID: row.DocumentID, IPAddress: row.IPAddress}
		sample, err := r.sample(ctx, db, subj, from, now)
		if err != nil {
			return nil, err
		}
		details := map[string]any{
			"threshold":     r.Threshold,
			"windowSeconds": int64(r.Window / time.Second),
		}
		if r.Distinct != "" {
			details["distinct"] = string(r.Distinct)
		}
		findings = append(findings, Finding{
			Subject: subj,
			Count:   row.N,
			From:    from,
			To:      now,
			Sample:  sample,
			Details: details,
		})
	}
	return findings, nil
}

// window selects the events in [from, to) that pass the rule's filter.
func (r *ThresholdRule) window(db *gorm.DB, from, to time.Time) *gorm.DB {
	q := db.Table(r.Source.Table).Where("created_at >= ? AND created_at < ?", from, to)
	if r.Hours != nil {
		var (
			conds []string
			args  []any
		)
		for _, sp := range r.Hours.spans(from, to) {
			conds = append(conds, "(created_at >= ? AND created_at < ?)")
			args = append(args, sp[0], sp[1])
		}
		q = q.Where(strings.Join(conds, " OR "), args...)
	}
	if r.Where != "" {
		q = q.Where(r.Where, r.WhereArgs...)
	}
	return q
}

func (r *ThresholdRule) sample(ctx context.Context, db *gorm.DB, subj Subject, from, to time.Time) ([]map[string]any, error) {
	return sampleEvents(ctx, r.window(db, from, to), r.Source, subj, r.SampleSize)
}

func sampleEvents(ctx context.Context, q *gorm.DB, src Source, subj Subject, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = defaultSampleSize
	}
	if subj.UserID != "" {
		q = q.Where(src.UserColumn+" = ?", subj.UserID)
	}
	if subj.DocumentID != "" {
		q = q.Where(src.DocumentColumn+" = ?", subj.DocumentID)
	}
	if subj.IPAddress != "" {
		q = q.Where(src.IPColumn+" = ?", subj.IPAddress)
	}
	var rows []map[string]any
	err := q.WithContext(ctx).Select(src.SampleColumns).
		Order("created_at DESC").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", src.Table, err)
	}
	for _, row := range rows {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
	}
	return rows, nil
}

// NewIPRule fires when a user downloads at least Threshold times in
// [now-Window, now) from an address that user did not use during the
// Baseline before the window.
type NewIPRule struct {
	RuleID     string
	Window     time.Duration
	Baseline   time.Duration
	Threshold  int64
	Level      Severity
	SampleSize int
}

func (r *NewIPRule) ID() string                 { return r.RuleID }
func (r *NewIPRule) Kind() AlertKind            { return KindDownload }
func (r *NewIPRule) Severity() Severity         { return r.Level }
func (r *NewIPRule) CooldownFor() time.Duration { return 0 }
func (r *NewIPRule) WindowSize() time.Duration  { return r.Window }

func (r *NewIPRule) Evaluate(ctx context.Context, db *gorm.DB, now time.Time) ([]Finding, error) {
	now = now.UTC()
	from := now.Add(-r.Window)
	recent := func() *gorm.DB {
		return db.WithContext(ctx).Table(Downloads.Table).
			Where("created_at >= ? AND created_at < ?", from, now).
			Where("success = ? AND ip_address <> ''", true)
	}

	var rows []groupRow
	if err := recent().
		Select("user_id, ip_address, COUNT(*) AS n").
		Group("user_id").Group("ip_address").
		Having("COUNT(*) >= ?", r.Threshold).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("rule %s: aggregate downloads: %w", r.RuleID, err)
	}

	var findings []Finding
	for _, row := range rows {
		var seen int64
		if err := db.WithContext(ctx).Table(Downloads.Table).
			Where("user_id = ? AND ip_address = ?", row.UserID, row.IPAddress).
			Where("created_at >= ? AND created_at < ?", from.Add(-r.Baseline), from).
			Count(&seen).Error; err != nil {
			return nil, fmt.Errorf("rule %s: baseline for %s: %w", r.RuleID, row.UserID, err)
		}
		if seen > 0 {
			continue
		}
		subj := Subject{UserID: row.UserID, IPAddress: row.IPAddress}
		sample, err := sampleEvents(ctx, recent(), Downloads, subj, r.SampleSize)
		if err != nil {
			return nil, err
		}
		findings = append(findings, Finding{
			Subject: subj,
			Count:   row.N,
			From:    from,
			To:      now,
			Sample:  sample,
			Details: map[string]any{
				"threshold":       r.Threshold,
				"windowSeconds":   int64(r.Window / time.Second),
				"baselineSeconds": int64(r.Baseline / time.Second),
				"newIp":           row.IPAddress,
			},
		})
	}
	return findings, nil
}
