// Package detect scans recent access requests and downloads for anomalies
// with threshold rules over half-open time windows and records deduplicated
// alerts.
package detect

import (
	"time"

	"github.com/archivum/docflow/pkg/dbtypes"
)

// AlertKind is the activity an alert was raised on.
type AlertKind string

const (
	KindAccess   AlertKind = "access"
	KindDownload AlertKind = "download"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the review state of an alert.
type AlertStatus string

const (
	AlertNew      AlertStatus = "new"
	AlertReviewed AlertStatus = "reviewed"
	AlertResolved AlertStatus = "resolved"
)

// DownloadEventRecord is one attempt to read a version payload.
type DownloadEventRecord struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	UserID     string    `gorm:"column:user_id;index:idx_download_user_time,priority:1;not null"`
	DocumentID string    `gorm:"column:document_id;type:varchar(36);index"`
	VersionID  string    `gorm:"column:version_id;type:varchar(36)"`
	IPAddress  string    `gorm:"column:ip_address"`
	UserAgent  string    `gorm:"column:user_agent"`
	Success    bool      `gorm:"column:success;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;index;index:idx_download_user_time,priority:2"`
}

// TableName returns the GORM table name.
func (DownloadEventRecord) TableName() string { return "download_events" }

// AlertRecord is one detector finding.
type AlertRecord struct {
	ID             string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	Kind           AlertKind   `gorm:"column:kind;type:varchar(20);index;not null"`
	RuleID         string      `gorm:"column:rule_id;type:varchar(64);uniqueIndex:idx_alert_dedup,priority:1;not null"`
	Severity       Severity    `gorm:"column:severity;type:varchar(20);index;not null"`
	SubjectKey     string      `gorm:"column:subject_key;type:varchar(191);uniqueIndex:idx_alert_dedup,priority:2;not null"`
	UserID         string      `gorm:"column:user_id;index"`
	DocumentID     string      `gorm:"column:document_id;type:varchar(36)"`
	IPAddress      string      `gorm:"column:ip_address"`
	WindowFrom     time.Time   `gorm:"column:window_from;uniqueIndex:idx_alert_dedup,priority:3;not null"`
	WindowTo       time.Time   `gorm:"column:window_to;not null"`
	EventCount     int64       `gorm:"column:event_count;not null"`
	Evidence       dbtypes.Map `gorm:"column:evidence;type:text"`
	Status         AlertStatus `gorm:"column:status;type:varchar(20);index;default:new;not null"`
	ReviewedBy     string      `gorm:"column:reviewed_by"`
	ReviewedAt     *time.Time  `gorm:"column:reviewed_at"`
	ResolvedAt     *time.Time  `gorm:"column:resolved_at;index"`
	ResolutionNote string      `gorm:"column:resolution_note"`
	CreatedAt      time.Time   `gorm:"column:created_at;index"`
}

// TableName returns the GORM table name.
func (AlertRecord) TableName() string { return "alerts" }

// AllModels lists the tables owned by this package.
func AllModels() []any {
	return []any{&DownloadEventRecord{}, &AlertRecord{}}
}
