// Package workflow implements document versioning and the sequential,
// role-gated approval chain attached to each document.
package workflow

import (
	"time"

	"github.com/archivum/docflow/pkg/dbtypes"
)

// Visibility controls who may read a document without an explicit grant.
type Visibility string

const (
	VisibilityPrivate    Visibility = "private"
	VisibilityDepartment Visibility = "department"
	VisibilityCompany    Visibility = "company"
	VisibilityPublic     Visibility = "public"
)

// ApprovalStatus is the document-level outcome of its approval chain.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalInReview ApprovalStatus = "in_review"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// DocumentRecord is a logical file entity.
type DocumentRecord struct {
	ID              string              `gorm:"primaryKey;column:id;type:varchar(36)"`
	Title           string              `gorm:"column:title;not null"`
	Company         string              `gorm:"column:company;index:idx_doc_org,priority:1"`
	Department      string              `gorm:"column:department;index:idx_doc_org,priority:2"`
	OwnerID         string              `gorm:"column:owner_id;index;not null"`
	ActiveVersionID string              `gorm:"column:active_version_id;type:varchar(36)"`
	LastVersionSeq  int                 `gorm:"column:last_version_seq;not null;default:0"`
	Revision        int64               `gorm:"column:revision;not null;default:0"`
	WorkflowRound   int                 `gorm:"column:workflow_round;not null;default:0"`
	ApprovalStatus  ApprovalStatus      `gorm:"column:approval_status;type:varchar(20);index;default:none;not null"`
	AdminApproved   bool                `gorm:"column:admin_approved;not null;default:false"`
	CEOApproved     bool                `gorm:"column:ceo_approved;not null;default:false"`
	Visibility      Visibility          `gorm:"column:visibility;type:varchar(20);default:department;not null"`
	Tags            dbtypes.StringSlice `gorm:"column:tags;type:text"`
	ExpiresAt       *time.Time          `gorm:"column:expires_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (DocumentRecord) TableName() string { return "documents" }

// VersionRecord is an immutable snapshot of a document's payload. Only the
// active flag changes after creation.
type VersionRecord struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	DocumentID  string    `gorm:"column:document_id;type:varchar(36);uniqueIndex:idx_version_doc_seq,priority:1;index:idx_version_doc_active,priority:1;not null"`
	Sequence    int       `gorm:"column:sequence;uniqueIndex:idx_version_doc_seq,priority:2;not null"`
	FileKey     string    `gorm:"column:file_key;index;not null"`
	Filename    string    `gorm:"column:filename;not null"`
	ContentType string    `gorm:"column:content_type"`
	SizeBytes   int64     `gorm:"column:size_bytes"`
	Checksum    string    `gorm:"column:checksum;type:varchar(64)"`
	UploadedBy  string    `gorm:"column:uploaded_by;not null"`
	Note        string    `gorm:"column:note"`
	Active      bool      `gorm:"column:active;index:idx_version_doc_active,priority:2;not null;default:false"`
	// SnapshotOfID is set on versions created by a restore and points at
	// the version that was active before it.
	SnapshotOfID string    `gorm:"column:snapshot_of_id;type:varchar(36)"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (VersionRecord) TableName() string { return "document_versions" }

// StepStatus is the state of one approval step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepApproved  StepStatus = "approved"
	StepRejected  StepStatus = "rejected"
	StepCommented StepStatus = "commented"
)

// IsTerminal returns true for approved and rejected.
func (s StepStatus) IsTerminal() bool {
	return s == StepApproved || s == StepRejected
}

// ResolutionMethod records how a step was resolved.
type ResolutionMethod string

const (
	MethodManual ResolutionMethod = "manual"
	MethodAuto   ResolutionMethod = "auto"
)

// StepRecord is one stage of a document's approval chain.
type StepRecord struct {
	ID             string           `gorm:"primaryKey;column:id;type:varchar(36)"`
	DocumentID     string           `gorm:"column:document_id;type:varchar(36);index:idx_step_doc_round,priority:1;not null"`
	Round          int              `gorm:"column:round;index:idx_step_doc_round,priority:2;not null"`
	Position       int              `gorm:"column:position;not null"`
	Name           string           `gorm:"column:name;not null"`
	RequiredRole   string           `gorm:"column:required_role"`
	Status         StepStatus       `gorm:"column:status;type:varchar(20);index;default:pending;not null"`
	AutoApproval   bool             `gorm:"column:auto_approval;not null;default:false"`
	Method         ResolutionMethod `gorm:"column:method;type:varchar(20)"`
	ActorID        string           `gorm:"column:actor_id"`
	Note           string           `gorm:"column:note"`
	ResolvedAt     *time.Time       `gorm:"column:resolved_at"`
	LastRemindedAt *time.Time       `gorm:"column:last_reminded_at"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (StepRecord) TableName() string { return "approval_steps" }

// AllModels lists the tables owned by this package.
func AllModels() []any {
	return []any{&DocumentRecord{}, &VersionRecord{}, &StepRecord{}}
}
