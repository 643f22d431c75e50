// Package audit keeps the append-only trail of document, approval, access
// and alert transitions.
package audit

import (
	"time"

	"github.com/archivum/docflow/pkg/dbtypes"
)

// Event types.
const (
	EventDocumentCreated  = "document.created"
	EventVersionAdded     = "version.added"
	EventVersionRestored  = "version.restored"
	EventVersionDeleted   = "version.deleted"
	EventWorkflowStarted  = "workflow.started"
	EventStepApproved     = "step.approved"
	EventStepRejected     = "step.rejected"
	EventStepCommented    = "step.commented"
	EventStepAutoFailed   = "step.auto_failed"
	EventWorkflowFinished = "workflow.finished"
	EventAccessRequested  = "access.requested"
	EventAccessDecided    = "access.decided"
	EventAccessExpired    = "access.expired"
	EventPolicyChanged    = "policy.changed"
	EventAlertRaised      = "alert.raised"
	EventAlertReviewed    = "alert.reviewed"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// EventRecord is an immutable audit log entry.
type EventRecord struct {
	ID            string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	CorrelationID string      `gorm:"column:correlation_id;index"`
	EventType     string      `gorm:"column:event_type;index:idx_audit_type_time,priority:1;not null"`
	Actor         string      `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	ActorRole     string      `gorm:"column:actor_role"`
	DocumentID    string      `gorm:"column:document_id;index:idx_audit_doc_time,priority:1"`
	EntityType    string      `gorm:"column:entity_type"`
	EntityID      string      `gorm:"column:entity_id;index"`
	Action        string      `gorm:"column:action"`
	Outcome       string      `gorm:"column:outcome;default:success;not null"`
	Reason        string      `gorm:"column:reason"`
	PolicyID      string      `gorm:"column:policy_id;index"`
	PolicyName    string      `gorm:"column:policy_name"`
	OldValue      dbtypes.Map `gorm:"column:old_value;type:text"`
	NewValue      dbtypes.Map `gorm:"column:new_value;type:text"`
	Metadata      dbtypes.Map `gorm:"column:metadata;type:text"`
	CreatedAt     time.Time   `gorm:"column:created_at;autoCreateTime;index:idx_audit_type_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_doc_time,priority:2"`
}

// TableName returns the GORM table name.
func (EventRecord) TableName() string { return "audit_events" }

// ListFilter narrows ListFiltered. Empty fields match everything.
type ListFilter struct {
	DocumentID string
	Actor      string
	EventType  string
	PolicyID   string
	EntityID   string
}
