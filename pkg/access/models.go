// Package access handles requests for document access: automatic decisions
// by priority-ordered policies, manual decisions, time-bounded grants and
// cooldowns placed by the anomaly detector.
package access

import (
	"time"
)

// RequestStatus is the lifecycle state of an access request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDenied   RequestStatus = "denied"
	StatusExpired  RequestStatus = "expired"
)

// Action is what a matching policy decides.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a == ActionApprove || a == ActionDeny }

// RequestRecord is one subject's ask to access a document.
type RequestRecord struct {
	ID                  string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	RequesterID         string        `gorm:"column:requester_id;index:idx_access_req_subject,priority:1;not null"`
	RequesterRole       string        `gorm:"column:requester_role"`
	RequesterCompany    string        `gorm:"column:requester_company"`
	RequesterDepartment string        `gorm:"column:requester_department"`
	DocumentID          string        `gorm:"column:document_id;type:varchar(36);index:idx_access_req_subject,priority:2;not null"`
	Note                string        `gorm:"column:note"`
	IPAddress           string        `gorm:"column:ip_address"`
	UserAgent           string        `gorm:"column:user_agent"`
	Status              RequestStatus `gorm:"column:status;type:varchar(20);index;default:pending;not null"`
	// PendingKey is set only while the request is pending; its unique index
	// allows one pending request per requester and document.
	PendingKey          *string       `gorm:"column:pending_key;uniqueIndex"`
	DecidedBy           string        `gorm:"column:decided_by"`
	DecisionReason      string        `gorm:"column:decision_reason"`
	DecidedAt           *time.Time    `gorm:"column:decided_at"`
	PolicyID            string        `gorm:"column:policy_id;index"`
	GrantExpiresAt      *time.Time    `gorm:"column:grant_expires_at;index"`
	CreatedAt           time.Time     `gorm:"column:created_at;index"`
}

// TableName returns the GORM table name.
func (RequestRecord) TableName() string { return "access_requests" }

// GrantRecord is a time-bounded permission created by an approval.
type GrantRecord struct {
	ID         string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	RequestID  string     `gorm:"column:request_id;type:varchar(36);uniqueIndex;not null"`
	DocumentID string     `gorm:"column:document_id;type:varchar(36);index:idx_grant_user_doc,priority:2;not null"`
	UserID     string     `gorm:"column:user_id;index:idx_grant_user_doc,priority:1;not null"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;index;not null"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (GrantRecord) TableName() string { return "access_grants" }

// PolicyRecord is a stored automatic decision rule.
type PolicyRecord struct {
	ID            string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name          string        `gorm:"column:name;uniqueIndex;not null"`
	Description   string        `gorm:"column:description"`
	ConditionType ConditionType `gorm:"column:condition_type;type:varchar(20);not null"`
	Condition     string        `gorm:"column:condition;type:text;not null"`
	Action        Action        `gorm:"column:action;type:varchar(10);not null"`
	Priority      int           `gorm:"column:priority;index;not null"`
	Active        bool          `gorm:"column:active;index;not null;default:false"`
	CreatedBy     string        `gorm:"column:created_by"`
	ApprovedBy    string        `gorm:"column:approved_by"`
	ApprovedAt    *time.Time    `gorm:"column:approved_at"`
	CreatedAt     time.Time     `gorm:"column:created_at"`
	UpdatedAt     time.Time     `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (PolicyRecord) TableName() string { return "access_policies" }

// CooldownRecord blocks a user from submitting requests until Until.
type CooldownRecord struct {
	UserID    string    `gorm:"primaryKey;column:user_id"`
	Until     time.Time `gorm:"column:until;not null"`
	Reason    string    `gorm:"column:reason"`
	AlertID   string    `gorm:"column:alert_id"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (CooldownRecord) TableName() string { return "access_cooldowns" }

// AllModels lists the tables owned by this package.
func AllModels() []any {
	return []any{&RequestRecord{}, &GrantRecord{}, &PolicyRecord{}, &CooldownRecord{}}
}
