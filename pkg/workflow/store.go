package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/dbtypes"
	"github.com/archivum/docflow/pkg/httputil"
)

// DocumentInput carries the fields set when a document is created.
type DocumentInput struct {
	Title      string
	Company    string
	Department string
	Visibility Visibility
	Tags       []string
	ExpiresAt  *time.Time
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	Company        string
	Department     string
	OwnerID        string
	ApprovalStatus ApprovalStatus
}

// DocumentStore provides document operations.
type DocumentStore struct {
	db    *gorm.DB
	audit *audit.Store
	opts  *options
}

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(db *gorm.DB, auditStore *audit.Store, opts ...Option) *DocumentStore {
	return &DocumentStore{db: db, audit: auditStore, opts: buildOptions(opts)}
}

// AutoMigrate creates or updates the documents, versions and steps tables.
func (s *DocumentStore) AutoMigrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

// Create inserts a document owned by actor.
func (s *DocumentStore) Create(ctx context.Context, in DocumentInput, actor authz.Actor) (*DocumentRecord, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	if actor.ID == "" {
		return nil, apperr.Validation("owner is required")
	}
	vis := in.Visibility
	if vis == "" {
		vis = VisibilityDepartment
	}
	switch vis {
	case VisibilityPrivate, VisibilityDepartment, VisibilityCompany, VisibilityPublic:
	default:
		return nil, apperr.Validation("unknown visibility %q", vis)
	}

	doc := &DocumentRecord{
		ID:             uuid.New().String(),
		Title:          strings.TrimSpace(in.Title),
		Company:        in.Company,
		Department:     in.Department,
		OwnerID:        actor.ID,
		ApprovalStatus: ApprovalNone,
		Visibility:     vis,
		Tags:           dbtypes.StringSlice(in.Tags),
		ExpiresAt:      in.ExpiresAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
			EventType:  audit.EventDocumentCreated,
			Actor:      actor.ID,
			ActorRole:  string(actor.Role),
			DocumentID: doc.ID,
			EntityType: "document",
			EntityID:   doc.ID,
			Action:     "create",
			NewValue:   dbtypes.Map{"title": doc.Title, "visibility": string(doc.Visibility)},
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Get returns a document.
func (s *DocumentStore) Get(ctx context.Context, id string) (*DocumentRecord, error) {
	return loadDocument(s.db.WithContext(ctx), id)
}

// List returns documents newest first.
func (s *DocumentStore) List(ctx context.Context, filter DocumentFilter, pageSize int, pageToken string) ([]DocumentRecord, string, int, error) {
	pageSize = httputil.ClampPageSize(pageSize)

	base := s.db.WithContext(ctx).Model(&DocumentRecord{})
	if filter.Company != "" {
		base = base.Where("company = ?", filter.Company)
	}
	if filter.Department != "" {
		base = base.Where("department = ?", filter.Department)
	}
	if filter.OwnerID != "" {
		base = base.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.ApprovalStatus != "" {
		base = base.Where("approval_status = ?", filter.ApprovalStatus)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count documents: %w", err)
	}

	query := base.Session(&gorm.Session{}).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := httputil.ParsePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ?", t)
	}

	var docs []DocumentRecord
	if err := query.Find(&docs).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list documents: %w", err)
	}
	var next string
	if len(docs) > pageSize {
		next = docs[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		docs = docs[:pageSize]
	}
	return docs, next, int(total), nil
}

// CanRead reports whether actor may read doc: override roles, the owner,
// visibility scope, approvers of the current chain, then live grants.
func (s *DocumentStore) CanRead(ctx context.Context, actor authz.Actor, doc *DocumentRecord) (bool, error) {
	return canRead(ctx, s.db, s.opts, actor, doc)
}

func canRead(ctx context.Context, db *gorm.DB, o *options, actor authz.Actor, doc *DocumentRecord) (bool, error) {
	if actor.Anonymous() {
		return false, nil
	}
	if authz.IsOverride(actor.Role, o.overrides) || actor.ID == doc.OwnerID {
		return true, nil
	}
	switch doc.Visibility {
	case VisibilityPublic:
		return true, nil
	case VisibilityCompany:
		if actor.Company != "" && strings.EqualFold(actor.Company, doc.Company) {
			return true, nil
		}
	case VisibilityDepartment:
		if actor.Company != "" && strings.EqualFold(actor.Company, doc.Company) &&
			strings.EqualFold(actor.Department, doc.Department) {
			return true, nil
		}
	}

	if doc.WorkflowRound > 0 && actor.Role != "" {
		var n int64
		err := db.WithContext(ctx).Model(&StepRecord{}).
			Where("document_id = ? AND round = ? AND required_role = ?", doc.ID, doc.WorkflowRound, string(actor.Role)).
			Count(&n).Error
		if err != nil {
			return false, fmt.Errorf("check approver role: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}

	if o.grants != nil {
		return o.grants.HasAccess(ctx, actor.ID, doc.ID, o.now())
	}
	return false, nil
}

func loadDocument(db *gorm.DB, id string) (*DocumentRecord, error) {
	var doc DocumentRecord
	err := db.First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// bumpRevision applies updates to doc only if nobody changed it since it
// was read; every mutation of a document's versions or steps goes through
// here, which serialises them per document.
func bumpRevision(tx *gorm.DB, doc *DocumentRecord, updates map[string]any, now time.Time) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["revision"] = doc.Revision + 1
	updates["updated_at"] = now
	res := tx.Model(&DocumentRecord{}).
		Where("id = ? AND revision = ?", doc.ID, doc.Revision).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("document %s was modified concurrently", doc.ID)
	}
	doc.Revision++
	return nil
}

func seqToken(seq int) string { return strconv.Itoa(seq) }

// CanModify reports whether actor may upload, restore or delete versions
// of doc and start its approval chain.
func (s *DocumentStore) CanModify(actor authz.Actor, doc *DocumentRecord) bool {
	if actor.Anonymous() {
		return false
	}
	return actor.ID == doc.OwnerID || authz.IsOverride(actor.Role, s.opts.overrides)
}
