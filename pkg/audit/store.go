package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/httputil"
)

// Store provides append-only operations for audit events.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the audit_events table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&EventRecord{})
}

// WithTx returns a Store writing through tx, so an event commits or rolls
// back with the mutation it describes.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Append creates a new immutable audit event.
func (s *Store) Append(ctx context.Context, event *EventRecord) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	if event.Actor == "" {
		event.Actor = "system"
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Get returns one event.
func (s *Store) Get(ctx context.Context, id string) (*EventRecord, error) {
	var rec EventRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("audit event %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return &rec, nil
}

// ListFiltered returns events newest first. pageToken is the RFC3339Nano
// created_at of the last event of the previous page.
func (s *Store) ListFiltered(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]EventRecord, string, int, error) {
	pageSize = httputil.ClampPageSize(pageSize)

	base := s.db.WithContext(ctx).Model(&EventRecord{})
	if filter.DocumentID != "" {
		base = base.Where("document_id = ?", filter.DocumentID)
	}
	if filter.Actor != "" {
		base = base.Where("actor = ?", filter.Actor)
	}
	if filter.EventType != "" {
		base = base.Where("event_type = ?", filter.EventType)
	}
	if filter.PolicyID != "" {
		base = base.Where("policy_id = ?", filter.PolicyID)
	}
	if filter.EntityID != "" {
		base = base.Where("entity_id = ?", filter.EntityID)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := base.Session(&gorm.Session{}).Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := httputil.ParsePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ?", t)
	}

	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var next string
	if len(records) > pageSize {
		next = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, next, int(total), nil
}

// CountByDocument returns the number of events recorded for a document.
func (s *Store) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&EventRecord{}).Where("document_id = ?", documentID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

// DeleteOlderThan deletes events created before cutoff and returns the
// number removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&EventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
