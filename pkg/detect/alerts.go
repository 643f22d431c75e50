package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/dbtypes"
	"github.com/archivum/docflow/pkg/httputil"
)

// AlertStore reads and reviews recorded alerts.
type AlertStore struct {
	db    *gorm.DB
	audit *audit.Store
	now   func() time.Time
}

// AlertFilter narrows List.
type AlertFilter struct {
	Kind     AlertKind
	Severity Severity
	Status   AlertStatus
	RuleID   string
	UserID   string
}

// NewAlertStore creates an AlertStore.
func NewAlertStore(db *gorm.DB, auditStore *audit.Store) *AlertStore {
	return &AlertStore{db: db, audit: auditStore, now: time.Now}
}

// AutoMigrate creates or updates the alert and download tables.
func (s *AlertStore) AutoMigrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

// Get returns one alert.
func (s *AlertStore) Get(ctx context.Context, id string) (*AlertRecord, error) {
	var rec AlertRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("alert %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &rec, nil
}

// List returns alerts newest first.
func (s *AlertStore) List(ctx context.Context, filter AlertFilter, pageSize int, pageToken string) ([]AlertRecord, string, int, error) {
	pageSize = httputil.ClampPageSize(pageSize)

	base := s.db.WithContext(ctx).Model(&AlertRecord{})
	if filter.Kind != "" {
		base = base.Where("kind = ?", filter.Kind)
	}
	if filter.Severity != "" {
		base = base.Where("severity = ?", filter.Severity)
	}
	if filter.Status != "" {
		base = base.Where("status = ?", filter.Status)
	}
	if filter.RuleID != "" {
		base = base.Where("rule_id = ?", filter.RuleID)
	}
	if filter.UserID != "" {
		base = base.Where("user_id = ?", filter.UserID)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count alerts: %w", err)
	}

	query := base.Session(&gorm.Session{}).Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := httputil.ParsePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ?", t)
	}

	var records []AlertRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list alerts: %w", err)
	}

	var next string
	if len(records) > pageSize {
		next = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, next, int(total), nil
}

// Review marks a new alert as reviewed.
func (s *AlertStore) Review(ctx context.Context, id string, actor authz.Actor) (*AlertRecord, error) {
	return s.transition(ctx, id, actor, AlertReviewed, "", []AlertStatus{AlertNew})
}

// Resolve closes an alert that is new or reviewed.
func (s *AlertStore) Resolve(ctx context.Context, id string, actor authz.Actor, note string) (*AlertRecord, error) {
	return s.transition(ctx, id, actor, AlertResolved, note, []AlertStatus{AlertNew, AlertReviewed})
}

func (s *AlertStore) transition(ctx context.Context, id string, actor authz.Actor, to AlertStatus, note string, from []AlertStatus) (*AlertRecord, error) {
	var out AlertRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("alert %s not found", id)
			}
			return fmt.Errorf("get alert: %w", err)
		}
		allowed := false
		for _, st := range from {
			if out.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return apperr.InvalidState("alert %s is %s", id, out.Status)
		}

		now := s.now().UTC()
		updates := map[string]any{"status": to}
		if out.ReviewedAt == nil {
			updates["reviewed_by"] = actor.ID
			updates["reviewed_at"] = now
		}
		if to == AlertResolved {
			updates["resolved_at"] = now
			updates["resolution_note"] = note
		}
		res := tx.Model(&AlertRecord{}).Where("id = ? AND status = ?", id, out.Status).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update alert: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("alert %s was changed concurrently", id)
		}
		old := out.Status
		if err := tx.First(&out, "id = ?", id).Error; err != nil {
			return fmt.Errorf("reload alert: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
			EventType:  audit.EventAlertReviewed,
			Actor:      actor.ID,
			ActorRole:  string(actor.Role),
			DocumentID: out.DocumentID,
			EntityType: "alert",
			EntityID:   out.ID,
			Action:     string(to),
			Reason:     note,
			OldValue:   dbtypes.Map{"status": string(old)},
			NewValue:   dbtypes.Map{"status": string(to)},
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteResolvedBefore removes resolved alerts closed before cutoff.
func (s *AlertStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND resolved_at < ?", AlertResolved, cutoff).
		Delete(&AlertRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete resolved alerts: %w", res.Error)
	}
	return res.RowsAffected, nil
}
