package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CooldownStore tracks users temporarily barred from submitting requests.
type CooldownStore struct {
	db *gorm.DB
}

// NewCooldownStore creates a CooldownStore.
func NewCooldownStore(db *gorm.DB) *CooldownStore {
	return &CooldownStore{db: db}
}

// Apply places userID in cooldown until the given time. An existing
// cooldown is only ever extended.
func (s *CooldownStore) Apply(ctx context.Context, userID string, until time.Time, reason, alertID string) error {
	until = until.UTC()
	rec := CooldownRecord{
		UserID:    userID,
		Until:     until,
		Reason:    reason,
		AlertID:   alertID,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing CooldownRecord
		err := tx.First(&existing, "user_id = ?", userID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&rec).Error
		case err != nil:
			return err
		case !until.After(existing.Until):
			return nil
		}
		return tx.Model(&CooldownRecord{}).Where("user_id = ?", userID).
			Updates(map[string]any{"until": until, "reason": reason, "alert_id": alertID}).Error
	})
	if err != nil {
		return fmt.Errorf("apply cooldown: %w", err)
	}
	return nil
}

// ApplyCooldown lets the anomaly detector place cooldowns.
func (s *CooldownStore) ApplyCooldown(ctx context.Context, userID string, until time.Time, reason, alertID string) error {
	return s.Apply(ctx, userID, until, reason, alertID)
}

// Active returns the cooldown in force for userID at now, or nil.
func (s *CooldownStore) Active(ctx context.Context, userID string, now time.Time) (*CooldownRecord, error) {
	return activeCooldown(s.db.WithContext(ctx), userID, now)
}

func activeCooldown(db *gorm.DB, userID string, now time.Time) (*CooldownRecord, error) {
	var rec CooldownRecord
	err := db.Where("user_id = ? AND until > ?", userID, now.UTC()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	return &rec, nil
}

// Lift ends any cooldown for userID.
func (s *CooldownStore) Lift(ctx context.Context, userID string) error {
	if err := s.db.WithContext(ctx).Delete(&CooldownRecord{}, "user_id = ?", userID).Error; err != nil {
		return fmt.Errorf("lift cooldown: %w", err)
	}
	return nil
}
