package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/cache"
	"github.com/archivum/docflow/pkg/dbtypes"
)

// PolicyInput carries the editable fields of a policy.
type PolicyInput struct {
	Name          string        `json:"name" yaml:"name"`
	Description   string        `json:"description" yaml:"description"`
	ConditionType ConditionType `json:"conditionType" yaml:"conditionType"`
	Condition     string        `json:"condition" yaml:"condition"`
	Action        Action        `json:"action" yaml:"action"`
	Priority      int           `json:"priority" yaml:"priority"`
}

func (in *PolicyInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.Validation("policy name is required")
	}
	if !in.Action.Valid() {
		return apperr.Validation("action must be approve or deny")
	}
	if in.Priority < 0 {
		return apperr.Validation("priority must not be negative")
	}
	if in.ConditionType == "" {
		in.ConditionType = ConditionAuto
	}
	in.Condition = strings.TrimSpace(in.Condition)
	_, err := ParseCondition(in.ConditionType, in.Condition)
	return err
}

const activeSetKey = "active"

// PolicyStore persists policies and caches the active set.
type PolicyStore struct {
	db     *gorm.DB
	audit  *audit.Store
	active *cache.LRUCache[string, []PolicyRecord]
	now    func() time.Time
}

// NewPolicyStore creates a PolicyStore. A nil or disabled cfg turns the
// active-set cache off.
func NewPolicyStore(db *gorm.DB, auditStore *audit.Store, cfg *cache.CacheConfig) *PolicyStore {
	s := &PolicyStore{db: db, audit: auditStore, now: time.Now}
	if cfg != nil && cfg.Enabled {
		s.active = cache.NewLRUCache[string, []PolicyRecord](1, cfg.TTL)
	}
	return s
}

// AutoMigrate creates or updates the access tables.
func (s *PolicyStore) AutoMigrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

func (s *PolicyStore) invalidate() {
	if s.active != nil {
		s.active.InvalidateAll()
	}
}

// ActivePolicies returns the active policies in evaluation order.
func (s *PolicyStore) ActivePolicies(ctx context.Context) ([]PolicyRecord, error) {
	load := func() ([]PolicyRecord, error) {
		var policies []PolicyRecord
		err := s.db.WithContext(ctx).Where("active = ?", true).
			Order("priority ASC").Order("created_at ASC").Order("id ASC").
			Find(&policies).Error
		if err != nil {
			return nil, fmt.Errorf("list active policies: %w", err)
		}
		return policies, nil
	}
	if s.active == nil {
		return load()
	}
	policies, err := s.active.GetOrLoad(activeSetKey, load)
	if err != nil {
		return nil, err
	}
	return append([]PolicyRecord(nil), policies...), nil
}

// Create stores a new, inactive policy. Policies take effect once an
// administrator activates them.
func (s *PolicyStore) Create(ctx context.Context, in PolicyInput, actor authz.Actor) (*PolicyRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	p := &PolicyRecord{
		ID:            uuid.New().String(),
		Name:          in.Name,
		Description:   in.Description,
		ConditionType: in.ConditionType,
		Condition:     strings.TrimSpace(in.Condition),
		Action:        in.Action,
		Priority:      in.Priority,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&PolicyRecord{}).Where("name = ?", p.Name).Count(&n).Error; err != nil {
			return fmt.Errorf("check policy name: %w", err)
		}
		if n > 0 {
			return apperr.Conflict("a policy named %q already exists", p.Name)
		}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("create policy: %w", err)
		}
		return s.auditChange(ctx, tx, p, actor, "create", nil)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	return p, nil
}

// Get returns one policy.
func (s *PolicyStore) Get(ctx context.Context, id string) (*PolicyRecord, error) {
	return loadPolicy(s.db.WithContext(ctx), id)
}

func loadPolicy(db *gorm.DB, id string) (*PolicyRecord, error) {
	var p PolicyRecord
	err := db.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("policy %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return &p, nil
}

// List returns every policy in evaluation order.
func (s *PolicyStore) List(ctx context.Context, activeOnly bool) ([]PolicyRecord, error) {
	q := s.db.WithContext(ctx).Order("priority ASC").Order("created_at ASC").Order("id ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var policies []PolicyRecord
	if err := q.Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// Update replaces the editable fields of a policy. Editing an active policy
// deactivates it until it is approved again.
func (s *PolicyStore) Update(ctx context.Context, id string, in PolicyInput, actor authz.Actor) (*PolicyRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var p *PolicyRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, err = loadPolicy(tx, id); err != nil {
			return err
		}
		old := policySnapshot(p)
		if in.Name != p.Name {
			var n int64
			if err := tx.Model(&PolicyRecord{}).Where("name = ? AND id <> ?", in.Name, id).Count(&n).Error; err != nil {
				return fmt.Errorf("check policy name: %w", err)
			}
			if n > 0 {
				return apperr.Conflict("a policy named %q already exists", in.Name)
			}
		}
		p.Name = in.Name
		p.Description = in.Description
		p.ConditionType = in.ConditionType
		p.Condition = strings.TrimSpace(in.Condition)
		p.Action = in.Action
		p.Priority = in.Priority
		p.Active = false
		p.ApprovedBy = ""
		p.ApprovedAt = nil
		p.UpdatedAt = s.now()
		if err := tx.Save(p).Error; err != nil {
			return fmt.Errorf("update policy: %w", err)
		}
		return s.auditChange(ctx, tx, p, actor, "update", old)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	return p, nil
}

// Activate approves a policy so it takes part in evaluation.
func (s *PolicyStore) Activate(ctx context.Context, id string, actor authz.Actor) (*PolicyRecord, error) {
	return s.setActive(ctx, id, actor, true)
}

// Deactivate removes a policy from evaluation.
func (s *PolicyStore) Deactivate(ctx context.Context, id string, actor authz.Actor) (*PolicyRecord, error) {
	return s.setActive(ctx, id, actor, false)
}

func (s *PolicyStore) setActive(ctx context.Context, id string, actor authz.Actor, active bool) (*PolicyRecord, error) {
	var p *PolicyRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, err = loadPolicy(tx, id); err != nil {
			return err
		}
		if p.Active == active {
			return nil
		}
		if active {
			if _, err := ParseCondition(p.ConditionType, p.Condition); err != nil {
				return err
			}
		}
		old := policySnapshot(p)
		now := s.now()
		p.Active = active
		p.UpdatedAt = now
		if active {
			p.ApprovedBy, p.ApprovedAt = actor.ID, &now
		} else {
			p.ApprovedBy, p.ApprovedAt = "", nil
		}
		if err := tx.Save(p).Error; err != nil {
			return fmt.Errorf("update policy: %w", err)
		}
		action := "deactivate"
		if active {
			action = "activate"
		}
		return s.auditChange(ctx, tx, p, actor, action, old)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	return p, nil
}

// Delete removes a policy. Past decisions keep its id and name in the audit
// trail.
func (s *PolicyStore) Delete(ctx context.Context, id string, actor authz.Actor) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadPolicy(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&PolicyRecord{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete policy: %w", err)
		}
		return s.auditChange(ctx, tx, p, actor, "delete", policySnapshot(p))
	})
	if err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func policySnapshot(p *PolicyRecord) dbtypes.Map {
	return dbtypes.Map{
		"name":          p.Name,
		"conditionType": string(p.ConditionType),
		"condition":     p.Condition,
		"action":        string(p.Action),
		"priority":      p.Priority,
		"active":        p.Active,
	}
}

func (s *PolicyStore) auditChange(ctx context.Context, tx *gorm.DB, p *PolicyRecord, actor authz.Actor, action string, old dbtypes.Map) error {
	ev := &audit.EventRecord{
		EventType:  audit.EventPolicyChanged,
		Actor:      actor.ID,
		ActorRole:  string(actor.Role),
		EntityType: "policy",
		EntityID:   p.ID,
		Action:     action,
		PolicyID:   p.ID,
		PolicyName: p.Name,
		OldValue:   old,
	}
	if action != "delete" {
		ev.NewValue = policySnapshot(p)
	}
	return s.audit.WithTx(tx).Append(ctx, ev)
}
