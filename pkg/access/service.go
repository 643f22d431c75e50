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
	"github.com/archivum/docflow/pkg/dbtypes"
	"github.com/archivum/docflow/pkg/httputil"
	"github.com/archivum/docflow/pkg/notify"
	"github.com/archivum/docflow/pkg/workflow"
)

const maxNoteLength = 2000

// SubmitInput is one access request as received from a requester.
type SubmitInput struct {
	DocumentID string
	Note       string
	Requester  authz.Actor
}

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	Status      RequestStatus
	RequesterID string
	DocumentID  string
}

// Stats summarises access requests.
type Stats struct {
	ByStatus     map[RequestStatus]int64 `json:"byStatus"`
	Total        int64                   `json:"total"`
	Pending      int64                   `json:"pending"`
	Today        int64                   `json:"today"`
	Week         int64                   `json:"week"`
	ApprovalRate float64                 `json:"approvalRate"`
}

// ExpireReport summarises one Expire pass.
type ExpireReport struct {
	Expired int `json:"expired"`
}

// Service manages access requests and grants.
type Service struct {
	db        *gorm.DB
	docs      DocumentSource
	policies  *PolicyStore
	evaluator *Evaluator
	cooldowns *CooldownStore
	audit     *audit.Store
	opts      *options
}

// NewService creates a Service.
func NewService(db *gorm.DB, docs DocumentSource, policies *PolicyStore, evaluator *Evaluator,
	cooldowns *CooldownStore, auditStore *audit.Store, opts ...Option) *Service {
	return &Service{
		db:        db,
		docs:      docs,
		policies:  policies,
		evaluator: evaluator,
		cooldowns: cooldowns,
		audit:     auditStore,
		opts:      buildOptions(opts),
	}
}

func pendingKey(requesterID, documentID string) *string {
	k := requesterID + "/" + documentID
	return &k
}

func requestContext(actor authz.Actor, doc *workflow.DocumentRecord, note string) RequestContext {
	return RequestContext{
		UserID:             actor.ID,
		UserRole:           string(actor.Role),
		UserCompany:        actor.Company,
		UserDepartment:     actor.Department,
		DocumentID:         doc.ID,
		DocumentOwner:      doc.OwnerID,
		DocumentCompany:    doc.Company,
		DocumentDepartment: doc.Department,
		DocumentVisibility: string(doc.Visibility),
		DocumentTags:       []string(doc.Tags),
		Note:               note,
	}
}

// Submit records an access request and applies the first matching active
// policy. Without a match the request stays pending for a manual decision.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*RequestRecord, error) {
	if in.Requester.Anonymous() {
		return nil, apperr.Validation("requester is required")
	}
	if strings.TrimSpace(in.DocumentID) == "" {
		return nil, apperr.Validation("documentId is required")
	}
	in.Note = strings.TrimSpace(in.Note)
	if len(in.Note) > maxNoteLength {
		return nil, apperr.Validation("note must be at most %d characters", maxNoteLength)
	}

	doc, err := s.docs.Get(ctx, in.DocumentID)
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	cd, err := s.cooldowns.Active(ctx, in.Requester.ID, now)
	if err != nil {
		return nil, err
	}
	if cd != nil {
		return nil, apperr.Unauthorized("access requests are suspended until %s", cd.Until.UTC().Format(time.RFC3339))
	}

	policies, err := s.policies.ActivePolicies(ctx)
	if err != nil {
		return nil, err
	}
	decision, matched := s.evaluator.Evaluate(requestContext(in.Requester, doc, in.Note), policies)

	req := &RequestRecord{
		ID:                  uuid.New().String(),
		RequesterID:         in.Requester.ID,
		RequesterRole:       string(in.Requester.Role),
		RequesterCompany:    in.Requester.Company,
		RequesterDepartment: in.Requester.Department,
		DocumentID:          doc.ID,
		Note:                in.Note,
		IPAddress:           in.Requester.IPAddress,
		UserAgent:           in.Requester.UserAgent,
		Status:              StatusPending,
		PendingKey:          pendingKey(in.Requester.ID, doc.ID),
		CreatedAt:           now,
	}
	if matched {
		s.applyDecision(req, decision.Action, authz.SystemActor().ID, decision.Reason(), s.opts.cfg.DefaultGrant, now)
		req.PolicyID = decision.PolicyID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&RequestRecord{}).
			Where("requester_id = ? AND document_id = ? AND status = ?", req.RequesterID, req.DocumentID, StatusPending).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("check pending requests: %w", err)
		}
		if pending > 0 {
			return apperr.Conflict("a request for document %s is already pending", req.DocumentID)
		}
		if limit := s.opts.cfg.MaxRequestsPerDay; limit > 0 {
			var recent int64
			if err := tx.Model(&RequestRecord{}).
				Where("requester_id = ? AND document_id = ? AND created_at > ?", req.RequesterID, req.DocumentID, now.Add(-24*time.Hour)).
				Count(&recent).Error; err != nil {
				return fmt.Errorf("count recent requests: %w", err)
			}
			if recent >= int64(limit) {
				return apperr.Conflict("too many requests for document %s in the last 24 hours", req.DocumentID)
			}
		}

		if err := tx.Create(req).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("a request for document %s is already pending", req.DocumentID)
			}
			return fmt.Errorf("create access request: %w", err)
		}
		auditTx := s.audit.WithTx(tx)
		if err := auditTx.Append(ctx, &audit.EventRecord{
			EventType:  audit.EventAccessRequested,
			Actor:      in.Requester.ID,
			ActorRole:  string(in.Requester.Role),
			DocumentID: req.DocumentID,
			EntityType: "access_request",
			EntityID:   req.ID,
			Action:     "submit",
			Reason:     req.Note,
			Metadata:   dbtypes.Map{"ipAddress": req.IPAddress, "userAgent": req.UserAgent},
		}); err != nil {
			return err
		}
		if !matched {
			return nil
		}
		if err := s.grant(tx, req, now); err != nil {
			return err
		}
		return auditTx.Append(ctx, &audit.EventRecord{
			EventType:  audit.EventAccessDecided,
			Actor:      req.DecidedBy,
			ActorRole:  string(authz.RoleSystem),
			DocumentID: req.DocumentID,
			EntityType: "access_request",
			EntityID:   req.ID,
			Action:     string(decision.Action),
			Reason:     req.DecisionReason,
			PolicyID:   decision.PolicyID,
			PolicyName: decision.PolicyName,
			NewValue:   dbtypes.Map{"status": string(req.Status)},
			Metadata:   dbtypes.Map{"dialect": decision.Dialect, "priority": decision.Priority},
		})
	})
	if err != nil {
		return nil, err
	}

	if matched {
		s.opts.metrics.PolicyDecision(string(decision.Action))
		s.notifyRequester(ctx, doc, req)
	} else {
		s.opts.metrics.PolicyDecision("no_match")
		s.notifyAdmins(ctx, doc, req)
	}
	return req, nil
}

// applyDecision sets the decision fields of a pending request.
func (s *Service) applyDecision(req *RequestRecord, action Action, decidedBy, reason string, grantFor time.Duration, now time.Time) {
	req.DecidedBy = decidedBy
	req.DecisionReason = reason
	req.DecidedAt = &now
	req.PendingKey = nil
	if action == ActionApprove {
		req.Status = StatusApproved
		exp := now.Add(grantFor)
		req.GrantExpiresAt = &exp
	} else {
		req.Status = StatusDenied
	}
}

func (s *Service) grant(tx *gorm.DB, req *RequestRecord, now time.Time) error {
	if req.Status != StatusApproved {
		return nil
	}
	g := &GrantRecord{
		ID:         uuid.New().String(),
		RequestID:  req.ID,
		DocumentID: req.DocumentID,
		UserID:     req.RequesterID,
		ExpiresAt:  *req.GrantExpiresAt,
		CreatedAt:  now,
	}
	if err := tx.Create(g).Error; err != nil {
		return fmt.Errorf("create access grant: %w", err)
	}
	return nil
}

// Decide records a manual decision on a pending request. grantFor of zero
// uses the configured default and is capped at the configured maximum.
func (s *Service) Decide(ctx context.Context, requestID string, actor authz.Actor, action Action, reason string, grantFor time.Duration) (*RequestRecord, error) {
	if !action.Valid() {
		return nil, apperr.Validation("action must be approve or deny")
	}
	if grantFor < 0 {
		return nil, apperr.Validation("grant duration must not be negative")
	}
	if grantFor == 0 {
		grantFor = s.opts.cfg.DefaultGrant
	}
	if grantFor > s.opts.cfg.MaxGrant {
		grantFor = s.opts.cfg.MaxGrant
	}

	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, apperr.InvalidState("request %s is already %s", req.ID, req.Status)
	}
	doc, err := s.docs.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if actor.Anonymous() || (actor.ID != doc.OwnerID && !authz.IsOverride(actor.Role, s.opts.overrides)) {
		return nil, apperr.Unauthorized("only an administrator or the document owner may decide this request")
	}

	now := s.opts.now()
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual decision"
	}
	s.applyDecision(req, action, actor.ID, reason, grantFor, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RequestRecord{}).
			Where("id = ? AND status = ?", req.ID, StatusPending).
			Updates(map[string]any{
				"status":           req.Status,
				"pending_key":      nil,
				"decided_by":       req.DecidedBy,
				"decision_reason":  req.DecisionReason,
				"decided_at":       req.DecidedAt,
				"grant_expires_at": req.GrantExpiresAt,
			})
		if res.Error != nil {
			return fmt.Errorf("decide access request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("request %s was decided concurrently", req.ID)
		}
		if err := s.grant(tx, req, now); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
			EventType:  audit.EventAccessDecided,
			Actor:      actor.ID,
			ActorRole:  string(actor.Role),
			DocumentID: req.DocumentID,
			EntityType: "access_request",
			EntityID:   req.ID,
			Action:     string(action),
			Reason:     reason,
			OldValue:   dbtypes.Map{"status": string(StatusPending)},
			NewValue:   dbtypes.Map{"status": string(req.Status)},
		})
	})
	if err != nil {
		return nil, err
	}

	s.opts.metrics.PolicyDecision("manual_" + string(action))
	s.notifyRequester(ctx, doc, req)
	return req, nil
}

// Expire marks approved requests whose grant has lapsed as expired and
// revokes their grants. Running it twice for the same instant changes
// nothing the second time.
func (s *Service) Expire(ctx context.Context, now time.Time) (*ExpireReport, error) {
	now = now.UTC()
	var due []RequestRecord
	if err := s.db.WithContext(ctx).
		Where("status = ? AND grant_expires_at <= ?", StatusApproved, now).
		Order("grant_expires_at").
		Find(&due).Error; err != nil {
		return nil, fmt.Errorf("list expiring requests: %w", err)
	}

	report := &ExpireReport{}
	for _, req := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		expired := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&RequestRecord{}).
				Where("id = ? AND status = ?", req.ID, StatusApproved).
				Update("status", StatusExpired)
			if res.Error != nil {
				return fmt.Errorf("expire access request: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return nil
			}
			if err := tx.Model(&GrantRecord{}).
				Where("request_id = ? AND revoked_at IS NULL", req.ID).
				Update("revoked_at", now).Error; err != nil {
				return fmt.Errorf("revoke access grant: %w", err)
			}
			expired = true
			return s.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
				EventType:  audit.EventAccessExpired,
				Actor:      authz.SystemActor().ID,
				ActorRole:  string(authz.RoleSystem),
				DocumentID: req.DocumentID,
				EntityType: "access_request",
				EntityID:   req.ID,
				Action:     "expire",
				OldValue:   dbtypes.Map{"status": string(StatusApproved)},
				NewValue:   dbtypes.Map{"status": string(StatusExpired)},
			})
		})
		if err != nil {
			return report, err
		}
		if expired {
			report.Expired++
		}
	}
	if report.Expired > 0 {
		s.opts.logger.Info("expired access requests", "count", report.Expired)
	}
	return report, nil
}

// HasAccess reports whether userID holds an unrevoked grant on documentID
// that is still valid at now.
func (s *Service) HasAccess(ctx context.Context, userID, documentID string, now time.Time) (bool, error) {
	now = now.UTC()
	var n int64
	err := s.db.WithContext(ctx).Model(&GrantRecord{}).
		Where("user_id = ? AND document_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, documentID, now).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check access grant: %w", err)
	}
	return n > 0, nil
}

// GetRequest returns one request.
func (s *Service) GetRequest(ctx context.Context, id string) (*RequestRecord, error) {
	var req RequestRecord
	err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("access request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	return &req, nil
}

// ListRequests returns requests newest first.
func (s *Service) ListRequests(ctx context.Context, filter RequestFilter, pageSize int, pageToken string) ([]RequestRecord, string, int, error) {
	pageSize = httputil.ClampPageSize(pageSize)

	base := s.db.WithContext(ctx).Model(&RequestRecord{})
	if filter.Status != "" {
		base = base.Where("status = ?", filter.Status)
	}
	if filter.RequesterID != "" {
		base = base.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.DocumentID != "" {
		base = base.Where("document_id = ?", filter.DocumentID)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count access requests: %w", err)
	}

	query := base.Session(&gorm.Session{}).Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := httputil.ParsePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ?", t)
	}

	var records []RequestRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list access requests: %w", err)
	}

	var next string
	if len(records) > pageSize {
		next = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, next, int(total), nil
}

// Stats counts requests by status, today and over the last week. The
// approval rate is the approved share of decided requests.
func (s *Service) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var rows []struct {
		Status RequestStatus
		N      int64
	}
	if err := s.db.WithContext(ctx).Model(&RequestRecord{}).
		Select("status, COUNT(*) AS n").Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}
	st := &Stats{ByStatus: map[RequestStatus]int64{}}
	for _, r := range rows {
		st.ByStatus[r.Status] = r.N
		st.Total += r.N
	}
	st.Pending = st.ByStatus[StatusPending]

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.db.WithContext(ctx).Model(&RequestRecord{}).
		Where("created_at >= ?", dayStart.UTC()).Count(&st.Today).Error; err != nil {
		return nil, fmt.Errorf("count today's requests: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&RequestRecord{}).
		Where("created_at >= ?", now.Add(-7*24*time.Hour).UTC()).Count(&st.Week).Error; err != nil {
		return nil, fmt.Errorf("count this week's requests: %w", err)
	}

	approved := st.ByStatus[StatusApproved] + st.ByStatus[StatusExpired]
	if decided := approved + st.ByStatus[StatusDenied]; decided > 0 {
		st.ApprovalRate = float64(approved) / float64(decided)
	}
	return st, nil
}

// Simulate evaluates the active policies for a hypothetical request without
// recording anything.
func (s *Service) Simulate(ctx context.Context, rc RequestContext) (Decision, bool, error) {
	policies, err := s.policies.ActivePolicies(ctx)
	if err != nil {
		return Decision{}, false, err
	}
	d, ok := s.evaluator.Evaluate(rc, policies)
	return d, ok, nil
}

// SimulateFor builds the context for actor and documentID, then simulates.
func (s *Service) SimulateFor(ctx context.Context, actor authz.Actor, documentID, note string) (Decision, bool, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return Decision{}, false, err
	}
	return s.Simulate(ctx, requestContext(actor, doc, note))
}

func (s *Service) notifyAdmins(ctx context.Context, doc *workflow.DocumentRecord, req *RequestRecord) {
	to, err := s.opts.directory.Admins(ctx)
	if err != nil {
		s.opts.logger.Warn("failed to resolve admin recipients", "requestID", req.ID, "error", err)
		return
	}
	if owner, err := s.opts.directory.ForUser(ctx, doc.OwnerID); err == nil {
		to = append(to, owner...)
	}
	if len(to) == 0 {
		return
	}
	s.opts.notifier.Notify(ctx, notify.Message{
		Kind:    "access_requested",
		To:      to,
		Subject: fmt.Sprintf("Access request for %q", doc.Title),
		Body: fmt.Sprintf("%s asked to access %q.\n\n%s",
			req.RequesterID, doc.Title, req.Note),
	})
	s.opts.metrics.NotificationQueued("access_requested")
}

func (s *Service) notifyRequester(ctx context.Context, doc *workflow.DocumentRecord, req *RequestRecord) {
	to, err := s.opts.directory.ForUser(ctx, req.RequesterID)
	if err != nil {
		s.opts.logger.Warn("failed to resolve requester", "requestID", req.ID, "error", err)
		return
	}
	if len(to) == 0 {
		return
	}
	body := fmt.Sprintf("Your request to access %q was %s: %s.", doc.Title, req.Status, req.DecisionReason)
	if req.GrantExpiresAt != nil {
		body += fmt.Sprintf("\n\nAccess expires at %s.", req.GrantExpiresAt.UTC().Format(time.RFC3339))
	}
	s.opts.notifier.Notify(ctx, notify.Message{
		Kind:    "access_decision",
		To:      to,
		Subject: fmt.Sprintf("Access request %s", req.Status),
		Body:    body,
	})
	s.opts.metrics.NotificationQueued("access_decision")
}
