package access

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/httputil"
)

// Handlers serves the access request, policy and cooldown API.
type Handlers struct {
	Service   *Service
	Policies  *PolicyStore
	Cooldowns *CooldownStore
}

// RequestResponse is the API representation of an access request.
type RequestResponse struct {
	ID             string `json:"id"`
	RequesterID    string `json:"requesterId"`
	RequesterRole  string `json:"requesterRole,omitempty"`
	DocumentID     string `json:"documentId"`
	Note           string `json:"note,omitempty"`
	Status         string `json:"status"`
	DecidedBy      string `json:"decidedBy,omitempty"`
	DecisionReason string `json:"decisionReason,omitempty"`
	DecidedAt      string `json:"decidedAt,omitempty"`
	PolicyID       string `json:"policyId,omitempty"`
	GrantExpiresAt string `json:"grantExpiresAt,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

func toRequestResponse(r RequestRecord) RequestResponse {
	return RequestResponse{
		ID:             r.ID,
		RequesterID:    r.RequesterID,
		RequesterRole:  r.RequesterRole,
		DocumentID:     r.DocumentID,
		Note:           r.Note,
		Status:         string(r.Status),
		DecidedBy:      r.DecidedBy,
		DecisionReason: r.DecisionReason,
		DecidedAt:      httputil.FormatTime(r.DecidedAt),
		PolicyID:       r.PolicyID,
		GrantExpiresAt: httputil.FormatTime(r.GrantExpiresAt),
		CreatedAt:      httputil.FormatTime(&r.CreatedAt),
	}
}

// PolicyResponse is the API representation of a policy.
type PolicyResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ConditionType string `json:"conditionType"`
	Condition     string `json:"condition"`
	Action        string `json:"action"`
	Priority      int    `json:"priority"`
	Active        bool   `json:"active"`
	CreatedBy     string `json:"createdBy,omitempty"`
	ApprovedBy    string `json:"approvedBy,omitempty"`
	ApprovedAt    string `json:"approvedAt,omitempty"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func toPolicyResponse(p PolicyRecord) PolicyResponse {
	return PolicyResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		ConditionType: string(p.ConditionType),
		Condition:     p.Condition,
		Action:        string(p.Action),
		Priority:      p.Priority,
		Active:        p.Active,
		CreatedBy:     p.CreatedBy,
		ApprovedBy:    p.ApprovedBy,
		ApprovedAt:    httputil.FormatTime(p.ApprovedAt),
		CreatedAt:     httputil.FormatTime(&p.CreatedAt),
		UpdatedAt:     httputil.FormatTime(&p.UpdatedAt),
	}
}

func actorOf(r *http.Request) authz.Actor {
	a, _ := authz.ActorFromContext(r.Context())
	return a
}

func (h *Handlers) isAdmin(a authz.Actor) bool {
	return authz.IsOverride(a.Role, h.Service.opts.overrides)
}

// requireAdmin rejects callers without an override role.
func (h *Handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.isAdmin(actorOf(r)) {
			httputil.WriteError(w, r, apperr.Unauthorized("administrator role required"))
			return
		}
		next(w, r)
	}
}

// SubmitRequest is the body of POST /access-requests.
type SubmitRequest struct {
	DocumentID string `json:"documentId"`
	Note       string `json:"note"`
}

// Submit handles POST /access-requests.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req, err := h.Service.Submit(r.Context(), SubmitInput{
		DocumentID: body.DocumentID,
		Note:       body.Note,
		Requester:  actorOf(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRequestResponse(*req))
}

// ListRequests handles GET /access-requests.
// Query params: status, documentId, requesterId, pageSize, pageToken
// Non-administrators only see their own requests.
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	q := r.URL.Query()
	filter := RequestFilter{
		Status:      RequestStatus(q.Get("status")),
		DocumentID:  q.Get("documentId"),
		RequesterID: q.Get("requesterId"),
	}
	if !h.isAdmin(actor) {
		filter.RequesterID = actor.ID
	}
	pageSize, pageToken := httputil.PageParams(r)
	records, next, total, err := h.Service.ListRequests(r.Context(), filter, pageSize, pageToken)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	items := make([]RequestResponse, len(records))
	for i, rec := range records {
		items[i] = toRequestResponse(rec)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": next,
		"totalSize":     total,
	})
}

// GetRequest handles GET /access-requests/{requestId}.
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetRequest(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	actor := actorOf(r)
	if req.RequesterID != actor.ID && !h.isAdmin(actor) {
		httputil.WriteError(w, r, apperr.NotFound("access request %s not found", req.ID))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(*req))
}

// DecideRequest is the body of POST /access-requests/{requestId}/decision.
type DecideRequest struct {
	Action     Action `json:"action"`
	Reason     string `json:"reason"`
	GrantHours int    `json:"grantHours"`
}

// Decide handles POST /access-requests/{requestId}/decision.
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	var body DecideRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req, err := h.Service.Decide(r.Context(), chi.URLParam(r, "requestId"), actorOf(r),
		body.Action, body.Reason, time.Duration(body.GrantHours)*time.Hour)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(*req))
}

// Stats handles GET /access-requests/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Stats(r.Context(), h.Service.opts.now())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// SimulateRequest is the body of POST /policies/simulate. Omitted user
// fields default to the caller's.
type SimulateRequest struct {
	DocumentID     string `json:"documentId"`
	Note           string `json:"note"`
	UserID         string `json:"userId"`
	UserRole       string `json:"userRole"`
	UserCompany    string `json:"userCompany"`
	UserDepartment string `json:"userDepartment"`
}

// Simulate handles POST /policies/simulate.
func (h *Handlers) Simulate(w http.ResponseWriter, r *http.Request) {
	var body SimulateRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	subject := actorOf(r)
	if body.UserID != "" {
		subject = authz.Actor{
			ID:         body.UserID,
			Role:       authz.ParseRole(body.UserRole),
			Company:    body.UserCompany,
			Department: body.UserDepartment,
		}
	}
	d, matched, err := h.Service.SimulateFor(r.Context(), subject, body.DocumentID, body.Note)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	resp := map[string]any{"matched": matched}
	if matched {
		resp["decision"] = d
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ListPolicies handles GET /policies. Query params: active=true
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Policies.List(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	items := make([]PolicyResponse, len(policies))
	for i, p := range policies {
		items[i] = toPolicyResponse(p)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "totalSize": len(items)})
}

// CreatePolicy handles POST /policies.
func (h *Handlers) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var in PolicyInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, err := h.Policies.Create(r.Context(), in, actorOf(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toPolicyResponse(*p))
}

// GetPolicy handles GET /policies/{policyId}.
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Get(r.Context(), chi.URLParam(r, "policyId"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(*p))
}

// UpdatePolicy handles PUT /policies/{policyId}.
func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var in PolicyInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, err := h.Policies.Update(r.Context(), chi.URLParam(r, "policyId"), in, actorOf(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(*p))
}

// DeletePolicy handles DELETE /policies/{policyId}.
func (h *Handlers) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.Policies.Delete(r.Context(), chi.URLParam(r, "policyId"), actorOf(r)); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivatePolicy handles POST /policies/{policyId}/activate.
func (h *Handlers) ActivatePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Activate(r.Context(), chi.URLParam(r, "policyId"), actorOf(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(*p))
}

// DeactivatePolicy handles POST /policies/{policyId}/deactivate.
func (h *Handlers) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Deactivate(r.Context(), chi.URLParam(r, "policyId"), actorOf(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(*p))
}

// GetCooldown handles GET /cooldowns/{userId}.
func (h *Handlers) GetCooldown(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	cd, err := h.Cooldowns.Active(r.Context(), userID, h.Service.opts.now())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if cd == nil {
		httputil.WriteError(w, r, apperr.NotFound("no active cooldown for %s", userID))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"userId":  cd.UserID,
		"until":   httputil.FormatTime(&cd.Until),
		"reason":  cd.Reason,
		"alertId": cd.AlertID,
	})
}

// LiftCooldown handles DELETE /cooldowns/{userId}.
func (h *Handlers) LiftCooldown(w http.ResponseWriter, r *http.Request) {
	if err := h.Cooldowns.Lift(r.Context(), chi.URLParam(r, "userId")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
