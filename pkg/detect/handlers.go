package detect

import (
	"net/http"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-chi/chi/v5"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/httputil"
)

// Handlers serves the alert review API. Every route requires an override
// role.
type Handlers struct {
	Detector  *Detector
	Alerts    *AlertStore
	Overrides mapset.Set[authz.Role]
}

// AlertResponse is the API representation of an alert.
type AlertResponse struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	RuleID         string         `json:"ruleId"`
	Severity       string         `json:"severity"`
	Subject        string         `json:"subject"`
	UserID         string         `json:"userId,omitempty"`
	DocumentID     string         `json:"documentId,omitempty"`
	IPAddress      string         `json:"ipAddress,omitempty"`
	WindowFrom     string         `json:"windowFrom"`
	WindowTo       string         `json:"windowTo"`
	EventCount     int64          `json:"eventCount"`
	Evidence       map[string]any `json:"evidence,omitempty"`
	Status         string         `json:"status"`
	ReviewedBy     string         `json:"reviewedBy,omitempty"`
	ReviewedAt     string         `json:"reviewedAt,omitempty"`
	ResolvedAt     string         `json:"resolvedAt,omitempty"`
	ResolutionNote string         `json:"resolutionNote,omitempty"`
	CreatedAt      string         `json:"createdAt"`
}

func toAlertResponse(a AlertRecord) AlertResponse {
	return AlertResponse{
		ID:             a.ID,
		Kind:           string(a.Kind),
		RuleID:         a.RuleID,
		Severity:       string(a.Severity),
		Subject:        a.SubjectKey,
		UserID:         a.UserID,
		DocumentID:     a.DocumentID,
		IPAddress:      a.IPAddress,
		WindowFrom:     httputil.FormatTime(&a.WindowFrom),
		WindowTo:       httputil.FormatTime(&a.WindowTo),
		EventCount:     a.EventCount,
		Evidence:       a.Evidence,
		Status:         string(a.Status),
		ReviewedBy:     a.ReviewedBy,
		ReviewedAt:     httputil.FormatTime(a.ReviewedAt),
		ResolvedAt:     httputil.FormatTime(a.ResolvedAt),
		ResolutionNote: a.ResolutionNote,
		CreatedAt:      httputil.FormatTime(&a.CreatedAt),
	}
}

func (h *Handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, _ := authz.ActorFromContext(r.Context())
		overrides := h.Overrides
		if overrides == nil {
			overrides = authz.DefaultOverrideRoles()
		}
		if !authz.IsOverride(a.Role, overrides) {
			httputil.WriteError(w, r, apperr.Unauthorized("administrator role required"))
			return
		}
		next(w, r)
	}
}

// ListAlerts handles GET /alerts.
// Query params: kind, severity, status, ruleId, userId, pageSize, pageToken
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := AlertFilter{
		Kind:     AlertKind(q.Get("kind")),
		Severity: Severity(q.Get("severity")),
		Status:   AlertStatus(q.Get("status")),
		RuleID:   q.Get("ruleId"),
		UserID:   q.Get("userId"),
	}
	pageSize, pageToken := httputil.PageParams(r)
	records, next, total, err := h.Alerts.List(r.Context(), filter, pageSize, pageToken)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	items := make([]AlertResponse, len(records))
	for i, rec := range records {
		items[i] = toAlertResponse(rec)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": next,
		"totalSize":     total,
	})
}

// GetAlert handles GET /alerts/{alertId}.
func (h *Handlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Alerts.Get(r.Context(), chi.URLParam(r, "alertId"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertResponse(*rec))
}

// ReviewAlert handles POST /alerts/{alertId}/review.
func (h *Handlers) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	a, _ := authz.ActorFromContext(r.Context())
	rec, err := h.Alerts.Review(r.Context(), chi.URLParam(r, "alertId"), a)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertResponse(*rec))
}

// ResolveRequest is the body of POST /alerts/{alertId}/resolve.
type ResolveRequest struct {
	Note string `json:"note"`
}

// ResolveAlert handles POST /alerts/{alertId}/resolve.
func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var body ResolveRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &body); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	a, _ := authz.ActorFromContext(r.Context())
	rec, err := h.Alerts.Resolve(r.Context(), chi.URLParam(r, "alertId"), a, body.Note)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertResponse(*rec))
}

// RunDetector handles POST /alerts/run. Query params: kind
func (h *Handlers) RunDetector(w http.ResponseWriter, r *http.Request) {
	now := h.Detector.opts.now()
	var (
		report *RunReport
		err    error
	)
	if kind := AlertKind(r.URL.Query().Get("kind")); kind != "" {
		if kind != KindAccess && kind != KindDownload {
			httputil.WriteError(w, r, apperr.Validation("unknown alert kind %q", kind))
			return
		}
		report, err = h.Detector.RunKind(r.Context(), kind, now)
	} else {
		report, err = h.Detector.Run(r.Context(), now)
	}
	if err != nil && report == nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
