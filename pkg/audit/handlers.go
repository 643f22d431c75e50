package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/archivum/docflow/pkg/httputil"
)

// EventResponse is the API representation of an audit event.
type EventResponse struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId,omitempty"`
	EventType     string         `json:"eventType"`
	Actor         string         `json:"actor"`
	ActorRole     string         `json:"actorRole,omitempty"`
	DocumentID    string         `json:"documentId,omitempty"`
	EntityType    string         `json:"entityType,omitempty"`
	EntityID      string         `json:"entityId,omitempty"`
	Action        string         `json:"action,omitempty"`
	Outcome       string         `json:"outcome"`
	Reason        string         `json:"reason,omitempty"`
	PolicyID      string         `json:"policyId,omitempty"`
	PolicyName    string         `json:"policyName,omitempty"`
	OldValue      map[string]any `json:"oldValue,omitempty"`
	NewValue      map[string]any `json:"newValue,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"createdAt"`
}

// ToResponse converts a record for the API.
func ToResponse(rec EventRecord) EventResponse {
	return EventResponse{
		ID:            rec.ID,
		CorrelationID: rec.CorrelationID,
		EventType:     rec.EventType,
		Actor:         rec.Actor,
		ActorRole:     rec.ActorRole,
		DocumentID:    rec.DocumentID,
		EntityType:    rec.EntityType,
		EntityID:      rec.EntityID,
		Action:        rec.Action,
		Outcome:       rec.Outcome,
		Reason:        rec.Reason,
		PolicyID:      rec.PolicyID,
		PolicyName:    rec.PolicyName,
		OldValue:      rec.OldValue,
		NewValue:      rec.NewValue,
		Metadata:      rec.Metadata,
		CreatedAt:     httputil.FormatTime(&rec.CreatedAt),
	}
}

// ListEventsHandler handles GET /events.
// Query params: documentId, actor, eventType, policyId, entityId, pageSize, pageToken
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			DocumentID: q.Get("documentId"),
			Actor:      q.Get("actor"),
			EventType:  q.Get("eventType"),
			PolicyID:   q.Get("policyId"),
			EntityID:   q.Get("entityId"),
		}
		pageSize, pageToken := httputil.PageParams(r)

		records, next, total, err := store.ListFiltered(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		events := make([]EventResponse, len(records))
		for i, rec := range records {
			events[i] = ToResponse(rec)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"events":        events,
			"nextPageToken": next,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /events/{eventId}.
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := store.Get(r.Context(), chi.URLParam(r, "eventId"))
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, ToResponse(*rec))
	}
}
