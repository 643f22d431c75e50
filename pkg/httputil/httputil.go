// Package httputil holds the JSON response and pagination helpers shared by
// the docflow HTTP handlers.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/archivum/docflow/pkg/apperr"
)

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteMessage writes {"error": message}.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteError maps err to a status code and a short public message.
// Unclassified errors are logged with full context and answered with 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Default().Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	body := map[string]string{"error": apperr.PublicMessage(err)}
	if kind := apperr.KindOf(err); kind != "" {
		body["code"] = string(kind)
	}
	WriteJSON(w, status, body)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// PageParams reads pageSize and pageToken query parameters.
func PageParams(r *http.Request) (int, string) {
	pageSize := 20
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	return pageSize, r.URL.Query().Get("pageToken")
}

// ClampPageSize applies the default of 20 and the maximum of 100.
func ClampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return 20
	}
	if pageSize > 100 {
		return 100
	}
	return pageSize
}

// ParsePageToken decodes an RFC3339Nano created_at page token.
func ParsePageToken(token string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, token)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid page token")
	}
	return t, nil
}

// FormatTime renders t for API responses; zero or nil times render empty.
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
