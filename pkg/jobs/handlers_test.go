package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivum/docflow/pkg/authz"
)

func setupRouter(t *testing.T, routines ...Routine) (*chi.Mux, *RunStore) {
	t.Helper()
	s, store := newTestScheduler(t, nil, routines...)
	s.now = func() time.Time { return t0 }
	r := chi.NewRouter()
	r.Use(authz.ActorMiddleware(authz.HeaderActorExtractor))
	r.Mount("/api/v1", Router(store, s, nil))
	return r, store
}

func serve(r http.Handler, method, path string, role authz.Role) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(authz.HeaderUserID, "u-1")
	req.Header.Set(authz.HeaderUserRole, string(role))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerAndListRuns(t *testing.T) {
	c := &countingRoutine{}
	r, _ := setupRouter(t, c.routine("expire_requests", time.Hour))

	w := serve(r, http.MethodPost, "/api/v1/jobs/routines/expire_requests/run", authz.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	var trig struct {
		Ran bool        `json:"ran"`
		Run runResponse `json:"run"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&trig))
	assert.True(t, trig.Ran)
	assert.Equal(t, "succeeded", trig.Run.State)
	assert.Equal(t, "2026-04-06T10:00:00Z", trig.Run.Period)

	w = serve(r, http.MethodPost, "/api/v1/jobs/routines/expire_requests/run", authz.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&trig))
	assert.False(t, trig.Ran)
	assert.Equal(t, int32(1), c.calls.Load())

	w = serve(r, http.MethodGet, "/api/v1/jobs/runs?routine=expire_requests", authz.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items     []runResponse `json:"items"`
		TotalSize int           `json:"totalSize"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 1, list.TotalSize)

	w = serve(r, http.MethodGet, "/api/v1/jobs/runs/"+list.Items[0].ID, authz.RoleAdmin)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerFailedRoutineReportsRun(t *testing.T) {
	c := &countingRoutine{err: errors.New("boom")}
	r, store := setupRouter(t, c.routine("cleanup_alerts", time.Hour))

	w := serve(r, http.MethodPost, "/api/v1/jobs/routines/cleanup_alerts/run", authz.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)

	runs, _, _, err := store.List(context.Background(), RunListFilter{}, 10, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStateFailed, runs[0].State)
}

func TestJobsRouterErrors(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		role   authz.Role
		want   int
	}{
		{"non-admin", http.MethodGet, "/api/v1/jobs/runs", authz.RoleUser, http.StatusForbidden},
		{"unknown routine", http.MethodPost, "/api/v1/jobs/routines/nope/run", authz.RoleAdmin, http.StatusNotFound},
		{"unknown run", http.MethodGet, "/api/v1/jobs/runs/missing", authz.RoleAdmin, http.StatusNotFound},
		{"bad page token", http.MethodGet, "/api/v1/jobs/runs?pageToken=x", authz.RoleAdmin, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, tt.role)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestListRoutines(t *testing.T) {
	c := &countingRoutine{}
	r, _ := setupRouter(t, c.routine("expire_requests", time.Hour), c.routine("audit_retention", 24*time.Hour))

	w := serve(r, http.MethodGet, "/api/v1/jobs/routines", authz.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Items []struct {
			Name         string `json:"name"`
			EverySeconds int64  `json:"everySeconds"`
		} `json:"items"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, "expire_requests", body.Items[0].Name)
	assert.Equal(t, int64(86400), body.Items[1].EverySeconds)
}
