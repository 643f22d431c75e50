package access

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivum/docflow/pkg/authz"
)

func newTestServer(t *testing.T, env *testEnv) string {
	t.Helper()
	r := chi.NewRouter()
	r.Use(authz.ActorMiddleware(authz.HeaderActorExtractor))
	r.Use(authz.RequireActor)
	r.Mount("/api/v1", Router(&Handlers{
		Service:   env.service,
		Policies:  env.policies,
		Cooldowns: env.cooldowns,
	}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL + "/api/v1"
}

func doJSON(t *testing.T, method, url string, actor authz.Actor, body any) *http.Response {
	t.Helper()
	buf := &bytes.Buffer{}
	if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authz.HeaderUserID, actor.ID)
	req.Header.Set(authz.HeaderUserRole, string(actor.Role))
	req.Header.Set(authz.HeaderCompany, actor.Company)
	req.Header.Set(authz.HeaderDepartment, actor.Department)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHandlers_RequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	base := newTestServer(t, env)
	doc := env.createDocument(t)

	resp := doJSON(t, http.MethodPost, base+"/access-requests", colleague, SubmitRequest{DocumentID: doc.ID, Note: "month end"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created RequestResponse
	decode(t, resp, &created)
	assert.Equal(t, "pending", created.Status)

	resp = doJSON(t, http.MethodPost, base+"/access-requests", colleague, SubmitRequest{DocumentID: doc.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Another user cannot see the request.
	resp = doJSON(t, http.MethodGet, base+"/access-requests/"+created.ID, manager, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, base+"/access-requests", manager, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Items     []RequestResponse `json:"items"`
		TotalSize int               `json:"totalSize"`
	}
	decode(t, resp, &page)
	assert.Zero(t, page.TotalSize)

	resp = doJSON(t, http.MethodPost, base+"/access-requests/"+created.ID+"/decision", manager,
		DecideRequest{Action: ActionApprove})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/access-requests/"+created.ID+"/decision", admin,
		DecideRequest{Action: ActionApprove, GrantHours: 24})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var decided RequestResponse
	decode(t, resp, &decided)
	assert.Equal(t, "approved", decided.Status)
	assert.NotEmpty(t, decided.GrantExpiresAt)

	resp = doJSON(t, http.MethodPost, base+"/access-requests/"+created.ID+"/decision", admin,
		DecideRequest{Action: ActionDeny})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, base+"/access-requests/stats", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st Stats
	decode(t, resp, &st)
	assert.Equal(t, int64(1), st.Total)
}

func TestHandlers_PoliciesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	base := newTestServer(t, env)
	doc := env.createDocument(t)

	in := PolicyInput{Name: "guests", ConditionType: ConditionHeuristic, Condition: "guest", Action: ActionDeny, Priority: 1}
	resp := doJSON(t, http.MethodPost, base+"/policies", colleague, in)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/policies", admin, in)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p PolicyResponse
	decode(t, resp, &p)
	assert.False(t, p.Active)

	resp = doJSON(t, http.MethodPost, base+"/policies/"+p.ID+"/activate", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &p)
	assert.True(t, p.Active)
	assert.Equal(t, admin.ID, p.ApprovedBy)

	resp = doJSON(t, http.MethodPost, base+"/policies/simulate", admin,
		SimulateRequest{DocumentID: doc.ID, UserID: "u-guest", UserRole: "guest"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sim struct {
		Matched  bool     `json:"matched"`
		Decision Decision `json:"decision"`
	}
	decode(t, resp, &sim)
	assert.True(t, sim.Matched)
	assert.Equal(t, p.ID, sim.Decision.PolicyID)

	resp = doJSON(t, http.MethodPost, base+"/policies", admin,
		PolicyInput{Name: "bad", ConditionType: ConditionStructured, Condition: "{", Action: ActionDeny})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, base+"/policies/"+p.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
