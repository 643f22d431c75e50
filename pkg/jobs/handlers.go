package jobs

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/archivum/docflow/pkg/httputil"
)

// GetRunHandler handles GET /jobs/runs/{runId}
func GetRunHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := store.Get(r.Context(), chi.URLParam(r, "runId"))
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, runToResponse(run))
	}
}

// ListRunsHandler handles GET /jobs/runs
// Query params: routine, state, pageSize, pageToken
func ListRunsHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := RunListFilter{
			Routine: r.URL.Query().Get("routine"),
			State:   r.URL.Query().Get("state"),
		}
		pageSize, pageToken := httputil.PageParams(r)

		records, nextToken, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		runs := make([]runResponse, len(records))
		for i := range records {
			runs[i] = runToResponse(&records[i])
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"items":         runs,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// ListRoutinesHandler handles GET /jobs/routines
func ListRoutinesHandler(s *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 0, len(s.order))
		for _, name := range s.order {
			items = append(items, map[string]any{
				"name":         name,
				"everySeconds": int64(s.routines[name].Every.Seconds()),
			})
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

// TriggerHandler handles POST /jobs/routines/{routine}/run. The run is
// keyed by the current period, so triggering a routine that already
// succeeded for the period reports that run instead of repeating it.
func TriggerHandler(s *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ran, err := s.RunOnce(r.Context(), chi.URLParam(r, "routine"), s.now())
		if err != nil && run == nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"ran": ran,
			"run": runToResponse(run),
		})
	}
}

// runResponse is the API response for a routine run.
type runResponse struct {
	ID           string         `json:"id"`
	Routine      string         `json:"routine"`
	Period       string         `json:"period"`
	State        string         `json:"state"`
	AttemptCount int            `json:"attemptCount"`
	LastError    string         `json:"lastError,omitempty"`
	Summary      map[string]any `json:"summary,omitempty"`
	StartedAt    string         `json:"startedAt,omitempty"`
	FinishedAt   string         `json:"finishedAt,omitempty"`
	CreatedAt    string         `json:"createdAt"`
}

func runToResponse(run *JobRun) runResponse {
	return runResponse{
		ID:           run.ID,
		Routine:      run.Routine,
		Period:       run.PeriodKey,
		State:        string(run.State),
		AttemptCount: run.AttemptCount,
		LastError:    run.LastError,
		Summary:      run.Summary,
		StartedAt:    httputil.FormatTime(run.StartedAt),
		FinishedAt:   httputil.FormatTime(run.FinishedAt),
		CreatedAt:    httputil.FormatTime(&run.CreatedAt),
	}
}
