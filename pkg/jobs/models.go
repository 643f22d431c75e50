// Package jobs runs the periodic maintenance routines. Each routine runs at
// most once per period: the run record's idempotency key is the routine
// name plus the period start, so a restarted or duplicated scheduler does
// not repeat completed work.
package jobs

import (
	"time"

	"github.com/archivum/docflow/pkg/dbtypes"
)

// RunState is the lifecycle state of a routine run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// JobRun is one routine execution for one period.
type JobRun struct {
	ID             string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	Routine        string      `gorm:"column:routine;index:idx_job_routine_state,priority:1;not null"`
	PeriodKey      string      `gorm:"column:period_key;not null"`
	IdempotencyKey string      `gorm:"column:idempotency_key;uniqueIndex:idx_job_idemp_key;not null"`
	State          RunState    `gorm:"column:state;index:idx_job_routine_state,priority:2;index:idx_job_state;not null;default:running"`
	AttemptCount   int         `gorm:"column:attempt_count;default:0"`
	LastError      string      `gorm:"column:last_error"`
	Summary        dbtypes.Map `gorm:"column:summary;type:text"`
	StartedAt      *time.Time  `gorm:"column:started_at"`
	FinishedAt     *time.Time  `gorm:"column:finished_at;index"`
	CreatedAt      time.Time   `gorm:"column:created_at;index"`
}

// TableName returns the GORM table name.
func (JobRun) TableName() string { return "job_runs" }

// IsTerminal returns true if the run is in a terminal state.
func (j *JobRun) IsTerminal() bool {
	return j.State == RunStateSucceeded || j.State == RunStateFailed
}

// idempotencyKey is routine@period in RFC3339.
func idempotencyKey(routine string, period time.Time) string {
	return routine + "@" + periodKey(period)
}

func periodKey(period time.Time) string {
	return period.UTC().Format(time.RFC3339)
}
