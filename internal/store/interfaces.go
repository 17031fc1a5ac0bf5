package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNotActive is returned when a job transition requires a state the job has already left.
	ErrNotActive = errors.New("job is not in an active state")
)

// ConflictError is returned by CreateJob when the workspace already has an active job.
type ConflictError struct {
	Active *Job
}

func (e *ConflictError) Error() string {
	return "workspace " + e.Active.WorkspaceID + " already has active job " + e.Active.ID
}

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// JobStore persists jobs and their events. Every state transition is a single
// transaction that also appends the matching events.
type JobStore interface {
	// CreateJob inserts a pending job and its "created" event unless the
	// workspace already has an active job, in which case it returns *ConflictError.
	CreateJob(ctx context.Context, job *Job) error

	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	ListJobEvents(ctx context.Context, jobID string) ([]JobEvent, error)
	CountActiveJobs(ctx context.Context) (int64, error)

	// ListActiveJobs returns every pending or running job, oldest first.
	ListActiveJobs(ctx context.Context) ([]Job, error)

	// MarkRunning moves a pending job to running. Returns ErrNotActive if the
	// job is no longer pending.
	MarkRunning(ctx context.Context, id string, at time.Time) error

	// FailDispatch moves a pending job to failed after its runner could not be started.
	FailDispatch(ctx context.Context, id, detail string, at time.Time) (*Job, error)

	// CancelJob cancels a pending job outright, or records a cancel request on
	// a running one. For terminal jobs it returns the job together with ErrNotActive.
	CancelJob(ctx context.Context, id, reason string, at time.Time) (*Job, error)

	// FinishJob records the runner exit of a running job. The final status is
	// cancelled if a cancel was recorded, otherwise completed on exit code 0
	// and failed on anything else.
	FinishJob(ctx context.Context, id string, exitCode *int, detail string, at time.Time) (*Job, error)

	// RecoverJob finalizes a job left running by a previous process.
	RecoverJob(ctx context.Context, id string, at time.Time) (*Job, error)
}

// ScheduleStore persists schedules and their fire bookkeeping.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, enabledOnly bool) ([]Schedule, error)

	// UpdateSchedule loads the schedule, applies fn and writes the result back
	// within one transaction. An error from fn aborts the update.
	UpdateSchedule(ctx context.Context, id string, fn func(*Schedule) error) (*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// ClaimScheduleMinute atomically marks minute (unix seconds) as fired.
	// It returns false if the minute, or a later one, was already claimed or
	// the schedule is gone or disabled.
	ClaimScheduleMinute(ctx context.Context, id string, minute int64) (bool, error)
	RecordScheduleRun(ctx context.Context, id string, at time.Time, jobIDs []string, next *time.Time) error

	AddScheduleEvent(ctx context.Context, e *ScheduleEvent) error
	ListScheduleEvents(ctx context.Context, scheduleID string, limit int) ([]ScheduleEvent, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	JobStore
	ScheduleStore
	Ping(ctx context.Context) error
	Close() error
}
