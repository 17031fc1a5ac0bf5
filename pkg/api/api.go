// Package api contains the JSON request and response structs of the
// /api/v1 HTTP interface.
package api

import "time"

// CreateJobRequest is the request body for starting a test run.
type CreateJobRequest struct {
	WorkspaceID string   `json:"workspace_id"`
	TestGroup   string   `json:"test_group"`
	TestIDs     []string `json:"test_ids,omitempty"`
}

// CancelJobRequest is the optional body of a cancel call.
type CancelJobRequest struct {
	Reason string `json:"reason,omitempty"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID                string     `json:"id"`
	WorkspaceID       string     `json:"workspace_id"`
	TestGroup         string     `json:"test_group"`
	TestIDs           []string   `json:"test_ids"`
	Status            string     `json:"status"`
	ScheduleID        *string    `json:"schedule_id,omitempty"`
	ExitCode          *int       `json:"exit_code,omitempty"`
	Error             *string    `json:"error,omitempty"`
	CancelRequestedAt *time.Time `json:"cancel_requested_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// JobEventResponse is one entry of a job's history.
type JobEventResponse struct {
	Type      string    `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type JobEventsResponse struct {
	JobID  string             `json:"job_id"`
	Events []JobEventResponse `json:"events"`
}

// CreateScheduleRequest is the request body for creating a schedule.
// Timezone defaults to UTC, Enabled to true and TestGroup to CONFIG_CHECKS.
type CreateScheduleRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	CronExpression string   `json:"cron_expression"`
	Timezone       string   `json:"timezone,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`
	WorkspaceIDs   []string `json:"workspace_ids"`
	TestGroup      string   `json:"test_group,omitempty"`
	TestIDs        []string `json:"test_ids,omitempty"`
}

// UpdateScheduleRequest is a partial update; omitted fields are unchanged.
type UpdateScheduleRequest struct {
	Name           *string  `json:"name,omitempty"`
	Description    *string  `json:"description,omitempty"`
	CronExpression *string  `json:"cron_expression,omitempty"`
	Timezone       *string  `json:"timezone,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`
	WorkspaceIDs   []string `json:"workspace_ids,omitempty"`
	TestGroup      *string  `json:"test_group,omitempty"`
	TestIDs        []string `json:"test_ids,omitempty"`
}

type ScheduleResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	CronExpression string     `json:"cron_expression"`
	Timezone       string     `json:"timezone"`
	Enabled        bool       `json:"enabled"`
	WorkspaceIDs   []string   `json:"workspace_ids"`
	TestGroup      string     `json:"test_group"`
	TestIDs        []string   `json:"test_ids"`
	NextRunTime    *time.Time `json:"next_run_time"`
	LastRunTime    *time.Time `json:"last_run_time"`
	LastRunJobIDs  []string   `json:"last_run_job_ids"`
	TotalRuns      int        `json:"total_runs"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ScheduleListResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
	Total     int                `json:"total"`
}

// SkippedWorkspace names a workspace that already had an active job.
type SkippedWorkspace struct {
	WorkspaceID string `json:"workspace_id"`
	ActiveJobID string `json:"active_job_id,omitempty"`
	Reason      string `json:"reason"`
}

type FailedWorkspace struct {
	WorkspaceID string `json:"workspace_id"`
	Error       string `json:"error"`
}

// TriggerResponse reports the outcome of a manual schedule fire.
type TriggerResponse struct {
	Status     string             `json:"status"`
	ScheduleID string             `json:"schedule_id"`
	Jobs       []JobResponse      `json:"jobs"`
	JobIDs     []string           `json:"job_ids"`
	Skipped    []SkippedWorkspace `json:"skipped"`
	Errors     []FailedWorkspace  `json:"errors,omitempty"`
}

type ScheduleJobsResponse struct {
	ScheduleID string        `json:"schedule_id"`
	Jobs       []JobResponse `json:"jobs"`
	Total      int           `json:"total"`
}

type ScheduleEventResponse struct {
	WorkspaceID string    `json:"workspace_id"`
	Type        string    `json:"type"`
	JobID       *string   `json:"job_id,omitempty"`
	Detail      string    `json:"detail"`
	Timestamp   time.Time `json:"timestamp"`
}

type ScheduleEventsResponse struct {
	ScheduleID string                  `json:"schedule_id"`
	Events     []ScheduleEventResponse `json:"events"`
}

// WorkspaceResponse describes one SAP system workspace.
type WorkspaceResponse struct {
	ID                       string `json:"workspace_id"`
	Name                     string `json:"name"`
	Environment              string `json:"environment"`
	Path                     string `json:"path"`
	SAPSID                   string `json:"sap_sid,omitempty"`
	DBSID                    string `json:"db_sid,omitempty"`
	DatabaseHighAvailability bool   `json:"database_high_availability"`
	SCSHighAvailability      bool   `json:"scs_high_availability"`
	Runnable                 bool   `json:"runnable"`
}

type WorkspaceListResponse struct {
	Workspaces []WorkspaceResponse `json:"workspaces"`
	Total      int                 `json:"total"`
}

// HealthResponse is the body of the liveness probe.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Services  map[string]bool `json:"services"`
}

// ActiveJob identifies the job that holds a busy workspace.
type ActiveJob struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Detail    string     `json:"detail"`
	Error     string     `json:"error"`
	Code      string     `json:"code,omitempty"`
	ActiveJob *ActiveJob `json:"active_job,omitempty"`
}
