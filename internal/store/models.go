// Package store contains the persistence model for jobs and schedules.
package store

import (
	"slices"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

var jobStatuses = []JobStatus{
	JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return slices.Contains(jobStatuses, s)
}

// Active reports whether s blocks new jobs on the same workspace.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

func (s JobStatus) Terminal() bool {
	return s.Valid() && !s.Active()
}

// TestGroup names a suite of test cases executed by one playbook.
type TestGroup string

const (
	TestGroupConfigChecks TestGroup = "CONFIG_CHECKS"
	TestGroupHADBHANA     TestGroup = "HA_DB_HANA"
	TestGroupHASCS        TestGroup = "HA_SCS"
	TestGroupHAOffline    TestGroup = "HA_OFFLINE"
)

// TestGroups lists the groups accepted by the API.
var TestGroups = []TestGroup{
	TestGroupConfigChecks, TestGroupHADBHANA, TestGroupHASCS, TestGroupHAOffline,
}

func (g TestGroup) Valid() bool {
	return slices.Contains(TestGroups, g)
}

// Job is a single execution of a test group against one workspace.
type Job struct {
	ID          string
	WorkspaceID string
	TestGroup   TestGroup
	TestIDs     []string
	Status      JobStatus
	ScheduleID  *string
	LogPath     string

	ExitCode          *int
	Error             *string
	CancelRequestedAt *time.Time
	CancelReason      *string

	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// EventType is the kind of a job lifecycle event.
type EventType string

const (
	EventCreated               EventType = "created"
	EventStarted               EventType = "started"
	EventCancelRequested       EventType = "cancel_requested"
	EventDispatchError         EventType = "dispatch_error"
	EventRecoveredAfterRestart EventType = "recovered_after_restart"
	EventCompleted             EventType = "completed"
	EventFailed                EventType = "failed"
	EventCancelled             EventType = "cancelled"
)

// JobEvent is an append-only entry in a job's history.
type JobEvent struct {
	ID        int64
	JobID     string
	Type      EventType
	Detail    string
	CreatedAt time.Time
}

// JobFilter narrows ListJobs. Zero values mean "no constraint".
type JobFilter struct {
	WorkspaceID string
	Status      JobStatus
	ActiveOnly  bool
	ScheduleID  string
	Limit       int
}

// Schedule is a cron-driven recurring trigger over a list of workspaces.
type Schedule struct {
	ID             string
	Name           string
	Description    string
	CronExpression string
	Timezone       string
	Enabled        bool
	WorkspaceIDs   []string
	TestGroup      TestGroup
	TestIDs        []string

	// LastFiredMinute is the unix time of the last claimed cron minute.
	LastFiredMinute *int64
	NextRunTime     *time.Time
	LastRunTime     *time.Time
	LastRunJobIDs   []string
	TotalRuns       int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleEventType is the kind of a schedule fire outcome worth recording.
type ScheduleEventType string

const (
	ScheduleEventSkipped   ScheduleEventType = "skipped"
	ScheduleEventFireError ScheduleEventType = "fire_error"
)

// ScheduleEvent records a workspace that did not get a job when its schedule fired.
type ScheduleEvent struct {
	ID          int64
	ScheduleID  string
	WorkspaceID string
	Type        ScheduleEventType
	JobID       *string
	Detail      string
	CreatedAt   time.Time
}
