package handlers

import (
	"context"
	"io"
	"strings"

	"github.com/Azure/sap-automation-qa/internal/jobmanager"
	"github.com/Azure/sap-automation-qa/internal/scheduler"
	"github.com/Azure/sap-automation-qa/internal/store"
	"github.com/Azure/sap-automation-qa/internal/workspace"
)

// Mock job manager
type mockJobs struct {
	createResp *store.Job
	createErr  error
	getResp    *store.Job
	getErr     error
	listResp   []store.Job
	listErr    error
	eventsResp []store.JobEvent
	eventsErr  error
	cancelResp *store.Job
	cancelErr  error
	logContent string
	logErr     error

	// Spies
	capturedCreate jobmanager.CreateRequest
	capturedFilter store.JobFilter
	capturedReason string
	capturedTail   int
}

func (m *mockJobs) Create(ctx context.Context, req jobmanager.CreateRequest) (*store.Job, error) {
	m.capturedCreate = req
	return m.createResp, m.createErr
}

func (m *mockJobs) Get(ctx context.Context, id string) (*store.Job, error) {
	return m.getResp, m.getErr
}

func (m *mockJobs) List(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	m.capturedFilter = filter
	return m.listResp, m.listErr
}

func (m *mockJobs) Events(ctx context.Context, id string) ([]store.JobEvent, error) {
	return m.eventsResp, m.eventsErr
}

func (m *mockJobs) Cancel(ctx context.Context, id, reason string) (*store.Job, error) {
	m.capturedReason = reason
	return m.cancelResp, m.cancelErr
}

func (m *mockJobs) Log(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	m.capturedTail = tail
	if m.logErr != nil {
		return nil, m.logErr
	}
	return io.NopCloser(strings.NewReader(m.logContent)), nil
}

// Mock scheduler
type mockSchedules struct {
	running     bool
	createResp  *store.Schedule
	createErr   error
	getResp     *store.Schedule
	getErr      error
	listResp    []store.Schedule
	listErr     error
	updateResp  *store.Schedule
	updateErr   error
	deleteErr   error
	triggerResp *scheduler.TriggerResult
	triggerErr  error
	jobsResp    []store.Job
	jobsErr     error
	eventsResp  []store.ScheduleEvent
	eventsErr   error

	// Spies
	capturedCreate      scheduler.CreateRequest
	capturedUpdate      scheduler.UpdateRequest
	capturedEnabledOnly bool
	capturedLimit       int
}

func (m *mockSchedules) Create(ctx context.Context, req scheduler.CreateRequest) (*store.Schedule, error) {
	m.capturedCreate = req
	return m.createResp, m.createErr
}

func (m *mockSchedules) Get(ctx context.Context, id string) (*store.Schedule, error) {
	return m.getResp, m.getErr
}

func (m *mockSchedules) List(ctx context.Context, enabledOnly bool) ([]store.Schedule, error) {
	m.capturedEnabledOnly = enabledOnly
	return m.listResp, m.listErr
}

func (m *mockSchedules) Update(ctx context.Context, id string, req scheduler.UpdateRequest) (*store.Schedule, error) {
	m.capturedUpdate = req
	return m.updateResp, m.updateErr
}

func (m *mockSchedules) Delete(ctx context.Context, id string) error {
	return m.deleteErr
}

func (m *mockSchedules) Trigger(ctx context.Context, id string) (*scheduler.TriggerResult, error) {
	return m.triggerResp, m.triggerErr
}

func (m *mockSchedules) Jobs(ctx context.Context, id string, limit int) ([]store.Job, error) {
	m.capturedLimit = limit
	return m.jobsResp, m.jobsErr
}

func (m *mockSchedules) Events(ctx context.Context, id string, limit int) ([]store.ScheduleEvent, error) {
	m.capturedLimit = limit
	return m.eventsResp, m.eventsErr
}

func (m *mockSchedules) Running() bool {
	return m.running
}

// Mock workspace resolver
type mockWorkspaces struct {
	listResp []workspace.Workspace
	listErr  error
	getResp  *workspace.Workspace
	getErr   error
}

func (m *mockWorkspaces) List(ctx context.Context) ([]workspace.Workspace, error) {
	return m.listResp, m.listErr
}

func (m *mockWorkspaces) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	return m.getResp, m.getErr
}

type mockPinger struct {
	pingErr error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.pingErr
}

type mocks struct {
	jobs       *mockJobs
	schedules  *mockSchedules
	workspaces *mockWorkspaces
	db         *mockPinger
}

func newMocks() *mocks {
	return &mocks{
		jobs:       &mockJobs{},
		schedules:  &mockSchedules{},
		workspaces: &mockWorkspaces{},
		db:         &mockPinger{},
	}
}

func (m *mocks) handlers() *Handlers {
	return New(m.jobs, m.schedules, m.workspaces, m.db, nil)
}
