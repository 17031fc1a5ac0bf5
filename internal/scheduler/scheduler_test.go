package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Azure/sap-automation-qa/internal/errors"
	"github.com/Azure/sap-automation-qa/internal/jobmanager"
	"github.com/Azure/sap-automation-qa/internal/store"
	"github.com/Azure/sap-automation-qa/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	mu      sync.Mutex
	busy    map[string]string
	fail    map[string]error
	created []store.Job
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{busy: map[string]string{}, fail: map[string]error{}}
}

func (f *fakeJobs) Create(ctx context.Context, req jobmanager.CreateRequest) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if active, ok := f.busy[req.WorkspaceID]; ok {
		return nil, apperrors.WorkspaceBusy(req.WorkspaceID, apperrors.ActiveJob{ID: active, Status: "running"})
	}
	if err, ok := f.fail[req.WorkspaceID]; ok {
		return nil, err
	}
	job := store.Job{
		ID:          fmt.Sprintf("job-%d", len(f.created)+1),
		WorkspaceID: req.WorkspaceID,
		TestGroup:   req.TestGroup,
		TestIDs:     req.TestIDs,
		Status:      store.JobStatusPending,
		ScheduleID:  req.ScheduleID,
	}
	f.created = append(f.created, job)
	return &job, nil
}

func (f *fakeJobs) List(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []store.Job
	for i := len(f.created) - 1; i >= 0; i-- {
		j := f.created[i]
		if filter.ScheduleID != "" && (j.ScheduleID == nil || *j.ScheduleID != filter.ScheduleID) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func newTestScheduler(t *testing.T) (*Scheduler, *sqlite.Store, *fakeJobs) {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(s.DB()))
	t.Cleanup(func() { s.Close() })

	jobs := newFakeJobs()
	return New(s, jobs, Config{PollInterval: 10 * time.Millisecond}, nil), s, jobs
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func TestCreate_Defaults(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	sched.now = func() time.Time { return time.Date(2024, 1, 15, 1, 30, 0, 0, time.UTC) }

	sc, err := sched.Create(context.Background(), CreateRequest{
		Name:           "nightly",
		CronExpression: "0 2 * * *",
		WorkspaceIDs:   []string{"DEV-WEEU-SAP01-X00", "QA-WEEU-SAP01-Q00", "DEV-WEEU-SAP01-X00", " "},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, sc.ID)
	assert.Equal(t, DefaultTimezone, sc.Timezone)
	assert.Equal(t, store.TestGroupConfigChecks, sc.TestGroup)
	assert.True(t, sc.Enabled)
	assert.Equal(t, []string{"DEV-WEEU-SAP01-X00", "QA-WEEU-SAP01-Q00"}, sc.WorkspaceIDs)
	require.NotNil(t, sc.NextRunTime)
	assert.Equal(t, time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC), *sc.NextRunTime)

	got, err := sched.Get(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, sc.Name, got.Name)
}

func TestCreate_DisabledHasNoNextRun(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	sc, err := sched.Create(context.Background(), CreateRequest{
		Name:           "paused",
		CronExpression: "0 2 * * *",
		Enabled:        boolPtr(false),
		WorkspaceIDs:   []string{"DEV-WEEU-SAP01-X00"},
	})
	require.NoError(t, err)
	assert.Nil(t, sc.NextRunTime)
}

func TestCreate_Validation(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	valid := func() CreateRequest {
		return CreateRequest{Name: "n", CronExpression: "0 2 * * *", WorkspaceIDs: []string{"DEV"}}
	}
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"missing name", func(r *CreateRequest) { r.Name = "" }},
		{"bad cron", func(r *CreateRequest) { r.CronExpression = "every night" }},
		{"bad timezone", func(r *CreateRequest) { r.Timezone = "Nowhere/Special" }},
		{"no workspaces", func(r *CreateRequest) { r.WorkspaceIDs = nil }},
		{"only blank workspaces", func(r *CreateRequest) { r.WorkspaceIDs = []string{"", " "} }},
		{"unknown test group", func(r *CreateRequest) { r.TestGroup = "HA_EVERYTHING" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			_, err := sched.Create(context.Background(), req)
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		})
	}
}

func TestUpdate_Partial(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	sc, err := sched.Create(ctx, CreateRequest{Name: "nightly", CronExpression: "0 2 * * *", WorkspaceIDs: []string{"DEV"}})
	require.NoError(t, err)

	updated, err := sched.Update(ctx, sc.ID, UpdateRequest{
		Description: strPtr("after the batch window"),
		Enabled:     boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "nightly", updated.Name)
	assert.Equal(t, "after the batch window", updated.Description)
	assert.False(t, updated.Enabled)
	assert.Nil(t, updated.NextRunTime)

	_, err = sched.Update(ctx, sc.ID, UpdateRequest{CronExpression: strPtr("bogus")})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	unchanged, err := sched.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", unchanged.CronExpression)

	_, err = sched.Update(ctx, "missing", UpdateRequest{Name: strPtr("x")})
	assert.Equal(t, apperrors.KindScheduleNotFound, apperrors.KindOf(err))
}

func TestDelete(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	sc, err := sched.Create(ctx, CreateRequest{Name: "n", CronExpression: "0 2 * * *", WorkspaceIDs: []string{"DEV"}})
	require.NoError(t, err)

	require.NoError(t, sched.Delete(ctx, sc.ID))
	assert.Equal(t, apperrors.KindScheduleNotFound, apperrors.KindOf(sched.Delete(ctx, sc.ID)))

	_, err = sched.Get(ctx, sc.ID)
	assert.Equal(t, apperrors.KindScheduleNotFound, apperrors.KindOf(err))
}

func TestTick_FiresOncePerMinute(t *testing.T) {
	sched, s, jobs := newTestScheduler(t)
	ctx := context.Background()

	sc, err := sched.Create(ctx, CreateRequest{Name: "every minute", CronExpression: "* * * * *", WorkspaceIDs: []string{"DEV"}})
	require.NoError(t, err)

	minute := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	sched.tick(ctx, minute.Add(5*time.Second))
	sched.tick(ctx, minute.Add(20*time.Second))
	sched.tick(ctx, minute.Add(35*time.Second))
	assert.Equal(t, 1, jobs.count())

	sched.tick(ctx, minute.Add(time.Minute+time.Second))
	assert.Equal(t, 2, jobs.count())

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalRuns)
	assert.Equal(t, []string{"job-2"}, got.LastRunJobIDs)
	require.NotNil(t, got.LastFiredMinute)
	assert.Equal(t, minute.Add(time.Minute).Unix(), *got.LastFiredMinute)
}

func TestTick_ConcurrentTicksFireOnce(t *testing.T) {
	sched, _, jobs := newTestScheduler(t)
	ctx := context.Background()

	_, err := sched.Create(ctx, CreateRequest{Name: "n", CronExpression: "0 2 * * *", WorkspaceIDs: []string{"DEV"}})
	require.NoError(t, err)

	at := time.Date(2024, 1, 15, 2, 0, 10, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.tick(ctx, at)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, jobs.count())
}

func TestTick_SkipsDisabledAndNonMatching(t *testing.T) {
	sched, _, jobs := newTestScheduler(t)
	ctx := context.Background()

	_, err := sched.Create(ctx, CreateRequest{Name: "off", CronExpression: "* * * * *", Enabled: boolPtr(false), WorkspaceIDs: []string{"DEV"}})
	require.NoError(t, err)
	_, err = sched.Create(ctx, CreateRequest{Name: "later", CronExpression: "0 3 * * *", WorkspaceIDs: []string{"QA"}})
	require.NoError(t, err)

	sched.tick(ctx, time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, jobs.count())
}

func TestFire_PartialFailureIsolation(t *testing.T) {
	sched, s, jobs := newTestScheduler(t)
	ctx := context.Background()

	jobs.busy["DEV-WEEU-SAP01-X00"] = "job-active"
	jobs.fail["QA-WEEU-SAP01-Q00"] = apperrors.WorkspaceInvalid("QA-WEEU-SAP01-Q00", "hosts.yaml missing")

	sc, err := sched.Create(ctx, CreateRequest{
		Name:           "nightly",
		CronExpression: "0 2 * * *",
		TestGroup:      store.TestGroupHADBHANA,
		WorkspaceIDs:   []string{"DEV-WEEU-SAP01-X00", "QA-WEEU-SAP01-Q00", "PRD-WEEU-SAP01-P00"},
	})
	require.NoError(t, err)

	sched.tick(ctx, time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC))

	require.Equal(t, 1, jobs.count())
	created, err := sched.Jobs(ctx, sc.ID, 0)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "PRD-WEEU-SAP01-P00", created[0].WorkspaceID)
	assert.Equal(t, store.TestGroupHADBHANA, created[0].TestGroup)

	events, err := sched.Events(ctx, sc.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	byWorkspace := map[string]store.ScheduleEvent{}
	for _, e := range events {
		byWorkspace[e.WorkspaceID] = e
	}
	skipped := byWorkspace["DEV-WEEU-SAP01-X00"]
	assert.Equal(t, store.ScheduleEventSkipped, skipped.Type)
	require.NotNil(t, skipped.JobID)
	assert.Equal(t, "job-active", *skipped.JobID)
	assert.Equal(t, store.ScheduleEventFireError, byWorkspace["QA-WEEU-SAP01-Q00"].Type)

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalRuns)
	assert.Equal(t, []string{created[0].ID}, got.LastRunJobIDs)
	require.NotNil(t, got.LastRunTime)
}

func TestTrigger(t *testing.T) {
	sched, _, jobs := newTestScheduler(t)
	ctx := context.Background()

	jobs.busy["QA"] = "job-running"
	sc, err := sched.Create(ctx, CreateRequest{Name: "n", CronExpression: "0 2 * * *", WorkspaceIDs: []string{"DEV", "QA"}})
	require.NoError(t, err)

	res, err := sched.Trigger(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, sc.ID, res.ScheduleID)
	assert.Len(t, res.JobIDs(), 1)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "QA", res.Skipped[0].WorkspaceID)
	assert.Equal(t, "job-running", res.Skipped[0].ActiveJobID)
	assert.Empty(t, res.Errors)

	_, err = sched.Update(ctx, sc.ID, UpdateRequest{Enabled: boolPtr(false)})
	require.NoError(t, err)
	_, err = sched.Trigger(ctx, sc.ID)
	assert.Equal(t, apperrors.KindScheduleDisabled, apperrors.KindOf(err))

	_, err = sched.Trigger(ctx, "missing")
	assert.Equal(t, apperrors.KindScheduleNotFound, apperrors.KindOf(err))
}

func TestJobsAndEvents_UnknownSchedule(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	_, err := sched.Jobs(context.Background(), "missing", 10)
	assert.Equal(t, apperrors.KindScheduleNotFound, apperrors.KindOf(err))
	_, err = sched.Events(context.Background(), "missing", 10)
	assert.Equal(t, apperrors.KindScheduleNotFound, apperrors.KindOf(err))
}

func TestRun_StopsOnCancel(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, sched.Running, time.Second, 5*time.Millisecond)
	assert.Error(t, sched.Run(ctx), "a second loop must be refused")

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, sched.Running())
}
