// Package scheduler fires cron schedules by creating one job per workspace
// through the job manager.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/Azure/sap-automation-qa/internal/errors"
	"github.com/Azure/sap-automation-qa/internal/jobmanager"
	"github.com/Azure/sap-automation-qa/internal/store"

	"github.com/hashicorp/go-multierror"
)

const (
	DefaultTimezone     = "UTC"
	DefaultTestGroup    = store.TestGroupConfigChecks
	DefaultPollInterval = 15 * time.Second

	heartbeatInterval = 5 * time.Minute
)

// JobManager is the part of the job manager the scheduler drives.
type JobManager interface {
	Create(ctx context.Context, req jobmanager.CreateRequest) (*store.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]store.Job, error)
}

type Config struct {
	// PollInterval must stay below one minute so no cron minute is missed.
	PollInterval time.Duration
}

// Scheduler owns schedule CRUD and the tick loop. Only one Scheduler may run
// against a given store.
type Scheduler struct {
	store   store.ScheduleStore
	jobs    JobManager
	cfg     Config
	logger  *slog.Logger
	metrics *scheduleMetrics
	now     func() time.Time

	running atomic.Bool
}

func New(s store.ScheduleStore, jobs JobManager, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 || cfg.PollInterval >= time.Minute {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics, err := newScheduleMetrics()
	if err != nil {
		logger.Warn("schedule metrics unavailable", "error", err)
	}
	return &Scheduler{
		store:   s,
		jobs:    jobs,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Running reports whether the tick loop is alive.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Run polls the enabled schedules until ctx is cancelled. Minutes that passed
// while the loop was not running are not replayed.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler is already running")
	}
	defer s.running.Store(false)

	s.logger.Info("scheduler started", "poll_interval", s.cfg.PollInterval.String())

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	lastHeartbeat := s.now()
	s.tick(ctx, lastHeartbeat)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			now := s.now()
			s.tick(ctx, now)
			if now.Sub(lastHeartbeat) >= heartbeatInterval {
				s.heartbeat(ctx, now)
				lastHeartbeat = now
			}
		}
	}
}

// tick fires every enabled schedule whose cron matches the minute of now and
// whose minute could be claimed.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		s.logger.Error("failed to load schedules", "error", err)
		return
	}

	for i := range schedules {
		sc := &schedules[i]
		spec, err := ParseCron(sc.CronExpression, sc.Timezone)
		if err != nil {
			s.logger.Warn("schedule has an invalid cron expression", "schedule_id", sc.ID, "error", err)
			continue
		}
		if !spec.Matches(now) {
			continue
		}

		minute := spec.Minute(now)
		claimed, err := s.store.ClaimScheduleMinute(ctx, sc.ID, minute.Unix())
		if err != nil {
			s.logger.Error("failed to claim schedule minute", "schedule_id", sc.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		s.logger.Info("schedule due",
			"schedule_id", sc.ID,
			"schedule_name", sc.Name,
			"minute", minute.Format(time.RFC3339),
		)
		s.fire(ctx, sc, now)
	}
}

func (s *Scheduler) heartbeat(ctx context.Context, now time.Time) {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		s.logger.Warn("scheduler heartbeat: failed to load schedules", "error", err)
		return
	}
	next := make([]string, 0, len(schedules))
	for _, sc := range schedules {
		if sc.NextRunTime != nil {
			next = append(next, sc.Name+"="+sc.NextRunTime.Format(time.RFC3339))
		}
	}
	s.logger.Info("scheduler heartbeat",
		"now", now.UTC().Format(time.RFC3339),
		"enabled_schedules", len(schedules),
		"next_runs", strings.Join(next, ", "),
	)
}

// SkippedWorkspace is a workspace that already had an active job when its
// schedule fired.
type SkippedWorkspace struct {
	WorkspaceID string
	ActiveJobID string
	Reason      string
}

type FireError struct {
	WorkspaceID string
	Err         error
}

// TriggerResult is the outcome of one schedule fire.
type TriggerResult struct {
	ScheduleID string
	Jobs       []store.Job
	Skipped    []SkippedWorkspace
	Errors     []FireError
}

// JobIDs returns the ids of the jobs created by the fire.
func (r *TriggerResult) JobIDs() []string {
	ids := make([]string, len(r.Jobs))
	for i, j := range r.Jobs {
		ids[i] = j.ID
	}
	return ids
}

// fire creates one job per workspace. A busy or broken workspace never stops
// the others from getting their job.
func (s *Scheduler) fire(ctx context.Context, sc *store.Schedule, now time.Time) *TriggerResult {
	res := &TriggerResult{ScheduleID: sc.ID}
	scheduleID := sc.ID
	var errs *multierror.Error

	for _, wsID := range sc.WorkspaceIDs {
		job, err := s.jobs.Create(ctx, jobmanager.CreateRequest{
			WorkspaceID: wsID,
			TestGroup:   sc.TestGroup,
			TestIDs:     sc.TestIDs,
			ScheduleID:  &scheduleID,
		})
		if err == nil {
			res.Jobs = append(res.Jobs, *job)
			s.metrics.recordFire(ctx, sc, "created")
			continue
		}

		event := &store.ScheduleEvent{
			ScheduleID:  sc.ID,
			WorkspaceID: wsID,
			Detail:      err.Error(),
			CreatedAt:   now.UTC(),
		}

		var de *apperrors.DomainError
		if errors.As(err, &de) && de.Kind == apperrors.KindWorkspaceBusy {
			skipped := SkippedWorkspace{WorkspaceID: wsID, Reason: de.Message}
			if de.ActiveJob != nil {
				activeID := de.ActiveJob.ID
				skipped.ActiveJobID = activeID
				event.JobID = &activeID
			}
			event.Type = store.ScheduleEventSkipped
			res.Skipped = append(res.Skipped, skipped)
			s.metrics.recordFire(ctx, sc, "skipped")
			s.logger.Warn("workspace busy, skipping scheduled run",
				"schedule_id", sc.ID,
				"workspace_id", wsID,
				"active_job_id", skipped.ActiveJobID,
			)
		} else {
			event.Type = store.ScheduleEventFireError
			res.Errors = append(res.Errors, FireError{WorkspaceID: wsID, Err: err})
			errs = multierror.Append(errs, fmt.Errorf("workspace %s: %w", wsID, err))
			s.metrics.recordFire(ctx, sc, "error")
		}

		if err := s.store.AddScheduleEvent(ctx, event); err != nil {
			s.logger.Error("failed to record schedule event", "schedule_id", sc.ID, "workspace_id", wsID, "error", err)
		}
	}

	if err := s.store.RecordScheduleRun(ctx, sc.ID, now.UTC(), res.JobIDs(), s.nextRun(sc, now)); err != nil {
		s.logger.Error("failed to record schedule run", "schedule_id", sc.ID, "error", err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		s.logger.Error("schedule fired with errors", "schedule_id", sc.ID, "error", err)
	}
	s.logger.Info("schedule fired",
		"schedule_id", sc.ID,
		"jobs", len(res.Jobs),
		"skipped", len(res.Skipped),
		"errors", len(res.Errors),
	)
	return res
}

// Trigger fires an enabled schedule immediately, independent of its cron.
func (s *Scheduler) Trigger(ctx context.Context, id string) (*TriggerResult, error) {
	sc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sc.Enabled {
		return nil, apperrors.ScheduleDisabled(id)
	}
	s.logger.InfoContext(ctx, "schedule triggered manually", "schedule_id", id)
	return s.fire(ctx, sc, s.now()), nil
}

// Jobs returns the jobs created by a schedule, newest first.
func (s *Scheduler) Jobs(ctx context.Context, id string, limit int) ([]store.Job, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.jobs.List(ctx, store.JobFilter{ScheduleID: id, Limit: limit})
}

// Events returns the skipped and failed fires of a schedule, newest first.
func (s *Scheduler) Events(ctx context.Context, id string, limit int) ([]store.ScheduleEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.store.ListScheduleEvents(ctx, id, limit)
	if err != nil {
		return nil, apperrors.StoreUnavailable("schedule", err)
	}
	return events, nil
}
