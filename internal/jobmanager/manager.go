// Package jobmanager owns the job lifecycle: creation under the
// one-active-job-per-workspace rule, dispatch to a runner, cancellation,
// log capture and recovery after a restart.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Azure/sap-automation-qa/internal/errors"
	"github.com/Azure/sap-automation-qa/internal/runner"
	"github.com/Azure/sap-automation-qa/internal/store"
	"github.com/Azure/sap-automation-qa/internal/workspace"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCancelReason is recorded when a cancel request carries no reason.
const DefaultCancelReason = "Cancelled by user"

const (
	defaultGracePeriod = 10 * time.Second
	streamDrainTimeout = 10 * time.Second
	failureTailBytes   = 2000
)

// WorkspaceResolver resolves a workspace id into a runnable workspace.
type WorkspaceResolver interface {
	Resolve(ctx context.Context, id string) (*workspace.Workspace, error)
}

// CommandBuilder turns a job into runner start options.
type CommandBuilder interface {
	Build(run runner.AnsibleRun) (runner.StartOptions, error)
}

// Config holds the manager settings.
type Config struct {
	// LogDir receives one <job id>.log file per job.
	LogDir string

	// GracePeriod is how long a stopped runner gets between SIGTERM and SIGKILL.
	GracePeriod time.Duration

	// JobTimeout bounds a single run; the runner is stopped and the job fails
	// once it elapses. Zero disables the bound.
	JobTimeout time.Duration
}

// CreateRequest describes a job to create.
type CreateRequest struct {
	WorkspaceID string
	TestGroup   store.TestGroup
	TestIDs     []string
	ScheduleID  *string
}

func (r CreateRequest) Validate() error {
	groups := make([]interface{}, len(store.TestGroups))
	for i, g := range store.TestGroups {
		groups[i] = g
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.WorkspaceID, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.TestGroup, validation.Required, validation.In(groups...)),
		validation.Field(&r.TestIDs, validation.Each(validation.Required)),
	)
}

// Manager creates, dispatches and supervises jobs. The store is the single
// authority on job state; the manager only keeps the live runner handles.
type Manager struct {
	store      store.JobStore
	workspaces WorkspaceResolver
	runtime    runner.Runtime
	builder    CommandBuilder
	cfg        Config
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *jobMetrics
	now        func() time.Time

	// job id -> *sync.Mutex, serializes dispatch, cancel and completion of one job
	jobLocks sync.Map

	mu      sync.Mutex
	running map[string]runner.Handle
	closing bool
	wg      sync.WaitGroup
}

func New(s store.JobStore, ws WorkspaceResolver, rt runner.Runtime, b CommandBuilder, cfg Config, logger *slog.Logger) *Manager {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics, err := newJobMetrics()
	if err != nil {
		logger.Warn("job metrics unavailable", "error", err)
	}
	return &Manager{
		store:      s,
		workspaces: ws,
		runtime:    rt,
		builder:    b,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("sap-qa-jobmanager"),
		metrics:    metrics,
		now:        time.Now,
		running:    make(map[string]runner.Handle),
	}
}

// Create validates req, inserts a pending job and dispatches it in the
// background. The returned job is the pending snapshot.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*store.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation("job", err)
	}

	ws, err := m.workspaces.Resolve(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	job := &store.Job{
		ID:          id,
		WorkspaceID: ws.ID,
		TestGroup:   req.TestGroup,
		TestIDs:     req.TestIDs,
		Status:      store.JobStatusPending,
		ScheduleID:  req.ScheduleID,
		LogPath:     filepath.Join(m.cfg.LogDir, id+".log"),
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			return nil, apperrors.WorkspaceBusy(ws.ID, apperrors.ActiveJob{
				ID:        conflict.Active.ID,
				Status:    string(conflict.Active.Status),
				CreatedAt: conflict.Active.CreatedAt,
			})
		}
		return nil, apperrors.StoreUnavailable("job", err)
	}

	m.metrics.recordCreated(ctx, job)
	m.logger.InfoContext(ctx, "job created",
		"job_id", job.ID,
		"workspace_id", job.WorkspaceID,
		"test_group", job.TestGroup,
	)

	m.dispatchAsync(job.ID, ws)
	return job, nil
}

func (m *Manager) dispatchAsync(jobID string, ws *workspace.Workspace) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		m.logger.Warn("shutting down, job left pending for the next start", "job_id", jobID)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.dispatch(context.Background(), jobID, ws)
	}()
}

func (m *Manager) dispatch(ctx context.Context, jobID string, ws *workspace.Workspace) {
	unlock := m.lockJob(jobID)
	defer unlock()

	log := m.logger.With("job_id", jobID, "workspace_id", ws.ID)

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error("failed to load job for dispatch", "error", err)
		return
	}
	if job.Status != store.JobStatusPending {
		log.Info("job no longer pending, skipping dispatch", "status", job.Status)
		return
	}

	spanCtx, span := m.tracer.Start(ctx, "run_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("workspace.id", job.WorkspaceID),
			attribute.String("job.test_group", string(job.TestGroup)),
		),
	)

	logFile, err := openLog(job.LogPath)
	if err != nil {
		m.failDispatch(spanCtx, span, job, fmt.Errorf("failed to open log file: %w", err))
		return
	}

	opts, err := m.builder.Build(runner.AnsibleRun{
		JobID:         job.ID,
		WorkspaceID:   job.WorkspaceID,
		WorkspacePath: ws.Path,
		HostsPath:     ws.HostsPath,
		TestGroup:     job.TestGroup,
		TestIDs:       job.TestIDs,
		Parameters:    ws.Parameters,
	})
	if err != nil {
		fmt.Fprintf(logFile, "failed to build runner command: %v\n", err)
		logFile.Close()
		m.failDispatch(spanCtx, span, job, err)
		return
	}

	handle, err := m.runtime.Start(spanCtx, opts)
	if err != nil {
		fmt.Fprintf(logFile, "failed to start runner: %v\n", err)
		logFile.Close()
		m.failDispatch(spanCtx, span, job, err)
		return
	}

	stream, err := handle.StreamLogs(spanCtx)
	if err != nil {
		log.Warn("runner output unavailable", "error", err)
		stream = nil
	}

	if err := m.store.MarkRunning(ctx, job.ID, m.now().UTC()); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.GracePeriod)
		_ = handle.Stop(stopCtx)
		cancel()
		if stream != nil {
			stream.Close()
		}
		logFile.Close()
		m.failDispatch(spanCtx, span, job, fmt.Errorf("failed to record start: %w", err))
		return
	}

	if !m.register(job.ID, handle) {
		go m.stop(job.ID, handle)
	}
	log.Info("job started", "runner", opts.Name)

	m.wg.Add(1)
	go m.supervise(spanCtx, span, job, handle, stream, logFile)
}

func (m *Manager) failDispatch(ctx context.Context, span trace.Span, job *store.Job, cause error) {
	defer span.End()

	detail := fmt.Sprintf("Failed to start runner: %v", cause)
	dispatchErr := apperrors.Wrap(apperrors.KindDispatch, "job", "failed to start runner", cause)
	span.RecordError(dispatchErr)
	span.SetStatus(codes.Error, detail)

	final, err := m.store.FailDispatch(ctx, job.ID, detail, m.now().UTC())
	if err != nil {
		m.logger.Error("failed to record dispatch failure", "job_id", job.ID, "error", err)
		return
	}
	m.forgetJob(job.ID)
	m.metrics.recordFinished(ctx, final)
	m.logger.Error("job dispatch failed", "job_id", job.ID, "workspace_id", job.WorkspaceID, "error", dispatchErr)
}

// supervise copies the runner output into the job log, waits for the exit and
// records the final state.
func (m *Manager) supervise(ctx context.Context, span trace.Span, job *store.Job, handle runner.Handle, stream io.ReadCloser, logFile *os.File) {
	defer m.wg.Done()
	defer span.End()

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		if stream == nil {
			return
		}
		if _, err := io.Copy(logFile, stream); err != nil {
			m.logger.Debug("log copy ended with error", "job_id", job.ID, "error", err)
		}
	}()

	var timedOut atomic.Bool
	if m.cfg.JobTimeout > 0 {
		timer := time.AfterFunc(m.cfg.JobTimeout, func() {
			timedOut.Store(true)
			m.logger.Warn("job exceeded its timeout, stopping runner", "job_id", job.ID, "timeout", m.cfg.JobTimeout)
			m.stop(job.ID, handle)
		})
		defer timer.Stop()
	}

	result, waitErr := handle.Wait(context.Background())
	if waitErr != nil && result.Error == nil {
		result.Error = waitErr
	}

	select {
	case <-copied:
	case <-time.After(streamDrainTimeout):
		m.logger.Warn("runner output still open after exit, closing it", "job_id", job.ID)
	}
	if stream != nil {
		stream.Close()
	}
	<-copied
	logFile.Close()

	expired := timedOut.Load()
	detail := runner.Describe(result)
	if expired {
		detail = fmt.Sprintf("Job timed out after %s (%s)", m.cfg.JobTimeout, detail)
	}
	if expired || result.ExitCode != 0 || result.Signal != "" || result.Error != nil {
		if tail := tailBytes(job.LogPath, failureTailBytes); tail != "" {
			detail += "\n" + tail
		}
	}

	var exitCode *int
	if !expired && result.Error == nil && result.Signal == "" {
		code := result.ExitCode
		exitCode = &code
	}

	unlock := m.lockJob(job.ID)
	m.unregister(job.ID)
	final, err := m.store.FinishJob(ctx, job.ID, exitCode, detail, m.now().UTC())
	unlock()
	if err != nil {
		span.RecordError(err)
		m.logger.Error("failed to record job completion", "job_id", job.ID, "error", err)
		return
	}
	m.forgetJob(job.ID)

	span.SetAttributes(
		attribute.Int("exit_code", result.ExitCode),
		attribute.String("job.status", string(final.Status)),
	)
	if final.Status == store.JobStatusFailed {
		span.SetStatus(codes.Error, runner.Describe(result))
	}
	m.metrics.recordFinished(ctx, final)
	m.logger.Info("job finished",
		"job_id", job.ID,
		"workspace_id", job.WorkspaceID,
		"status", final.Status,
		"exit", runner.Describe(result),
	)
}

// Cancel cancels a pending job immediately or asks a running one to stop.
// A running job reaches its final state once the runner exits.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*store.Job, error) {
	if reason == "" {
		reason = DefaultCancelReason
	}

	unlock := m.lockJob(id)
	defer unlock()

	job, err := m.store.CancelJob(ctx, id, reason, m.now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperrors.JobNotFound(id)
	case errors.Is(err, store.ErrNotActive):
		status := "finished"
		if job != nil {
			status = string(job.Status)
		}
		return nil, apperrors.JobNotCancellable(id, status)
	case err != nil:
		return nil, apperrors.StoreUnavailable("job", err)
	}

	m.logger.InfoContext(ctx, "job cancel requested", "job_id", id, "status", job.Status, "reason", reason)

	if job.Status == store.JobStatusCancelled {
		m.forgetJob(id)
		m.metrics.recordFinished(ctx, job)
		return job, nil
	}

	if h := m.handle(id); h != nil {
		m.mu.Lock()
		if m.closing {
			m.mu.Unlock()
			return job, nil
		}
		m.wg.Add(1)
		m.mu.Unlock()

		go func() {
			defer m.wg.Done()
			m.stop(id, h)
		}()
	}
	return job, nil
}

func (m *Manager) stop(id string, h runner.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.GracePeriod)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		m.logger.Error("failed to stop runner", "job_id", id, "error", err)
	}
}

func (m *Manager) Get(ctx context.Context, id string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.JobNotFound(id)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable("job", err)
	}
	return job, nil
}

// List returns jobs matching filter, newest first.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.Validation("job", fmt.Errorf("unknown status %q", filter.Status))
	}
	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, apperrors.StoreUnavailable("job", err)
	}
	return jobs, nil
}

// Events returns the event history of a job, oldest first.
func (m *Manager) Events(ctx context.Context, id string) ([]store.JobEvent, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := m.store.ListJobEvents(ctx, id)
	if err != nil {
		return nil, apperrors.StoreUnavailable("job", err)
	}
	return events, nil
}

// Recover reconciles jobs left active by a previous process. Running jobs are
// finalized since their runner is gone; pending jobs are dispatched again.
func (m *Manager) Recover(ctx context.Context) error {
	jobs, err := m.store.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		switch job.Status {
		case store.JobStatusRunning:
			final, err := m.store.RecoverJob(ctx, job.ID, m.now().UTC())
			if err != nil {
				m.logger.Error("failed to recover running job", "job_id", job.ID, "error", err)
				continue
			}
			m.metrics.recordFinished(ctx, final)
			m.logger.Warn("job was running at last shutdown", "job_id", job.ID, "status", final.Status)

		case store.JobStatusPending:
			ws, err := m.workspaces.Resolve(ctx, job.WorkspaceID)
			if err != nil {
				detail := fmt.Sprintf("Failed to start runner: %v", err)
				if _, ferr := m.store.FailDispatch(ctx, job.ID, detail, m.now().UTC()); ferr != nil {
					m.logger.Error("failed to record dispatch failure", "job_id", job.ID, "error", ferr)
				}
				continue
			}
			m.logger.Info("re-dispatching pending job", "job_id", job.ID)
			m.dispatchAsync(job.ID, ws)
		}
	}
	return nil
}

// RunningJobIDs returns the ids of jobs with a live runner, sorted.
func (m *Manager) RunningJobIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops every live runner and waits until their jobs are finalized
// or ctx ends. Jobs created afterwards stay pending until the next Recover.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	handles := make(map[string]runner.Handle, len(m.running))
	for id, h := range m.running {
		handles[id] = h
	}
	m.mu.Unlock()

	for id, h := range handles {
		m.logger.Info("stopping runner", "job_id", id)
		go m.stop(id, h)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) register(id string, h runner.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[id] = h
	return !m.closing
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}

func (m *Manager) handle(id string) runner.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[id]
}

func (m *Manager) lockJob(id string) func() {
	v, _ := m.jobLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// forgetJob drops the lock of a job that reached a final state.
func (m *Manager) forgetJob(id string) {
	m.jobLocks.Delete(id)
}
