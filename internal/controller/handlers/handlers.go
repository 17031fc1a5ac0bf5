// Package handlers contains HTTP handlers for the scheduler API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/Azure/sap-automation-qa/internal/errors"
	"github.com/Azure/sap-automation-qa/internal/jobmanager"
	"github.com/Azure/sap-automation-qa/internal/logger"
	"github.com/Azure/sap-automation-qa/internal/scheduler"
	"github.com/Azure/sap-automation-qa/internal/store"
	"github.com/Azure/sap-automation-qa/internal/workspace"
	"github.com/Azure/sap-automation-qa/pkg/api"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// JobService is the job manager surface used by the API.
type JobService interface {
	Create(ctx context.Context, req jobmanager.CreateRequest) (*store.Job, error)
	Get(ctx context.Context, id string) (*store.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]store.Job, error)
	Events(ctx context.Context, id string) ([]store.JobEvent, error)
	Cancel(ctx context.Context, id, reason string) (*store.Job, error)
	Log(ctx context.Context, id string, tail int) (io.ReadCloser, error)
}

// ScheduleService is the scheduler surface used by the API.
type ScheduleService interface {
	Create(ctx context.Context, req scheduler.CreateRequest) (*store.Schedule, error)
	Get(ctx context.Context, id string) (*store.Schedule, error)
	List(ctx context.Context, enabledOnly bool) ([]store.Schedule, error)
	Update(ctx context.Context, id string, req scheduler.UpdateRequest) (*store.Schedule, error)
	Delete(ctx context.Context, id string) error
	Trigger(ctx context.Context, id string) (*scheduler.TriggerResult, error)
	Jobs(ctx context.Context, id string, limit int) ([]store.Job, error)
	Events(ctx context.Context, id string, limit int) ([]store.ScheduleEvent, error)
	Running() bool
}

type WorkspaceService interface {
	List(ctx context.Context) ([]workspace.Workspace, error)
	Get(ctx context.Context, id string) (*workspace.Workspace, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	jobs       JobService
	schedules  ScheduleService
	workspaces WorkspaceService
	db         Pinger
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a new Handlers instance.
func New(jobs JobService, schedules ScheduleService, workspaces WorkspaceService, db Pinger, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:       jobs,
		schedules:  schedules,
		workspaces: workspaces,
		db:         db,
		logger:     logger,
		now:        time.Now,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Detail: message,
		Error:  http.StatusText(code),
		Code:   strconv.Itoa(code),
	})
}

// domainError writes err with the status of its kind. Errors that are not
// domain errors are logged and reported without their internals.
func (h *Handlers) domainError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)

	var de *apperrors.DomainError
	if !errors.As(err, &de) {
		logger.FromContext(r.Context(), h.logger).Error("unhandled error", "error", err)
		h.httpError(w, "Internal server error", status)
		return
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.logger).Error("request failed", "kind", de.Kind, "error", err)
	}

	detail := de.Message
	if de.Kind == apperrors.KindValidation && de.WrappedErr != nil {
		detail = de.WrappedErr.Error()
	}
	resp := api.ErrorResponse{
		Detail: detail,
		Error:  string(de.Kind),
		Code:   strconv.Itoa(status),
	}
	if de.ActiveJob != nil {
		resp.ActiveJob = &api.ActiveJob{
			ID:        de.ActiveJob.ID,
			Status:    de.ActiveJob.Status,
			CreatedAt: de.ActiveJob.CreatedAt,
		}
	}
	h.respondJson(w, status, resp)
}

// decode reads a JSON body. An empty body leaves v untouched when allowEmpty is set.
func decode(r *http.Request, v interface{}, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

// queryLimit parses ?limit=. Zero means the store default.
func queryLimit(r *http.Request) (int, error) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
