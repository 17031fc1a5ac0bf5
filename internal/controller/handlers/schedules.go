package handlers

import (
	"net/http"

	"github.com/Azure/sap-automation-qa/internal/logger"
	"github.com/Azure/sap-automation-qa/internal/scheduler"
	"github.com/Azure/sap-automation-qa/internal/store"
	"github.com/Azure/sap-automation-qa/pkg/api"
)

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toScheduleResponse(sc *store.Schedule) api.ScheduleResponse {
	return api.ScheduleResponse{
		ID:             sc.ID,
		Name:           sc.Name,
		Description:    sc.Description,
		CronExpression: sc.CronExpression,
		Timezone:       sc.Timezone,
		Enabled:        sc.Enabled,
		WorkspaceIDs:   nonNil(sc.WorkspaceIDs),
		TestGroup:      string(sc.TestGroup),
		TestIDs:        nonNil(sc.TestIDs),
		NextRunTime:    sc.NextRunTime,
		LastRunTime:    sc.LastRunTime,
		LastRunJobIDs:  nonNil(sc.LastRunJobIDs),
		TotalRuns:      sc.TotalRuns,
		CreatedAt:      sc.CreatedAt,
		UpdatedAt:      sc.UpdatedAt,
	}
}

// CreateSchedule handles POST /api/v1/schedules
func (h *Handlers) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req api.CreateScheduleRequest
	if err := decode(r, &req, false); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sc, err := h.schedules.Create(r.Context(), scheduler.CreateRequest{
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Enabled:        req.Enabled,
		WorkspaceIDs:   req.WorkspaceIDs,
		TestGroup:      store.TestGroup(req.TestGroup),
		TestIDs:        req.TestIDs,
	})
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("schedule created", "schedule_id", sc.ID, "cron", sc.CronExpression)
	h.respondJson(w, http.StatusCreated, toScheduleResponse(sc))
}

// ListSchedules handles GET /api/v1/schedules?enabled_only=
func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	enabledOnly, err := queryBool(r, "enabled_only")
	if err != nil {
		h.httpError(w, "enabled_only must be a boolean", http.StatusBadRequest)
		return
	}

	list, err := h.schedules.List(r.Context(), enabledOnly)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	resp := api.ScheduleListResponse{
		Schedules: make([]api.ScheduleResponse, len(list)),
		Total:     len(list),
	}
	for i := range list {
		resp.Schedules[i] = toScheduleResponse(&list[i])
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetSchedule handles GET /api/v1/schedules/{id}
func (h *Handlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := h.schedules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toScheduleResponse(sc))
}

// UpdateSchedule handles PATCH /api/v1/schedules/{id}
func (h *Handlers) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateScheduleRequest
	if err := decode(r, &req, false); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	update := scheduler.UpdateRequest{
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Enabled:        req.Enabled,
		WorkspaceIDs:   req.WorkspaceIDs,
		TestIDs:        req.TestIDs,
	}
	if req.TestGroup != nil {
		group := store.TestGroup(*req.TestGroup)
		update.TestGroup = &group
	}

	sc, err := h.schedules.Update(r.Context(), r.PathValue("id"), update)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toScheduleResponse(sc))
}

// DeleteSchedule handles DELETE /api/v1/schedules/{id}
// Jobs created by the schedule are kept.
func (h *Handlers) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.schedules.Delete(r.Context(), id); err != nil {
		h.domainError(w, r, err)
		return
	}
	logger.FromContext(r.Context(), h.logger).Info("schedule deleted", "schedule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// TriggerSchedule handles POST /api/v1/schedules/{id}/trigger
func (h *Handlers) TriggerSchedule(w http.ResponseWriter, r *http.Request) {
	res, err := h.schedules.Trigger(r.Context(), r.PathValue("id"))
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	resp := api.TriggerResponse{
		Status:     "triggered",
		ScheduleID: res.ScheduleID,
		Jobs:       toJobResponses(res.Jobs),
		JobIDs:     res.JobIDs(),
		Skipped:    make([]api.SkippedWorkspace, len(res.Skipped)),
	}
	for i, s := range res.Skipped {
		resp.Skipped[i] = api.SkippedWorkspace{
			WorkspaceID: s.WorkspaceID,
			ActiveJobID: s.ActiveJobID,
			Reason:      s.Reason,
		}
	}
	for _, e := range res.Errors {
		resp.Errors = append(resp.Errors, api.FailedWorkspace{
			WorkspaceID: e.WorkspaceID,
			Error:       e.Err.Error(),
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetScheduleJobs handles GET /api/v1/schedules/{id}/jobs?limit=
func (h *Handlers) GetScheduleJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	jobs, err := h.schedules.Jobs(r.Context(), id, limit)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.ScheduleJobsResponse{
		ScheduleID: id,
		Jobs:       toJobResponses(jobs),
		Total:      len(jobs),
	})
}

// GetScheduleEvents handles GET /api/v1/schedules/{id}/events?limit=
func (h *Handlers) GetScheduleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	events, err := h.schedules.Events(r.Context(), id, limit)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	resp := api.ScheduleEventsResponse{
		ScheduleID: id,
		Events:     make([]api.ScheduleEventResponse, len(events)),
	}
	for i, e := range events {
		resp.Events[i] = api.ScheduleEventResponse{
			WorkspaceID: e.WorkspaceID,
			Type:        string(e.Type),
			JobID:       e.JobID,
			Detail:      e.Detail,
			Timestamp:   e.CreatedAt,
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}
