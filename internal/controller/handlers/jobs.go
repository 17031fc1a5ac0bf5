package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/Azure/sap-automation-qa/internal/jobmanager"
	"github.com/Azure/sap-automation-qa/internal/logger"
	"github.com/Azure/sap-automation-qa/internal/store"
	"github.com/Azure/sap-automation-qa/pkg/api"
)

func toJobResponse(job *store.Job) api.JobResponse {
	testIDs := job.TestIDs
	if testIDs == nil {
		testIDs = []string{}
	}
	return api.JobResponse{
		ID:                job.ID,
		WorkspaceID:       job.WorkspaceID,
		TestGroup:         string(job.TestGroup),
		TestIDs:           testIDs,
		Status:            string(job.Status),
		ScheduleID:        job.ScheduleID,
		ExitCode:          job.ExitCode,
		Error:             job.Error,
		CancelRequestedAt: job.CancelRequestedAt,
		CreatedAt:         job.CreatedAt,
		StartedAt:         job.StartedAt,
		EndedAt:           job.EndedAt,
	}
}

func toJobResponses(jobs []store.Job) []api.JobResponse {
	out := make([]api.JobResponse, len(jobs))
	for i := range jobs {
		out[i] = toJobResponse(&jobs[i])
	}
	return out
}

// CreateJob handles POST /api/v1/jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := decode(r, &req, false); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.Create(r.Context(), jobmanager.CreateRequest{
		WorkspaceID: req.WorkspaceID,
		TestGroup:   store.TestGroup(req.TestGroup),
		TestIDs:     req.TestIDs,
	})
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("job accepted",
		"job_id", job.ID,
		"workspace_id", job.WorkspaceID,
	)
	h.respondJson(w, http.StatusCreated, toJobResponse(job))
}

// ListJobs handles GET /api/v1/jobs?workspace_id=&status=&active_only=&limit=
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, err := queryLimit(r)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	activeOnly, err := queryBool(r, "active_only")
	if err != nil {
		h.httpError(w, "active_only must be a boolean", http.StatusBadRequest)
		return
	}

	jobs, err := h.jobs.List(r.Context(), store.JobFilter{
		WorkspaceID: query.Get("workspace_id"),
		Status:      store.JobStatus(query.Get("status")),
		ActiveOnly:  activeOnly,
		Limit:       limit,
	})
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.JobListResponse{
		Jobs:  toJobResponses(jobs),
		Total: len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// GetJobEvents handles GET /api/v1/jobs/{id}/events
func (h *Handlers) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := h.jobs.Events(r.Context(), id)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	resp := api.JobEventsResponse{
		JobID:  id,
		Events: make([]api.JobEventResponse, len(events)),
	}
	for i, e := range events {
		resp.Events[i] = api.JobEventResponse{
			Type:      string(e.Type),
			Detail:    e.Detail,
			Timestamp: e.CreatedAt,
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel
// A running job stays running until its runner exits; the response carries
// the recorded cancel request.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	var req api.CancelJobRequest
	if err := decode(r, &req, true); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// GetJobLog handles GET /api/v1/jobs/{id}/log?tail=
// The log is streamed as plain text while the job may still be writing it.
func (h *Handlers) GetJobLog(w http.ResponseWriter, r *http.Request) {
	tail := 0
	if t := r.URL.Query().Get("tail"); t != "" {
		parsed, err := strconv.Atoi(t)
		if err != nil || parsed < 0 {
			h.httpError(w, "tail must be a non-negative integer", http.StatusBadRequest)
			return
		}
		tail = parsed
	}

	rc, err := h.jobs.Log(r.Context(), r.PathValue("id"), tail)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.FromContext(r.Context(), h.logger).Warn("log stream interrupted", "job_id", r.PathValue("id"), "error", err)
	}
}
