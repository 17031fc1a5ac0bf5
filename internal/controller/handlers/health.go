package handlers

import (
	"net/http"

	"github.com/Azure/sap-automation-qa/pkg/api"
)

// Healthz is a liveness probe.
// It returns 200 OK if the server is running and reports the scheduler loop.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, api.HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Version:   Version,
		Services: map[string]bool{
			"scheduler": h.schedules.Running(),
		},
	})
}

// Readyz is a readiness probe.
// It checks that the database can be reached.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}
