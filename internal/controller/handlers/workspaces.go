package handlers

import (
	"net/http"

	"github.com/Azure/sap-automation-qa/internal/workspace"
	"github.com/Azure/sap-automation-qa/pkg/api"
)

func toWorkspaceResponse(ws *workspace.Workspace) api.WorkspaceResponse {
	return api.WorkspaceResponse{
		ID:                       ws.ID,
		Name:                     ws.Name,
		Environment:              ws.Environment,
		Path:                     ws.Path,
		SAPSID:                   ws.SAPSID,
		DBSID:                    ws.DBSID,
		DatabaseHighAvailability: ws.DatabaseHA,
		SCSHighAvailability:      ws.SCSHA,
		Runnable:                 ws.Runnable(),
	}
}

// ListWorkspaces handles GET /api/v1/workspaces
func (h *Handlers) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := h.workspaces.List(r.Context())
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	resp := api.WorkspaceListResponse{
		Workspaces: make([]api.WorkspaceResponse, len(list)),
		Total:      len(list),
	}
	for i := range list {
		resp.Workspaces[i] = toWorkspaceResponse(&list[i])
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetWorkspace handles GET /api/v1/workspaces/{id}
func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspaces.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toWorkspaceResponse(ws))
}
