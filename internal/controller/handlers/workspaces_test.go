package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/Azure/sap-automation-qa/internal/errors"
	"github.com/Azure/sap-automation-qa/internal/workspace"
	"github.com/Azure/sap-automation-qa/pkg/api"
)

func TestListWorkspaces(t *testing.T) {
	m := newMocks()
	m.workspaces.listResp = []workspace.Workspace{
		{
			ID:          "DEV-WEEU-SAP01-X00",
			Name:        "X00",
			Environment: "DEV",
			HostsPath:   "/ws/DEV-WEEU-SAP01-X00/hosts.yaml",
			SAPSID:      "X00",
			DatabaseHA:  true,
		},
		{ID: "QA-WEEU-SAP02-X01", Name: "QA-WEEU-SAP02-X01", Environment: "QA"},
	}
	h := m.handlers()

	rr := httptest.NewRecorder()
	h.ListWorkspaces(rr, httptest.NewRequest(http.MethodGet, "/api/v1/workspaces", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var resp api.WorkspaceListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 workspaces, got %d", resp.Total)
	}
	first := resp.Workspaces[0]
	if !first.Runnable || !first.DatabaseHighAvailability || first.SAPSID != "X00" {
		t.Errorf("unexpected first workspace: %+v", first)
	}
	if resp.Workspaces[1].Runnable {
		t.Error("workspace without inventory must not be runnable")
	}
}

func TestGetWorkspace(t *testing.T) {
	tests := []struct {
		name           string
		mockSetup      func(*mocks)
		expectedStatus int
	}{
		{
			name: "Success",
			mockSetup: func(m *mocks) {
				m.workspaces.getResp = &workspace.Workspace{ID: "DEV-WEEU-SAP01-X00"}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Not Found",
			mockSetup: func(m *mocks) {
				m.workspaces.getErr = apperrors.WorkspaceNotFound("missing")
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMocks()
			tt.mockSetup(m)
			h := m.handlers()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/x", nil)
			req.SetPathValue("id", "x")
			rr := httptest.NewRecorder()
			h.GetWorkspace(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
		})
	}
}
