// Package workspace discovers SAP system workspaces on disk and resolves them
// into the inventory and parameter files a test run needs.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/Azure/sap-automation-qa/internal/errors"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	HostsFile      = "hosts.yaml"
	ParametersFile = "sap-parameters.yaml"
)

// Workspace describes one system directory under the workspaces base.
type Workspace struct {
	ID          string
	Name        string
	Environment string
	Path        string

	// HostsPath is empty when the directory has no inventory.
	HostsPath      string
	ParametersPath string

	SAPSID     string
	DBSID      string
	DatabaseHA bool
	SCSHA      bool

	// Parameters holds the whole parameter file and is passed to the
	// playbook as extra vars.
	Parameters map[string]any
}

// Runnable reports whether the workspace has an inventory to run against.
func (w *Workspace) Runnable() bool {
	return w.HostsPath != ""
}

type sapParameters struct {
	SAPSID     string `yaml:"sap_sid"`
	DBSID      string `yaml:"db_sid"`
	DatabaseHA bool   `yaml:"database_high_availability"`
	SCSHA      bool   `yaml:"scs_high_availability"`
}

// Resolver reads workspaces from a base directory. It keeps no cache: every
// call reflects what is on disk.
type Resolver struct {
	fs     afero.Fs
	base   string
	logger *slog.Logger
}

func NewResolver(fs afero.Fs, base string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fs: fs, base: base, logger: logger}
}

// Base returns the directory workspaces are read from.
func (r *Resolver) Base() string {
	return r.base
}

// List returns every directory that holds a hosts file or a parameter file,
// sorted by id. A missing base directory yields an empty list.
func (r *Resolver) List(ctx context.Context) ([]Workspace, error) {
	entries, err := afero.ReadDir(r.fs, r.base)
	if os.IsNotExist(err) {
		r.logger.WarnContext(ctx, "workspaces directory not found", "path", r.base)
		return []Workspace{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workspaces directory: %w", err)
	}

	workspaces := []Workspace{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ws, ok := r.load(ctx, entry.Name())
		if !ok {
			continue
		}
		workspaces = append(workspaces, *ws)
	}

	sort.Slice(workspaces, func(i, j int) bool { return workspaces[i].ID < workspaces[j].ID })
	return workspaces, nil
}

// Get returns a single workspace, or a WorkspaceNotFound error.
func (r *Resolver) Get(ctx context.Context, id string) (*Workspace, error) {
	if !validID(id) {
		return nil, apperrors.WorkspaceNotFound(id)
	}
	ws, ok := r.load(ctx, id)
	if !ok {
		return nil, apperrors.WorkspaceNotFound(id)
	}
	return ws, nil
}

// Resolve returns a workspace that can be executed against. A workspace
// without hosts.yaml is WorkspaceInvalid.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Workspace, error) {
	ws, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ws.Runnable() {
		return nil, apperrors.WorkspaceInvalid(id, HostsFile+" is missing")
	}
	return ws, nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.HasPrefix(id, ".") &&
		!strings.ContainsAny(id, `/\`)
}

func (r *Resolver) load(ctx context.Context, id string) (*Workspace, bool) {
	dir := filepath.Join(r.base, id)
	info, err := r.fs.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, false
	}

	hostsPath := filepath.Join(dir, HostsFile)
	paramsPath := filepath.Join(dir, ParametersFile)
	hasHosts := fileExists(r.fs, hostsPath)
	hasParams := fileExists(r.fs, paramsPath)
	if !hasHosts && !hasParams {
		return nil, false
	}

	ws := &Workspace{
		ID:          id,
		Name:        id,
		Environment: environmentOf(id),
		Path:        dir,
	}
	if hasHosts {
		ws.HostsPath = hostsPath
	}
	if hasParams {
		ws.ParametersPath = paramsPath
		if err := r.readParameters(ws); err != nil {
			// The workspace stays listed; only its metadata is missing.
			r.logger.WarnContext(ctx, "failed to load sap parameters", "workspace_id", id, "error", err)
		}
	}
	return ws, true
}

func (r *Resolver) readParameters(ws *Workspace) error {
	raw, err := afero.ReadFile(r.fs, ws.ParametersPath)
	if err != nil {
		return err
	}

	var params sapParameters
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return err
	}
	all := map[string]any{}
	if err := yaml.Unmarshal(raw, &all); err != nil {
		return err
	}

	ws.SAPSID = params.SAPSID
	ws.DBSID = params.DBSID
	ws.DatabaseHA = params.DatabaseHA
	ws.SCSHA = params.SCSHA
	ws.Parameters = all
	if params.SAPSID != "" {
		ws.Name = params.SAPSID
	}
	return nil
}

// environmentOf returns the id prefix before the first '-', e.g. "DEV" for
// "DEV-WEEU-SAP01-X00".
func environmentOf(id string) string {
	env, _, found := strings.Cut(id, "-")
	if !found {
		return ""
	}
	return env
}

func fileExists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}
