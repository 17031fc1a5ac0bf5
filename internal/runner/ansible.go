package runner

import (
	"encoding/json"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/Azure/sap-automation-qa/internal/store"

	"github.com/spf13/afero"
)

var testGroupPlaybooks = map[store.TestGroup]string{
	store.TestGroupConfigChecks: "playbook_00_configuration_checks.yml",
	store.TestGroupHADBHANA:     "playbook_00_ha_db_functional_tests.yml",
	store.TestGroupHASCS:        "playbook_00_ha_scs_functional_tests.yml",
	store.TestGroupHAOffline:    "playbook_01_ha_offline_tests.yml",
}

// Playbook returns the playbook file that runs group.
func Playbook(group store.TestGroup) (string, bool) {
	p, ok := testGroupPlaybooks[group]
	return p, ok
}

// AnsibleBuilder turns a job into an ansible-playbook invocation.
type AnsibleBuilder struct {
	FS            afero.Fs
	PlaybookDir   string
	AnsibleConfig string
	Image         string
}

// AnsibleRun is what a single playbook invocation needs to know.
type AnsibleRun struct {
	JobID         string
	WorkspaceID   string
	WorkspacePath string
	HostsPath     string
	TestGroup     store.TestGroup
	TestIDs       []string
	Parameters    map[string]any
}

// Build returns the start options for run, or an error if the test group
// has no playbook on disk.
func (b *AnsibleBuilder) Build(run AnsibleRun) (StartOptions, error) {
	name, ok := Playbook(run.TestGroup)
	if !ok {
		return StartOptions{}, fmt.Errorf("unknown test group: %s", run.TestGroup)
	}

	playbookDir, err := filepath.Abs(b.PlaybookDir)
	if err != nil {
		return StartOptions{}, err
	}
	playbook := filepath.Join(playbookDir, name)
	if exists, _ := afero.Exists(b.FS, playbook); !exists {
		return StartOptions{}, fmt.Errorf("playbook not found: %s", playbook)
	}

	hosts, err := filepath.Abs(run.HostsPath)
	if err != nil {
		return StartOptions{}, err
	}
	workspacePath, err := filepath.Abs(run.WorkspacePath)
	if err != nil {
		return StartOptions{}, err
	}

	vars := make(map[string]any, len(run.Parameters)+4)
	maps.Copy(vars, run.Parameters)
	vars["workspace_id"] = run.WorkspaceID
	vars["job_id"] = run.JobID
	if len(run.TestIDs) > 0 {
		vars["test_ids"] = run.TestIDs
	}
	if len(run.TestIDs) == 1 {
		vars["test_id"] = run.TestIDs[0]
	}
	extra, err := json.Marshal(vars)
	if err != nil {
		return StartOptions{}, fmt.Errorf("failed to encode extra vars: %w", err)
	}

	ansibleConfig := b.AnsibleConfig
	if ansibleConfig == "" {
		ansibleConfig = filepath.Join(playbookDir, "ansible.cfg")
	}

	return StartOptions{
		Name:    run.JobID,
		Image:   b.Image,
		Command: []string{"ansible-playbook", playbook, "-i", hosts, "-e", string(extra)},
		Env: map[string]string{
			"ANSIBLE_CONFIG":      ansibleConfig,
			"ANSIBLE_FORCE_COLOR": "false",
			"SAP_QA_JOB_ID":       run.JobID,
			"SAP_QA_WORKSPACE_ID": run.WorkspaceID,
		},
		Mounts: []string{playbookDir, workspacePath},
	}, nil
}
