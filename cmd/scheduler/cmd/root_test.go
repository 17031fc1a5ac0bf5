package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "migrate": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %q subcommand to be registered with root command", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "sap-qa-scheduler 1.0.0") {
		t.Errorf("unexpected output: %q", stdout.String())
	}
}

func TestMigrateCommand_CreatesDatabase(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"migrate"})
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "scheduler.db")); err != nil {
		t.Errorf("expected database file: %v", err)
	}
	if !strings.Contains(stdout.String(), "Migrations completed successfully") {
		t.Errorf("unexpected output: %q", stdout.String())
	}
}

func TestMigrateCommand_InvalidConfig(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("RUNNER", "kubernetes")

	rootCmd.SetArgs([]string{"migrate"})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetErr(nil) })

	if err := rootCmd.Execute(); err == nil {
		t.Error("expected an error for an invalid runner")
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"unknown-command-xyz"})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetErr(nil) })

	if err := Execute(); err == nil {
		t.Error("expected error for unknown command")
	}
}
