package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stagecoach.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testConfigYAML = `orchestrator:
  name: test
  stages:
    - name: research
      worker_url: http://localhost:9001
    - name: writer
      worker_url: http://localhost:9002
`

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	// Reset the persistent flag so tests don't leak into each other.
	configFile = ""
	rootCmd.SetArgs(nil)
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "stagecoach version") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	path := writeTestConfig(t, testConfigYAML)
	out, err := runCommand(t, "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v (output %q)", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	path := writeTestConfig(t, "orchestrator:\n  name: broken\n")
	out, err := runCommand(t, "config", "validate", "--config", path)
	if err == nil {
		t.Fatalf("expected validation failure, output %q", out)
	}
	if !strings.Contains(out, "Validation errors") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigShowCommand(t *testing.T) {
	path := writeTestConfig(t, testConfigYAML)
	out, err := runCommand(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "worker_url") || !strings.Contains(out, "research") {
		t.Errorf("output = %q", out)
	}
}

func TestCheckpointListEmpty(t *testing.T) {
	path := writeTestConfig(t, testConfigYAML)
	out, err := runCommand(t, "checkpoint", "list", "--config", path)
	if err != nil {
		t.Fatalf("checkpoint list: %v", err)
	}
	if !strings.Contains(out, "no checkpoints") {
		t.Errorf("output = %q", out)
	}
}

func TestFlowRunRequiresContent(t *testing.T) {
	path := writeTestConfig(t, testConfigYAML)
	_, err := runCommand(t, "flow", "run", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "--content or --file") {
		t.Errorf("err = %v", err)
	}
}

func TestDBCommandsRequireDSN(t *testing.T) {
	path := writeTestConfig(t, testConfigYAML)
	_, err := runCommand(t, "db", "migrate", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "database.dsn") {
		t.Errorf("err = %v", err)
	}
}
