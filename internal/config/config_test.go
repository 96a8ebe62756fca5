package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes YAML content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stagecoach.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
orchestrator:
  name: writing-crew
  fail_fast: false
  defaults:
    timeout: 45s
    retry:
      max_attempts: 4
      base_backoff: 50ms
      max_backoff: 2s
    breaker:
      failure_threshold: 3
      recovery_timeout: 10s
      success_threshold: 2
  stages:
    - name: research
      worker_url: http://localhost:9001
    - name: writer
      worker_url: http://localhost:9002
      mode: selective
      timeout: 90s
    - name: quality
      worker_url: http://localhost:9003
      mode: comprehensive
      checkpoint: post-writing
  checkpoints:
    storage: memory
    sequence:
      max_total_time: 5m
  server:
    port: 9090
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	o := cfg.Orchestrator
	if o.Name != "writing-crew" {
		t.Errorf("Name = %q, want writing-crew", o.Name)
	}
	if len(o.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(o.Stages))
	}
	if o.Defaults.Retry.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", o.Defaults.Retry.MaxAttempts)
	}
	if o.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", o.Server.Port)
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate returned errors for valid config: %v", errs)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
orchestrator:
  name: minimal
  stages:
    - name: writer
      worker_url: http://localhost:9002
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	o := cfg.Orchestrator
	if o.Defaults.Retry.MaxAttempts != 3 {
		t.Errorf("default MaxAttempts = %d, want 3", o.Defaults.Retry.MaxAttempts)
	}
	if o.Defaults.Breaker.FailureThreshold != 5 {
		t.Errorf("default FailureThreshold = %d, want 5", o.Defaults.Breaker.FailureThreshold)
	}
	if o.Defaults.Breaker.SuccessThreshold != 1 {
		t.Errorf("default SuccessThreshold = %d, want 1", o.Defaults.Breaker.SuccessThreshold)
	}
	if o.Server.Port != 8080 {
		t.Errorf("default Port = %d, want 8080", o.Server.Port)
	}
	if o.Checkpoints.Storage != "memory" {
		t.Errorf("default Storage = %q, want memory", o.Checkpoints.Storage)
	}
}

func TestStageInheritsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
orchestrator:
  name: inherit
  defaults:
    mode: selective
    timeout: 15s
  stages:
    - name: research
      worker_url: http://localhost:9001
    - name: quality
      worker_url: http://localhost:9003
      mode: comprehensive
      timeout: 2m
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	research := cfg.Orchestrator.Stages[0]
	if research.Mode != "selective" {
		t.Errorf("research Mode = %q, want inherited selective", research.Mode)
	}
	if got := research.CallTimeout(); got != 15*time.Second {
		t.Errorf("research CallTimeout = %s, want 15s", got)
	}

	quality := cfg.Orchestrator.Stages[1]
	if quality.Mode != "comprehensive" {
		t.Errorf("quality Mode = %q, want explicit comprehensive", quality.Mode)
	}
	if got := quality.CallTimeout(); got != 2*time.Minute {
		t.Errorf("quality CallTimeout = %s, want 2m", got)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name: "missing name",
			yaml: `
orchestrator:
  stages:
    - name: writer
      worker_url: http://localhost:9002
`,
			field: "orchestrator.name",
		},
		{
			name: "no stages",
			yaml: `
orchestrator:
  name: empty
`,
			field: "orchestrator.stages",
		},
		{
			name: "duplicate stage",
			yaml: `
orchestrator:
  name: dup
  stages:
    - name: writer
      worker_url: http://localhost:9002
    - name: writer
      worker_url: http://localhost:9003
`,
			field: "orchestrator.stages[1].name",
		},
		{
			name: "missing worker url",
			yaml: `
orchestrator:
  name: nourl
  stages:
    - name: writer
`,
			field: "orchestrator.stages[0].worker_url",
		},
		{
			name: "bad worker url",
			yaml: `
orchestrator:
  name: badurl
  stages:
    - name: writer
      worker_url: "not a url"
`,
			field: "orchestrator.stages[0].worker_url",
		},
		{
			name: "bad mode",
			yaml: `
orchestrator:
  name: badmode
  stages:
    - name: writer
      worker_url: http://localhost:9002
      mode: thorough
`,
			field: "orchestrator.stages[0].mode",
		},
		{
			name: "bad checkpoint label",
			yaml: `
orchestrator:
  name: badcp
  stages:
    - name: writer
      worker_url: http://localhost:9002
      checkpoint: during-writing
`,
			field: "orchestrator.stages[0].checkpoint",
		},
		{
			name: "bad duration",
			yaml: `
orchestrator:
  name: baddur
  stages:
    - name: writer
      worker_url: http://localhost:9002
      timeout: ninety seconds
`,
			field: "orchestrator.stages[0].timeout",
		},
		{
			name: "bad storage",
			yaml: `
orchestrator:
  name: badstore
  stages:
    - name: writer
      worker_url: http://localhost:9002
  checkpoints:
    storage: s3
`,
			field: "orchestrator.checkpoints.storage",
		},
		{
			name: "redis without addr",
			yaml: `
orchestrator:
  name: noaddr
  stages:
    - name: writer
      worker_url: http://localhost:9002
  checkpoints:
    storage: redis
`,
			field: "orchestrator.checkpoints.redis_addr",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.yaml))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			errs := Validate(cfg)
			for _, e := range errs {
				if e.Field == tc.field {
					return
				}
			}
			t.Errorf("Validate did not flag %s; got %v", tc.field, errs)
		})
	}
}

func TestSequenceSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
orchestrator:
  name: seq
  stages:
    - name: writer
      worker_url: http://localhost:9002
  checkpoints:
    sequence:
      max_total_time: 90s
      continue_on_failure: false
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	seq := cfg.Orchestrator.Checkpoints.Sequence
	if got := seq.MaxTotalTimeDuration(); got != 90*time.Second {
		t.Errorf("MaxTotalTimeDuration = %s, want 90s", got)
	}
	if seq.ContinueOnFail() {
		t.Error("ContinueOnFail = true, want false (explicitly disabled)")
	}

	var def Sequence
	if !def.ContinueOnFail() {
		t.Error("zero-value ContinueOnFail = false, want true by default")
	}
	if def.MaxTotalTimeDuration() != 0 {
		t.Error("zero-value MaxTotalTimeDuration should be 0 (no budget)")
	}
}

func TestStageNames(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	names := cfg.Orchestrator.StageNames()
	want := []string{"research", "writer", "quality"}
	if len(names) != len(want) {
		t.Fatalf("StageNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("StageNames[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
