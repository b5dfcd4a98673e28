package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
id: deploy
name: Deploy
on_step_failure: continue
steps:
  - id: build
    name: Build
  - id: rollout
    name: Rollout
    depends_on: [build]
    timeout: 10s
    approval:
      required: true
      approvers: [ops]
      timeout: 30m
      priority: high
    retry:
      max_attempts: 3
      backoff: exponential
      initial_delay: 500ms
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "deploy.yaml", sampleYAML)

	wf, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if wf.ID != "deploy" {
		t.Errorf("id = %q", wf.ID)
	}
	if wf.OnStepFailure != ContinueSiblings {
		t.Errorf("on_step_failure = %q, want continue", wf.OnStepFailure)
	}

	rollout := wf.Step("rollout")
	if rollout == nil {
		t.Fatal("rollout step missing")
	}
	if rollout.Timeout != 10*time.Second {
		t.Errorf("timeout = %v", rollout.Timeout)
	}
	if rollout.Approval == nil || !rollout.Approval.Required {
		t.Fatal("approval config not parsed")
	}
	if rollout.Approval.Timeout != 30*time.Minute {
		t.Errorf("approval timeout = %v", rollout.Approval.Timeout)
	}
	if rollout.Retry == nil || rollout.Retry.MaxAttempts != 3 {
		t.Errorf("retry spec = %+v", rollout.Retry)
	}
	if rollout.Retry.InitialDelay != 500*time.Millisecond {
		t.Errorf("initial_delay = %v", rollout.Retry.InitialDelay)
	}
}

func TestLoadFromFile_InvalidDefinition(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "bad.yaml", `
id: bad
name: Bad
steps:
  - id: a
    name: A
    depends_on: [missing]
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("LoadFromFile with invalid DAG: want error")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "one.yaml", sampleYAML)
	writeFile(t, dir, "two.yml", `
id: other
name: Other
steps:
  - id: only
    name: Only
`)
	writeFile(t, dir, "ignored.txt", "not yaml")

	wfs, err := LoadFromDirectory(dir)
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if len(wfs) != 2 {
		t.Fatalf("loaded %d workflows, want 2", len(wfs))
	}
}

func TestLoadFromDirectory_Missing(t *testing.T) {
	t.Parallel()

	wfs, err := LoadFromDirectory(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if wfs != nil {
		t.Errorf("got %v, want nil for missing directory", wfs)
	}
}
