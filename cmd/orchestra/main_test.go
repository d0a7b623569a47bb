package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

const okWorkflow = `
id: greet
mode: dependency
steps:
  - id: hello
    target: echo
    input: hello
  - id: shout
    target: upper
    input: "{{hello.output}} world"
`

const failingWorkflow = `
id: broken
steps:
  - id: a
    target: fail
    input: invalid_input
  - id: b
    target: echo
    depends_on: [a]
`

const cyclicWorkflow = `
id: loop
steps:
  - id: a
    target: echo
    depends_on: [b]
  - id: b
    target: echo
    depends_on: [a]
`

func TestRun_Text(t *testing.T) {
	out, err := execute(t, "run", writeFile(t, "ok.yaml", okWorkflow))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "greet") || !strings.Contains(out, "completed") {
		t.Errorf("output missing summary:\n%s", out)
	}
	if !strings.Contains(out, "HELLO WORLD") {
		t.Errorf("output missing resolved step output:\n%s", out)
	}
}

func TestRun_JSON(t *testing.T) {
	out, err := execute(t, "run", "-o", "json", writeFile(t, "ok.yaml", okWorkflow))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res struct {
		WorkflowID string `json:"workflow_id"`
		Status     string `json:"status"`
		Steps      []struct {
			StepID string `json:"step_id"`
			Output any    `json:"output"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if res.Status != "completed" {
		t.Errorf("status = %q, want completed", res.Status)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(res.Steps))
	}
}

func TestRun_Watch(t *testing.T) {
	out, err := execute(t, "run", "--watch", writeFile(t, "ok.yaml", okWorkflow))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"workflow.started", "step.started", "step.completed", "workflow.completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("watch output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_FailedWorkflowExitCode(t *testing.T) {
	out, err := execute(t, "run", writeFile(t, "broken.yaml", failingWorkflow))
	var exitErr *exitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *exitError", err)
	}
	if exitErr.code != 1 {
		t.Errorf("exit code = %d, want 1", exitErr.code)
	}
	if !strings.Contains(out, "skipped") {
		t.Errorf("output missing skipped step:\n%s", out)
	}
}

func TestRun_UnknownOutputFormat(t *testing.T) {
	if _, err := execute(t, "run", "-o", "xml", writeFile(t, "ok.yaml", okWorkflow)); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestValidate(t *testing.T) {
	ok := writeFile(t, "ok.yaml", okWorkflow)
	out, err := execute(t, "validate", ok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok (2 steps, mode dependency)") {
		t.Errorf("output = %q", out)
	}

	cyclic := writeFile(t, "loop.yaml", cyclicWorkflow)
	out, err = execute(t, "validate", ok, cyclic)
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 2 {
		t.Fatalf("err = %v, want exit code 2", err)
	}
	if !strings.Contains(out, "cycle") {
		t.Errorf("output missing cycle:\n%s", out)
	}
}

func TestLoadConfig_FileAndFlags(t *testing.T) {
	path := writeFile(t, "orchestra.yaml", `
max_concurrency: 4
default_step_timeout: 2s
retry:
  max_attempts: 5
breaker:
  failure_threshold: 2
  cool_down: 10s
log:
  format: json
throttle:
  - target: http.get
    rate_limit: 5
`)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-concurrency", 0, "")
	if err := flags.Parse([]string{"--max-concurrency", "8"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := loadConfig(newViper(), path, flags)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8 (flag wins)", cfg.MaxConcurrency)
	}
	if cfg.DefaultStepTimeout != 2*time.Second {
		t.Errorf("DefaultStepTimeout = %v, want 2s", cfg.DefaultStepTimeout)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.Multiplier != 2 {
		t.Errorf("Retry.Multiplier = %v, want default 2", cfg.Retry.Multiplier)
	}
	if cfg.Breaker.CoolDown != 10*time.Second {
		t.Errorf("Breaker.CoolDown = %v, want 10s", cfg.Breaker.CoolDown)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
	if len(cfg.Throttle) != 1 || cfg.Throttle[0].Target != "http.get" || cfg.Throttle[0].RateLimit != 5 {
		t.Errorf("Throttle = %+v", cfg.Throttle)
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("ORCHESTRA_WORKFLOW_TIMEOUT", "1m")

	cfg, err := loadConfig(newViper(), "", pflag.NewFlagSet("test", pflag.ContinueOnError))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.WorkflowTimeout != time.Minute {
		t.Errorf("WorkflowTimeout = %v, want 1m", cfg.WorkflowTimeout)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeFile(t, "bad.yaml", "max_concurrency: -1\n")
	if _, err := loadConfig(newViper(), path, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil {
		t.Error("expected error for negative max_concurrency")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, logConfig{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("hello", "step_id", "a")
	if !strings.Contains(buf.String(), `"step_id":"a"`) {
		t.Errorf("log output = %q, want JSON", buf.String())
	}

	if _, err := newLogger(&buf, logConfig{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := newLogger(&buf, logConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRun_AuditLog(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	if _, err := execute(t, "run", "--audit-log", auditPath, writeFile(t, "ok.yaml", okWorkflow)); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// workflow.started, two step.completed, workflow.completed
	if len(lines) != 4 {
		t.Fatalf("audit lines = %d, want 4:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"action":"workflow.started"`) {
		t.Errorf("first audit line = %s", lines[0])
	}
}

func TestSchedule_FiresAndReports(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a schedule slot")
	}
	path := writeFile(t, "greet.yaml", okWorkflow)

	out, err := execute(t, "schedule", "--cron", "@every 1s", "--for", "2500ms", path)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !strings.Contains(out, "ENTRY") || !strings.Contains(out, "greet") {
		t.Fatalf("output missing entry table:\n%s", out)
	}
	if !strings.Contains(out, "completed") {
		t.Errorf("expected a completed run in:\n%s", out)
	}
}

func TestSchedule_RejectsBadExpression(t *testing.T) {
	path := writeFile(t, "greet.yaml", okWorkflow)
	if _, err := execute(t, "schedule", "--cron", "whenever", "--for", "10ms", path); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
