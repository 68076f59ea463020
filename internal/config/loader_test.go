package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadParsesJob(t *testing.T) {
	t.Setenv("LOADER_TEST_GREETING", "hello")

	path := writeManifest(t, `
version: "1"
job:
  command: ["/bin/sh", "-c", "printf hi"]
  workdir: sub
  env:
    GREETING: $LOADER_TEST_GREETING
  inheritEnv: true
  stdin: "ping"
  stdoutCapacity: 1024
  timeout: 2s
`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	job := doc.Job

	if len(job.Command) != 3 || job.Command[0] != "/bin/sh" {
		t.Fatalf("unexpected command %v", job.Command)
	}
	wantWorkdir := filepath.Join(filepath.Dir(path), "sub")
	if job.Workdir != wantWorkdir {
		t.Fatalf("workdir not resolved: got %q want %q", job.Workdir, wantWorkdir)
	}
	if job.Env["GREETING"] != "hello" {
		t.Fatalf("env not expanded: %v", job.Env)
	}
	if job.StdoutCapacity != 1024 || job.Stdin != "ping" {
		t.Fatalf("unexpected job fields: %+v", job)
	}
	if job.Timeout.Duration != 2*time.Second || !job.Timeout.IsSet() {
		t.Fatalf("unexpected timeout %v", job.Timeout)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeManifest(t, `
job:
  command: ["/bin/true"]
  shell: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	path := writeManifest(t, `
job:
  stdoutCapacity: 16
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "requires a command") {
		t.Fatalf("expected missing-command error, got %v", err)
	}
}

func TestLoadRejectsCombineConflict(t *testing.T) {
	path := writeManifest(t, `
job:
  command: ["/bin/true"]
  combineOutput: true
  stdoutCapacity: 64
  stderrCapacity: 64
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected combine conflict error, got %v", err)
	}
}

func TestEnvironLayering(t *testing.T) {
	job := &Job{
		Env:        map[string]string{"B": "2", "A": "1"},
		InheritEnv: true,
	}
	env := job.Environ([]string{"PARENT=x"})
	want := []string{"PARENT=x", "A=1", "B=2"}
	if len(env) != len(want) {
		t.Fatalf("unexpected env %v", env)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Fatalf("unexpected env %v, want %v", env, want)
		}
	}

	job.InheritEnv = false
	env = job.Environ([]string{"PARENT=x"})
	if len(env) != 2 || env[0] != "A=1" {
		t.Fatalf("non-inheriting env should carry overrides only, got %v", env)
	}

	empty := &Job{}
	if got := empty.Environ(nil); got == nil || len(got) != 0 {
		t.Fatalf("non-inheriting empty env should be empty, not nil: %v", got)
	}
	inherit := &Job{InheritEnv: true}
	if got := inherit.Environ([]string{"PARENT=x"}); got != nil {
		t.Fatalf("plain inheritance should be nil (use parent as-is), got %v", got)
	}
}
