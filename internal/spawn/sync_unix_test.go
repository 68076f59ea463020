//go:build !windows

package spawn

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/hatch/internal/reactor"
)

func newTestLoop(t *testing.T) *reactor.Loop {
	t.Helper()
	loop := reactor.New()
	t.Cleanup(loop.Close)
	return loop
}

func TestRunCapturesStdout(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/sh",
		Args:    []string{"sh", "-c", "printf hello"},
		Stdout:  make([]byte, 16),
		Timeout: time.Second,
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}

	if req.TimedOut {
		t.Fatalf("unexpected timeout")
	}
	if req.ExitCode != 0 || req.TermSignal != 0 {
		t.Fatalf("unexpected termination: code=%d signal=%d", req.ExitCode, req.TermSignal)
	}
	if req.StdoutRead != 5 {
		t.Fatalf("expected 5 bytes captured, got %d", req.StdoutRead)
	}
	if got := string(req.Stdout[:req.StdoutRead]); got != "hello" {
		t.Fatalf("unexpected capture %q", got)
	}
}

func TestRunTimeoutKillsChild(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/sh",
		Args:    []string{"sh", "-c", "sleep 5"},
		Stdout:  make([]byte, 64),
		Timeout: 100 * time.Millisecond,
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !req.TimedOut {
		t.Fatalf("expected timed-out outcome")
	}
	if err := unix.Kill(req.PID, 0); !errors.Is(err, unix.ESRCH) {
		t.Fatalf("child %d still exists after timeout: %v", req.PID, err)
	}
}

func TestRunFeedsStdin(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/cat",
		Args:    []string{"cat"},
		Stdin:   []byte("ping\n"),
		Stdout:  make([]byte, 64),
		Timeout: 2 * time.Second,
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}

	if req.StdinWritten != 5 {
		t.Fatalf("expected 5 bytes written, got %d", req.StdinWritten)
	}
	if got := string(req.Stdout[:req.StdoutRead]); got != "ping\n" {
		t.Fatalf("unexpected capture %q", got)
	}
	if req.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", req.ExitCode)
	}
}

func TestRunCombinesStderr(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/sh",
		Args:    []string{"sh", "-c", "printf out; printf err 1>&2"},
		Stdout:  make([]byte, 64),
		Combine: true,
		Timeout: 2 * time.Second,
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := string(req.Stdout[:req.StdoutRead]); got != "outerr" {
		t.Fatalf("unexpected combined capture %q", got)
	}
	if req.StderrRead != 0 {
		t.Fatalf("stderr capture should be untouched, read %d", req.StderrRead)
	}
}

func TestRunSeparateStderr(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/sh",
		Args:    []string{"sh", "-c", "printf out; printf err 1>&2"},
		Stdout:  make([]byte, 64),
		Stderr:  make([]byte, 64),
		Timeout: 2 * time.Second,
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := string(req.Stdout[:req.StdoutRead]); got != "out" {
		t.Fatalf("unexpected stdout capture %q", got)
	}
	if got := string(req.Stderr[:req.StderrRead]); got != "err" {
		t.Fatalf("unexpected stderr capture %q", got)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/sh",
		Args:    []string{"sh", "-c", "exit 3"},
		Timeout: 2 * time.Second,
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}

	if req.ExitCode != 3 || req.TermSignal != 0 {
		t.Fatalf("unexpected termination: code=%d signal=%d", req.ExitCode, req.TermSignal)
	}
}

func TestRunReportsTerminationSignal(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/sh",
		Args:    []string{"sh", "-c", "kill -KILL $$"},
		Timeout: 2 * time.Second,
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}

	if req.TermSignal != int(unix.SIGKILL) {
		t.Fatalf("expected SIGKILL termination, got signal %d", req.TermSignal)
	}
	if req.ExitCode != 0 {
		t.Fatalf("exit code should be zero for signaled death, got %d", req.ExitCode)
	}
}

func TestRunBufferOverflow(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/sh",
		Args:    []string{"sh", "-c", "printf 0123456789; sleep 5"},
		Stdout:  make([]byte, 4),
		Timeout: 5 * time.Second,
	}
	err := Run(loop, req)
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected buffer overflow, got %v", err)
	}
	if got := string(req.Stdout[:req.StdoutRead]); got != "0123" {
		t.Fatalf("captured prefix should be intact, got %q", got)
	}
	if kerr := unix.Kill(req.PID, 0); !errors.Is(kerr, unix.ESRCH) {
		t.Fatalf("child %d still exists after overflow: %v", req.PID, kerr)
	}
}

func TestRunCombineExcludesStderrBuffer(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/bin/sh",
		Args:    []string{"sh", "-c", "true"},
		Stdout:  make([]byte, 8),
		Stderr:  make([]byte, 8),
		Combine: true,
		Timeout: time.Second,
	}
	if err := Run(loop, req); !errors.Is(err, ErrCombinedStderr) {
		t.Fatalf("expected combine/stderr conflict, got %v", err)
	}
	if req.PID > 0 {
		t.Fatalf("no child should have been created, got pid %d", req.PID)
	}
}

func TestRunMissingExecutable(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File:    "/no/such/executable",
		Args:    []string{"nope"},
		Timeout: time.Second,
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}
	if req.ExitCode != 127 {
		t.Fatalf("expected sentinel exit 127, got %d", req.ExitCode)
	}
}

func TestRunExpiredBudgetTimesOutImmediately(t *testing.T) {
	loop := newTestLoop(t)

	req := &SyncRequest{
		File: "/bin/sh",
		Args: []string{"sh", "-c", "sleep 5"},
	}
	if err := Run(loop, req); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !req.TimedOut {
		t.Fatalf("expected immediate timeout with zero budget")
	}
}
