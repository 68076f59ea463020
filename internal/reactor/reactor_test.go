package reactor

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func startChild(t *testing.T, script string) int {
	t.Helper()
	proc, err := os.StartProcess("/bin/sh", []string{"sh", "-c", script}, &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	})
	if err != nil {
		t.Fatalf("start child: %v", err)
	}
	pid := proc.Pid
	proc.Release()
	return pid
}

func TestWatchChildDeliversStatusOnce(t *testing.T) {
	loop := New()
	t.Cleanup(loop.Close)

	pid := startChild(t, "exit 5")

	ch := make(chan unix.WaitStatus, 2)
	loop.WatchChild(pid, func(ws unix.WaitStatus) {
		ch <- ws
	})

	select {
	case ws := <-ch:
		if !ws.Exited() || ws.ExitStatus() != 5 {
			t.Fatalf("unexpected wait status %v", ws)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for child status")
	}

	select {
	case ws := <-ch:
		t.Fatalf("second delivery for the same watch: %v", ws)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchChildAfterExit(t *testing.T) {
	loop := New()
	t.Cleanup(loop.Close)

	pid := startChild(t, "exit 7")

	// Give the child time to die before the watch exists; registration
	// must still observe it.
	time.Sleep(300 * time.Millisecond)

	ch := make(chan unix.WaitStatus, 1)
	loop.WatchChild(pid, func(ws unix.WaitStatus) {
		ch <- ws
	})

	select {
	case ws := <-ch:
		if !ws.Exited() || ws.ExitStatus() != 7 {
			t.Fatalf("unexpected wait status %v", ws)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for child status")
	}
}

func TestDeferRunsOnDispatchGoroutine(t *testing.T) {
	loop := New()
	t.Cleanup(loop.Close)

	done := make(chan struct{})
	loop.Defer(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("deferred callback never ran")
	}
}

func TestDeferAfterCloseIsDropped(t *testing.T) {
	loop := New()
	loop.Close()

	ran := make(chan struct{}, 1)
	loop.Defer(func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatalf("callback ran after close")
	case <-time.After(50 * time.Millisecond):
	}
}
