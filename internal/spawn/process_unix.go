//go:build !windows

package spawn

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/hatch/internal/reactor"
)

// unsetPID marks a handle that has no live process identifier: before
// creation completes, and permanently when creation fails child-side.
const unsetPID = -1

// sentinelExitStatus is the fixed status a child terminates with when it
// cannot chdir or replace its process image. The parent observes it as an
// ordinary exit code.
const sentinelExitStatus = 127

// ErrNoProcess is returned by signal delivery when the handle holds no live
// process identifier.
var ErrNoProcess = errors.New("spawn: no live process")

// ExitFunc receives the decoded termination of a child. Exactly one of code
// and sig is meaningful: a normal exit carries its status in code with sig
// zero, a signaled death carries the signal number in sig with code zero.
type ExitFunc func(p *Process, code int, sig int)

// Process is the handle for one asynchronously spawned child. A handle is
// never reused across spawns; its exit callback fires at most once.
type Process struct {
	loop   *reactor.Loop
	pid    int
	onExit ExitFunc
}

// PID reports the child's process identifier, or a negative value when the
// handle holds none.
func (p *Process) PID() int {
	return p.pid
}

// Signal delivers sig to the child. Delivery is fire-and-forget: no
// retries, and failures (no live pid, child already reaped, permission
// denied) surface the underlying error verbatim.
func (p *Process) Signal(sig unix.Signal) error {
	if p == nil || p.pid <= 0 {
		return ErrNoProcess
	}
	if err := unix.Kill(p.pid, sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", p.pid, err)
	}
	return nil
}

// Kill forcibly terminates the child with a non-catchable signal.
func (p *Process) Kill() error {
	return p.Signal(unix.SIGKILL)
}

// decodeWaitStatus splits a raw wait status into an exit code and a
// termination signal. Both default to zero; at most one is set.
func decodeWaitStatus(ws unix.WaitStatus) (code, sig int) {
	if ws.Exited() {
		code = ws.ExitStatus()
	}
	if ws.Signaled() {
		sig = int(ws.Signal())
	}
	return code, sig
}
