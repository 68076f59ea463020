//go:build !windows

package spawn

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/hatch/internal/metrics"
	"github.com/Paintersrp/hatch/internal/reactor"
)

var (
	// ErrBufferOverflow reports that a child produced more output than the
	// supplied capture buffer can hold. It is an artificial error, not an
	// OS errno; the data already captured is valid and untruncated.
	ErrBufferOverflow = errors.New("spawn: capture buffer overflow")

	// ErrCombinedStderr reports the invalid combination of merging stderr
	// into stdout while also supplying a separate stderr buffer.
	ErrCombinedStderr = errors.New("spawn: Combine is mutually exclusive with a stderr buffer")
)

// SyncRequest is the single mutable record driving one blocking spawn: the
// caller fills the input fields, Run fills the result fields. The record
// must not be touched from other goroutines while a call is in flight, and
// must not be reused until the call returns.
type SyncRequest struct {
	// File, Args, Env and Dir mirror the async Options fields.
	File string
	Args []string
	Env  []string
	Dir  string

	// Stdin is fed to the child's standard input through a pipe; nil
	// leaves stdin inherited. The pipe is closed once every byte has been
	// written so the child observes end-of-file.
	Stdin []byte

	// Stdout and Stderr are caller-owned fixed-capacity capture buffers;
	// nil leaves the corresponding descriptor inherited. Output exceeding
	// a buffer's capacity is a reported error, never silent truncation.
	Stdout []byte
	Stderr []byte

	// Combine redirects the child's stderr into the stdout capture pipe.
	// It requires a Stdout buffer and excludes a Stderr buffer.
	Combine bool

	// Timeout bounds the whole call. A non-positive timeout expires on
	// the first loop pass. Expiry is a normal outcome, not an error: the
	// child is forcibly killed and TimedOut is set.
	Timeout time.Duration

	// Results.
	PID          int
	ExitCode     int
	TermSignal   int
	StdinWritten int
	StdoutRead   int
	StderrRead   int
	TimedOut     bool
}

// Run spawns req's child and blocks until it terminates, the timeout
// elapses or an unrecoverable I/O error occurs. Every error exit kills the
// child and reaps it; no descriptor or zombie outlives the call.
func Run(loop *reactor.Loop, req *SyncRequest) error {
	req.PID = unsetPID
	req.ExitCode = 0
	req.TermSignal = 0
	req.StdinWritten = 0
	req.StdoutRead = 0
	req.StderrRead = 0
	req.TimedOut = false

	if req.File == "" {
		return errors.New("spawn: sync request requires a file")
	}
	if req.Combine {
		if req.Stderr != nil {
			return ErrCombinedStderr
		}
		if req.Stdout == nil {
			return errors.New("spawn: Combine requires a stdout buffer")
		}
	}

	stdin := invalidPair()
	stdout := invalidPair()
	stderr := invalidPair()
	self := invalidPair()

	fail := func(err error) error {
		stdin.close()
		stdout.close()
		stderr.close()
		self.close()
		metrics.IncSpawnFailure(metrics.EngineSync)
		return err
	}

	var err error
	if req.Stdin != nil {
		if stdin, err = newPipePair(); err != nil {
			return fail(err)
		}
	}
	if req.Stdout != nil {
		if stdout, err = newPipePair(); err != nil {
			return fail(err)
		}
	}
	if req.Stderr != nil {
		if stderr, err = newPipePair(); err != nil {
			return fail(err)
		}
	}
	if self, err = newSignalPair(); err != nil {
		return fail(err)
	}

	argv := req.Args
	if len(argv) == 0 {
		argv = []string{req.File}
	}

	files := []*os.File{os.Stdin, os.Stdout, os.Stderr}
	var childEnds []*os.File
	if stdin.r >= 0 {
		f := os.NewFile(uintptr(stdin.r), "stdin")
		files[0] = f
		childEnds = append(childEnds, f)
		stdin.r = -1
	}
	if stdout.w >= 0 {
		f := os.NewFile(uintptr(stdout.w), "stdout")
		files[1] = f
		if req.Combine {
			files[2] = f
		}
		childEnds = append(childEnds, f)
		stdout.w = -1
	}
	if stderr.w >= 0 {
		f := os.NewFile(uintptr(stderr.w), "stderr")
		files[2] = f
		childEnds = append(childEnds, f)
		stderr.w = -1
	}

	start := loop.Now()

	// Subscribe to child-termination signals before relying on the pid.
	// The handler side does exactly one async-signal-safe thing: a one
	// byte write to the self-pipe, turning termination into an ordinary
	// readiness event for the poll loop.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, unix.SIGCHLD)
	stopFeeder := make(chan struct{})
	feederDone := make(chan struct{})
	go feedSelfPipe(self.w, sigc, stopFeeder, feederDone)

	defer func() {
		signal.Stop(sigc)
		close(stopFeeder)
		<-feederDone
		// Endpoints close only after the feeder can no longer write.
		stdin.close()
		stdout.close()
		stderr.close()
		self.close()
		metrics.ObserveSyncSpawnDuration(loop.Now().Sub(start))
	}()

	proc, err := os.StartProcess(req.File, argv, &os.ProcAttr{
		Dir:   req.Dir,
		Env:   req.Env,
		Files: files,
	})
	for _, f := range childEnds {
		_ = f.Close()
	}
	if err != nil {
		if isResourceError(err) {
			metrics.IncSpawnFailure(metrics.EngineSync)
			return fmt.Errorf("start %s: %w", req.File, err)
		}
		// Child-side failure: observed as the sentinel exit status.
		req.ExitCode = sentinelExitStatus
		metrics.IncSpawn(metrics.EngineSync)
		return nil
	}
	req.PID = proc.Pid
	proc.Release()
	metrics.IncSpawn(metrics.EngineSync)

	for _, fd := range []int{stdin.w, stdout.r, stderr.r} {
		if fd >= 0 {
			if err := setNonblock(fd); err != nil {
				killAndReap(req.PID)
				return err
			}
		}
	}

	stdinActive := stdin.w >= 0 && len(req.Stdin) > 0
	stdoutActive := stdout.r >= 0
	stderrActive := stderr.r >= 0
	if stdin.w >= 0 && !stdinActive {
		// Nothing to feed: give the child immediate end-of-file.
		stdin.closeWrite()
	}

	for {
		fds := make([]unix.PollFd, 0, 4)
		idxStdin, idxStdout, idxStderr := -1, -1, -1

		if stdinActive && req.StdinWritten < len(req.Stdin) {
			idxStdin = len(fds)
			fds = append(fds, unix.PollFd{Fd: int32(stdin.w), Events: unix.POLLOUT})
		}
		if stdoutActive {
			idxStdout = len(fds)
			fds = append(fds, unix.PollFd{Fd: int32(stdout.r), Events: unix.POLLIN})
		}
		if stderrActive {
			idxStderr = len(fds)
			fds = append(fds, unix.PollFd{Fd: int32(stderr.r), Events: unix.POLLIN})
		}
		idxSelf := len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(self.r), Events: unix.POLLIN})

		// Remaining budget, clamped to zero; wall clock, loop-supplied.
		budget := req.Timeout - loop.Now().Sub(start)
		if budget < 0 {
			budget = 0
		}

		n, err := unix.Poll(fds, int(budget.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			killAndReap(req.PID)
			return fmt.Errorf("poll: %w", err)
		}

		if n == 0 {
			// Budget exhausted. A timeout is a normal outcome: kill the
			// child, reap it and report success with the flag set.
			killAndReap(req.PID)
			req.TimedOut = true
			return nil
		}

		if idxStdin >= 0 && fds[idxStdin].Revents != 0 {
			nw, werr := unix.Write(stdin.w, req.Stdin[req.StdinWritten:])
			switch {
			case werr == unix.EINTR || werr == unix.EAGAIN:
				// Retry on the next pass.
			case werr != nil:
				killAndReap(req.PID)
				return fmt.Errorf("write stdin: %w", werr)
			default:
				req.StdinWritten += nw
				if req.StdinWritten == len(req.Stdin) {
					stdin.closeWrite()
					stdinActive = false
				}
			}
		}

		if idxStdout >= 0 && fds[idxStdout].Revents != 0 {
			var rerr error
			stdoutActive, rerr = captureReady(stdout.r, req.Stdout, &req.StdoutRead)
			if rerr != nil {
				killAndReap(req.PID)
				return rerr
			}
		}

		if idxStderr >= 0 && fds[idxStderr].Revents != 0 {
			var rerr error
			stderrActive, rerr = captureReady(stderr.r, req.Stderr, &req.StderrRead)
			if rerr != nil {
				killAndReap(req.PID)
				return rerr
			}
		}

		if fds[idxSelf].Revents != 0 {
			var drain [16]byte
			_, _ = unix.Read(self.r, drain[:])

			var ws unix.WaitStatus
			wpid, werr := unix.Wait4(req.PID, &ws, unix.WNOHANG, nil)
			for werr == unix.EINTR {
				wpid, werr = unix.Wait4(req.PID, &ws, unix.WNOHANG, nil)
			}
			if werr != nil {
				killAndReap(req.PID)
				return fmt.Errorf("wait pid %d: %w", req.PID, werr)
			}
			if wpid != req.PID {
				// The signal belonged to an unrelated child.
				continue
			}
			// Collect whatever the child left behind in the capture
			// pipes before decoding; exit remains the terminal
			// condition of the loop.
			if stdoutActive {
				if derr := drainCapture(stdout.r, req.Stdout, &req.StdoutRead); derr != nil {
					return derr
				}
			}
			if stderrActive {
				if derr := drainCapture(stderr.r, req.Stderr, &req.StderrRead); derr != nil {
					return derr
				}
			}
			req.ExitCode, req.TermSignal = decodeWaitStatus(ws)
			return nil
		}
	}
}

// captureReady services one readable capture pipe: it enforces the buffer
// capacity, advances the read cursor, and reports whether the stream stays
// in the wait set. End-of-file deactivates the stream without error, which
// keeps a closed read end from busy-looping the poll.
func captureReady(fd int, buf []byte, cursor *int) (active bool, err error) {
	if *cursor == len(buf) {
		return false, ErrBufferOverflow
	}
	n, rerr := unix.Read(fd, buf[*cursor:])
	if rerr == unix.EINTR || rerr == unix.EAGAIN {
		return true, nil
	}
	if rerr != nil {
		return false, fmt.Errorf("read capture: %w", rerr)
	}
	if n == 0 {
		return false, nil
	}
	*cursor += n
	return true, nil
}

// drainCapture empties a capture pipe after the child has exited. A byte
// pending beyond the buffer's capacity is still an overflow, not silent
// truncation.
func drainCapture(fd int, buf []byte, cursor *int) error {
	for {
		if *cursor == len(buf) {
			var probe [1]byte
			n, err := unix.Read(fd, probe[:])
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read capture: %w", err)
			}
			if n == 0 {
				return nil
			}
			return ErrBufferOverflow
		}
		n, err := unix.Read(fd, buf[*cursor:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
		if n == 0 {
			return nil
		}
		*cursor += n
	}
}

// feedSelfPipe forwards each SIGCHLD notification as a single byte on the
// self-pipe. A full pipe means a byte is already pending, so short writes
// and write errors are ignored.
func feedSelfPipe(fd int, sigc <-chan os.Signal, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	b := [1]byte{}
	for {
		select {
		case <-sigc:
			_, _ = unix.Write(fd, b[:])
		case <-stop:
			return
		}
	}
}
