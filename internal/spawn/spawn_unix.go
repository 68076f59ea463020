//go:build !windows

package spawn

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/hatch/internal/metrics"
	"github.com/Paintersrp/hatch/internal/reactor"
	"github.com/Paintersrp/hatch/internal/stream"
)

// ErrInvalidBinding is returned when a stdio binding targets a stream that
// is not pipe-backed, or one that already owns a descriptor. It is reported
// before any OS resources are allocated.
var ErrInvalidBinding = errors.New("spawn: stdio binding requires an unopened pipe-backed stream")

// Options describes one child to spawn asynchronously.
type Options struct {
	// File is the path of the program image. Args is the full argument
	// vector including the program name; when empty, File is used alone.
	File string
	Args []string

	// Env is the environment snapshot for the child, in "key=value" form.
	// nil inherits the parent's environment.
	Env []string

	// Dir is the child's working directory. Empty inherits the parent's.
	Dir string

	// Stdio bindings. nil inherits the parent's descriptor; otherwise the
	// stream must be pipe-backed and unopened, and the engine attaches the
	// parent end of a fresh pipe to it (writable for stdin, readable for
	// stdout and stderr).
	Stdin  *stream.Stream
	Stdout *stream.Stream
	Stderr *stream.Stream

	// OnExit is invoked exactly once, on the loop's dispatch goroutine,
	// when the child's wait status becomes available.
	OnExit ExitFunc
}

// Spawn creates a child process per opts and registers it with loop for
// termination delivery. It returns once the child has begun executing its
// image (or is known to have failed to): a chdir or exec failure is not an
// error here but an ordinary termination with the sentinel exit status. Any
// OS failure along the way closes every descriptor opened during the
// attempt and leaves no child registered.
func Spawn(loop *reactor.Loop, opts Options) (*Process, error) {
	for _, s := range []*stream.Stream{opts.Stdin, opts.Stdout, opts.Stderr} {
		if s == nil {
			continue
		}
		if s.Kind() != stream.KindPipe || s.IsOpen() {
			return nil, ErrInvalidBinding
		}
	}

	p := &Process{loop: loop, pid: unsetPID, onExit: opts.OnExit}

	stdin := invalidPair()
	stdout := invalidPair()
	stderr := invalidPair()
	sync := invalidPair()

	fail := func(err error) (*Process, error) {
		stdin.close()
		stdout.close()
		stderr.close()
		sync.close()
		metrics.IncSpawnFailure(metrics.EngineAsync)
		return nil, err
	}

	var err error
	if opts.Stdin != nil {
		if stdin, err = newPipePair(); err != nil {
			return fail(err)
		}
	}
	if opts.Stdout != nil {
		if stdout, err = newPipePair(); err != nil {
			return fail(err)
		}
	}
	if opts.Stderr != nil {
		if stderr, err = newPipePair(); err != nil {
			return fail(err)
		}
	}

	// The synchronization pipe: both ends close-on-exec, used only as a
	// signal. The child's inherited write end closes when it execs or
	// dies, whichever comes first; until the parent observes that hangup
	// the process identifier is ambiguous and must not be signaled,
	// reaped or registered.
	if sync, err = newSignalPair(); err != nil {
		return fail(err)
	}

	argv := opts.Args
	if len(argv) == 0 {
		argv = []string{opts.File}
	}

	files := []*os.File{os.Stdin, os.Stdout, os.Stderr}
	var childEnds []*os.File
	adopt := func(fd *int, slot int, name string) {
		f := os.NewFile(uintptr(*fd), name)
		files[slot] = f
		childEnds = append(childEnds, f)
		*fd = -1
	}
	if stdin.r >= 0 {
		adopt(&stdin.r, 0, "stdin")
	}
	if stdout.w >= 0 {
		adopt(&stdout.w, 1, "stdout")
	}
	if stderr.w >= 0 {
		adopt(&stderr.w, 2, "stderr")
	}

	proc, err := os.StartProcess(opts.File, argv, &os.ProcAttr{
		Dir:   opts.Dir,
		Env:   opts.Env,
		Files: files,
	})
	for _, f := range childEnds {
		_ = f.Close()
	}
	if err != nil {
		if isResourceError(err) {
			return fail(fmt.Errorf("start %s: %w", opts.File, err))
		}
		// Child-side failure (missing image, bad cwd, exec format). The
		// contract reports it as an ordinary termination with the
		// sentinel status, not as a spawn error.
		stdin.close()
		stdout.close()
		stderr.close()
		sync.close()
		metrics.IncSpawn(metrics.EngineAsync)
		loop.Defer(func() {
			if p.onExit != nil {
				p.onExit(p, sentinelExitStatus, 0)
			}
		})
		return p, nil
	}
	pid := proc.Pid
	proc.Release()

	// Wait for hangup on the synchronization pipe before touching the pid.
	sync.closeWrite()
	if err := awaitHangup(sync.r); err != nil {
		sync.closeRead()
		return fail(err)
	}
	sync.closeRead()

	p.pid = pid
	metrics.IncSpawn(metrics.EngineAsync)
	metrics.AddActiveChildren(1)

	attach := func(fd *int, s *stream.Stream, dir stream.Direction) error {
		if err := setNonblock(*fd); err != nil {
			return err
		}
		if err := s.Open(*fd, dir); err != nil {
			return err
		}
		*fd = -1
		return nil
	}
	if opts.Stdin != nil {
		err = attach(&stdin.w, opts.Stdin, stream.Writable)
	}
	if err == nil && opts.Stdout != nil {
		err = attach(&stdout.r, opts.Stdout, stream.Readable)
	}
	if err == nil && opts.Stderr != nil {
		err = attach(&stderr.r, opts.Stderr, stream.Readable)
	}
	if err != nil {
		killAndReap(p.pid)
		metrics.AddActiveChildren(-1)
		p.pid = unsetPID
		return fail(err)
	}

	loop.WatchChild(p.pid, func(ws unix.WaitStatus) {
		metrics.AddActiveChildren(-1)
		code, sig := decodeWaitStatus(ws)
		if p.onExit != nil {
			p.onExit(p, code, sig)
		}
	})

	return p, nil
}

// awaitHangup blocks until fd's peer has closed its end, retrying
// interrupted and transiently failing polls.
func awaitHangup(fd int) error {
	for {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLHUP}}
		_, err := unix.Poll(pfd, -1)
		if err == unix.EINTR || err == unix.ENOMEM {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll exec pipe: %w", err)
		}
		return nil
	}
}

// isResourceError distinguishes parent-side resource exhaustion, which
// propagates as a spawn error, from child-side start failures, which
// surface as the sentinel exit status.
func isResourceError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.EAGAIN, unix.ENOMEM, unix.EMFILE, unix.ENFILE:
		return true
	}
	return false
}

// killAndReap forcibly terminates pid and collects its wait status so no
// zombie outlives the caller.
func killAndReap(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(pid, unix.SIGKILL)
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		return
	}
}
