//go:build !windows

package spawn

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pipePair is an anonymous unidirectional byte channel whose two endpoints
// carry explicit ownership: after the creation point one end is retained by
// the parent and the other is surrendered to the child, and the unused side
// is closed exactly once on each side. Endpoints are -1 when absent or
// already closed, so close helpers are idempotent and error unwinding can
// blindly close everything.
type pipePair struct {
	r, w int
}

func invalidPair() pipePair {
	return pipePair{r: -1, w: -1}
}

// newPipePair opens a pipe with both ends close-on-exec. The child's copy
// of its endpoint survives the fork and the dup2 onto a standard descriptor
// clears the flag there; every other copy vanishes at exec.
func newPipePair() (pipePair, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return invalidPair(), fmt.Errorf("pipe: %w", err)
	}
	return pipePair{r: fds[0], w: fds[1]}, nil
}

// newSignalPair opens the synchronization/self-pipe variant: close-on-exec
// and non-blocking on both ends. It carries no data, only readiness.
func newSignalPair() (pipePair, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return invalidPair(), fmt.Errorf("pipe: %w", err)
	}
	return pipePair{r: fds[0], w: fds[1]}, nil
}

func (p *pipePair) closeRead()  { closeFD(&p.r) }
func (p *pipePair) closeWrite() { closeFD(&p.w) }

func (p *pipePair) close() {
	p.closeRead()
	p.closeWrite()
}

func closeFD(fd *int) {
	if *fd >= 0 {
		_ = unix.Close(*fd)
		*fd = -1
	}
}

func setNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblocking: %w", err)
	}
	return nil
}
