// Package reactor provides the event-loop services consumed by the spawn
// engines: a clock query, serialized callback dispatch and a
// child-termination watch that reports each watched process identifier's
// wait status exactly once.
package reactor

import (
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Loop owns a dispatch goroutine on which all callbacks run, giving callers
// the single-threaded cooperative model they would get from an embedding
// event loop. Child terminations are observed through a SIGCHLD subscription
// and reaped per watched pid.
type Loop struct {
	cbs  chan func()
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	watches map[int]func(unix.WaitStatus)

	sigc chan os.Signal
}

// New starts a loop. The caller must Close it to release the SIGCHLD
// subscription and stop the dispatch goroutine.
func New() *Loop {
	l := &Loop{
		cbs:     make(chan func(), 64),
		done:    make(chan struct{}),
		watches: make(map[int]func(unix.WaitStatus)),
		sigc:    make(chan os.Signal, 1),
	}
	signal.Notify(l.sigc, unix.SIGCHLD)
	go l.dispatch()
	go l.run()
	return l
}

// Now reports the loop's current time, used by callers for timeout
// bookkeeping.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Defer schedules fn to run on the loop's dispatch goroutine. Calls made
// after Close are dropped.
func (l *Loop) Defer(fn func()) {
	select {
	case l.cbs <- fn:
	case <-l.done:
	}
}

// WatchChild registers fn to receive pid's wait status. fn is invoked at
// most once, on the dispatch goroutine, after which the watch is removed.
// The registration itself reaps, so a child that exited before the watch
// was installed is still reported.
func (l *Loop) WatchChild(pid int, fn func(unix.WaitStatus)) {
	l.mu.Lock()
	l.watches[pid] = fn
	l.mu.Unlock()
	l.reap()
}

// Close stops the loop. Pending watches are discarded without delivery.
func (l *Loop) Close() {
	l.once.Do(func() {
		signal.Stop(l.sigc)
		close(l.done)
	})
}

func (l *Loop) dispatch() {
	for {
		select {
		case fn := <-l.cbs:
			fn()
		case <-l.done:
			return
		}
	}
}

func (l *Loop) run() {
	for {
		select {
		case <-l.sigc:
			l.reap()
		case <-l.done:
			return
		}
	}
}

// reap collects wait statuses for watched pids only. Children spawned
// outside the watch set (including the sync engine's) are left for their
// owners to reap.
func (l *Loop) reap() {
	l.mu.Lock()
	pids := make([]int, 0, len(l.watches))
	for pid := range l.watches {
		pids = append(pids, pid)
	}
	l.mu.Unlock()

	for _, pid := range pids {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		for err == unix.EINTR {
			wpid, err = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		}
		if err != nil || wpid != pid {
			continue
		}

		l.mu.Lock()
		fn := l.watches[pid]
		delete(l.watches, pid)
		l.mu.Unlock()

		if fn != nil {
			status := ws
			l.Defer(func() { fn(status) })
		}
	}
}
