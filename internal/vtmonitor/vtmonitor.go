// Package vtmonitor watches the currently active virtual terminal and
// reports ActiveChanged edges, grounded on
// original_source/src/ck-sysdeps-linux.c's VT_GETSTATE/VT_WAITACTIVE
// use. It runs its blocking wait on a dedicated goroutine and reports
// back over a channel, the same shape internal/session uses for its
// pause-device grace timer — state mutation stays on the single
// event-loop goroutine that drains Changes().
package vtmonitor

import (
	"fmt"
	"os"

	"github.com/consolekit-go/ckd/internal/sysdeps"
)

// Change is one ActiveChanged edge, or a failed wait (Err != nil),
// which callers use to reply "pre-empted" to any pending activation
// request rather than hang forever.
type Change struct {
	VTNum int
	Err   error
}

// Monitor watches /dev/tty0 (or whatever console path is configured)
// for VT activation changes.
type Monitor struct {
	console *os.File
	changes chan Change
	waiting chan int
	done    chan struct{}
}

// Open opens the console device and starts the watcher goroutine.
func Open(consolePath string) (*Monitor, error) {
	f, err := os.OpenFile(consolePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("vtmonitor: open %s: %w", consolePath, err)
	}
	m := &Monitor{
		console: f,
		changes: make(chan Change, 8),
		waiting: make(chan int, 1),
		done:    make(chan struct{}),
	}
	go m.run()
	return m, nil
}

// Changes delivers ActiveChanged edges, including the initial report
// at startup.
func (m *Monitor) Changes() <-chan Change { return m.changes }

// RequestActivate asks the monitor to wait for num to become active.
// The monitor reports exactly one Change when the wait completes or
// fails; a failure lets the caller answer pending ActivateSession
// requests with "pre-empted" instead of hanging.
func (m *Monitor) RequestActivate(num int) error {
	if err := sysdeps.VTActivate(m.console.Fd(), num); err != nil {
		return fmt.Errorf("vtmonitor: VT_ACTIVATE(%d): %w", num, err)
	}
	select {
	case m.waiting <- num:
	default:
		// a wait is already in flight; the new request supersedes it
		// once the goroutine picks it up on the next loop iteration
		select {
		case <-m.waiting:
		default:
		}
		m.waiting <- num
	}
	return nil
}

// Close stops the watcher goroutine and closes the console fd.
func (m *Monitor) Close() error {
	close(m.done)
	return m.console.Close()
}

func (m *Monitor) run() {
	if n, err := sysdeps.VTGetActive(m.console.Fd()); err == nil {
		m.report(Change{VTNum: n})
	} else {
		m.report(Change{Err: err})
	}

	for {
		select {
		case <-m.done:
			return
		case num := <-m.waiting:
			if err := sysdeps.VTWaitActive(m.console.Fd(), num); err != nil {
				m.report(Change{VTNum: num, Err: err})
				continue
			}
			m.report(Change{VTNum: num})
		}
	}
}

func (m *Monitor) report(c Change) {
	select {
	case m.changes <- c:
	default:
	}
}
