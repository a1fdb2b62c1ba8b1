// Package idlewatch polls a session's tty device for activity and
// reports idle-hint edges, grounded on
// original_source/src/ck-tty-idle-monitor.c: a session is idle once
// its console device's access time has not advanced for IdleThreshold,
// active again the instant it does. It runs its poll loop on a
// dedicated goroutine and reports edges over a channel, the same
// "background goroutine reports back, mutation stays on the caller's
// goroutine" shape internal/vtmonitor uses for VT switches.
package idlewatch

import (
	"os"
	"time"
)

// IdleThreshold matches upstream's IDLE_TIME_SECS.
const IdleThreshold = 60 * time.Second

// pollInterval bounds how stale an idle-hint edge can be; upstream
// polls on the same order via a GLib timeout source.
const pollInterval = 5 * time.Second

// Watcher polls one tty device's atime and reports IdleChanged edges.
type Watcher struct {
	ttyPath string
	changes chan bool
	done    chan struct{}
}

// Open starts watching ttyPath. Changes delivers true when the
// session transitions to idle, false when activity resumes.
func Open(ttyPath string) *Watcher {
	w := &Watcher{
		ttyPath: ttyPath,
		changes: make(chan bool, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Changes delivers idle-hint edges for this session's tty.
func (w *Watcher) Changes() <-chan bool { return w.changes }

// Close stops the poll loop.
func (w *Watcher) Close() {
	close(w.done)
}

func (w *Watcher) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	idle := false
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			atime, err := accessTime(w.ttyPath)
			if err != nil {
				continue
			}
			nowIdle := time.Since(atime) >= IdleThreshold
			if nowIdle != idle {
				idle = nowIdle
				select {
				case w.changes <- idle:
				case <-w.done:
					return
				}
			}
		}
	}
}

func accessTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return statAccessTime(fi), nil
}

// SystemIdleHint aggregates per-session idle hints into the
// Manager-level system-wide hint of §4.1: idle iff every session is
// idle (vacuously true with none), mirroring
// original_source/src/ck-manager.c's system idle aggregation.
func SystemIdleHint(perSession []bool) bool {
	for _, idle := range perSession {
		if !idle {
			return false
		}
	}
	return true
}
