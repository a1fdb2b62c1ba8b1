package manager

import "context"

// Loop serializes every access to a Manager (and, transitively, the
// Seats and Sessions it owns) onto a single goroutine. The VT
// dispatcher, the eventlog ticker, the runtime-directory reaper, the
// fired-timer drain, and the inhibitor HUP drain all submit their
// Manager-touching work here instead of calling into it from their own
// goroutines, and the D-Bus method handlers do the same. This
// generalizes the teacher's per-session event loop
// (internal/bfd/session.go, one goroutine owning one FSM's state) to
// the whole Seats/Sessions table: one goroutine owns it, everyone else
// talks to it through Do/Post.
type Loop struct {
	cmds    chan func()
	stopped chan struct{}
}

// NewLoop constructs a Loop. Run must be started before Do/Post are
// called from any goroutine other than the one that will call Run.
func NewLoop() *Loop {
	return &Loop{cmds: make(chan func()), stopped: make(chan struct{})}
}

// Run drains submitted work until ctx is cancelled. Do/Post calls
// still in flight when Run returns see stopped closed and give up
// rather than blocking forever on a channel nobody drains anymore —
// the inhibit manager's Shutdown, for instance, runs in a defer after
// the loop's own context is already cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.cmds:
			fn()
		}
	}
}

// Do submits fn and blocks until it has run on the loop goroutine, or
// returns immediately without running fn if the loop has already
// stopped. Use this from request/response paths (D-Bus method
// handlers) that need the result of fn before they can reply.
func (l *Loop) Do(fn func()) {
	done := make(chan struct{})
	select {
	case l.cmds <- func() { fn(); close(done) }:
	case <-l.stopped:
		return
	}
	select {
	case <-done:
	case <-l.stopped:
	}
}

// Post submits fn without waiting for it to run, for background
// tickers and dispatchers that only need the work enqueued, not its
// result. A no-op once the loop has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case l.cmds <- fn:
	case <-l.stopped:
	}
}
