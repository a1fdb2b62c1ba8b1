package inhibit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/consolekit-go/ckd/internal/ckerr"
)

// ChangedFunc is invoked on every mode/event bucket edge transition.
type ChangedFunc func(mode Mode, event Event, enabled bool)

// Manager owns the set of live Locks and the aggregate counts matrix.
// It is only ever touched from the single event-loop goroutine; the
// FIFO HUP watchers run on their own goroutines and report back
// through Closed rather than mutating Manager state directly.
type Manager struct {
	dir     string
	log     *slog.Logger
	onEvent ChangedFunc

	locks  map[string]*Lock
	counts [2][numEvents]uint32

	closed chan string
	seq    atomic.Uint64
}

// NewManager creates a Manager rooted at dir, which must already exist
// and be writable only by the daemon.
func NewManager(dir string, log *slog.Logger, onEvent ChangedFunc) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		dir:     dir,
		log:     log,
		onEvent: onEvent,
		locks:   make(map[string]*Lock),
		closed:  make(chan string, 16),
	}
}

// Closed delivers the id of a Lock whose write end has lost every
// client reference (FIFO read end observed HUP/ERR). The event loop
// must call RemoveLock(id) for each value received.
func (m *Manager) Closed() <-chan string { return m.closed }

// CreateLock implements §4.4's CreateLock. On success the returned
// *os.File is the FIFO's write end, to be passed to the client as an
// out-of-band fd; the daemon retains only the read end.
func (m *Manager) CreateLock(who, what, why, modeStr string, uid, pid uint32) (*Lock, *os.File, error) {
	mask, unknown, err := ParseWhat(what)
	if err != nil {
		return nil, nil, err
	}
	for _, tok := range unknown {
		m.log.Warn("inhibit: ignoring unknown event token", "token", tok)
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, nil, err
	}

	id := uuid.NewString()
	path := filepath.Join(m.dir, "inhibit-"+id)
	if err := unix.Mkfifo(path, 0600); err != nil {
		return nil, nil, ckerr.New(ckerr.KindFailed, "inhibit.CreateLock", fmt.Errorf("mkfifo %s: %w", path, err))
	}

	readFd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		os.Remove(path)
		return nil, nil, ckerr.New(ckerr.KindFailed, "inhibit.CreateLock", fmt.Errorf("open read end %s: %w", path, err))
	}
	writeFd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(readFd)
		os.Remove(path)
		return nil, nil, ckerr.New(ckerr.KindFailed, "inhibit.CreateLock", fmt.Errorf("open write end %s: %w", path, err))
	}

	lock := &Lock{
		ID:      id,
		Who:     who,
		Why:     why,
		What:    mask,
		Mode:    mode,
		UID:     uid,
		PID:     pid,
		path:    path,
		readFd:  readFd,
		writeFd: writeFd,
	}
	m.locks[id] = lock

	for e := Event(0); e < numEvents; e++ {
		if !mask.has(e) {
			continue
		}
		m.bump(mode, e, 1)
	}

	go watchHup(readFd, id, m.closed)

	return lock, os.NewFile(uintptr(writeFd), path), nil
}

// RemoveLock tears down a Lock by id. Idempotent: removing an unknown
// or already-removed id is a no-op, matching §4.4's teardown contract.
func (m *Manager) RemoveLock(id string) error {
	lock, ok := m.locks[id]
	if !ok {
		return nil
	}
	delete(m.locks, id)

	unix.Close(lock.readFd)
	if err := os.Remove(lock.path); err != nil && !os.IsNotExist(err) {
		m.log.Warn("inhibit: unlink failed", "path", lock.path, "error", err)
	}

	for e := Event(0); e < numEvents; e++ {
		if !lock.What.has(e) {
			continue
		}
		m.bump(lock.Mode, e, -1)
	}
	return nil
}

// bump adds delta to counts[mode][event], clamping underflow to zero
// with a warning (a negative count is a bug, never a valid state),
// and fires onEvent exactly on a zero/non-zero edge.
func (m *Manager) bump(mode Mode, event Event, delta int32) {
	before := m.counts[mode][event]
	var after uint32
	if delta < 0 {
		if before == 0 {
			m.log.Warn("inhibit: count underflow", "mode", mode, "event", event)
			after = 0
		} else {
			after = before - 1
		}
	} else {
		after = before + 1
	}
	m.counts[mode][event] = after

	if before == 0 && after > 0 {
		m.fire(mode, event, true)
	} else if before > 0 && after == 0 {
		m.fire(mode, event, false)
	}
}

func (m *Manager) fire(mode Mode, event Event, enabled bool) {
	if m.onEvent != nil {
		m.onEvent(mode, event, enabled)
	}
}

// IsInhibited reports whether counts[mode][event] > 0, the system-wide
// meaning of "event is inhibited in mode" per §3.
func (m *Manager) IsInhibited(mode Mode, event Event) bool {
	return m.counts[mode][event] > 0
}

// List returns every live Lock, for ListInhibitors.
func (m *Manager) List() []*Lock {
	out := make([]*Lock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, l)
	}
	return out
}

// Shutdown tears down every remaining Lock, used on daemon exit.
func (m *Manager) Shutdown() {
	for id := range m.locks {
		m.RemoveLock(id)
	}
}

func watchHup(fd int, id string, closed chan<- string) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLHUP | unix.POLLERR}}
	for {
		n, err := unix.Poll(pfd, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			closed <- id
			return
		}
		if n > 0 && pfd[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			closed <- id
			return
		}
	}
}
