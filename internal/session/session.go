// Package session implements the per-user Session state machine:
// device ownership, the session-controller handshake, and the
// active/inactive VT dance. Grounded on
// original_source/src/ck-session.c, re-expressed as a struct whose
// methods are called only from the single event-loop goroutine
// (internal/manager) — mirroring the teacher's Session type in
// internal/bfd/session.go, which likewise confines all state mutation
// to methods invoked from one dispatch path and reports asynchronous
// outcomes over a channel rather than a callback invoked from another
// goroutine.
package session

import (
	"fmt"
	"time"

	"github.com/consolekit-go/ckd/internal/ckerr"
	"github.com/consolekit-go/ckd/internal/device"
	"github.com/consolekit-go/ckd/internal/sysdeps"
)

// State is the session-state machine of §4.2.
type State int

const (
	StateOnline State = iota
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// PauseDeviceGrace is the grace period §4.2 gives a controller to ack
// every PauseDevice before devices are force-dropped.
const PauseDeviceGrace = 3 * time.Second

// EventKind distinguishes the asynchronous outcomes a Session reports
// back to the Manager's loop for translation into bus signals.
type EventKind int

const (
	EventActiveChanged EventKind = iota
	EventPauseDevice
	EventResumeDevice
	EventLockedHintChanged
	EventIdleHintChanged
	EventControllerLost
)

// Event is delivered on Events() for the Manager's loop to translate
// into the appropriate bus signal.
type Event struct {
	Kind         EventKind
	Major, Minor uint32
	Fd           uintptr
	PauseType    string // "pause" or "force"
	Bool         bool
}

// Params are the authoritative attributes set at creation time and
// never mutated afterward (§3).
type Params struct {
	ID                string
	UID               uint32
	Type              string
	Class             string
	Service           string
	LoginSessionID    string
	DisplayDevice     string
	X11Display        string
	X11DisplayDevice  string
	RemoteHostName    string
	IsLocal           bool
	VTNr              int
	Cookie            string
	CreationTime      time.Time
}

// Session is a single user session.
type Session struct {
	Params

	state      State
	active     bool
	lockedHint bool
	idleHint   bool
	idleSince  time.Time
	runtimeDir string

	controller string // bus unique name of the session controller, "" if none

	devices map[devKey]*device.Device

	pauseTimer   *time.Timer
	pausePending map[devKey]bool

	events chan Event

	vt *vtHandshake
}

type devKey struct{ major, minor uint32 }

// New constructs a Session in state online, inactive.
func New(p Params) *Session {
	return &Session{
		Params:  p,
		state:   StateOnline,
		devices: make(map[devKey]*device.Device),
		events:  make(chan Event, 32),
	}
}

// Events delivers asynchronous outcomes for the Manager's loop to
// translate into bus signals. Never closed while the Session is alive.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// loop is not draining fast enough; drop rather than block the
		// caller, matching the teacher's bounded-channel notify policy.
	}
}

// State returns the current session-state.
func (s *Session) State() State { return s.state }

// Active reports the active flag.
func (s *Session) Active() bool { return s.active }

// Controller returns the current controller's bus unique name, or "".
func (s *Session) Controller() string { return s.controller }

// RuntimeDir returns the session's runtime directory path.
func (s *Session) RuntimeDir() string { return s.runtimeDir }

// SetRuntimeDir records the runtime directory assigned by the Manager.
func (s *Session) SetRuntimeDir(dir string) { s.runtimeDir = dir }

// LockedHint and IdleHint report the freely-settable owner flags.
func (s *Session) LockedHint() bool { return s.lockedHint }
func (s *Session) IdleHint() bool   { return s.idleHint }
func (s *Session) IdleSince() time.Time { return s.idleSince }

// SetLockedHint updates the locked hint; callerUID must match UID.
func (s *Session) SetLockedHint(callerUID uint32, locked bool) error {
	if callerUID != s.UID {
		return ckerr.New(ckerr.KindInsufficientPermission, "session.SetLockedHint", nil)
	}
	if s.lockedHint == locked {
		return nil
	}
	s.lockedHint = locked
	s.emit(Event{Kind: EventLockedHintChanged, Bool: locked})
	return nil
}

// SetIdleHint updates the idle hint; callerUID must match UID.
func (s *Session) SetIdleHint(callerUID uint32, idle bool) error {
	if callerUID != s.UID {
		return ckerr.New(ckerr.KindInsufficientPermission, "session.SetIdleHint", nil)
	}
	if s.idleHint == idle {
		return nil
	}
	s.idleHint = idle
	if idle {
		s.idleSince = time.Now()
	}
	s.emit(Event{Kind: EventIdleHintChanged, Bool: idle})
	return nil
}

// TakeControl registers busName as the session controller per §4.2.
func (s *Session) TakeControl(busName string, callerUID uint32, force bool) error {
	if s.controller == "" {
		s.controller = busName
		return nil
	}
	if s.controller == busName {
		return nil // already the controller
	}
	if force && callerUID == 0 {
		s.revokeController()
		s.controller = busName
		return nil
	}
	return ckerr.New(ckerr.KindInsufficientPermission, "session.TakeControl", fmt.Errorf("controller already set"))
}

// ReleaseControl drops the current controller, releasing all devices
// and demoting the session to online, per the controller-loss path.
func (s *Session) ReleaseControl(busName string) error {
	if s.controller != busName {
		return nil
	}
	s.revokeController()
	return nil
}

func (s *Session) revokeController() {
	for key, d := range s.devices {
		d.Close()
		delete(s.devices, key)
	}
	s.teardownVT()
	s.controller = ""
	s.cancelPauseTimer()
	if s.state != StateClosing {
		s.state = StateOnline
		if s.active {
			s.active = false
			s.emit(Event{Kind: EventActiveChanged, Bool: false})
		}
	}
	s.emit(Event{Kind: EventControllerLost})
}

// TakeDevice resolves and opens the device node identified by
// (major, minor) — never a caller-supplied path, so a session
// controller can't redirect the privileged daemon into opening an
// arbitrary file — and hands its fd to the caller along with the
// current active bit. callerBusName must be the controller.
func (s *Session) TakeDevice(callerBusName string, major, minor uint32) (*device.Device, error) {
	if callerBusName != s.controller {
		return nil, ckerr.New(ckerr.KindInsufficientPermission, "session.TakeDevice", nil)
	}
	key := devKey{major, minor}
	if _, exists := s.devices[key]; exists {
		return nil, ckerr.New(ckerr.KindFailed, "session.TakeDevice", fmt.Errorf("device %d:%d already taken", major, minor))
	}
	d, err := device.OpenByNumbers(major, minor, s.active)
	if err != nil {
		return nil, ckerr.New(ckerr.KindNotSupported, "session.TakeDevice", err)
	}
	s.devices[key] = d
	return d, nil
}

// DeviceCategory reports the sysdeps classification of a device this
// session currently holds, for callers (busapi) that need to label a
// pause/resume event without reaching into the device package
// directly.
func (s *Session) DeviceCategory(major, minor uint32) (sysdeps.DeviceCategory, bool) {
	d, ok := s.devices[devKey{major, minor}]
	if !ok {
		return sysdeps.DeviceOther, false
	}
	return d.Category, true
}

// ReleaseDevice removes (major,minor) from the set and closes it.
func (s *Session) ReleaseDevice(major, minor uint32) error {
	key := devKey{major, minor}
	d, ok := s.devices[key]
	if !ok {
		return ckerr.New(ckerr.KindFailed, "session.ReleaseDevice", fmt.Errorf("device %d:%d not held", major, minor))
	}
	delete(s.devices, key)
	return d.Close()
}

// PauseDeviceComplete acknowledges that the controller has stopped
// using one device: only now does the kernel authority actually drop,
// mirroring dbus_pause_device_complete's ck_device_set_active(FALSE)
// in the original. If every device is now inactive, demotion finishes
// and the grace timer is cancelled.
func (s *Session) PauseDeviceComplete(major, minor uint32) error {
	key := devKey{major, minor}
	d, ok := s.devices[key]
	if !ok {
		return ckerr.New(ckerr.KindFailed, "session.PauseDeviceComplete", fmt.Errorf("device %d:%d not held", major, minor))
	}
	d.SetActive(false)
	delete(s.pausePending, key)
	if len(s.pausePending) == 0 {
		s.finishDeactivate()
	}
	return nil
}

// BeginDeactivate starts the active→inactive dance of §4.2: pause
// signals fan out and a grace timer is armed, but kernel authority
// stays untouched until the controller acks via PauseDeviceComplete or
// the grace timer forces it via ForceDeactivate — only the pending set
// records the pause in-memory for now.
func (s *Session) BeginDeactivate(onTimeout func()) {
	if !s.active {
		return
	}
	s.pausePending = make(map[devKey]bool, len(s.devices))
	for key := range s.devices {
		s.pausePending[key] = true
		s.emit(Event{Kind: EventPauseDevice, Major: key.major, Minor: key.minor, PauseType: "pause"})
	}
	if len(s.pausePending) == 0 {
		s.finishDeactivate()
		return
	}
	s.pauseTimer = time.AfterFunc(PauseDeviceGrace, onTimeout)
}

// ForceDeactivate is called by the Manager's loop when the grace timer
// fires: drop kernel authority on every still-pending device.
func (s *Session) ForceDeactivate() {
	for key := range s.pausePending {
		if d, ok := s.devices[key]; ok {
			d.SetActive(false)
		}
		s.emit(Event{Kind: EventPauseDevice, Major: key.major, Minor: key.minor, PauseType: "force"})
	}
	s.pausePending = nil
	s.finishDeactivate()
}

func (s *Session) finishDeactivate() {
	s.cancelPauseTimer()
	s.active = false
	s.state = StateOnline
	s.emit(Event{Kind: EventActiveChanged, Bool: false})
}

func (s *Session) cancelPauseTimer() {
	if s.pauseTimer != nil {
		s.pauseTimer.Stop()
		s.pauseTimer = nil
	}
}

// PromoteActive runs the inactive→active dance of §4.2: DRM devices
// re-acquire master, evdev devices reopen (their old fd is dead), and
// OTHER devices are simply resumed.
func (s *Session) PromoteActive() {
	for key, d := range s.devices {
		if err := d.SetActive(true); err != nil {
			continue
		}
		s.emit(Event{Kind: EventResumeDevice, Major: key.major, Minor: key.minor, Fd: d.Fd()})
	}
	s.active = true
	s.state = StateActive
	s.emit(Event{Kind: EventActiveChanged, Bool: true})
}

// BeginClose marks the session closing; the Manager is responsible
// for removing it from its Seat and releasing its runtime dir.
func (s *Session) BeginClose() {
	s.state = StateClosing
	s.cancelPauseTimer()
	s.teardownVT()
	for key, d := range s.devices {
		d.Close()
		delete(s.devices, key)
	}
}

// Devices returns a snapshot of held (major,minor) pairs.
func (s *Session) Devices() [][2]uint32 {
	out := make([][2]uint32, 0, len(s.devices))
	for k := range s.devices {
		out = append(out, [2]uint32{k.major, k.minor})
	}
	return out
}
