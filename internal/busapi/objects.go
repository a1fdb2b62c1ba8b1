package busapi

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/consolekit-go/ckd/internal/ckerr"
	"github.com/consolekit-go/ckd/internal/device"
	"github.com/consolekit-go/ckd/internal/idlewatch"
	"github.com/consolekit-go/ckd/internal/seat"
	"github.com/consolekit-go/ckd/internal/session"
)

var ckerrNotSupported = ckerr.New(ckerr.KindNotSupported, "busapi", nil)

const (
	sessionIface = "org.freedesktop.ConsoleKit.Session"
	seatIface    = "org.freedesktop.ConsoleKit.Seat"
)

// ExportSession publishes sess as a Session object at its §6 object
// path, idempotently — re-exporting an already-live session is a
// no-op, matching the lazy-export pattern the Manager handler relies
// on right after CreateSessionFromLeader succeeds.
func (s *Server) ExportSession(sess *session.Session) error {
	if s.exportedSessions[sess.ID] {
		return nil
	}
	h := &sessionHandler{s: s, sess: sess}
	path := sessionPath(sess.ID)
	if err := s.conn.Export(h, path, sessionIface); err != nil {
		return err
	}
	s.exportedSessions[sess.ID] = true
	s.startSessionDispatch(sess)
	s.startIdleWatch(sess)
	return nil
}

// UnexportSession releases a closed session's object path and stops
// forwarding its asynchronous events.
func (s *Server) UnexportSession(ssid string) {
	if !s.exportedSessions[ssid] {
		return
	}
	s.conn.Export(nil, sessionPath(ssid), sessionIface)
	delete(s.exportedSessions, ssid)
	s.stopSessionDispatch(ssid)
	s.stopIdleWatch(ssid)
}

// startIdleWatch arms a tty idle poller for sessions that own a real
// console (§4.7's idle-hint source for sessions with no desktop
// session bus of their own to report SetIdleHint calls itself); a
// session with no DisplayDevice (a remote/headless session) only ever
// gets its idle hint from an explicit SetIdleHint call.
func (s *Server) startIdleWatch(sess *session.Session) {
	if sess.DisplayDevice == "" {
		return
	}
	w := idlewatch.Open(sess.DisplayDevice)
	stop := make(chan struct{})
	s.idleWatchCancel[sess.ID] = func() {
		close(stop)
		w.Close()
	}
	go func() {
		for {
			select {
			case <-stop:
				return
			case idle := <-w.Changes():
				s.loop.Post(func() {
					if err := sess.SetIdleHint(sess.UID, idle); err != nil {
						s.log.Warn("busapi: idle watch SetIdleHint failed", "session", sess.ID, "error", err)
					}
				})
			}
		}
	}()
}

func (s *Server) stopIdleWatch(ssid string) {
	if cancel, ok := s.idleWatchCancel[ssid]; ok {
		cancel()
		delete(s.idleWatchCancel, ssid)
	}
}

// startSessionDispatch spawns the goroutine that forwards sess.Events()
// onto bus signals. It runs independently of the godbus-dispatched
// method handlers, the same way the teacher forwards BFD FSM outcomes
// from a session's own channel onto its metrics/log sinks — only the
// sink here is a D-Bus signal emission instead of a Prometheus counter.
func (s *Server) startSessionDispatch(sess *session.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	s.sessionDispatchCancel[sess.ID] = cancel
	go s.dispatchSessionEvents(ctx, sess)
}

func (s *Server) stopSessionDispatch(ssid string) {
	if cancel, ok := s.sessionDispatchCancel[ssid]; ok {
		cancel()
		delete(s.sessionDispatchCancel, ssid)
	}
}

func (s *Server) dispatchSessionEvents(ctx context.Context, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			s.handleSessionEvent(sess, ev)
		}
	}
}

func (s *Server) handleSessionEvent(sess *session.Session, ev session.Event) {
	switch ev.Kind {
	case session.EventActiveChanged:
		s.emitSessionBoolSignal(sess.ID, "ActiveChanged", ev.Bool)
	case session.EventIdleHintChanged:
		s.emitSessionBoolSignal(sess.ID, "IdleHintChanged", ev.Bool)
	case session.EventLockedHintChanged:
		name := "Unlock"
		if ev.Bool {
			name = "Lock"
		}
		s.emitSessionSignal(sess.ID, name)
	case session.EventPauseDevice:
		s.emitPauseDevice(sess.ID, ev.Major, ev.Minor, ev.PauseType)
		s.emitSeatDeviceSignal(sess, "DeviceRemoved", ev.Major, ev.Minor)
	case session.EventResumeDevice:
		s.emitResumeDevice(sess.ID, ev.Major, ev.Minor, ev.Fd)
		s.emitSeatDeviceSignal(sess, "DeviceAdded", ev.Major, ev.Minor)
	case session.EventControllerLost:
		s.log.Info("busapi: session controller lost", "session", sess.ID)
	}
}

// ExportSeat publishes st as a Seat object, idempotently.
func (s *Server) ExportSeat(st *seat.Seat) error {
	if s.exportedSeats[st.ID] {
		return nil
	}
	h := &seatHandler{s: s, seat: st}
	path := seatPath(st.ID)
	if err := s.conn.Export(h, path, seatIface); err != nil {
		return err
	}
	s.exportedSeats[st.ID] = true
	return nil
}

// UnexportSeat releases a garbage-collected dynamic seat's object path.
func (s *Server) UnexportSeat(seatID string) {
	if !s.exportedSeats[seatID] {
		return
	}
	s.conn.Export(nil, seatPath(seatID), seatIface)
	delete(s.exportedSeats, seatID)
}

// sessionHandler implements the Session object's exported methods.
// Every method that reaches into s.mgr, or into the seat the session
// currently lives on, submits that work through the Server's Loop;
// methods that only touch the session itself (IsActive, GetIdleHint,
// …) don't need to, since TakeControl/ReleaseControl/etc. are
// themselves only ever invoked from the Loop goroutine once wired
// through it below.
type sessionHandler struct {
	s    *Server
	sess *session.Session
}

func (h *sessionHandler) Lock(sender dbus.Sender) *dbus.Error {
	uid, _, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return dbusError(err)
	}
	var setErr error
	h.s.loop.Do(func() { setErr = h.sess.SetLockedHint(uid, true) })
	if setErr != nil {
		return dbusError(setErr)
	}
	h.s.emitSessionSignal(h.sess.ID, "Lock")
	return nil
}

func (h *sessionHandler) Unlock(sender dbus.Sender) *dbus.Error {
	uid, _, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return dbusError(err)
	}
	var setErr error
	h.s.loop.Do(func() { setErr = h.sess.SetLockedHint(uid, false) })
	if setErr != nil {
		return dbusError(setErr)
	}
	h.s.emitSessionSignal(h.sess.ID, "Unlock")
	return nil
}

func (h *sessionHandler) SetIdleHint(idle bool, sender dbus.Sender) *dbus.Error {
	uid, _, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return dbusError(err)
	}
	var setErr error
	h.s.loop.Do(func() { setErr = h.sess.SetIdleHint(uid, idle) })
	if setErr != nil {
		return dbusError(setErr)
	}
	return nil
}

func (h *sessionHandler) IsActive() (bool, *dbus.Error) { return h.sess.Active(), nil }

func (h *sessionHandler) GetIdleHint() (bool, *dbus.Error) { return h.sess.IdleHint(), nil }

func (h *sessionHandler) GetLockedHint() (bool, *dbus.Error) { return h.sess.LockedHint(), nil }

func (h *sessionHandler) Activate(sender dbus.Sender) *dbus.Error {
	var actErr error
	h.s.loop.Do(func() {
		st, ok := h.s.mgr.Seat(h.s.seatOf(h.sess))
		if !ok {
			actErr = dbusNotSupported()
			return
		}
		actErr = st.ActivateSession(h.sess, h.s.vtNrOf)
	})
	if actErr != nil {
		return dbusError(actErr)
	}
	return nil
}

func (h *sessionHandler) TakeControl(force bool, sender dbus.Sender) *dbus.Error {
	uid, _, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return dbusError(err)
	}
	var takeErr error
	h.s.loop.Do(func() {
		if takeErr = h.sess.TakeControl(string(sender), uid, force); takeErr != nil {
			return
		}
		h.s.beginVTHandshakeIfLocal(h.sess)
	})
	if takeErr != nil {
		return dbusError(takeErr)
	}
	return nil
}

// beginVTHandshakeIfLocal arms the VT process-mode handshake (§4.2)
// for a freshly-controlled session that owns a real text console:
// only local sessions seated on a numbered VT need the kernel to
// route VT release/acquire through this process rather than switching
// the console out from under the controller unannounced. Failure is
// logged, not fatal — platforms without VT ioctls (ioctl_other.go)
// or a session with no tty simply never get the handshake armed, and
// OnVTReleaseRequest/OnVTAcquire/teardownVT already guard on s.vt
// being nil.
func (s *Server) beginVTHandshakeIfLocal(sess *session.Session) {
	if !sess.IsLocal || sess.VTNr <= 0 || sess.DisplayDevice == "" {
		return
	}
	if err := sess.BeginVTHandshake(sess.DisplayDevice, int(vtReleaseSignal), int(vtAcquireSignal)); err != nil {
		s.log.Warn("busapi: VT handshake failed", "session", sess.ID, "error", err)
	}
}

func (h *sessionHandler) ReleaseControl(sender dbus.Sender) *dbus.Error {
	var relErr error
	h.s.loop.Do(func() { relErr = h.sess.ReleaseControl(string(sender)) })
	if relErr != nil {
		return dbusError(relErr)
	}
	return nil
}

func (h *sessionHandler) TakeDevice(major, minor uint32, sender dbus.Sender) (dbus.UnixFD, *dbus.Error) {
	var dev *device.Device
	var takeErr error
	h.s.loop.Do(func() { dev, takeErr = h.sess.TakeDevice(string(sender), major, minor) })
	if takeErr != nil {
		return 0, dbusError(takeErr)
	}
	h.s.emitSessionSignal(h.sess.ID, "DeviceAdded")
	return dbus.UnixFD(dev.Fd()), nil
}

func (h *sessionHandler) ReleaseDevice(major, minor uint32) *dbus.Error {
	var relErr error
	h.s.loop.Do(func() { relErr = h.sess.ReleaseDevice(major, minor) })
	if relErr != nil {
		return dbusError(relErr)
	}
	h.s.emitSessionSignal(h.sess.ID, "DeviceRemoved")
	return nil
}

func (h *sessionHandler) PauseDeviceComplete(major, minor uint32) *dbus.Error {
	var compErr error
	h.s.loop.Do(func() { compErr = h.sess.PauseDeviceComplete(major, minor) })
	if compErr != nil {
		return dbusError(compErr)
	}
	return nil
}

// seatHandler implements the Seat object's exported methods.
type seatHandler struct {
	s    *Server
	seat *seat.Seat
}

func (h *seatHandler) GetSessions() ([]dbus.ObjectPath, *dbus.Error) {
	var sessions []*session.Session
	h.s.loop.Do(func() { sessions = h.seat.Sessions() })
	paths := make([]dbus.ObjectPath, len(sessions))
	for i, sess := range sessions {
		paths[i] = sessionPath(sess.ID)
	}
	return paths, nil
}

func (h *seatHandler) GetActiveSession() (dbus.ObjectPath, *dbus.Error) {
	var active *session.Session
	h.s.loop.Do(func() { active = h.seat.ActiveSession() })
	if active == nil {
		return "", dbusError(dbusNotSupported())
	}
	return sessionPath(active.ID), nil
}

func (h *seatHandler) IsDynamic() (bool, *dbus.Error) {
	return h.seat.Kind == seat.KindDynamic, nil
}

func (s *Server) emitSessionSignal(ssid, name string) {
	if err := s.conn.Emit(sessionPath(ssid), sessionIface+"."+name); err != nil {
		s.log.Warn("busapi: emit session signal failed", "signal", name, "session", ssid, "error", err)
	}
}

// emitSessionBoolSignal emits ActiveChanged/IdleHintChanged, each
// carrying the session's single bool argument.
func (s *Server) emitSessionBoolSignal(ssid, name string, val bool) {
	if err := s.conn.Emit(sessionPath(ssid), sessionIface+"."+name, val); err != nil {
		s.log.Warn("busapi: emit session signal failed", "signal", name, "session", ssid, "error", err)
	}
}

// emitPauseDevice emits PauseDevice(major,minor,reason); the fd is
// never attached here (§6), only resume carries one.
func (s *Server) emitPauseDevice(ssid string, major, minor uint32, reason string) {
	if err := s.conn.Emit(sessionPath(ssid), sessionIface+".PauseDevice", major, minor, reason); err != nil {
		s.log.Warn("busapi: emit PauseDevice failed", "session", ssid, "error", err)
	}
}

// emitResumeDevice emits ResumeDevice(major,minor,fd) with the fresh
// fd attached as a passed-fd argument.
func (s *Server) emitResumeDevice(ssid string, major, minor uint32, fd uintptr) {
	if err := s.conn.Emit(sessionPath(ssid), sessionIface+".ResumeDevice", major, minor, dbus.UnixFD(fd)); err != nil {
		s.log.Warn("busapi: emit ResumeDevice failed", "session", ssid, "error", err)
	}
}

// emitSeatSignal emits a Seat-object signal carrying a single
// ObjectPath or session-id argument (ActiveSessionChanged, SessionAdded,
// SessionRemoved).
func (s *Server) emitSeatSignal(seatID, name string, args ...interface{}) {
	if err := s.conn.Emit(seatPath(seatID), seatIface+"."+name, args...); err != nil {
		s.log.Warn("busapi: emit seat signal failed", "signal", name, "seat", seatID, "error", err)
	}
}

// emitSeatDeviceSignal emits the Seat-level DeviceAdded/DeviceRemoved
// pair of §6. Upstream these report udev hotplug events; this daemon
// has no udev monitor (no pack library grounds one — see DESIGN.md),
// so they are derived from the same device handoff that drives the
// Session-level Pause/ResumeDevice signals, labeled with the device's
// sysdeps category and its (major,minor) identity.
func (s *Server) emitSeatDeviceSignal(sess *session.Session, name string, major, minor uint32) {
	var seatID string
	var devType string
	s.loop.Do(func() {
		seatID = s.seatOf(sess)
		devType = "unknown"
		if cat, ok := sess.DeviceCategory(major, minor); ok {
			devType = cat.String()
		}
	})
	id := fmt.Sprintf("%d:%d", major, minor)
	s.emitSeatSignal(seatID, name, devType, id)
}

// seatOf and vtNrOf are small lookups the Session handler needs but
// that belong to the Manager's bookkeeping rather than the Session
// itself. Both read Manager/Seat state directly and so must only ever
// be called from inside a Loop.Do/Post closure (or, as in tests, with
// no concurrent goroutine touching the same Manager).
func (s *Server) seatOf(sess *session.Session) string {
	for _, seatID := range s.mgr.SeatIDsSnapshot() {
		st, ok := s.mgr.Seat(seatID)
		if !ok {
			continue
		}
		for _, cand := range st.Sessions() {
			if cand.ID == sess.ID {
				return st.ID
			}
		}
	}
	return "seat0"
}

func (s *Server) vtNrOf(sess *session.Session) int {
	return sess.VTNr
}

func dbusNotSupported() error {
	return ckerrNotSupported
}
