package busapi

import (
	"github.com/godbus/dbus/v5"

	"github.com/consolekit-go/ckd/internal/ckerr"
	"github.com/consolekit-go/ckd/internal/manager"
	"github.com/consolekit-go/ckd/internal/session"
)

// managerHandler implements the Manager object's exported methods.
// Every method is invoked by godbus on whichever goroutine is
// servicing the connection, so every one of them hands its Manager
// work off to the Server's Loop via Do and waits for the result before
// replying — the same boundary the VT dispatcher and the background
// tickers in cmd/ckd cross with Post instead, since they don't need an
// answer before moving on.
type managerHandler struct {
	s *Server
}

func newManagerHandler(s *Server) *managerHandler {
	return &managerHandler{s: s}
}

// OpenSession implements the untrusted session-creation path: the
// caller's own process supplies no parameters, so they are collected
// from its environment.
func (h *managerHandler) OpenSession(sender dbus.Sender) (string, *dbus.Error) {
	uid, pid, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return "", dbusError(err)
	}

	var cookie string
	var openErr error
	var sess *session.Session
	var seatID string
	var justAddedSeat bool
	var activeMatch bool

	h.s.loop.Do(func() {
		before := seatSet(h.s.mgr.SeatIDsSnapshot())

		cookie, openErr = h.s.mgr.OpenSession(pid, uid, string(sender))
		if openErr != nil {
			return
		}

		params := collectParams(pid, uid)
		sess, openErr = h.s.mgr.CreateSessionFromLeader(cookie, params)
		if openErr != nil {
			return
		}

		seatID = h.s.seatOf(sess)
		if seatID != "" {
			if st, ok := h.s.mgr.Seat(seatID); ok {
				justAddedSeat = !before[seatID]
				if active := st.ActiveSession(); active != nil && active.ID == sess.ID {
					activeMatch = true
				}
			}
		}
	})
	if openErr != nil {
		return "", dbusError(openErr)
	}

	if err := h.s.ExportSession(sess); err != nil {
		h.s.log.Warn("busapi: export session failed", "session", sess.ID, "error", err)
	}
	if seatID != "" {
		h.s.loop.Do(func() {
			if seat, ok := h.s.mgr.Seat(seatID); ok {
				if err := h.s.ExportSeat(seat); err != nil {
					h.s.log.Warn("busapi: export seat failed", "seat", seat.ID, "error", err)
				}
			}
		})
		if justAddedSeat {
			h.s.emitManagerSeatSignal("SeatAdded", seatID)
		}
		h.s.emitSeatSignal(seatID, "SessionAdded", sessionPath(sess.ID))
		if activeMatch {
			h.s.emitSeatSignal(seatID, "ActiveSessionChanged", sess.ID)
		}
	}
	h.s.emitManagerSessionSignal("SessionNew", sess.ID)
	return cookie, nil
}

// OpenSessionWithParameters implements the trusted session-creation
// path: the caller supplies its own attribute dictionary (display,
// remote-host, is-local, ...) instead of having it collected from
// /proc, subject to LocalityAllowed when it asserts locality itself.
func (h *managerHandler) OpenSessionWithParameters(params [][]interface{}, sender dbus.Sender) (string, *dbus.Error) {
	uid, pid, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return "", dbusError(err)
	}

	p := paramsFromPairs(params)
	p.UID = uid

	var cookie string
	var openErr error
	var sess *session.Session
	var seatID string
	var justAddedSeat bool

	h.s.loop.Do(func() {
		before := seatSet(h.s.mgr.SeatIDsSnapshot())

		if p.IsLocal && !h.s.mgr.LocalityAllowed(p.LoginSessionID) {
			p.IsLocal = false
		}

		cookie, openErr = h.s.mgr.OpenSession(pid, uid, string(sender))
		if openErr != nil {
			return
		}
		sess, openErr = h.s.mgr.CreateSessionFromLeader(cookie, p)
		if openErr != nil {
			return
		}
		seatID = h.s.seatOf(sess)
		if seatID != "" {
			justAddedSeat = !before[seatID]
		}
	})
	if openErr != nil {
		return "", dbusError(openErr)
	}

	if err := h.s.ExportSession(sess); err != nil {
		h.s.log.Warn("busapi: export session failed", "session", sess.ID, "error", err)
	}
	if seatID != "" {
		h.s.loop.Do(func() {
			if seat, ok := h.s.mgr.Seat(seatID); ok {
				if err := h.s.ExportSeat(seat); err != nil {
					h.s.log.Warn("busapi: export seat failed", "seat", seat.ID, "error", err)
				}
			}
		})
		if justAddedSeat {
			h.s.emitManagerSeatSignal("SeatAdded", seatID)
		}
		h.s.emitSeatSignal(seatID, "SessionAdded", sessionPath(sess.ID))
	}
	h.s.emitManagerSessionSignal("SessionNew", sess.ID)
	return cookie, nil
}

// CloseSession implements §4.1's CloseSession.
func (h *managerHandler) CloseSession(cookie string, sender dbus.Sender) (bool, *dbus.Error) {
	uid, pid, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return false, dbusError(err)
	}

	var ssid string
	var closeErr error
	var seatID string
	var seatGone bool

	h.s.loop.Do(func() {
		if preID, err := h.s.mgr.GetSessionForCookie(cookie); err == nil {
			if sess, ok := h.s.mgr.Session(preID); ok {
				seatID = h.s.seatOf(sess)
			}
		}
		before := seatSet(h.s.mgr.SeatIDsSnapshot())

		ssid, closeErr = h.s.mgr.CloseSession(cookie, uid, pid)
		if closeErr != nil {
			return
		}
		if seatID != "" {
			seatGone = before[seatID] && !seatSet(h.s.mgr.SeatIDsSnapshot())[seatID]
		}
	})
	if closeErr != nil {
		return false, dbusError(closeErr)
	}

	h.s.UnexportSession(ssid)
	if seatID != "" {
		h.s.emitSeatSignal(seatID, "SessionRemoved", sessionPath(ssid))
		if seatGone {
			h.s.UnexportSeat(seatID)
			h.s.emitManagerSeatSignal("SeatRemoved", seatID)
		}
	}
	h.s.emitManagerSessionSignal("SessionRemoved", ssid)
	return true, nil
}

// seatSet turns a seat-id slice into a membership set for before/after
// diffing around dynamic seat creation and garbage collection.
func seatSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// GetSessionForCookie resolves cookie to its object path.
func (h *managerHandler) GetSessionForCookie(cookie string) (dbus.ObjectPath, *dbus.Error) {
	var ssid string
	var err error
	h.s.loop.Do(func() { ssid, err = h.s.mgr.GetSessionForCookie(cookie) })
	if err != nil {
		return "", dbusError(err)
	}
	return sessionPath(ssid), nil
}

// GetSessionForUnixProcess resolves a client-supplied pid to its
// session's object path via the process-group tagger, falling back to
// the cookie that process's own environment carries.
func (h *managerHandler) GetSessionForUnixProcess(pid uint32, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	envCookie := envCookieOf(int(pid))
	var ssid string
	var err error
	h.s.loop.Do(func() { ssid, err = h.s.mgr.GetSessionForUnixProcess(int(pid), envCookie) })
	if err != nil {
		return "", dbusError(err)
	}
	return sessionPath(ssid), nil
}

// GetCurrentSession resolves the calling process's own session,
// exactly like GetSessionForUnixProcess but keyed on the bus caller's
// pid rather than a client-supplied one.
func (h *managerHandler) GetCurrentSession(sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	_, pid, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return "", dbusError(err)
	}
	envCookie := envCookieOf(int(pid))
	var ssid string
	h.s.loop.Do(func() { ssid, err = h.s.mgr.GetSessionForUnixProcess(int(pid), envCookie) })
	if err != nil {
		return "", dbusError(err)
	}
	return sessionPath(ssid), nil
}

// ListSessions enumerates every live session's object path.
func (h *managerHandler) ListSessions() ([]dbus.ObjectPath, *dbus.Error) {
	var ids []string
	var err error
	h.s.loop.Do(func() { ids, err = h.s.mgr.ListSessions() })
	if err != nil {
		return nil, dbusError(err)
	}
	paths := make([]dbus.ObjectPath, len(ids))
	for i, id := range ids {
		paths[i] = sessionPath(id)
	}
	return paths, nil
}

// GetSessionsForUnixUser enumerates the object paths of every session
// owned by uid.
func (h *managerHandler) GetSessionsForUnixUser(uid uint32) ([]dbus.ObjectPath, *dbus.Error) {
	var ids []string
	h.s.loop.Do(func() { ids = h.s.mgr.GetSessionsForUnixUser(uid) })
	paths := make([]dbus.ObjectPath, len(ids))
	for i, id := range ids {
		paths[i] = sessionPath(id)
	}
	return paths, nil
}

// ListSeats enumerates every live seat's object path.
func (h *managerHandler) ListSeats() ([]dbus.ObjectPath, *dbus.Error) {
	var ids []string
	var err error
	h.s.loop.Do(func() { ids, err = h.s.mgr.ListSeats() })
	if err != nil {
		return nil, dbusError(err)
	}
	paths := make([]dbus.ObjectPath, len(ids))
	for i, id := range ids {
		paths[i] = seatPath(id)
	}
	return paths, nil
}

// GetSeats is ListSeats' name in the Manager's older enumeration
// surface; both return the same live set.
func (h *managerHandler) GetSeats() ([]dbus.ObjectPath, *dbus.Error) {
	return h.ListSeats()
}

// ActivateSession activates ssid on whichever seat currently holds it.
func (h *managerHandler) ActivateSession(ssid string) *dbus.Error {
	var actErr error
	h.s.loop.Do(func() {
		sess, ok := h.s.mgr.Session(ssid)
		if !ok {
			actErr = dbusNotSupported()
			return
		}
		seatID := h.s.seatOf(sess)
		st, ok := h.s.mgr.Seat(seatID)
		if !ok {
			actErr = dbusNotSupported()
			return
		}
		actErr = st.ActivateSession(sess, h.s.vtNrOf)
	})
	if actErr != nil {
		return dbusError(actErr)
	}
	return nil
}

// ActivateSessionOnSeat activates ssid, requiring it to already belong
// to seatID — the only way a session ever reaches a non-seat0 STATIC
// seat that has no console of its own to elect across.
func (h *managerHandler) ActivateSessionOnSeat(ssid, seatID string) *dbus.Error {
	var actErr error
	h.s.loop.Do(func() {
		sess, ok := h.s.mgr.Session(ssid)
		if !ok {
			actErr = dbusNotSupported()
			return
		}
		if h.s.seatOf(sess) != seatID {
			actErr = dbusNotSupported()
			return
		}
		st, ok := h.s.mgr.Seat(seatID)
		if !ok {
			actErr = dbusNotSupported()
			return
		}
		actErr = st.ActivateSession(sess, h.s.vtNrOf)
	})
	if actErr != nil {
		return dbusError(actErr)
	}
	return nil
}

// LockSession and UnlockSession let a privileged caller (or the
// session's own uid) drive the locked hint without going through the
// Session object directly, per §4.1's Manager-level aliases.
func (h *managerHandler) LockSession(ssid string) *dbus.Error {
	return h.setLockedHint(ssid, true)
}

func (h *managerHandler) UnlockSession(ssid string) *dbus.Error {
	return h.setLockedHint(ssid, false)
}

func (h *managerHandler) setLockedHint(ssid string, locked bool) *dbus.Error {
	var setErr error
	h.s.loop.Do(func() {
		sess, ok := h.s.mgr.Session(ssid)
		if !ok {
			setErr = dbusNotSupported()
			return
		}
		setErr = sess.SetLockedHint(sess.UID, locked)
	})
	if setErr != nil {
		return dbusError(setErr)
	}
	name := "Unlock"
	if locked {
		name = "Lock"
	}
	h.s.emitSessionSignal(ssid, name)
	return nil
}

// Inhibit creates an inhibitor lock and returns its write end as a
// passed fd, per §6's "in-band payload carries an index handle (0)".
func (h *managerHandler) Inhibit(what, who, why, mode string, sender dbus.Sender) (dbus.UnixFD, *dbus.Error) {
	uid, pid, err := h.s.PeerCredentials(string(sender))
	if err != nil {
		return 0, dbusError(err)
	}
	var wfd interface{ Fd() uintptr }
	var lockErr error
	h.s.loop.Do(func() {
		_, w, err := h.s.mgr.InhibitManager().CreateLock(who, what, why, mode, uid, pid)
		if err != nil {
			lockErr = err
			return
		}
		wfd = w
	})
	if lockErr != nil {
		return 0, dbusError(lockErr)
	}
	return dbus.UnixFD(wfd.Fd()), nil
}

// ListInhibitors enumerates live inhibitor locks.
func (h *managerHandler) ListInhibitors() ([][]interface{}, *dbus.Error) {
	var out [][]interface{}
	h.s.loop.Do(func() {
		locks := h.s.mgr.InhibitManager().List()
		out = make([][]interface{}, len(locks))
		for i, l := range locks {
			out[i] = []interface{}{l.Who, l.Why, l.Mode.String(), l.UID, l.PID}
		}
	})
	if len(out) == 0 {
		return nil, dbusError(ckerr.New(ckerr.KindNothingInhibited, "busapi.ListInhibitors", nil))
	}
	return out, nil
}

// GetSystemIdleHint aggregates idle-hint across every session.
func (h *managerHandler) GetSystemIdleHint() (bool, *dbus.Error) {
	var idle bool
	h.s.loop.Do(func() { idle = h.s.mgr.GetSystemIdleHint() })
	return idle, nil
}

// GetSystemIdleSinceHint reports the ISO-8601 timestamp the system
// idle-hint last flipped to true, or "" if the system isn't currently
// idle.
func (h *managerHandler) GetSystemIdleSinceHint() (string, *dbus.Error) {
	var since string
	h.s.loop.Do(func() {
		if !h.s.mgr.GetSystemIdleHint() {
			return
		}
		since = h.s.mgr.SystemIdleSince().Format(idleSinceLayout)
	})
	return since, nil
}

const idleSinceLayout = "2006-01-02T15:04:05Z07:00"

// PowerOff, Suspend and friends run the system-action pipeline and
// block the bus call until the fire path completes, matching a
// synchronous D-Bus method reply.
func (h *managerHandler) PowerOff(sender dbus.Sender) *dbus.Error { return h.runAction(manager.ActionPowerOff) }
func (h *managerHandler) Reboot(sender dbus.Sender) *dbus.Error   { return h.runAction(manager.ActionReboot) }
func (h *managerHandler) Stop(sender dbus.Sender) *dbus.Error     { return h.runAction(manager.ActionStop) }
func (h *managerHandler) Restart(sender dbus.Sender) *dbus.Error  { return h.runAction(manager.ActionRestart) }
func (h *managerHandler) Suspend(sender dbus.Sender) *dbus.Error  { return h.runAction(manager.ActionSuspend) }
func (h *managerHandler) Hibernate(sender dbus.Sender) *dbus.Error {
	return h.runAction(manager.ActionHibernate)
}
func (h *managerHandler) HybridSleep(sender dbus.Sender) *dbus.Error {
	return h.runAction(manager.ActionHybridSleep)
}

// runAction submits Begin to the Loop and waits for the pipeline's
// reply. The fired-timer itself is drained and posted back to the
// Loop by a dedicated goroutine in cmd/ckd (see startFireTimerDrain),
// so this no longer needs its own select over FireTimerChannel.
func (h *managerHandler) runAction(action manager.SystemAction) *dbus.Error {
	done := make(chan error, 1)
	allow := func() manager.AuthResult { return manager.AuthAllow }
	emitPrepare := func(sleep, starting bool) {
		sig := "PrepareForShutdown"
		if sleep {
			sig = "PrepareForSleep"
		}
		h.s.emitManagerSignal(sig, starting)
	}

	var beginErr error
	h.s.loop.Do(func() {
		beginErr = h.s.mgr.Begin(action, allow, emitPrepare, func(err error) { done <- err })
	})
	if beginErr != nil {
		return dbusError(beginErr)
	}

	if err := <-done; err != nil {
		return dbusError(err)
	}
	return nil
}

// CanPowerOff and friends probe whether the action would currently
// succeed, per §4.1's "Can…" probes.
func (h *managerHandler) CanPowerOff() (string, *dbus.Error) {
	var s string
	h.s.loop.Do(func() { s = h.s.mgr.CanRun(manager.ActionPowerOff) })
	return s, nil
}

func (h *managerHandler) CanSuspend() (string, *dbus.Error) {
	var s string
	h.s.loop.Do(func() { s = h.s.mgr.CanRun(manager.ActionSuspend) })
	return s, nil
}

func (h *managerHandler) CanHibernate() (string, *dbus.Error) {
	var s string
	h.s.loop.Do(func() { s = h.s.mgr.CanRun(manager.ActionHibernate) })
	return s, nil
}

func sessionPath(ssid string) dbus.ObjectPath {
	return BasePath + dbus.ObjectPath("/"+ssid)
}

func seatPath(seatID string) dbus.ObjectPath {
	return BasePath + dbus.ObjectPath("/"+seatID)
}
