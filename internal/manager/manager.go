// Package manager owns the three primary tables of §4.1 — Seats,
// Sessions, Leaders — and implements OpenSession/CloseSession,
// enumeration, the locality proof, and the system-action pipeline.
// Grounded on original_source/src/ck-manager.c for table ownership and
// the session-to-seat matching rule, expressed with the
// single-struct-plus-methods shape of the teacher's
// internal/bfd/manager.go (table of sessions/seats, one method per
// bus-facing operation, asynchronous work reported back over a
// channel rather than mutating shared state from another goroutine).
package manager

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/consolekit-go/ckd/internal/ckerr"
	"github.com/consolekit-go/ckd/internal/inhibit"
	"github.com/consolekit-go/ckd/internal/procgroup"
	"github.com/consolekit-go/ckd/internal/seat"
	"github.com/consolekit-go/ckd/internal/session"
)

// Config carries the manager's runtime tunables, sourced from
// internal/config.
type Config struct {
	RunDir         string
	FastDelay      time.Duration
	InhibitedDelay time.Duration
	ScriptPaths    map[SystemAction]string
}

// Manager is the daemon's single source of truth. Every method here
// must be called only from the Loop goroutine (see loop.go); there is
// no internal locking, so every other goroutine that needs Manager
// state goes through a Loop's Do/Post instead of calling these methods
// directly.
type Manager struct {
	cfg Config
	log *slog.Logger

	seats    map[string]*seat.Seat
	sessions map[string]*session.Session
	leaders  map[string]*Leader

	inhibitMgr *inhibit.Manager
	procGroup  procgroup.Group

	// ensureRuntimeDir and teardownRuntimeDir let a session's XDG
	// runtime directory lifecycle (§3) be driven from here without this
	// package importing internal/runtimedir directly, the same
	// function-callback boundary activateVT already uses for the
	// VT-switch side effect.
	ensureRuntimeDir   func(uid uint32) (string, error)
	teardownRuntimeDir func(uid uint32) error

	nextSessionNum int
	nextDynSeatNum int

	inFlight    *pipelineState
	fireTimerCh chan *pipelineState

	runScript func(path string) error
}

// New constructs a Manager. seat0 (STATIC) is created eagerly, the
// way ck-manager.c always has a console seat. ensureRuntimeDir and
// teardownRuntimeDir may be nil, in which case no runtime directory is
// provisioned (platforms with no internal/runtimedir wiring, tests).
func New(cfg Config, log *slog.Logger, inhibitMgr *inhibit.Manager, procGroup procgroup.Group, activateVT func(int) error, ensureRuntimeDir func(uint32) (string, error), teardownRuntimeDir func(uint32) error) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:                cfg,
		log:                log,
		seats:              make(map[string]*seat.Seat),
		sessions:           make(map[string]*session.Session),
		leaders:            make(map[string]*Leader),
		inhibitMgr:         inhibitMgr,
		procGroup:          procGroup,
		ensureRuntimeDir:   ensureRuntimeDir,
		teardownRuntimeDir: teardownRuntimeDir,
		runScript:          runExternalScript,
		fireTimerCh:        make(chan *pipelineState, 1),
	}
	m.seats["seat0"] = seat.New("seat0", seat.KindStatic, activateVT)
	return m
}

// AddStaticSeat registers an additional STATIC seat beyond the eager
// seat0, for multi-seat configurations (§4.3's config-declared seats).
// activateVT is the VT-switch callback for that seat's console; it may
// be nil on platforms with no VT monitor wired up for it.
func (m *Manager) AddStaticSeat(id string, activateVT func(int) error) {
	if _, exists := m.seats[id]; exists {
		return
	}
	m.seats[id] = seat.New(id, seat.KindStatic, activateVT)
}

// OpenSession records a fresh Leader and returns its cookie. The
// caller (busapi) later supplies collected parameters via
// CreateSessionFromLeader once it has gathered pid/env/tty/display
// information asynchronously.
func (m *Manager) OpenSession(pid, uid uint32, busName string) (cookie string, err error) {
	cookie = NewCookie()
	ssid := fmt.Sprintf("Session%d", m.nextSessionNumVal())
	m.leaders[cookie] = &Leader{
		Cookie:            cookie,
		PID:               pid,
		UID:               uid,
		BusName:           busName,
		ProposedSessionID: ssid,
		Params:            make(map[string]string),
	}
	return cookie, nil
}

func (m *Manager) nextSessionNumVal() int {
	m.nextSessionNum++
	return m.nextSessionNum
}

// LocalityAllowed implements §4.1.1's locality proof: a fresh request
// may self-assert local only if an existing session (on any seat)
// shares its login-session-id and is itself local.
func (m *Manager) LocalityAllowed(loginSessionID string) bool {
	if loginSessionID == "" {
		return false
	}
	for _, s := range m.sessions {
		if s.LoginSessionID == loginSessionID && s.IsLocal {
			return true
		}
	}
	return false
}

// CreateSessionFromLeader builds a Session from the leader identified
// by cookie plus the (possibly asserted-local) params, assigns it to
// the matching seat, and removes the leader entry. The trusted path
// (OpenSessionWithParameters) calls this directly with an externally
// supplied dictionary after checking LocalityAllowed itself.
func (m *Manager) CreateSessionFromLeader(cookie string, p session.Params) (*session.Session, error) {
	leader, ok := m.leaders[cookie]
	if !ok {
		return nil, ckerr.New(ckerr.KindGeneral, "manager.CreateSessionFromLeader", fmt.Errorf("unknown cookie"))
	}
	p.ID = leader.ProposedSessionID
	p.Cookie = cookie
	p.UID = leader.UID
	if p.CreationTime.IsZero() {
		p.CreationTime = time.Now()
	}

	sess := session.New(p)
	m.sessions[sess.ID] = sess

	target := m.seatFor(p)
	target.AddSession(sess)

	if m.procGroup != nil {
		m.procGroup.Create(int(leader.PID), sess.ID, leader.UID)
	}

	if m.ensureRuntimeDir != nil {
		if dir, err := m.ensureRuntimeDir(sess.UID); err != nil {
			m.log.Warn("manager: ensure runtime dir failed", slog.Uint64("uid", uint64(sess.UID)), slog.String("error", err.Error()))
		} else {
			sess.SetRuntimeDir(dir)
		}
	}

	delete(m.leaders, cookie)
	return sess, nil
}

// seatFor implements the session-to-seat matching rule of §4.3.
func (m *Manager) seatFor(p session.Params) *seat.Seat {
	staticX11 := p.X11Display != "" && p.X11DisplayDevice != "" && p.RemoteHostName == "" && p.IsLocal
	staticText := p.DisplayDevice != "" && p.X11Display == "" && p.X11DisplayDevice == "" && p.RemoteHostName == "" && p.IsLocal

	if (staticX11 || staticText) && p.VTNr > 0 {
		return m.seats["seat0"]
	}

	m.nextDynSeatNum++
	id := fmt.Sprintf("seat%d", m.nextDynSeatNum)
	s := seat.New(id, seat.KindDynamic, nil)
	m.seats[id] = s
	return s
}

// CloseSession implements §4.1's CloseSession contract.
func (m *Manager) CloseSession(cookie string, callerUID, callerPID uint32) (ssid string, err error) {
	leader := m.findLeaderByCookie(cookie)
	sess := m.findSessionByCookie(cookie)
	if leader == nil && sess == nil {
		return "", ckerr.New(ckerr.KindGeneral, "manager.CloseSession", fmt.Errorf("unknown cookie"))
	}

	ownerUID := callerUIDOf(leader, sess)
	if ownerUID != callerUID {
		return "", ckerr.New(ckerr.KindInsufficientPermission, "manager.CloseSession", nil)
	}

	if leader != nil {
		delete(m.leaders, cookie)
	}
	if sess == nil {
		return "", nil
	}

	ssid = sess.ID
	uid := sess.UID
	sess.BeginClose()
	delete(m.sessions, ssid)

	for id, st := range m.seats {
		if gc := st.RemoveSession(ssid); gc {
			delete(m.seats, id)
		}
	}

	if m.teardownRuntimeDir != nil && m.SessionCountForUID(uid) == 0 {
		if err := m.teardownRuntimeDir(uid); err != nil {
			m.log.Warn("manager: teardown runtime dir failed", slog.Uint64("uid", uint64(uid)), slog.String("error", err.Error()))
		}
	}

	return ssid, nil
}

func callerUIDOf(l *Leader, s *session.Session) uint32 {
	if l != nil {
		return l.UID
	}
	return s.UID
}

func (m *Manager) findLeaderByCookie(cookie string) *Leader {
	return m.leaders[cookie]
}

func (m *Manager) findSessionByCookie(cookie string) *session.Session {
	for _, s := range m.sessions {
		if s.Cookie == cookie {
			return s
		}
	}
	return nil
}

// GetSessionForCookie resolves a cookie to a session id.
func (m *Manager) GetSessionForCookie(cookie string) (string, error) {
	if s := m.findSessionByCookie(cookie); s != nil {
		return s.ID, nil
	}
	return "", ckerr.New(ckerr.KindGeneral, "manager.GetSessionForCookie", fmt.Errorf("unknown cookie"))
}

// GetSessionForUnixProcess resolves pid to a session id via the
// process-group tagger, falling back to the caller-supplied
// environment lookup result (busapi performs the /proc read).
func (m *Manager) GetSessionForUnixProcess(pid int, envCookie string) (string, error) {
	if m.procGroup != nil {
		if ssid, err := m.procGroup.GetSsid(pid); err == nil && ssid != "" {
			if _, ok := m.sessions[ssid]; ok {
				return ssid, nil
			}
		}
	}
	if envCookie != "" {
		if s := m.findSessionByCookie(envCookie); s != nil {
			return s.ID, nil
		}
	}
	return "", ckerr.New(ckerr.KindGeneral, "manager.GetSessionForUnixProcess", fmt.Errorf("no session for pid %d", pid))
}

// ListSessions enumerates all session ids, oldest first.
func (m *Manager) ListSessions() ([]string, error) {
	if len(m.sessions) == 0 {
		return nil, ckerr.New(ckerr.KindNoSessions, "manager.ListSessions", nil)
	}
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationTime.Before(out[j].CreationTime) })
	ids := make([]string, len(out))
	for i, s := range out {
		ids[i] = s.ID
	}
	return ids, nil
}

// ListSeats enumerates all seat ids.
func (m *Manager) ListSeats() ([]string, error) {
	if len(m.seats) == 0 {
		return nil, ckerr.New(ckerr.KindNoSeats, "manager.ListSeats", nil)
	}
	ids := make([]string, 0, len(m.seats))
	for id := range m.seats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetSessionsForUnixUser enumerates sessions owned by uid.
func (m *Manager) GetSessionsForUnixUser(uid uint32) []string {
	var out []string
	for id, s := range m.sessions {
		if s.UID == uid {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Session returns the Session for id, if live.
func (m *Manager) Session(id string) (*session.Session, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

// Seat returns the Seat for id, if live.
func (m *Manager) Seat(id string) (*seat.Seat, bool) {
	s, ok := m.seats[id]
	return s, ok
}

// SeatIDForSession returns the id of the seat currently holding
// sessionID, used by callers outside this package (the eventlog
// dump, the runtime-directory reaper) that need the association
// without reaching into Seat.Sessions themselves.
func (m *Manager) SeatIDForSession(sessionID string) (string, bool) {
	for seatID, st := range m.seats {
		for _, cand := range st.Sessions() {
			if cand.ID == sessionID {
				return seatID, true
			}
		}
	}
	return "", false
}

// SessionCountForUID reports how many live sessions belong to uid,
// used to decide whether to tear down that user's runtime directory.
func (m *Manager) SessionCountForUID(uid uint32) int {
	n := 0
	for _, s := range m.sessions {
		if s.UID == uid {
			n++
		}
	}
	return n
}

// GetSystemIdleHint aggregates idle-hint across every session:
// system-idle iff every session reports idle (vacuously true with no
// sessions).
func (m *Manager) GetSystemIdleHint() bool {
	for _, s := range m.sessions {
		if !s.IdleHint() {
			return false
		}
	}
	return true
}

// SystemIdleSince reports when the system-wide idle condition most
// recently became true: the latest IdleSince of any session, since the
// system can't have gone idle before its most-recently-busy session
// did. Meaningful only when GetSystemIdleHint is currently true.
func (m *Manager) SystemIdleSince() time.Time {
	var latest time.Time
	for _, s := range m.sessions {
		if s.IdleSince().After(latest) {
			latest = s.IdleSince()
		}
	}
	return latest
}

// InhibitManager returns the inhibitor-lock manager shared with the
// bus layer, so it can service Inhibit/ListInhibitors calls directly.
func (m *Manager) InhibitManager() *inhibit.Manager {
	return m.inhibitMgr
}

// SeatIDsSnapshot returns every live seat id, for bus-layer lookups
// that need to search seats without holding a direct index.
func (m *Manager) SeatIDsSnapshot() []string {
	ids := make([]string, 0, len(m.seats))
	for id := range m.seats {
		ids = append(ids, id)
	}
	return ids
}
