package manager

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/consolekit-go/ckd/internal/ckerr"
	"github.com/consolekit-go/ckd/internal/inhibit"
)

// SystemAction is one of the bus-facing system-action methods of
// §4.1. Each maps to exactly one external script and one inhibit
// event bucket.
type SystemAction int

const (
	ActionPowerOff SystemAction = iota
	ActionReboot
	ActionStop
	ActionRestart
	ActionSuspend
	ActionHibernate
	ActionHybridSleep
)

func (a SystemAction) String() string {
	switch a {
	case ActionPowerOff:
		return "PowerOff"
	case ActionReboot:
		return "Reboot"
	case ActionStop:
		return "Stop"
	case ActionRestart:
		return "Restart"
	case ActionSuspend:
		return "Suspend"
	case ActionHibernate:
		return "Hibernate"
	case ActionHybridSleep:
		return "HybridSleep"
	default:
		return "Unknown"
	}
}

// event returns the inhibit bucket this action is gated by.
func (a SystemAction) event() inhibit.Event {
	switch a {
	case ActionSuspend, ActionHibernate, ActionHybridSleep:
		return inhibit.EventSuspend
	default:
		return inhibit.EventShutdown
	}
}

// isSleep reports whether this action emits PrepareForSleep rather
// than PrepareForShutdown.
func (a SystemAction) isSleep() bool {
	switch a {
	case ActionSuspend, ActionHibernate, ActionHybridSleep:
		return true
	default:
		return false
	}
}

// NewScriptPaths builds the action-to-script lookup table Config.ScriptPaths
// expects from the five configured script paths. PowerOff shares Stop's
// script and Reboot shares Restart's: upstream ConsoleKit never shipped
// separate ck-system-poweroff/ck-system-reboot scripts, only Stop and
// Restart.
func NewScriptPaths(stop, restart, suspend, hibernate, hybridSleep string) map[SystemAction]string {
	return map[SystemAction]string{
		ActionPowerOff:    stop,
		ActionStop:        stop,
		ActionReboot:      restart,
		ActionRestart:     restart,
		ActionSuspend:     suspend,
		ActionHibernate:   hibernate,
		ActionHybridSleep: hybridSleep,
	}
}

// AuthResult is the outcome of the external authorization predicate.
type AuthResult int

const (
	AuthAllow AuthResult = iota
	AuthDeny
	AuthChallenge
)

// pipelineState pins the identity of the single in-flight action; its
// lifetime ends only when the fire path completes (§4.1.2).
type pipelineState struct {
	action SystemAction
	reply  func(error)
	timer  *time.Timer
	fired  bool
}

// EmitPrepare is called by the Manager's loop owner (busapi) to
// broadcast PrepareForShutdown/PrepareForSleep.
type EmitPrepare func(sleep bool, starting bool)

// CanRun reports whether action would currently succeed without
// actually running it: "no" if a BLOCK inhibitor holds the bucket or
// another action is already in flight.
func (m *Manager) CanRun(action SystemAction) string {
	if m.inFlight != nil {
		return "no"
	}
	if m.inhibitMgr != nil && m.inhibitMgr.IsInhibited(inhibit.ModeBlock, action.event()) {
		return "no"
	}
	return "yes"
}

// Begin starts the system-action pipeline of §4.1.2. reply is called
// exactly once, when the fire path completes; an action rejected up
// front gets Begin's returned error instead and reply is never called.
// authorize is the external authorization predicate; emitPrepare
// broadcasts the bus signal.
func (m *Manager) Begin(action SystemAction, authorize func() AuthResult, emitPrepare EmitPrepare, reply func(error)) error {
	if m.inFlight != nil {
		return ckerr.New(ckerr.KindBusy, "manager.Begin", nil)
	}
	if m.inhibitMgr != nil && m.inhibitMgr.IsInhibited(inhibit.ModeBlock, action.event()) {
		return ckerr.New(ckerr.KindInhibited, "manager.Begin", nil)
	}

	switch authorize() {
	case AuthDeny:
		return ckerr.New(ckerr.KindInsufficientPermission, "manager.Begin", nil)
	case AuthChallenge:
		return ckerr.New(ckerr.KindAuthorizationRequired, "manager.Begin", nil)
	}

	st := &pipelineState{action: action, reply: reply}
	m.inFlight = st

	emitPrepare(action.isSleep(), true)

	delay := m.cfg.FastDelay
	if m.inhibitMgr != nil && m.inhibitMgr.IsInhibited(inhibit.ModeDelay, action.event()) {
		delay = m.cfg.InhibitedDelay
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}

	st.timer = time.AfterFunc(delay, func() {
		m.fireTimerCh <- st
	})
	return nil
}

// CancelDelayIfReleased is called by the event loop when the
// InhibitManager reports a delay-bucket edge going false. If it
// matches the in-flight action's event, the timer is cancelled and
// the fire path runs immediately — this and the timer firing can race,
// but pipelineState.fired pins the single winner.
func (m *Manager) CancelDelayIfReleased(event inhibit.Event, emitPrepare EmitPrepare) {
	st := m.inFlight
	if st == nil || st.action.event() != event {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	m.fire(st, emitPrepare)
}

// HandleFiredTimer must be called by the event loop with whatever
// value FireTimerChannel() delivered; it runs the fire path for that
// pipeline run (a no-op if it already fired via CancelDelayIfReleased).
func (m *Manager) HandleFiredTimer(st *pipelineState, emitPrepare EmitPrepare) {
	m.fire(st, emitPrepare)
}

// FireTimerChannel exposes the channel the event loop selects on for
// pipeline timer expiry.
func (m *Manager) FireTimerChannel() <-chan *pipelineState {
	if m.fireTimerCh == nil {
		m.fireTimerCh = make(chan *pipelineState, 1)
	}
	return m.fireTimerCh
}

func (m *Manager) fire(st *pipelineState, emitPrepare EmitPrepare) {
	if st.fired || m.inFlight != st {
		return
	}
	st.fired = true
	m.inFlight = nil

	path := m.cfg.ScriptPaths[st.action]
	var runErr error
	if path == "" {
		runErr = ckerr.New(ckerr.KindFailed, "manager.fire", fmt.Errorf("no script configured for %s", st.action))
	} else if err := m.runScript(path); err != nil {
		runErr = ckerr.New(ckerr.KindGeneral, "manager.fire", err)
	}

	// PrepareFor…(false) is always emitted, regardless of script exit
	// code, because clients depend on the symmetry (spec open question).
	emitPrepare(st.action.isSleep(), false)

	if st.reply != nil {
		st.reply(runErr)
	}
}

func runExternalScript(path string) error {
	cmd := exec.Command(path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", path, err)
	}
	return nil
}
