// Package busapi exports the Manager/Seat/Session objects of §6 onto
// a D-Bus system bus connection. It is a thin adapter layer, the same
// shape as the teacher's internal/server package: each exported method
// resolves the caller, delegates to the domain manager, and translates
// the result (or error) back across the transport boundary —
// ConnectRPC there, godbus/dbus/v5 here, since this spec names a
// message bus rather than an RPC schema.
package busapi

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/consolekit-go/ckd/internal/ckerr"
	"github.com/consolekit-go/ckd/internal/manager"
)

// vtReleaseSignal and vtAcquireSignal are the signals armed by
// VT_SETMODE(PROCESS) for a session's console, matching ck-session.c's
// mode.relsig = SIGUSR1; mode.acqsig = SIGUSR2. Go's signal package
// lets multiple independent channels register for the same signal
// number (unlike libc's single sigaction slot), so this daemon's own
// SIGUSR1 debug-log-level toggle (cmd/ckd) coexists with the kernel's
// per-session VT release signal the same way GLib's g_unix_signal_add
// lets ck-session.c and main.c both claim SIGUSR1 for unrelated uses.
const (
	vtReleaseSignal = syscall.SIGUSR1
	vtAcquireSignal = syscall.SIGUSR2
)

const (
	// BusName is the well-known name the daemon acquires on the system bus.
	BusName = "org.freedesktop.ConsoleKit"
	// BasePath is the object path prefix of §6.
	BasePath = dbus.ObjectPath("/org/freedesktop/ConsoleKit")
	// ManagerPath is the Manager's fixed object path.
	ManagerPath = BasePath + "/Manager"

	managerIface = "org.freedesktop.ConsoleKit.Manager"
)

// Server owns the bus connection and exports the Manager object;
// Seat/Session objects are exported lazily as they come into
// existence (see objects.go).
type Server struct {
	conn *dbus.Conn
	mgr  *manager.Manager
	loop *manager.Loop
	log  *slog.Logger

	exportedSeats    map[string]bool
	exportedSessions map[string]bool

	// sessionDispatchCancel stops the per-session event forwarder
	// started in ExportSession, keyed by session id.
	sessionDispatchCancel map[string]context.CancelFunc

	// idleWatchCancel stops the per-session tty idle poller started in
	// ExportSession for sessions that own a real console, keyed by
	// session id.
	idleWatchCancel map[string]func()
}

// New connects to the system bus, exports the Manager object, and
// requests BusName. loop must already be constructed (its Run method
// is started by the caller once New returns); every access to mgr from
// this point on, including the seat0 pre-export below, happens before
// Run starts draining it, so a direct read here is still safe — after
// New returns, nothing but loop.Do/loop.Post may touch mgr. Callers
// must call Close on shutdown.
func New(mgr *manager.Manager, loop *manager.Loop, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("busapi: connect system bus: %w", err)
	}

	s := &Server{
		conn:                  conn,
		mgr:                   mgr,
		loop:                  loop,
		log:                   log.With(slog.String("component", "busapi")),
		exportedSeats:         make(map[string]bool),
		exportedSessions:      make(map[string]bool),
		sessionDispatchCancel: make(map[string]context.CancelFunc),
		idleWatchCancel:       make(map[string]func()),
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("busapi: request name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("busapi: name %s already owned", BusName)
	}

	if err := conn.Export(newManagerHandler(s), ManagerPath, managerIface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("busapi: export Manager: %w", err)
	}

	if seat0, ok := mgr.Seat("seat0"); ok {
		if err := s.ExportSeat(seat0); err != nil {
			conn.Close()
			return nil, fmt.Errorf("busapi: export seat0: %w", err)
		}
	}

	return s, nil
}

// Close releases the bus connection.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying bus connection.
func (s *Server) Conn() *dbus.Conn { return s.conn }

// PeerCredentials resolves a bus sender's uid and pid via
// org.freedesktop.DBus.GetConnectionCredentials, the standard way a
// D-Bus service authenticates its caller without a second transport.
func (s *Server) PeerCredentials(sender string) (uid uint32, pid uint32, err error) {
	obj := s.conn.BusObject()
	var creds map[string]dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.GetConnectionCredentials", 0, sender).Store(&creds); err != nil {
		return 0, 0, fmt.Errorf("busapi: GetConnectionCredentials(%s): %w", sender, err)
	}
	if v, ok := creds["UnixUserID"]; ok {
		uid, _ = v.Value().(uint32)
	}
	if v, ok := creds["ProcessID"]; ok {
		pid, _ = v.Value().(uint32)
	}
	return uid, pid, nil
}

// EmitManagerLifecycleSignal publishes PrepareForShutdown/
// PrepareForSleep outside of a runAction call, for the event loop's
// inhibit-release path (Manager.CancelDelayIfReleased can fire the
// pipeline asynchronously, with no in-flight D-Bus method call to
// emit through).
func (s *Server) EmitManagerLifecycleSignal(name string, starting bool) {
	s.emitManagerSignal(name, starting)
}

// emitManagerSignal emits a Manager-object signal with a single bool
// argument, used for PrepareForShutdown/PrepareForSleep.
func (s *Server) emitManagerSignal(name string, starting bool) {
	if err := s.conn.Emit(ManagerPath, managerIface+"."+name, starting); err != nil {
		s.log.Warn("busapi: emit signal failed", "signal", name, "error", err)
	}
}

// emitManagerSessionSignal emits SessionNew/SessionRemoved, carrying
// the session's object path alongside its id per §6.
func (s *Server) emitManagerSessionSignal(name, ssid string) {
	if err := s.conn.Emit(ManagerPath, managerIface+"."+name, ssid, sessionPath(ssid)); err != nil {
		s.log.Warn("busapi: emit signal failed", "signal", name, "session", ssid, "error", err)
	}
}

// EmitActiveSessionChanged publishes the Seat-level ActiveSessionChanged
// signal (§6), called by the VT-monitor event loop (cmd/ckd) right
// after seat.Seat.Elect picks a winner — election itself lives outside
// busapi since it mutates Manager-owned state, not the bus layer.
func (s *Server) EmitActiveSessionChanged(seatID, ssid string) {
	s.emitSeatSignal(seatID, "ActiveSessionChanged", ssid)
}

// emitManagerSeatSignal emits SeatAdded/SeatRemoved, carrying the
// seat's object path per §6.
func (s *Server) emitManagerSeatSignal(name, seatID string) {
	if err := s.conn.Emit(ManagerPath, managerIface+"."+name, seatPath(seatID)); err != nil {
		s.log.Warn("busapi: emit signal failed", "signal", name, "seat", seatID, "error", err)
	}
}

// dbusError translates a ckerr.Kind into a stable D-Bus error name,
// mirroring mapManagerError's switch-on-sentinel shape but keyed off
// the taxonomy's typed Kind instead of package-level sentinel errors.
func dbusError(err error) *dbus.Error {
	kind, _ := ckerr.Of(err)
	name := fmt.Sprintf("org.freedesktop.ConsoleKit.Error.%s", kind.String())
	return dbus.NewError(name, []interface{}{err.Error()})
}
