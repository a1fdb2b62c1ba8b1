// ckd is the session/seat manager daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/consolekit-go/ckd/internal/busapi"
	"github.com/consolekit-go/ckd/internal/config"
	"github.com/consolekit-go/ckd/internal/eventlog"
	"github.com/consolekit-go/ckd/internal/inhibit"
	"github.com/consolekit-go/ckd/internal/manager"
	ckmetrics "github.com/consolekit-go/ckd/internal/metrics"
	"github.com/consolekit-go/ckd/internal/procgroup"
	"github.com/consolekit-go/ckd/internal/runtimedir"
	"github.com/consolekit-go/ckd/internal/seatconfig"
	"github.com/consolekit-go/ckd/internal/session"
	"github.com/consolekit-go/ckd/internal/vtmonitor"
	appversion "github.com/consolekit-go/ckd/internal/version"
)

// shutdownTimeout bounds the metrics HTTP server's drain window.
const shutdownTimeout = 10 * time.Second

// eventlogInterval is how often the on-disk database dump refreshes
// and the runtime-directory reaper sweeps for orphaned uids.
const eventlogInterval = 30 * time.Second

var (
	configPath string
	debug      bool
	noDaemon   bool
	timedExit  time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ckd",
		Short:         "Session and seat manager daemon",
		Version:       appversion.Full("ckd"),
		RunE:          func(_ *cobra.Command, _ []string) error { return runDaemon() },
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	cmd.Flags().BoolVar(&debug, "debug", false, "use a text log handler at debug level")
	cmd.Flags().BoolVar(&noDaemon, "no-daemon", false, "skip systemd sd_notify/watchdog integration")
	cmd.Flags().DurationVar(&timedExit, "timed-exit", 0, "self-terminate after this duration (0 disables; for smoke tests)")
	return cmd
}

func runDaemon() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", slog.String("error", err.Error()))
		return err
	}

	logLevel := new(slog.LevelVar)
	if debug {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	}
	logger := newLogger(cfg.Log, logLevel, debug)
	logger.Info("ckd starting", slog.String("version", appversion.Version), slog.String("bus_name", cfg.Bus.Name))

	if err := os.MkdirAll(cfg.Runtime.RunDir, 0o755); err != nil {
		return fmt.Errorf("create run dir %s: %w", cfg.Runtime.RunDir, err)
	}
	if err := writePIDFile(cfg.Runtime.PIDFile); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.Runtime.PIDFile)

	reg := prometheus.NewRegistry()
	collector := ckmetrics.NewCollector(reg)

	procGroup := procgroup.NewCgroupGroup(cfg.Runtime.RunDir + "/cgroup")
	runtimeProv := runtimedir.New(cfg.Runtime.UserRunDir, cfg.Runtime.MountUserTmpfs, runtimedir.DefaultSizeBytes)

	declaredSeats, err := seatconfig.LoadDir(cfg.Runtime.RunDir + "/seats.d")
	if err != nil {
		return fmt.Errorf("load seat declarations: %w", err)
	}
	consoles := openConsoles(cfg.Seats, declaredSeats)
	defer closeConsoles(consoles)

	// mgr and srv are declared ahead of their constructors so the
	// inhibit.Manager's onEvent callback (which needs both) can close
	// over them; mgrLoop is started before either fires a command at
	// it, and Loop.Post/Do no-op harmlessly against an unset mgr only
	// in the impossible window before New returns below.
	var mgr *manager.Manager
	var srv *busapi.Server
	mgrLoop := manager.NewLoop()

	emitPrepare := func(sleep, starting bool) {
		if srv == nil {
			return
		}
		sig := "PrepareForShutdown"
		if sleep {
			sig = "PrepareForSleep"
		}
		srv.EmitManagerLifecycleSignal(sig, starting)
	}

	inhibitMgr := inhibit.NewManager(cfg.Runtime.InhibitDir, logger, func(_ inhibit.Mode, event inhibit.Event, _ bool) {
		mgrLoop.Post(func() {
			if mgr == nil {
				return
			}
			mgr.CancelDelayIfReleased(event, emitPrepare)
		})
	})
	defer inhibitMgr.Shutdown()

	scriptPaths := manager.NewScriptPaths(cfg.Scripts.Stop, cfg.Scripts.Restart, cfg.Scripts.Suspend, cfg.Scripts.Hibernate, cfg.Scripts.HybridSleep)

	mgr = manager.New(manager.Config{
		RunDir:         cfg.Runtime.RunDir,
		FastDelay:      cfg.Pipeline.FastDelay,
		InhibitedDelay: cfg.Pipeline.InhibitedDelay,
		ScriptPaths:    scriptPaths,
	}, logger, inhibitMgr, procGroup, consoleActivateFunc(consoles, "seat0"),
		func(uid uint32) (string, error) { return runtimeProv.Ensure(uid, gidForUID(uid)) },
		runtimeProv.Teardown,
	)

	for id, mon := range consoles {
		if id == "seat0" {
			continue
		}
		mgr.AddStaticSeat(id, mon.RequestActivate)
	}
	collector.SetSeats(len(mustList(mgr.ListSeats())))

	srv, err = busapi.New(mgr, mgrLoop, logger)
	if err != nil {
		return fmt.Errorf("start bus server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { mgrLoop.Run(gCtx); return nil })

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	startVTDispatch(gCtx, g, consoles, mgr, mgrLoop, srv, collector, logger)
	startEventlogLoop(gCtx, g, cfg.Runtime.RunDir+"/database", mgr, mgrLoop)
	startRuntimeDirReaper(gCtx, g, mgr, mgrLoop, runtimeProv, logger)
	startFireTimerDrain(gCtx, g, mgr, mgrLoop, emitPrepare)
	startInhibitCloseDrain(gCtx, g, inhibitMgr, mgrLoop, logger)
	startVTSignalDispatch(gCtx, g, mgr, mgrLoop, logger)

	g.Go(func() error { handleSIGUSR1(gCtx, logLevel, logger); return nil })
	if !noDaemon {
		g.Go(func() error { return runWatchdog(gCtx, logger) })
		notifyReady(logger)
	}

	if timedExit > 0 {
		g.Go(func() error {
			t := time.NewTimer(timedExit)
			defer t.Stop()
			select {
			case <-gCtx.Done():
			case <-t.C:
				stop()
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, noDaemon, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	logger.Info("ckd stopped")
	return nil
}

func mustList(ids []string, _ error) []string { return ids }

// -------------------------------------------------------------------------
// Console / VT wiring
// -------------------------------------------------------------------------

// openConsoles merges the daemon's own YAML-configured seat list with
// the declarative on-disk seats.d entries, opens a vtmonitor.Monitor
// for each reachable console, and falls back to seat0/tty0 when
// nothing else is configured. A seat whose console can't be opened
// (no VT support on this platform, device missing) is simply left out
// of the map; Manager still tracks it, it just never receives VT
// switch notifications.
func openConsoles(cfgSeats []config.SeatConfig, declared []seatconfig.Seat) map[string]*vtmonitor.Monitor {
	paths := map[string]string{}
	for _, sc := range cfgSeats {
		paths[sc.ID] = sc.ConsolePath
	}
	for _, sc := range declared {
		paths[sc.ID] = sc.ConsolePath
	}
	if len(paths) == 0 {
		paths["seat0"] = "/dev/tty0"
	}

	monitors := make(map[string]*vtmonitor.Monitor, len(paths))
	for id, path := range paths {
		mon, err := vtmonitor.Open(path)
		if err != nil {
			continue
		}
		monitors[id] = mon
	}
	return monitors
}

func closeConsoles(consoles map[string]*vtmonitor.Monitor) {
	for _, mon := range consoles {
		mon.Close()
	}
}

func consoleActivateFunc(consoles map[string]*vtmonitor.Monitor, seatID string) func(int) error {
	return func(num int) error {
		if mon, ok := consoles[seatID]; ok {
			return mon.RequestActivate(num)
		}
		return nil
	}
}

// startVTDispatch runs one goroutine per seat draining its VT monitor
// and applying the election result to that seat's Manager-owned
// state. This is one of several background paths (startVTSignalDispatch
// and the drains are others) that change Seat/Session state outside
// the D-Bus method handlers themselves, keeping the
// cooperative single-threaded model intact: a VT switch on seat1
// never blocks processing of a switch on seat0.
func startVTDispatch(ctx context.Context, g *errgroup.Group, consoles map[string]*vtmonitor.Monitor, mgr *manager.Manager, mgrLoop *manager.Loop, srv *busapi.Server, collector *ckmetrics.Collector, logger *slog.Logger) {
	for seatID, mon := range consoles {
		seatID, mon := seatID, mon
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case change, ok := <-mon.Changes():
					if !ok {
						return nil
					}
					if change.Err != nil {
						logger.Warn("vtmonitor: wait failed", slog.String("seat", seatID), slog.String("error", change.Err.Error()))
						continue
					}
					var winner *session.Session
					var sessionCount int
					mgrLoop.Do(func() {
						st, ok := mgr.Seat(seatID)
						if !ok {
							return
						}
						winner = st.Elect(change.VTNum,
							func(sess *session.Session) { sess.BeginDeactivate(sess.ForceDeactivate) },
							func(sess *session.Session) { sess.PromoteActive() },
						)
						sessionCount = len(mustList(mgr.ListSessions()))
					})
					if winner != nil {
						srv.EmitActiveSessionChanged(seatID, winner.ID)
					}
					collector.SetSessions(sessionCount)
				}
			}
		})
	}
}

// startEventlogLoop periodically refreshes the on-disk state dump. The
// dump itself reads several Manager maps that aren't safe to touch
// outside the loop goroutine, so the whole refresh runs inside a
// single mgrLoop.Do rather than just the individual lookups.
func startEventlogLoop(ctx context.Context, g *errgroup.Group, path string, mgr *manager.Manager, mgrLoop *manager.Loop) {
	g.Go(func() error {
		ticker := time.NewTicker(eventlogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				mgrLoop.Do(func() { dumpEventlog(path, mgr) })
			}
		}
	})
}

func dumpEventlog(path string, mgr *manager.Manager) {
	seatIDs, err := mgr.ListSeats()
	if err != nil {
		return
	}
	sessionIDs, err := mgr.ListSessions()
	if err != nil {
		return
	}
	snap := eventlog.Snapshot{SeatIDs: seatIDs}
	for _, id := range sessionIDs {
		sess, ok := mgr.Session(id)
		if !ok {
			continue
		}
		seatID, _ := mgr.SeatIDForSession(id)
		snap.Sessions = append(snap.Sessions, eventlog.SessionRecord{
			ID:         sess.ID,
			UID:        sess.UID,
			SeatID:     seatID,
			IsLocal:    sess.IsLocal,
			RuntimeDir: sess.RuntimeDir(),
		})
	}
	_ = eventlog.Write(path, snap)
}

// startRuntimeDirReaper is a backstop sweep for XDG runtime directories
// CloseSession's own teardownRuntimeDir callback missed — a session
// whose process group never reports empty, a daemon restart that lost
// the in-memory session table while a directory survived on disk. The
// common case (teardown on a uid's last session closing) now happens
// synchronously in Manager.CloseSession; this ticker only catches what
// that path couldn't.
func startRuntimeDirReaper(ctx context.Context, g *errgroup.Group, mgr *manager.Manager, mgrLoop *manager.Loop, prov *runtimedir.Provisioner, logger *slog.Logger) {
	g.Go(func() error {
		ticker := time.NewTicker(eventlogInterval)
		defer ticker.Stop()
		seen := map[uint32]bool{}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				live := map[uint32]bool{}
				mgrLoop.Do(func() {
					ids, err := mgr.ListSessions()
					if err != nil {
						return
					}
					for _, id := range ids {
						if sess, ok := mgr.Session(id); ok {
							live[sess.UID] = true
						}
					}
				})
				for uid := range seen {
					if !live[uid] {
						if err := prov.Teardown(uid); err != nil {
							logger.Warn("runtimedir: teardown failed", slog.Uint64("uid", uint64(uid)), slog.String("error", err.Error()))
						}
						delete(seen, uid)
					}
				}
				for uid := range live {
					seen[uid] = true
				}
			}
		}
	})
}

// startFireTimerDrain drains the pipeline's delay-timer firings and
// runs their follow-up through mgrLoop, keeping HandleFiredTimer on
// the same goroutine as every other Manager mutation.
func startFireTimerDrain(ctx context.Context, g *errgroup.Group, mgr *manager.Manager, mgrLoop *manager.Loop, emitPrepare manager.EmitPrepare) {
	ch := mgr.FireTimerChannel()
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case st := <-ch:
				mgrLoop.Post(func() { mgr.HandleFiredTimer(st, emitPrepare) })
			}
		}
	})
}

// startInhibitCloseDrain watches for inhibitor locks whose FIFO write
// end lost every client reference (the holder died without calling
// UnInhibit) and removes them through mgrLoop, since inhibit.Manager
// documents itself as touched only from the single event-loop
// goroutine.
func startInhibitCloseDrain(ctx context.Context, g *errgroup.Group, inhibitMgr *inhibit.Manager, mgrLoop *manager.Loop, logger *slog.Logger) {
	ch := inhibitMgr.Closed()
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case id, ok := <-ch:
				if !ok {
					return nil
				}
				mgrLoop.Post(func() {
					if err := inhibitMgr.RemoveLock(id); err != nil {
						logger.Warn("inhibit: remove lock failed", slog.String("id", id), slog.String("error", err.Error()))
					}
				})
			}
		}
	})
}

// startVTSignalDispatch arms a second, independent SIGUSR1/SIGUSR2
// registration — os/signal lets more than one channel claim the same
// signal number, the same way ck-session.c's per-session
// g_unix_signal_add_full watches coexist with main.c's own SIGUSR1
// handler — and fans each receipt out to every live session with an
// armed VT handshake.
func startVTSignalDispatch(ctx context.Context, g *errgroup.Group, mgr *manager.Manager, mgrLoop *manager.Loop, logger *slog.Logger) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	g.Go(func() error {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-sigs:
				mgrLoop.Post(func() { dispatchVTSignal(mgr, sig, logger) })
			}
		}
	})
}

func dispatchVTSignal(mgr *manager.Manager, sig os.Signal, logger *slog.Logger) {
	ids, err := mgr.ListSessions()
	if err != nil {
		return
	}
	for _, id := range ids {
		sess, ok := mgr.Session(id)
		if !ok {
			continue
		}
		var dispatchErr error
		switch sig {
		case syscall.SIGUSR1:
			dispatchErr = sess.OnVTReleaseRequest()
		case syscall.SIGUSR2:
			dispatchErr = sess.OnVTAcquire()
		default:
			continue
		}
		if dispatchErr != nil {
			logger.Warn("session: VT signal dispatch failed", slog.String("session", id), slog.String("error", dispatchErr.Error()))
		}
	}
}

// -------------------------------------------------------------------------
// Systemd integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}

// handleSIGUSR1 toggles the shared log level between info and debug.
// This daemon's operational config is otherwise static after start,
// unlike the teacher's config-reload-on-SIGHUP, since reloading a live
// seat/session topology mid-flight has no well-defined semantics.
func handleSIGUSR1(ctx context.Context, level *slog.LevelVar, logger *slog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			if level.Level() == slog.LevelDebug {
				level.Set(slog.LevelInfo)
				logger.Info("SIGUSR1: log level set to info")
			} else {
				level.Set(slog.LevelDebug)
				logger.Info("SIGUSR1: log level set to debug")
			}
		}
	}
}

// -------------------------------------------------------------------------
// Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, noDaemon bool, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	if !noDaemon {
		notifyStopping(logger)
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// HTTP / config / logging plumbing
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLogger(cfg config.LogConfig, level *slog.LevelVar, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	format := cfg.Format
	if debug {
		format = "text"
	}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func writePIDFile(path string) error {
	return os.WriteFile(path, fmt.Appendf(nil, "%d\n", os.Getpid()), 0o644)
}

// gidForUID resolves a user's primary group, the same os/user.LookupId
// pattern internal/procgroup uses to chown a session's cgroup. Falling
// back to uid itself keeps Ensure's mkdir from failing outright when
// NSS has nothing for this uid (containers with a bare /etc/passwd).
func gidForUID(uid uint32) uint32 {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return uid
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return uid
	}
	return uint32(gid)
}
