package busapi

import (
	"time"

	"github.com/consolekit-go/ckd/internal/session"
	"github.com/consolekit-go/ckd/internal/sysdeps"
)

// collectParams gathers the process-derived Session attributes of §3
// for the caller identified by pid/uid: environment hints the process
// set for itself (XDG_SESSION_TYPE, DISPLAY, …) read from
// /proc/<pid>/environ. This mirrors ck-get-x11-display-device.c's role
// in the original — a best-effort external collaborator, not part of
// the domain's own state.
func collectParams(pid, uid uint32) session.Params {
	p := session.Params{
		UID:          uid,
		CreationTime: time.Now(),
	}

	if v, ok, _ := sysdeps.ProcessEnv(int(pid), "XDG_SESSION_TYPE"); ok {
		p.Type = v
	}
	if v, ok, _ := sysdeps.ProcessEnv(int(pid), "XDG_SESSION_CLASS"); ok {
		p.Class = v
	}
	if v, ok, _ := sysdeps.ProcessEnv(int(pid), "XDG_SESSION_DESKTOP"); ok {
		p.Service = v
	}
	if v, ok, _ := sysdeps.ProcessEnv(int(pid), "XDG_SESSION_ID"); ok {
		p.LoginSessionID = v
	}
	if v, ok, _ := sysdeps.ProcessEnv(int(pid), "DISPLAY"); ok {
		p.X11Display = v
	}

	return p
}

// envCookieOf reads the cookie a session's own descendant processes
// carry in their environment, the fallback GetSessionForUnixProcess
// uses when the process-group tagger has no record of pid (ported from
// ck-manager.c's ck_unix_pid_get_env(pid, "XDG_SESSION_COOKIE") path).
func envCookieOf(pid int) string {
	v, ok, _ := sysdeps.ProcessEnv(pid, "XDG_SESSION_COOKIE")
	if !ok {
		return ""
	}
	return v
}

// paramsFromPairs decodes the (key, variant) pairs OpenSessionWithParameters
// receives into a session.Params, the same dictionary shape
// ck-manager.c's open_session_for_user builds from a GHashTable of
// GVariants.
func paramsFromPairs(pairs [][]interface{}) session.Params {
	var p session.Params
	p.CreationTime = time.Now()
	for _, kv := range pairs {
		if len(kv) != 2 {
			continue
		}
		key, _ := kv[0].(string)
		switch key {
		case "type":
			p.Type, _ = kv[1].(string)
		case "class":
			p.Class, _ = kv[1].(string)
		case "desktop-names":
			// not tracked as a typed field; ignored.
		case "x11-display-device":
			p.X11DisplayDevice, _ = kv[1].(string)
		case "display-device":
			p.DisplayDevice, _ = kv[1].(string)
		case "x11-display":
			p.X11Display, _ = kv[1].(string)
		case "remote-host-name":
			p.RemoteHostName, _ = kv[1].(string)
		case "session-type":
			p.Type, _ = kv[1].(string)
		case "is-local":
			p.IsLocal, _ = kv[1].(bool)
		case "login-session-id":
			p.LoginSessionID, _ = kv[1].(string)
		case "vtnr":
			switch n := kv[1].(type) {
			case int32:
				p.VTNr = int(n)
			case uint32:
				p.VTNr = int(n)
			case int:
				p.VTNr = n
			}
		}
	}
	return p
}
