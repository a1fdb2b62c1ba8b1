// Package procgroup tags a session leader process, and transitively
// all its descendants, with the owning session id so that
// GetSessionForUnixProcess can resolve a pid back to its session even
// after the leader double-forks or forgets to propagate
// XDG_SESSION_COOKIE. On Linux this rides the cgroup cpuacct
// controller, the same mechanism original_source/src/ck-process-group.c
// uses (there via cgmanager's D-Bus API; here directly against
// cgroupfs, since no cgroup client library appears anywhere in the
// retrieved example set). On platforms without a grouping facility,
// Group is a no-op and callers fall back to the environment-variable
// resolution path.
package procgroup

// Group tags processes with a session id via the platform's process
// grouping facility.
type Group interface {
	// Create places pid into a new group named ssid and chowns the
	// group to uid and uid's primary group. It does not arm
	// auto-removal: a group that empties out stays in place.
	// Returns false if process groups are unsupported here.
	Create(pid int, ssid string, uid uint32) (bool, error)

	// GetSsid returns the group name owning pid, or "" if pid belongs
	// to no managed group (including the root/unknown group).
	GetSsid(pid int) (string, error)
}
