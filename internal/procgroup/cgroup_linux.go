//go:build linux

package procgroup

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

const cpuacctRoot = "/sys/fs/cgroup/cpuacct"

// CgroupGroup implements Group against the cpuacct cgroup hierarchy.
// It mirrors ConsoleKit2's original intent exactly: cgroups are used
// here purely to tag a process tree with a string, not for resource
// accounting.
type CgroupGroup struct {
	root string
}

// NewCgroupGroup returns a Group rooted at the default cpuacct
// hierarchy, or at root if non-empty (used by tests).
func NewCgroupGroup(root string) *CgroupGroup {
	if root == "" {
		root = cpuacctRoot
	}
	return &CgroupGroup{root: root}
}

func (g *CgroupGroup) groupDir(ssid string) string {
	return filepath.Join(g.root, ssid)
}

// Create implements Group.
func (g *CgroupGroup) Create(pid int, ssid string, uid uint32) (bool, error) {
	if _, err := os.Stat(g.root); err != nil {
		return false, nil
	}
	dir := g.groupDir(ssid)
	if err := os.Mkdir(dir, 0755); err != nil && !os.IsExist(err) {
		return false, fmt.Errorf("procgroup: create cgroup %s: %w", dir, err)
	}

	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false, fmt.Errorf("procgroup: lookup uid %d: %w", uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return false, fmt.Errorf("procgroup: parse gid for uid %d: %w", uid, err)
	}
	if err := os.Chown(dir, int(uid), gid); err != nil {
		return false, fmt.Errorf("procgroup: chown cgroup %s: %w", dir, err)
	}

	procsFile := filepath.Join(dir, "cgroup.procs")
	if err := os.WriteFile(procsFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return false, fmt.Errorf("procgroup: move pid %d into %s: %w", pid, dir, err)
	}

	// release_agent-based auto-remove is system-wide policy and is not
	// armed here; a group that empties out stays until RemoveEmpty is
	// called for it.
	return true, nil
}

// GetSsid implements Group.
func (g *CgroupGroup) GetSsid(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", fmt.Errorf("procgroup: read cgroup membership for pid %d: %w", pid, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		// Format: hierarchy-id:controller-list:cgroup-path
		fields := strings.SplitN(line, ":", 3)
		if len(fields) != 3 {
			continue
		}
		controllers := strings.Split(fields[1], ",")
		if !containsCpuacct(controllers) {
			continue
		}
		path := strings.TrimPrefix(fields[2], "/")
		if path == "" {
			// root/unknown group
			return "", nil
		}
		return path, nil
	}
	return "", nil
}

// RemoveEmpty removes ssid's cgroup if it currently has no member
// processes, reclaiming what a release_agent would otherwise do.
func (g *CgroupGroup) RemoveEmpty(ssid string) error {
	dir := g.groupDir(ssid)
	data, err := os.ReadFile(filepath.Join(dir, "cgroup.procs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("procgroup: read cgroup.procs for %s: %w", ssid, err)
	}
	if strings.TrimSpace(string(data)) != "" {
		return nil
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("procgroup: remove empty cgroup %s: %w", ssid, err)
	}
	return nil
}

func containsCpuacct(controllers []string) bool {
	for _, c := range controllers {
		if c == "cpuacct" {
			return true
		}
	}
	return false
}
