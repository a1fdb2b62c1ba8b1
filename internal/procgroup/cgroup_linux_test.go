//go:build linux

package procgroup_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/consolekit-go/ckd/internal/procgroup"
)

func TestGetSsidParsesCpuacctLine(t *testing.T) {
	t.Parallel()

	pid := os.Getpid()
	dir := t.TempDir()
	g := procgroup.NewCgroupGroup(dir)

	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cgroup"))
	if err != nil {
		t.Skipf("cannot read own cgroup membership: %v", err)
	}
	if len(data) == 0 {
		t.Skip("no cgroup data available in this environment")
	}

	if _, err := g.GetSsid(pid); err != nil {
		t.Fatalf("GetSsid(%d) = %v", pid, err)
	}
}

func TestRemoveEmptyIsIdempotentOnMissingGroup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g := procgroup.NewCgroupGroup(dir)

	if err := g.RemoveEmpty("no-such-session"); err != nil {
		t.Fatalf("RemoveEmpty on missing group = %v, want nil", err)
	}
}
