//go:build linux

package sysdeps

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ProcessExists reports whether pid is still a live process, by
// sending the null signal per kill(2).
func ProcessExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// ProcessUID reads the real uid of pid from /proc/<pid>/status.
func ProcessUID(pid int) (uint32, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, fmt.Errorf("open status for pid %d: %w", pid, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed Uid line for pid %d: %q", pid, line)
		}
		uid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("parse uid for pid %d: %w", pid, err)
		}
		return uint32(uid), nil
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan status for pid %d: %w", pid, err)
	}
	return 0, fmt.Errorf("no Uid line in status for pid %d", pid)
}

// ProcessEnv looks up a single environment variable from
// /proc/<pid>/environ, used to recover XDG_SESSION_ID-style hints the
// caller didn't pass explicitly. ok is false when the key is absent.
func ProcessEnv(pid int, key string) (value string, ok bool, err error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/environ", pid))
	if err != nil {
		return "", false, fmt.Errorf("read environ for pid %d: %w", pid, err)
	}
	prefix := key + "="
	for _, kv := range strings.Split(string(raw), "\x00") {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix), true, nil
		}
	}
	return "", false, nil
}
