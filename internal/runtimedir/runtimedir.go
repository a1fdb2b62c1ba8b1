// Package runtimedir provisions and tears down the per-uid XDG runtime
// directory a session's environment reports as XDG_RUNTIME_DIR,
// grounded on original_source/src/ck-session.c's runtime_dir handling.
// It is a thin external collaborator (spec §1): callers decide when a
// directory is needed and when the last session for a uid has closed.
package runtimedir

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/consolekit-go/ckd/internal/sysdeps"
)

// DefaultSizeBytes bounds the optional tmpfs mount; ConsoleKit itself
// left this to distro policy, so this is only a starting default.
const DefaultSizeBytes = 64 * 1024 * 1024

// Provisioner creates and removes per-uid runtime directories under
// root, optionally backing each with a tmpfs mount.
type Provisioner struct {
	root      string
	mountfs   bool
	sizeBytes int64
}

// New constructs a Provisioner rooted at root (e.g. "/run/user").
func New(root string, mountTmpfs bool, sizeBytes int64) *Provisioner {
	if sizeBytes <= 0 {
		sizeBytes = DefaultSizeBytes
	}
	return &Provisioner{root: root, mountfs: mountTmpfs, sizeBytes: sizeBytes}
}

// Path returns the runtime directory path for uid, without creating it.
func (p *Provisioner) Path(uid uint32) string {
	return filepath.Join(p.root, strconv.FormatUint(uint64(uid), 10))
}

// Ensure creates uid's runtime directory if it doesn't already exist,
// mounting a tmpfs over it when configured, and returns its path.
func (p *Provisioner) Ensure(uid, gid uint32) (string, error) {
	dir := p.Path(uid)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("runtimedir: mkdir %s: %w", dir, err)
	}
	if err := sysdeps.ChownPath(dir, int(uid), int(gid)); err != nil && err != sysdeps.ErrNotSupported {
		return "", fmt.Errorf("runtimedir: chown %s: %w", dir, err)
	}
	if p.mountfs {
		if err := sysdeps.MountRuntimeTmpfs(dir, int(uid), int(gid), p.sizeBytes); err != nil && err != sysdeps.ErrNotSupported {
			return "", fmt.Errorf("runtimedir: mount tmpfs %s: %w", dir, err)
		}
	}
	return dir, nil
}

// Teardown removes uid's runtime directory, unmounting its tmpfs
// first if one was configured. Callers must only call this once the
// last session for uid has closed (internal/manager tracks this via
// SessionCountForUID).
func (p *Provisioner) Teardown(uid uint32) error {
	dir := p.Path(uid)
	if p.mountfs {
		if err := sysdeps.UnmountRuntime(dir); err != nil && err != sysdeps.ErrNotSupported {
			return fmt.Errorf("runtimedir: unmount %s: %w", dir, err)
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("runtimedir: remove %s: %w", dir, err)
	}
	return nil
}
