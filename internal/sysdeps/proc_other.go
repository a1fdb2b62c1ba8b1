//go:build !linux

package sysdeps

// ProcessExists is unsupported outside Linux.
func ProcessExists(pid int) bool { return false }

// ProcessUID is unsupported outside Linux.
func ProcessUID(pid int) (uint32, error) { return 0, ErrNotSupported }

// ProcessEnv is unsupported outside Linux.
func ProcessEnv(pid int, key string) (string, bool, error) { return "", false, ErrNotSupported }
