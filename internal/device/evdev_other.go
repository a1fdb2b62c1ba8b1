//go:build !linux

package device

import "github.com/consolekit-go/ckd/internal/sysdeps"

func evdevCapabilities(path string) ([]string, error) {
	return nil, sysdeps.ErrNotSupported
}
