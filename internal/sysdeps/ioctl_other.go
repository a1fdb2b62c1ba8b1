//go:build !linux

package sysdeps

import "os"

// ClassifyDevice is unsupported outside Linux.
func ClassifyDevice(major, minor uint32) DeviceCategory { return DeviceOther }

// OpenDeviceNode is unsupported outside Linux.
func OpenDeviceNode(path string) (*os.File, error) { return nil, ErrNotSupported }

// StatRdev is unsupported outside Linux.
func StatRdev(path string) (major, minor uint32, err error) { return 0, 0, ErrNotSupported }

// DevicePathForNumbers is unsupported outside Linux.
func DevicePathForNumbers(major, minor uint32) (string, error) { return "", ErrNotSupported }

// DRMSetMaster is unsupported outside Linux.
func DRMSetMaster(fd uintptr) error { return ErrNotSupported }

// DRMDropMaster is unsupported outside Linux.
func DRMDropMaster(fd uintptr) error { return ErrNotSupported }

// EvdevRevoke is unsupported outside Linux.
func EvdevRevoke(fd uintptr) error { return ErrNotSupported }

// VTGetActive is unsupported outside Linux.
func VTGetActive(consoleFd uintptr) (int, error) { return 0, ErrNotSupported }

// VTActivate is unsupported outside Linux.
func VTActivate(consoleFd uintptr, num int) error { return ErrNotSupported }

// VTWaitActive is unsupported outside Linux.
func VTWaitActive(consoleFd uintptr, num int) error { return ErrNotSupported }

// VTSetProcessMode is unsupported outside Linux.
func VTSetProcessMode(consoleFd uintptr, releaseSig, acquireSig int) error {
	return ErrNotSupported
}

// VTSetAutoMode is unsupported outside Linux.
func VTSetAutoMode(consoleFd uintptr) error { return ErrNotSupported }

// VTRelDisp is unsupported outside Linux.
func VTRelDisp(consoleFd uintptr, val int) error { return ErrNotSupported }

// VTAckAcq has no meaning outside Linux; kept so callers compile.
const VTAckAcq = 2

// KDSetGraphicsMode is unsupported outside Linux.
func KDSetGraphicsMode(consoleFd uintptr, graphics bool) error { return ErrNotSupported }

// KDGetKeyboardMode is unsupported outside Linux.
func KDGetKeyboardMode(consoleFd uintptr) (int, error) { return 0, ErrNotSupported }

// KDSetKeyboardMode is unsupported outside Linux.
func KDSetKeyboardMode(consoleFd uintptr, mode int) error { return ErrNotSupported }

// KeyboardModeOff and KeyboardModeXlate mirror the Linux constants so
// callers compile on every platform.
const (
	KeyboardModeOff   = 4
	KeyboardModeXlate = 1
)

// MountRuntimeTmpfs is unsupported outside Linux.
func MountRuntimeTmpfs(path string, uid, gid int, sizeBytes int64) error { return ErrNotSupported }

// UnmountRuntime is unsupported outside Linux.
func UnmountRuntime(path string) error { return ErrNotSupported }

// ChownPath is unsupported outside Linux.
func ChownPath(path string, uid, gid int) error { return ErrNotSupported }
