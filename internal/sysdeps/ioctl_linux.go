//go:build linux

package sysdeps

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM ioctl numbers (linux/drm.h), computed the same way
// helixml-helix/api/pkg/drm/ioctl_linux.go documents them:
//
//	_IO(type, nr) = (type << 8) | nr
const (
	ioctlDRMSetMaster  = 0x641e // DRM_IOCTL_SET_MASTER  = _IO('d', 0x1e)
	ioctlDRMDropMaster = 0x641f // DRM_IOCTL_DROP_MASTER = _IO('d', 0x1f)
)

// EVIOCREVOKE = _IOW('E', 0x91, int) (linux/input.h). Revokes a kernel
// input device fd permanently; the fd must be reopened to read events
// again. github.com/gvalkov/golang-evdev predates this ioctl, so it is
// issued directly rather than through that library.
const ioctlEvdevRevoke = 0x40044591

// linux/vt.h ioctl numbers and constants for the VT process-mode dance.
const (
	ioctlVTOpenQry     = 0x5600
	ioctlVTGetMode     = 0x5601
	ioctlVTSetMode     = 0x5602
	ioctlVTGetState    = 0x5603
	ioctlVTRelDisp     = 0x5605
	ioctlVTActivate    = 0x5606
	ioctlVTWaitActive  = 0x5607
	ioctlVTLockSwitch  = 0x560b
	ioctlVTUnlockSwith = 0x560c

	vtAuto    = 0x00
	vtProcess = 0x01
	vtAckAcq  = 2

	// linux/kd.h
	ioctlKDSetMode  = 0x4b3a
	ioctlKDGetMode  = 0x4b3b
	ioctlKDSKBMode  = 0x4b45
	ioctlKDGKBMode  = 0x4b44
	kdText          = 0x00
	kdGraphics      = 0x01
	kKeyboardXlate  = 0x01
	kKeyboardRaw    = 0x00
	kKeyboardUnicode = 0x03
	kKeyboardOff    = 0x04
)

// vtMode mirrors struct vt_mode from linux/vt.h.
type vtMode struct {
	Mode   int8
	Waitv  int8
	Relsig int16
	Acqsig int16
	Frsig  int16
}

// vtStat mirrors struct vt_stat from linux/vt.h.
type vtStat struct {
	Active uint16
	Signal uint16
	State  uint16
}

func ioctlInt(fd uintptr, req uintptr, arg int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlPtr(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// DRMSetMaster acquires DRM master authority on fd.
func DRMSetMaster(fd uintptr) error {
	if err := ioctlInt(fd, ioctlDRMSetMaster, 0); err != nil {
		return fmt.Errorf("DRM_IOCTL_SET_MASTER: %w", err)
	}
	return nil
}

// DRMDropMaster releases DRM master authority on fd.
func DRMDropMaster(fd uintptr) error {
	if err := ioctlInt(fd, ioctlDRMDropMaster, 0); err != nil {
		return fmt.Errorf("DRM_IOCTL_DROP_MASTER: %w", err)
	}
	return nil
}

// EvdevRevoke permanently mutes the input device fd; the caller must
// reopen the node to receive events again.
func EvdevRevoke(fd uintptr) error {
	if err := ioctlInt(fd, ioctlEvdevRevoke, 0); err != nil {
		return fmt.Errorf("EVIOCREVOKE: %w", err)
	}
	return nil
}

// VTGetActive returns the currently active VT number on the console fd.
func VTGetActive(consoleFd uintptr) (int, error) {
	var st vtStat
	if err := ioctlPtr(consoleFd, ioctlVTGetState, unsafe.Pointer(&st)); err != nil {
		return 0, fmt.Errorf("VT_GETSTATE: %w", err)
	}
	return int(st.Active), nil
}

// VTActivate requests a switch to VT num.
func VTActivate(consoleFd uintptr, num int) error {
	if err := ioctlInt(consoleFd, ioctlVTActivate, num); err != nil {
		return fmt.Errorf("VT_ACTIVATE: %w", err)
	}
	return nil
}

// VTWaitActive blocks until VT num becomes active. Called from a
// dedicated goroutine by internal/vtmonitor; never from the event loop.
func VTWaitActive(consoleFd uintptr, num int) error {
	if err := ioctlInt(consoleFd, ioctlVTWaitActive, num); err != nil {
		return fmt.Errorf("VT_WAITACTIVE: %w", err)
	}
	return nil
}

// VTSetProcessMode switches VT-switch ownership to process mode,
// arming releaseSig/acquireSig as the signals the kernel delivers on
// release-request and acquire.
func VTSetProcessMode(consoleFd uintptr, releaseSig, acquireSig int) error {
	mode := vtMode{
		Mode:   vtProcess,
		Waitv:  0,
		Relsig: int16(releaseSig),
		Acqsig: int16(acquireSig),
		Frsig:  0,
	}
	if err := ioctlPtr(consoleFd, ioctlVTSetMode, unsafe.Pointer(&mode)); err != nil {
		return fmt.Errorf("VT_SETMODE(PROCESS): %w", err)
	}
	return nil
}

// VTSetAutoMode restores the kernel's automatic VT-switch behavior.
func VTSetAutoMode(consoleFd uintptr) error {
	mode := vtMode{Mode: vtAuto}
	if err := ioctlPtr(consoleFd, ioctlVTSetMode, unsafe.Pointer(&mode)); err != nil {
		return fmt.Errorf("VT_SETMODE(AUTO): %w", err)
	}
	return nil
}

// VTRelDisp acknowledges a pending VT switch. val is 1 to allow the
// release, 0 to refuse it, or VT_ACKACQ after an acquire notification.
func VTRelDisp(consoleFd uintptr, val int) error {
	if err := ioctlInt(consoleFd, ioctlVTRelDisp, val); err != nil {
		return fmt.Errorf("VT_RELDISP: %w", err)
	}
	return nil
}

// VTAckAcq is the VT_RELDISP argument used to acknowledge an acquire.
const VTAckAcq = vtAckAcq

// KDSetGraphicsMode puts the VT into KD_GRAPHICS (true) or KD_TEXT (false).
func KDSetGraphicsMode(consoleFd uintptr, graphics bool) error {
	m := kdText
	if graphics {
		m = kdGraphics
	}
	if err := ioctlInt(consoleFd, ioctlKDSetMode, m); err != nil {
		return fmt.Errorf("KDSETMODE: %w", err)
	}
	return nil
}

// KDGetKeyboardMode returns the current keyboard mode (K_XLATE, K_OFF, …).
func KDGetKeyboardMode(consoleFd uintptr) (int, error) {
	var mode int
	if err := ioctlPtr(consoleFd, ioctlKDGKBMode, unsafe.Pointer(&mode)); err != nil {
		return 0, fmt.Errorf("KDGKBMODE: %w", err)
	}
	return mode, nil
}

// KDSetKeyboardMode sets the keyboard mode (K_OFF while a session holds
// graphics mode, K_XLATE/K_UNICODE to restore normal text input).
func KDSetKeyboardMode(consoleFd uintptr, mode int) error {
	if err := ioctlInt(consoleFd, ioctlKDSKBMode, mode); err != nil {
		return fmt.Errorf("KDSKBMODE: %w", err)
	}
	return nil
}

// KeyboardModeOff and KeyboardModeXlate are the two modes the session
// VT dance switches between.
const (
	KeyboardModeOff   = kKeyboardOff
	KeyboardModeXlate = kKeyboardXlate
)

// MountRuntimeTmpfs attempts to mount a small tmpfs at path for a
// per-user runtime directory. Failure is non-fatal to the caller: a
// plain directory on the root filesystem is an acceptable fallback.
func MountRuntimeTmpfs(path string, uid, gid int, sizeBytes int64) error {
	opts := fmt.Sprintf("mode=0700,uid=%d,gid=%d,size=%d", uid, gid, sizeBytes)
	if err := unix.Mount("tmpfs", path, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, opts); err != nil {
		return fmt.Errorf("mount tmpfs at %s: %w", path, err)
	}
	return nil
}

// UnmountRuntime lazily unmounts a previously mounted runtime directory.
func UnmountRuntime(path string) error {
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", path, err)
	}
	return nil
}

// ChownPath changes the owner of path, used to hand a per-user runtime
// directory to its uid.
func ChownPath(path string, uid, gid int) error {
	if err := os.Chown(path, uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	return nil
}

// drmMajor and the evdev major are the conventional Linux device
// numbers used to classify a device node the same way
// original_source/src/ck-device-udev.c reads them from udev properties.
const (
	drmMajor   = 226
	inputMajor = 13
)

// ClassifyDevice maps a device node's major number to the authority
// protocol the daemon must use when handing it off between sessions.
func ClassifyDevice(major, minor uint32) DeviceCategory {
	switch major {
	case drmMajor:
		return DeviceDRM
	case inputMajor:
		return DeviceEvdev
	default:
		return DeviceOther
	}
}

// OpenDeviceNode opens a device node for handoff: read-write, not
// inherited across exec, and non-blocking so a stalled device can't
// wedge the caller.
func OpenDeviceNode(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open device node %s: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// StatRdev returns the major/minor pair of the device node at path.
func StatRdev(path string) (major, minor uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return unix.Major(st.Rdev), unix.Minor(st.Rdev), nil
}

// DevicePathForNumbers resolves the device node path for (major,minor)
// through the /sys/dev/char symlink, the in-kernel equivalent of the
// major:minor-to-node lookup ck-device-udev.c performs via libudev.
// This lets TakeDevice resolve a node from numbers the privileged
// daemon trusts instead of a path a session controller supplies.
func DevicePathForNumbers(major, minor uint32) (string, error) {
	sysPath := fmt.Sprintf("/sys/dev/char/%d:%d", major, minor)
	link, err := os.Readlink(sysPath)
	if err != nil {
		return "", fmt.Errorf("resolve device %d:%d: %w", major, minor, err)
	}
	return "/dev/" + filepath.Base(link), nil
}
