// Package device manages the fd lifecycle of a single DRM/evdev/other
// device node on behalf of one Session. A Device is owned exclusively
// by that Session; there are no locks here because the single
// event-loop goroutine is the only caller.
package device

import (
	"fmt"
	"os"

	"github.com/consolekit-go/ckd/internal/sysdeps"
)

// Device tracks one taken device node: its (major, minor) identity,
// its category-specific authority protocol, and whether the kernel
// currently considers it active.
type Device struct {
	Major, Minor uint32
	Category     sysdeps.DeviceCategory
	// Capabilities lists the kernel event-type names (EV_KEY, EV_REL,
	// …) an EVDEV node advertises, probed once at Open time for
	// diagnostics; empty for non-EVDEV devices.
	Capabilities []string
	path         string

	file   *os.File
	active bool
}

// Open opens path, classifies it, and returns a Device in the given
// initial active state. Failure to open maps to NotSupported at the
// manager boundary (spec: "Failure to open is NOT_SUPPORTED").
func Open(path string, active bool) (*Device, error) {
	major, minor, err := sysdeps.StatRdev(path)
	if err != nil {
		return nil, fmt.Errorf("device: stat %s: %w", path, err)
	}
	f, err := sysdeps.OpenDeviceNode(path)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	d := &Device{
		Major:    major,
		Minor:    minor,
		Category: sysdeps.ClassifyDevice(major, minor),
		path:     path,
		file:     f,
		active:   false,
	}
	if d.Category == sysdeps.DeviceEvdev {
		if caps, err := evdevCapabilities(path); err == nil {
			d.Capabilities = caps
		}
	}
	if active {
		if err := d.SetActive(true); err != nil {
			f.Close()
			return nil, err
		}
	}
	return d, nil
}

// OpenByNumbers resolves the device node for (major, minor) itself —
// via sysdeps.DevicePathForNumbers, the same major:minor-to-node
// lookup libudev performs — rather than trusting a caller-supplied
// path, then opens it exactly like Open. This is the entry point
// TakeDevice uses; Open itself stays for callers (tests, fixtures)
// that already have a trusted path in hand.
func OpenByNumbers(major, minor uint32, active bool) (*Device, error) {
	path, err := sysdeps.DevicePathForNumbers(major, minor)
	if err != nil {
		return nil, fmt.Errorf("device: resolve %d:%d: %w", major, minor, err)
	}
	gotMajor, gotMinor, err := sysdeps.StatRdev(path)
	if err != nil {
		return nil, fmt.Errorf("device: stat %s: %w", path, err)
	}
	if gotMajor != major || gotMinor != minor {
		return nil, fmt.Errorf("device: resolved node %s is %d:%d, not %d:%d", path, gotMajor, gotMinor, major, minor)
	}
	return Open(path, active)
}

// Fd returns the current kernel file descriptor. For evdev devices
// this changes across a deactivate/reactivate cycle: the old fd is
// revoked permanently and a fresh one is opened on reactivation.
func (d *Device) Fd() uintptr { return d.file.Fd() }

// Active reports the in-memory active bit.
func (d *Device) Active() bool { return d.active }

// Compare reports whether d identifies the same device node as
// (major, minor).
func (d *Device) Compare(major, minor uint32) bool {
	return d.Major == major && d.Minor == minor
}

// SetActive transitions kernel-visible authority per §4.5's table:
// DRM toggles master, EVDEV revokes-then-reopens, OTHER is a no-op.
func (d *Device) SetActive(active bool) error {
	if d.active == active {
		return nil
	}
	switch d.Category {
	case sysdeps.DeviceDRM:
		if active {
			if err := sysdeps.DRMSetMaster(d.file.Fd()); err != nil {
				return fmt.Errorf("device: set master on %s: %w", d.path, err)
			}
		} else {
			if err := sysdeps.DRMDropMaster(d.file.Fd()); err != nil {
				return fmt.Errorf("device: drop master on %s: %w", d.path, err)
			}
		}
	case sysdeps.DeviceEvdev:
		if active {
			f, err := sysdeps.OpenDeviceNode(d.path)
			if err != nil {
				return fmt.Errorf("device: reopen evdev %s: %w", d.path, err)
			}
			d.file.Close()
			d.file = f
		} else {
			if err := sysdeps.EvdevRevoke(d.file.Fd()); err != nil {
				return fmt.Errorf("device: revoke evdev %s: %w", d.path, err)
			}
		}
	case sysdeps.DeviceOther:
		// no authority mechanism
	}
	d.active = active
	return nil
}

// Close deactivates the device (if still active) and closes its fd.
// Destruction always deactivates first, per §4.5.
func (d *Device) Close() error {
	if d.active {
		if err := d.SetActive(false); err != nil {
			d.file.Close()
			return err
		}
	}
	return d.file.Close()
}
