//go:build linux

package device

import evdev "github.com/gvalkov/golang-evdev"

// evdevCapabilities opens path as its own short-lived evdev handle
// purely to read back the kernel's advertised capability bitmaps
// (EV_KEY, EV_REL, …), independent of the fd TakeDevice hands to the
// controller. The authority transitions themselves (EVIOCREVOKE) stay
// on the raw ioctl path in sysdeps, since this library predates that
// ioctl and does not expose it.
func evdevCapabilities(path string) ([]string, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	names := make([]string, 0, len(dev.Capabilities))
	for capType := range dev.Capabilities {
		names = append(names, capType.Name)
	}
	return names, nil
}
