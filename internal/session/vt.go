package session

import (
	"fmt"
	"os"

	"github.com/consolekit-go/ckd/internal/sysdeps"
)

// vtHandshake holds the per-session state of the VT process-mode
// dance (§4.2 "VT process-mode handshake"): the open tty, the kbd
// mode to restore, and the signals armed for release-request/acquire.
type vtHandshake struct {
	tty         *os.File
	savedKbdMode int
	releaseSig  int
	acquireSig  int
}

// BeginVTHandshake opens ttyPath, saves its keyboard mode, switches it
// into graphics mode with the keyboard off (K_OFF), and arms
// process-mode VT-switch ownership.
// Only meaningful for a session whose VTNr > 0 (a STATIC seat).
func (s *Session) BeginVTHandshake(ttyPath string, releaseSig, acquireSig int) error {
	if s.VTNr <= 0 {
		return fmt.Errorf("session: BeginVTHandshake called on non-VT session %s", s.ID)
	}
	f, err := os.OpenFile(ttyPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("session: open tty %s: %w", ttyPath, err)
	}

	savedMode, err := sysdeps.KDGetKeyboardMode(f.Fd())
	if err != nil {
		f.Close()
		return fmt.Errorf("session: KDGKBMODE %s: %w", ttyPath, err)
	}
	if err := sysdeps.KDSetKeyboardMode(f.Fd(), sysdeps.KeyboardModeOff); err != nil {
		f.Close()
		return fmt.Errorf("session: KDSKBMODE(OFF) %s: %w", ttyPath, err)
	}
	if err := sysdeps.KDSetGraphicsMode(f.Fd(), true); err != nil {
		f.Close()
		return fmt.Errorf("session: KDSETMODE(GRAPHICS) %s: %w", ttyPath, err)
	}
	if err := sysdeps.VTSetProcessMode(f.Fd(), releaseSig, acquireSig); err != nil {
		f.Close()
		return fmt.Errorf("session: VT_SETMODE(PROCESS) %s: %w", ttyPath, err)
	}

	s.vt = &vtHandshake{
		tty:          f,
		savedKbdMode: savedMode,
		releaseSig:   releaseSig,
		acquireSig:   acquireSig,
	}
	return nil
}

// OnVTReleaseRequest handles the kernel's release-request signal: force
// all devices paused, then acknowledge the release.
func (s *Session) OnVTReleaseRequest() error {
	if s.vt == nil {
		return nil
	}
	s.ForceDeactivate()
	return sysdeps.VTRelDisp(s.vt.tty.Fd(), 1)
}

// OnVTAcquire handles the kernel's acquire signal: acknowledge it.
func (s *Session) OnVTAcquire() error {
	if s.vt == nil {
		return nil
	}
	return sysdeps.VTRelDisp(s.vt.tty.Fd(), sysdeps.VTAckAcq)
}

// teardownVT restores kbd mode, text mode, and auto VT-switch, and
// closes the tty. Called on controller loss and session close.
func (s *Session) teardownVT() {
	if s.vt == nil {
		return
	}
	sysdeps.KDSetKeyboardMode(s.vt.tty.Fd(), s.vt.savedKbdMode)
	sysdeps.KDSetGraphicsMode(s.vt.tty.Fd(), false)
	sysdeps.VTSetAutoMode(s.vt.tty.Fd())
	s.vt.tty.Close()
	s.vt = nil
}
