package idlewatch_test

import (
	"testing"

	"github.com/consolekit-go/ckd/internal/idlewatch"
)

func TestSystemIdleHintVacuouslyTrue(t *testing.T) {
	t.Parallel()
	if !idlewatch.SystemIdleHint(nil) {
		t.Error("SystemIdleHint(nil) = false, want true")
	}
}

func TestSystemIdleHintAllIdle(t *testing.T) {
	t.Parallel()
	if !idlewatch.SystemIdleHint([]bool{true, true, true}) {
		t.Error("SystemIdleHint(all true) = false, want true")
	}
}

func TestSystemIdleHintOneActive(t *testing.T) {
	t.Parallel()
	if idlewatch.SystemIdleHint([]bool{true, false, true}) {
		t.Error("SystemIdleHint(one false) = true, want false")
	}
}

func TestOpenCloseDoesNotPanic(t *testing.T) {
	t.Parallel()
	w := idlewatch.Open("/nonexistent-tty-path")
	w.Close()
}
