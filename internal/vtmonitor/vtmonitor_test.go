package vtmonitor_test

import (
	"testing"

	"github.com/consolekit-go/ckd/internal/vtmonitor"
)

func TestOpenFailsOnMissingConsole(t *testing.T) {
	t.Parallel()
	if _, err := vtmonitor.Open("/nonexistent/console/path"); err == nil {
		t.Fatalf("Open(nonexistent) = nil error, want error")
	}
}
