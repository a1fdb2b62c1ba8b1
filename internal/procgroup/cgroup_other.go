//go:build !linux

package procgroup

// NoopGroup is the fallback Group on platforms with no process
// grouping facility; resolution falls through to the
// XDG_SESSION_COOKIE environment-variable path.
type NoopGroup struct{}

// NewCgroupGroup returns a NoopGroup outside Linux so callers compile
// unconditionally; root is ignored.
func NewCgroupGroup(root string) *NoopGroup { return &NoopGroup{} }

// Create implements Group and always reports unsupported.
func (*NoopGroup) Create(pid int, ssid string, uid uint32) (bool, error) { return false, nil }

// GetSsid implements Group and always reports no membership.
func (*NoopGroup) GetSsid(pid int) (string, error) { return "", nil }
