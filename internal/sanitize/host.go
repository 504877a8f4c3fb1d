package sanitize

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/host"
)

// LocalHostname returns override if set, otherwise the host name reported by
// the system, or "unknown".
func LocalHostname(ctx context.Context, override string) string {
	if override != "" {
		return override
	}
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "unknown"
}
