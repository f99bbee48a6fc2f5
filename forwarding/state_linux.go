//go:build linux

package forwarding

import (
	"fmt"
	"os"
	"strings"
)

var procIPForward = "/proc/sys/net/ipv4/ip_forward"

func readState(p Platform) (bool, error) {
	if p != PlatformLinux {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	data, err := os.ReadFile(procIPForward)
	if err != nil {
		return false, fmt.Errorf("read ip_forward: %w", err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}
