//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package forwarding

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func readState(p Platform) (bool, error) {
	if p != PlatformBSD {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	v, err := unix.SysctlUint32("net.inet.ip.forwarding")
	if err != nil {
		return false, fmt.Errorf("sysctl net.inet.ip.forwarding: %w", err)
	}
	return v == 1, nil
}
