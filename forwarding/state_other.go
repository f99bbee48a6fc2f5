//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package forwarding

import "fmt"

func readState(p Platform) (bool, error) {
	return false, fmt.Errorf("%w: cannot read forwarding state on %s", ErrUnsupportedPlatform, p)
}
