//go:build windows || plan9

package log

import "errors"

func EnableSyslog(string) error {
	return errors.New("syslog is not available on this platform")
}
