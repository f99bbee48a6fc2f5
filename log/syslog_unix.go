//go:build !windows && !plan9

package log

import "log/syslog"

// EnableSyslog connects to the local syslog daemon and attaches it as a sink.
func EnableSyslog(tag string) error {
	sw, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return err
	}
	AttachSink(sw)
	return nil
}
