package main

import (
	"github.com/iotinspector/inspector/forwarding"
	"github.com/iotinspector/inspector/log"
)

// forwardingSession ties kernel IP forwarding to ARP interception: on before
// any worker starts, off at exit unless the host already had it on.
type forwardingSession struct {
	fwd     *forwarding.Adapter
	disable bool
}

// startSession enables forwarding when spoofing, then calls launch. An enable
// failure is returned before launch runs.
func startSession(fwd *forwarding.Adapter, spoofing bool, launch func()) (*forwardingSession, error) {
	s := &forwardingSession{fwd: fwd}
	if spoofing {
		wasOn, err := fwd.Enabled()
		if err != nil {
			log.Tracef("Could not read IP forwarding state: %v", err)
		}
		if err := fwd.SetIPForwarding(true); err != nil {
			return nil, log.Errorf("failed to enable IP forwarding: %v", err)
		}
		s.disable = !wasOn
	} else {
		log.Infof("Spoofing disabled (--no_spoofing), capture is passive")
	}
	launch()
	return s, nil
}

// stop turns forwarding back off if this session turned it on.
func (s *forwardingSession) stop() error {
	if !s.disable {
		return nil
	}
	if err := s.fwd.SetIPForwarding(false); err != nil {
		return log.Errorf("failed to disable IP forwarding: %v", err)
	}
	return nil
}
