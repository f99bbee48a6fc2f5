// Package capture owns the pcap handles: the live capture that feeds the
// packet processor and the handle frames are injected through.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/sock"
)

// readTimeout bounds each blocking read so Close is never stuck behind one.
const readTimeout = 500 * time.Millisecond

// Source is a packet source with a known link type; *pcap.Handle is one.
type Source interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func OpenLive(iface string, snaplen int, filter string) (*pcap.Handle, error) {
	h, err := pcap.OpenLive(iface, int32(snaplen), true, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}
	if filter != "" {
		if err := h.SetBPFFilter(filter); err != nil {
			h.Close()
			return nil, fmt.Errorf("bpf %q: %w", filter, err)
		}
	}
	log.Infof("Capturing on %s (snaplen %d, filter %q)", iface, snaplen, filter)
	return h, nil
}

// Injector opens a small handle used only for writing frames.
func Injector(iface string) func() (sock.Writer, error) {
	return func() (sock.Writer, error) {
		h, err := pcap.OpenLive(iface, 128, false, readTimeout)
		if err != nil {
			return nil, fmt.Errorf("open injector on %s: %w", iface, err)
		}
		return h, nil
	}
}
