// Package synscan sends a TCP SYN to a fixed list of ports on every known
// device. SYN-ACKs are recorded as open ports by the packet processor.
package synscan

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/packet"
	"github.com/iotinspector/inspector/sock"
)

type Sender interface {
	SendSYN(sock.SYN) error
}

// Devices is the part of the processor the scanner reads.
type Devices interface {
	Devices() []packet.Device
}

type Worker struct {
	devices  Devices
	send     Sender
	hostIP   netip.Addr
	hostMAC  net.HardwareAddr
	ports    []uint16
	interval time.Duration
	// pace between probes so a round does not flood small devices
	pace time.Duration
}

func New(st *hoststate.State, send Sender, ports []int, interval time.Duration) *Worker {
	facts := st.Network()
	ps := make([]uint16, 0, len(ports))
	for _, p := range ports {
		ps = append(ps, uint16(p))
	}
	return &Worker{
		devices:  st.Processor(),
		send:     send,
		hostIP:   facts.HostIP,
		hostMAC:  facts.HostMAC,
		ports:    ps,
		interval: interval,
		pace:     2 * time.Millisecond,
	}
}

func (w *Worker) Name() string { return "synscan" }

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.round(ctx)
		}
	}
}

func (w *Worker) round(ctx context.Context) {
	devs := w.devices.Devices()
	if len(devs) == 0 {
		log.Tracef("SYN scan: no devices yet")
		return
	}

	var sent, failed int
	for _, d := range devs {
		mac, err := net.ParseMAC(d.MAC)
		if err != nil {
			continue
		}
		srcPort := sock.RandomPort()
		for _, port := range w.ports {
			if ctx.Err() != nil {
				return
			}
			err := w.send.SendSYN(sock.SYN{
				SrcMAC:  w.hostMAC,
				DstMAC:  mac,
				SrcIP:   w.hostIP,
				DstIP:   d.IP,
				SrcPort: srcPort,
				DstPort: port,
				Seq:     sock.RandomSeq(),
			})
			if err != nil {
				failed++
				continue
			}
			sent++
			if w.pace > 0 {
				time.Sleep(w.pace)
			}
		}
	}
	log.Tracef("SYN scan: %d probes to %d devices (%d failed)", sent, len(devs), failed)
}
