// Package arpspoof places the host between each device and the gateway by
// sending forged ARP replies to both, and puts the real mappings back when it
// stops.
package arpspoof

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"time"

	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/packet"
	"github.com/iotinspector/inspector/sock"
)

// restoreRounds is how many times the true mappings are re-announced.
const restoreRounds = 3

type Sender interface {
	SendARP(sock.ARP) error
}

type Table interface {
	Devices() []packet.Device
	DeviceMAC(netip.Addr) (net.HardwareAddr, bool)
}

type target struct {
	ip  netip.Addr
	mac net.HardwareAddr
}

type Worker struct {
	table      Table
	send       Sender
	hostIP     netip.Addr
	hostMAC    net.HardwareAddr
	gateway    netip.Addr
	interval   time.Duration
	maxTargets int

	gatewayMAC net.HardwareAddr
	spoofed    map[netip.Addr]target
}

func New(st *hoststate.State, send Sender, interval time.Duration, maxTargets int) *Worker {
	facts := st.Network()
	return &Worker{
		table:      st.Processor(),
		send:       send,
		hostIP:     facts.HostIP,
		hostMAC:    facts.HostMAC,
		gateway:    facts.GatewayIP,
		interval:   interval,
		maxTargets: maxTargets,
		spoofed:    make(map[netip.Addr]target),
	}
}

func (w *Worker) Name() string { return "arpspoof" }

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer w.restore()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.round()
		}
	}
}

// Targets picks up to max devices other than the gateway, lowest address
// first, skipping entries without a usable MAC.
func Targets(devs []packet.Device, gateway netip.Addr, max int) []target {
	sort.Slice(devs, func(i, j int) bool { return devs[i].IP.Less(devs[j].IP) })
	var out []target
	for _, d := range devs {
		if len(out) >= max {
			break
		}
		if d.IP == gateway || d.IsGateway {
			continue
		}
		mac, err := net.ParseMAC(d.MAC)
		if err != nil {
			continue
		}
		out = append(out, target{ip: d.IP, mac: mac})
	}
	return out
}

func (w *Worker) round() {
	gwMAC, ok := w.table.DeviceMAC(w.gateway)
	if !ok {
		log.Tracef("ARP spoof: gateway %s not resolved yet", w.gateway)
		return
	}
	w.gatewayMAC = gwMAC

	targets := Targets(w.table.Devices(), w.gateway, w.maxTargets)
	for _, t := range targets {
		// device: the gateway is at our MAC
		if err := w.send.SendARP(sock.Reply(w.hostMAC, w.gateway, t.mac, t.ip)); err != nil {
			log.Tracef("ARP spoof %s: %v", t.ip, err)
			continue
		}
		// gateway: the device is at our MAC
		if err := w.send.SendARP(sock.Reply(w.hostMAC, t.ip, gwMAC, w.gateway)); err != nil {
			log.Tracef("ARP spoof gateway for %s: %v", t.ip, err)
			continue
		}
		if _, seen := w.spoofed[t.ip]; !seen {
			log.Infof("Intercepting %s (%s)", t.ip, t.mac)
		}
		w.spoofed[t.ip] = t
	}
}

// restore re-announces the real gateway and device MACs to everyone that
// was spoofed.
func (w *Worker) restore() {
	if len(w.spoofed) == 0 || w.gatewayMAC == nil {
		return
	}
	log.Infof("Restoring ARP caches of %d devices", len(w.spoofed))
	for i := 0; i < restoreRounds; i++ {
		for _, t := range w.spoofed {
			_ = w.send.SendARP(sock.Reply(w.gatewayMAC, w.gateway, t.mac, t.ip))
			_ = w.send.SendARP(sock.Reply(t.mac, t.ip, w.gatewayMAC, w.gateway))
		}
		if i < restoreRounds-1 {
			time.Sleep(100 * time.Millisecond)
		}
	}
	w.spoofed = make(map[netip.Addr]target)
}
