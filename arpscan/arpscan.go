// Package arpscan periodically sweeps the host subnet with ARP who-has
// requests. Replies are picked up by the capture worker.
package arpscan

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/sock"
)

// widest subnet swept as a whole; larger ones fall back to the host's /24.
const minSweepBits = 22

type Sender interface {
	SendARP(sock.ARP) error
}

type Worker struct {
	send     Sender
	hostIP   netip.Addr
	hostMAC  net.HardwareAddr
	targets  []netip.Addr
	interval time.Duration
}

func New(st *hoststate.State, send Sender, interval time.Duration) *Worker {
	facts := st.Network()
	return &Worker{
		send:     send,
		hostIP:   facts.HostIP,
		hostMAC:  facts.HostMAC,
		targets:  Targets(facts.Subnet, facts.HostIP),
		interval: interval,
	}
}

func (w *Worker) Name() string { return "arpscan" }

func (w *Worker) Run(ctx context.Context) error {
	log.Infof("ARP scan: %d addresses every %v", len(w.targets), w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.sweep(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep fails only when nothing could be sent at all.
func (w *Worker) sweep(ctx context.Context) error {
	var sent int
	var lastErr error
	for _, ip := range w.targets {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.send.SendARP(sock.Request(w.hostMAC, w.hostIP, ip)); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	log.Tracef("ARP scan: sent %d requests", sent)
	return nil
}

// Targets lists every usable address of subnet except host. Subnets wider
// than /22 are narrowed to the /24 holding host.
func Targets(subnet netip.Prefix, host netip.Addr) []netip.Addr {
	if !subnet.IsValid() || subnet.Bits() < minSweepBits {
		subnet = netip.PrefixFrom(host, 24)
	}
	subnet = subnet.Masked()
	if subnet.Bits() >= 31 {
		return nil
	}

	network := subnet.Addr()
	var out []netip.Addr
	for ip := network.Next(); subnet.Contains(ip); ip = ip.Next() {
		if !subnet.Contains(ip.Next()) {
			break // broadcast
		}
		if ip != host {
			out = append(out, ip)
		}
	}
	return out
}
