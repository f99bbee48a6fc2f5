// Package ssdp multicasts M-SEARCH requests and records what each responding
// device says about itself.
package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/packet"
	"golang.org/x/net/ipv4"
)

const (
	MulticastAddr = "239.255.255.250:1900"
	maxDatagram   = 8192
)

type Recorder interface {
	RecordSSDP(packet.SSDPRecord)
}

type Worker struct {
	rec      Recorder
	bind     netip.Addr
	iface    string
	target   string
	interval time.Duration
	wait     time.Duration
}

func New(st *hoststate.State, interval, wait time.Duration) *Worker {
	facts := st.Network()
	return &Worker{
		rec:      st.Processor(),
		bind:     facts.HostIP,
		iface:    facts.Interface,
		target:   MulticastAddr,
		interval: interval,
		wait:     wait,
	}
}

func (w *Worker) Name() string { return "ssdp" }

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		n, err := w.search(ctx)
		if err != nil {
			log.Tracef("SSDP search failed: %v", err)
		} else {
			log.Tracef("SSDP: %d responses", n)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func searchRequest(wait time.Duration) []byte {
	mx := int(wait / time.Second)
	if mx < 1 {
		mx = 1
	}
	return []byte(fmt.Sprintf("M-SEARCH * HTTP/1.1\r\n"+
		"HOST: %s\r\n"+
		"MAN: \"ssdp:discover\"\r\n"+
		"MX: %d\r\n"+
		"ST: ssdp:all\r\n\r\n", MulticastAddr, mx))
}

// search sends one M-SEARCH and collects replies until wait elapses.
func (w *Worker) search(ctx context.Context) (int, error) {
	conn, err := net.ListenPacket("udp4", netip.AddrPortFrom(w.bind, 0).String())
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if w.iface != "" {
		if ifi, err := net.InterfaceByName(w.iface); err == nil {
			if err := pc.SetMulticastInterface(ifi); err != nil {
				log.Tracef("SSDP: multicast interface %s: %v", w.iface, err)
			}
		}
	}
	_ = pc.SetMulticastTTL(2)

	dst, err := net.ResolveUDPAddr("udp4", w.target)
	if err != nil {
		return 0, err
	}
	if _, err := pc.WriteTo(searchRequest(w.wait), nil, dst); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(w.wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := pc.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	buf := make([]byte, maxDatagram)
	var n int
	for {
		size, _, src, err := pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return n, nil
			}
			return n, err
		}
		ua, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ua.IP)
		if !ok {
			continue
		}
		rec, err := ParseResponse(ip.Unmap(), buf[:size])
		if err != nil {
			log.Tracef("SSDP: bad reply from %s: %v", ip, err)
			continue
		}
		w.rec.RecordSSDP(rec)
		n++
	}
}

// ParseResponse reads an M-SEARCH reply from device.
func ParseResponse(device netip.Addr, data []byte) (packet.SSDPRecord, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	if err != nil {
		return packet.SSDPRecord{}, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return packet.SSDPRecord{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	return packet.SSDPRecord{
		DeviceIP: device,
		Server:   resp.Header.Get("Server"),
		Location: resp.Header.Get("Location"),
		USN:      resp.Header.Get("USN"),
		ST:       resp.Header.Get("ST"),
		Seen:     time.Now(),
	}, nil
}
