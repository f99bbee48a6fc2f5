package arpscan

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/iotinspector/inspector/sock"
)

func TestTargets(t *testing.T) {
	host := netip.MustParseAddr("192.168.1.10")
	tests := []struct {
		name   string
		subnet netip.Prefix
		want   int
	}{
		{"slash 24", netip.MustParsePrefix("192.168.1.0/24"), 253},
		{"slash 30", netip.MustParsePrefix("192.168.1.8/30"), 1},
		{"too wide", netip.MustParsePrefix("192.168.0.0/16"), 253},
		{"unknown", netip.Prefix{}, 253},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Targets(tt.subnet, host)
			if len(got) != tt.want {
				t.Fatalf("got %d targets, want %d", len(got), tt.want)
			}
			for _, ip := range got {
				if ip == host {
					t.Fatal("host included")
				}
			}
		})
	}

	got := Targets(netip.MustParsePrefix("192.168.1.8/30"), host)
	if got[0] != netip.MustParseAddr("192.168.1.9") {
		t.Errorf("unexpected /30 target %s", got[0])
	}
}

type fakeSender struct {
	mu   sync.Mutex
	reqs []sock.ARP
	err  error
}

func (f *fakeSender) SendARP(a sock.ARP) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, a)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func testWorker(send Sender) *Worker {
	return &Worker{
		send:     send,
		hostIP:   netip.MustParseAddr("10.0.0.2"),
		hostMAC:  net.HardwareAddr{2, 0, 0, 0, 0, 2},
		targets:  Targets(netip.MustParsePrefix("10.0.0.0/29"), netip.MustParseAddr("10.0.0.2")),
		interval: time.Hour,
	}
}

func TestRun_SweepsThenStops(t *testing.T) {
	send := &fakeSender{}
	w := testWorker(send)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for send.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}

	if send.count() != 5 {
		t.Fatalf("expected 5 requests for a /29 minus host, got %d", send.count())
	}
	for _, r := range send.reqs {
		if r.SenderIP != w.hostIP {
			t.Errorf("request claims %s", r.SenderIP)
		}
	}
}

func TestRun_FailsWhenNothingSends(t *testing.T) {
	w := testWorker(&fakeSender{err: errors.New("no handle")})
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
