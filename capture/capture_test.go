package capture

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/iotinspector/inspector/netinfo"
	"github.com/iotinspector/inspector/packet"
	"github.com/iotinspector/inspector/sock"
)

type replay struct {
	frames [][]byte
	closed bool
}

func (r *replay) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if len(r.frames) == 0 {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(f), Length: len(f)}, nil
}

func (r *replay) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (r *replay) Close()                    { r.closed = true }

func testProcessor(t *testing.T) *packet.Processor {
	t.Helper()
	p, err := packet.New(netinfo.Facts{
		HostIP:    netip.MustParseAddr("192.168.1.10"),
		GatewayIP: netip.MustParseAddr("192.168.1.1"),
		HostMAC:   net.HardwareAddr{2, 0, 0, 0, 0, 1},
		Subnet:    netip.MustParsePrefix("192.168.1.0/24"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestWorker_FeedsProcessor(t *testing.T) {
	reply, err := sock.Reply(
		net.HardwareAddr{2, 0, 0, 0, 0, 0x20}, netip.MustParseAddr("192.168.1.20"),
		net.HardwareAddr{2, 0, 0, 0, 0, 1}, netip.MustParseAddr("192.168.1.10"),
	).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	src := &replay{frames: [][]byte{reply}}
	proc := testProcessor(t)

	w := NewWithSource(proc, func() (Source, error) { return src, nil })
	if w.Name() != "capture" {
		t.Errorf("name = %q", w.Name())
	}

	err = w.Run(context.Background())
	if !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("expected ErrSourceClosed, got %v", err)
	}
	if !src.closed {
		t.Error("source not closed")
	}
	if _, ok := proc.DeviceMAC(netip.MustParseAddr("192.168.1.20")); !ok {
		t.Error("replayed ARP reply did not reach the processor")
	}
}

func TestWorker_OpenError(t *testing.T) {
	boom := errors.New("permission denied")
	w := NewWithSource(testProcessor(t), func() (Source, error) { return nil, boom })
	if err := w.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}
