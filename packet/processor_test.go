package packet

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/iotinspector/inspector/metrics"
	"github.com/iotinspector/inspector/netinfo"
)

var (
	hostMAC    = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	gatewayMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xfe}
	deviceMAC  = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x14}
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := New(netinfo.Facts{
		HostIP:    netip.MustParseAddr("192.168.1.10"),
		GatewayIP: netip.MustParseAddr("192.168.1.1"),
		HostMAC:   hostMAC,
		Interface: "eth0",
		Subnet:    netip.MustParsePrefix("192.168.1.0/24"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.SetMetrics(metrics.NewCollector())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }
	return p
}

func build(t *testing.T, ls ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	for _, l := range ls {
		if nl, ok := l.(interface {
			SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
		}); ok {
			for _, other := range ls {
				if ip, ok := other.(*layers.IPv4); ok {
					_ = nl.SetNetworkLayerForChecksum(ip)
				}
			}
		}
	}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func eth(src, dst net.HardwareAddr, t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: t}
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

func TestNew_RejectsIncompleteFacts(t *testing.T) {
	tests := []struct {
		name  string
		facts netinfo.Facts
	}{
		{"no host", netinfo.Facts{GatewayIP: netip.MustParseAddr("10.0.0.1"), HostMAC: hostMAC}},
		{"ipv6 gateway", netinfo.Facts{HostIP: netip.MustParseAddr("10.0.0.2"), GatewayIP: netip.MustParseAddr("fe80::1"), HostMAC: hostMAC}},
		{"no mac", netinfo.Facts{HostIP: netip.MustParseAddr("10.0.0.2"), GatewayIP: netip.MustParseAddr("10.0.0.1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.facts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_DefaultsSubnet(t *testing.T) {
	p, err := New(netinfo.Facts{
		HostIP:    netip.MustParseAddr("10.1.2.3"),
		GatewayIP: netip.MustParseAddr("10.1.2.1"),
		HostMAC:   hostMAC,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsLocal(netip.MustParseAddr("10.1.2.200")) {
		t.Error("expected /24 around the host to be local")
	}
	if p.IsLocal(netip.MustParseAddr("10.1.3.1")) {
		t.Error("10.1.3.1 should not be local")
	}
}

func TestProcess_ARPReplyAddsDevice(t *testing.T) {
	p := newTestProcessor(t)
	pkt := build(t,
		eth(deviceMAC, hostMAC, layers.EthernetTypeARP),
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPReply,
			SourceHwAddress:   deviceMAC,
			SourceProtAddress: []byte{192, 168, 1, 20},
			DstHwAddress:      hostMAC,
			DstProtAddress:    []byte{192, 168, 1, 10},
		},
	)
	p.Process(pkt)

	mac, ok := p.DeviceMAC(netip.MustParseAddr("192.168.1.20"))
	if !ok || mac.String() != deviceMAC.String() {
		t.Fatalf("DeviceMAC = %v, %v", mac, ok)
	}
}

func TestAddDevice_Filters(t *testing.T) {
	p := newTestProcessor(t)

	p.AddDevice(netip.MustParseAddr("192.168.1.10"), deviceMAC)  // host IP
	p.AddDevice(netip.MustParseAddr("192.168.1.30"), hostMAC)    // our own MAC
	p.AddDevice(netip.MustParseAddr("8.8.8.8"), deviceMAC)       // not local
	p.AddDevice(netip.MustParseAddr("192.168.1.255"), deviceMAC) // broadcast
	p.AddDevice(netip.MustParseAddr("192.168.1.40"), layers.EthernetBroadcast)
	p.AddDevice(netip.MustParseAddr("192.168.1.1"), gatewayMAC)
	p.AddDevice(netip.MustParseAddr("192.168.1.20"), deviceMAC)

	got := p.Devices()
	if len(got) != 2 {
		t.Fatalf("expected 2 devices, got %+v", got)
	}
	if got[0].IP != netip.MustParseAddr("192.168.1.1") || !got[0].IsGateway {
		t.Errorf("gateway should sort first and be flagged: %+v", got[0])
	}
	if got[1].IsGateway {
		t.Errorf("device wrongly flagged as gateway: %+v", got[1])
	}
}

func TestProcess_FlowDirectionAndDedup(t *testing.T) {
	p := newTestProcessor(t)

	out := build(t,
		eth(deviceMAC, hostMAC, layers.EthernetTypeIPv4),
		ipv4("192.168.1.20", "93.184.216.34", layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 50000, DstPort: 443, ACK: true, Window: 1024},
	)
	forwarded := build(t,
		eth(hostMAC, gatewayMAC, layers.EthernetTypeIPv4),
		ipv4("192.168.1.20", "93.184.216.34", layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 50000, DstPort: 443, ACK: true, Window: 1024},
	)
	in := build(t,
		eth(gatewayMAC, hostMAC, layers.EthernetTypeIPv4),
		ipv4("93.184.216.34", "192.168.1.20", layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 443, DstPort: 50000, ACK: true, Window: 1024},
	)

	p.Process(out)
	p.Process(forwarded)
	p.Process(in)

	r := p.Snapshot()
	if len(r.Flows) != 1 {
		t.Fatalf("expected one flow, got %+v", r.Flows)
	}
	f := r.Flows[0]
	wantKey := FlowKey{
		DeviceIP:   netip.MustParseAddr("192.168.1.20"),
		RemoteIP:   netip.MustParseAddr("93.184.216.34"),
		DevicePort: 50000,
		RemotePort: 443,
		Protocol:   "TCP",
	}
	if diff := cmp.Diff(wantKey, f.FlowKey, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("flow key mismatch (-want +got):\n%s", diff)
	}
	if f.OutPackets != 1 || f.InPackets != 1 {
		t.Errorf("expected 1 packet each way, got out=%d in=%d", f.OutPackets, f.InPackets)
	}
	if f.OutBytes != uint64(len(out.Data())) {
		t.Errorf("out bytes %d, want %d", f.OutBytes, len(out.Data()))
	}
}

func TestProcess_HostTrafficIsNotAFlow(t *testing.T) {
	p := newTestProcessor(t)
	p.Process(build(t,
		eth(hostMAC, gatewayMAC, layers.EthernetTypeIPv4),
		ipv4("192.168.1.10", "1.1.1.1", layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 40000, DstPort: 123},
	))
	if r := p.Snapshot(); len(r.Flows) != 0 {
		t.Errorf("host traffic recorded as flow: %+v", r.Flows)
	}
}

func TestProcess_SynAckRecordsOpenPort(t *testing.T) {
	p := newTestProcessor(t)
	p.Process(build(t,
		eth(deviceMAC, hostMAC, layers.EthernetTypeIPv4),
		ipv4("192.168.1.20", "192.168.1.10", layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 8080, DstPort: 40123, SYN: true, ACK: true, Window: 1024},
	))
	p.Process(build(t,
		eth(deviceMAC, hostMAC, layers.EthernetTypeIPv4),
		ipv4("192.168.1.20", "192.168.1.10", layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 23, DstPort: 40123, RST: true, ACK: true, Window: 0},
	))

	r := p.Snapshot()
	want := []OpenPort{{DeviceIP: netip.MustParseAddr("192.168.1.20"), Port: 8080}}
	if diff := cmp.Diff(want, r.OpenPorts, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("open ports mismatch (-want +got):\n%s", diff)
	}
	if _, ok := p.DeviceMAC(netip.MustParseAddr("192.168.1.20")); !ok {
		t.Error("responding device should be learned")
	}
}

func TestProcess_DNSAnswer(t *testing.T) {
	p := newTestProcessor(t)
	p.Process(build(t,
		eth(gatewayMAC, hostMAC, layers.EthernetTypeIPv4),
		ipv4("8.8.8.8", "192.168.1.20", layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 53, DstPort: 40000},
		&layers.DNS{
			ID: 7, QR: true, OpCode: layers.DNSOpCodeQuery, ResponseCode: layers.DNSResponseCodeNoErr,
			Questions: []layers.DNSQuestion{{Name: []byte("cam.example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN}},
			Answers: []layers.DNSResourceRecord{
				{Name: []byte("cam.example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN, TTL: 60, IP: net.IPv4(1, 2, 3, 4).To4()},
				{Name: []byte("cam.example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN, TTL: 60, IP: net.IPv4(1, 2, 3, 5).To4()},
			},
		},
	))

	r := p.Snapshot()
	if len(r.DNS) != 1 {
		t.Fatalf("expected one DNS record, got %+v", r.DNS)
	}
	rec := r.DNS[0]
	if rec.Hostname != "cam.example.com" || len(rec.Addrs) != 2 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Domain != "example.com" {
		t.Errorf("domain = %q", rec.Domain)
	}
	if rec.DeviceIP != netip.MustParseAddr("192.168.1.20") {
		t.Errorf("dns attributed to %s", rec.DeviceIP)
	}
}

func TestProcess_DHCPHostname(t *testing.T) {
	p := newTestProcessor(t)
	p.Process(build(t,
		eth(deviceMAC, layers.EthernetBroadcast, layers.EthernetTypeIPv4),
		ipv4("0.0.0.0", "255.255.255.255", layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 68, DstPort: 67},
		&layers.DHCPv4{
			Operation:    layers.DHCPOpRequest,
			HardwareType: layers.LinkTypeEthernet,
			HardwareLen:  6,
			Xid:          0x1234,
			ClientHWAddr: deviceMAC,
			Options: layers.DHCPOptions{
				layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeRequest)}),
				layers.NewDHCPOption(layers.DHCPOptHostname, []byte("living-room-tv")),
			},
		},
	))
	p.AddDevice(netip.MustParseAddr("192.168.1.20"), deviceMAC)

	devs := p.Devices()
	if len(devs) != 1 || devs[0].Hostname != "living-room-tv" {
		t.Errorf("hostname not attached: %+v", devs)
	}
}

func TestRegistrable(t *testing.T) {
	tests := map[string]string{
		"www.youtube.com":    "youtube.com",
		"a.b.example.co.uk.": "example.co.uk",
		"Device.Local":       "device.local",
		"localhost":          "localhost",
	}
	for in, want := range tests {
		if got := registrable(in); got != want {
			t.Errorf("registrable(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDrain_ResetsWindowTables(t *testing.T) {
	p := newTestProcessor(t)
	dev := netip.MustParseAddr("192.168.1.20")
	p.AddDevice(dev, deviceMAC)
	p.RecordOpenPort(dev, 22)
	p.RecordSSDP(SSDPRecord{DeviceIP: dev, Server: "Linux UPnP/1.0"})
	p.recordFlow(FlowKey{DeviceIP: dev, RemoteIP: netip.MustParseAddr("1.1.1.1"), Protocol: "UDP"}, Outbound, 100)

	first := p.Drain()
	if len(first.Flows) != 1 || len(first.Devices) != 1 || len(first.SSDP) != 1 || len(first.OpenPorts) != 1 {
		t.Fatalf("unexpected first drain %+v", first)
	}

	second := p.Drain()
	if len(second.Flows) != 0 {
		t.Errorf("flows survived drain: %+v", second.Flows)
	}
	if len(second.Devices) != 1 || len(second.OpenPorts) != 1 || len(second.SSDP) != 1 {
		t.Errorf("cumulative tables lost: %+v", second)
	}
}

func TestRequeue_MergesUndeliveredWindow(t *testing.T) {
	p := newTestProcessor(t)
	dev := netip.MustParseAddr("192.168.1.20")
	p.AddDevice(dev, deviceMAC)
	key := FlowKey{DeviceIP: dev, RemoteIP: netip.MustParseAddr("1.1.1.1"), Protocol: "UDP"}
	p.recordFlow(key, Outbound, 100)
	p.dns = append(p.dns, DNSRecord{DeviceIP: dev, Hostname: "a.example.com"})

	lost := p.Drain()
	p.recordFlow(key, Inbound, 40)
	p.Requeue(lost)

	next := p.Drain()
	want := Flow{FlowKey: key, FlowStats: FlowStats{
		OutBytes: 100, InBytes: 40, OutPackets: 1, InPackets: 1,
		FirstSeen: lost.Flows[0].FirstSeen, LastSeen: lost.Flows[0].LastSeen,
	}}
	if len(next.Flows) != 1 || next.Flows[0] != want {
		t.Errorf("flows = %+v, want [%+v]", next.Flows, want)
	}
	if len(next.DNS) != 1 || next.DNS[0].Hostname != "a.example.com" {
		t.Errorf("dns not carried over: %+v", next.DNS)
	}
}

func TestProcess_FeedsMetrics(t *testing.T) {
	p := newTestProcessor(t)
	m := metrics.NewCollector()
	p.SetMetrics(m)

	pkt := build(t,
		eth(deviceMAC, hostMAC, layers.EthernetTypeIPv4),
		ipv4("192.168.1.20", "1.1.1.1", layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 1000, DstPort: 2000},
	)
	p.Process(pkt)

	snap := m.GetSnapshot()
	if snap.PacketsProcessed != 1 || snap.ProtocolDist["UDP"] != 1 {
		t.Errorf("metrics not fed: %+v", snap)
	}
	if snap.DevicesSeen != 1 {
		t.Errorf("devices seen = %d", snap.DevicesSeen)
	}
}
