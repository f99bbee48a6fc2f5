// Package packet holds the shared, concurrently mutated tables every worker
// feeds: devices, flows, DNS answers, open ports and SSDP advertisements.
package packet

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/metrics"
	"github.com/iotinspector/inspector/netinfo"
	"github.com/yl2chen/cidranger"
	"golang.org/x/net/publicsuffix"
)

// Processor is safe for concurrent use by any number of workers.
type Processor struct {
	host    netip.Addr
	gateway netip.Addr
	hostMAC net.HardwareAddr
	local   cidranger.Ranger
	metrics *metrics.Collector
	now     func() time.Time

	mu        sync.Mutex
	devices   map[netip.Addr]*Device
	flows     map[FlowKey]*FlowStats
	dns       []DNSRecord
	ports     map[OpenPort]struct{}
	ssdp      map[netip.Addr]SSDPRecord
	hostnames map[string]string // MAC -> DHCP hostname
	windowBeg time.Time
}

// New builds a processor for the given addressing. facts must already be
// validated.
func New(facts netinfo.Facts) (*Processor, error) {
	if !facts.HostIP.Is4() || !facts.GatewayIP.Is4() {
		return nil, fmt.Errorf("processor needs IPv4 host and gateway: %w", netinfo.ErrInvalidIPv4)
	}
	if len(facts.HostMAC) == 0 {
		return nil, netinfo.ErrNoHardware
	}

	subnet := facts.Subnet
	if !subnet.IsValid() {
		subnet = netip.PrefixFrom(facts.HostIP, 24).Masked()
	}
	ranger := cidranger.NewPCTrieRanger()
	if err := ranger.Insert(cidranger.NewBasicRangerEntry(prefixToIPNet(subnet))); err != nil {
		return nil, fmt.Errorf("index subnet %s: %w", subnet, err)
	}

	p := &Processor{
		host:      facts.HostIP,
		gateway:   facts.GatewayIP,
		hostMAC:   facts.HostMAC,
		local:     ranger,
		metrics:   metrics.GetCollector(),
		now:       time.Now,
		devices:   make(map[netip.Addr]*Device),
		flows:     make(map[FlowKey]*FlowStats),
		ports:     make(map[OpenPort]struct{}),
		ssdp:      make(map[netip.Addr]SSDPRecord),
		hostnames: make(map[string]string),
	}
	p.windowBeg = p.now()
	return p, nil
}

func prefixToIPNet(p netip.Prefix) net.IPNet {
	return net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

func (p *Processor) HostIP() netip.Addr              { return p.host }
func (p *Processor) GatewayIP() netip.Addr           { return p.gateway }
func (p *Processor) HostMAC() net.HardwareAddr       { return p.hostMAC }
func (p *Processor) SetMetrics(m *metrics.Collector) { p.metrics = m }

// IsLocal reports whether ip belongs to the host's subnet.
func (p *Processor) IsLocal(ip netip.Addr) bool {
	if !ip.Is4() {
		return false
	}
	ok, err := p.local.Contains(net.IP(ip.AsSlice()))
	return err == nil && ok
}

// AddDevice records that ip answers at mac. The host itself is never a device.
func (p *Processor) AddDevice(ip netip.Addr, mac net.HardwareAddr) {
	if ip == p.host || !p.IsLocal(ip) || len(mac) == 0 || bytes.Equal(mac, p.hostMAC) {
		return
	}
	if ip.As4()[3] == 255 || isBroadcastMAC(mac) {
		return
	}

	now := p.now()
	p.mu.Lock()
	d, ok := p.devices[ip]
	if !ok {
		d = &Device{IP: ip, IsGateway: ip == p.gateway, FirstSeen: now}
		p.devices[ip] = d
	}
	if d.MAC != mac.String() && ok {
		log.Tracef("Processor: %s moved from %s to %s", ip, d.MAC, mac)
	}
	d.MAC = mac.String()
	d.LastSeen = now
	n := len(p.devices)
	p.mu.Unlock()

	if !ok {
		log.Infof("Discovered device %s at %s", ip, mac)
		if p.metrics != nil {
			p.metrics.SetDevicesSeen(n)
		}
	}
}

func isBroadcastMAC(mac net.HardwareAddr) bool {
	return bytes.Equal(mac, layers.EthernetBroadcast) || bytes.Equal(mac, make([]byte, len(mac)))
}

func (p *Processor) DeviceMAC(ip netip.Addr) (net.HardwareAddr, bool) {
	p.mu.Lock()
	d, ok := p.devices[ip]
	var s string
	if ok {
		s = d.MAC
	}
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	mac, err := net.ParseMAC(s)
	return mac, err == nil
}

// Devices returns a copy of the device table ordered by address.
func (p *Processor) Devices() []Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devicesLocked()
}

func (p *Processor) devicesLocked() []Device {
	out := make([]Device, 0, len(p.devices))
	for _, d := range p.devices {
		c := *d
		if h, ok := p.hostnames[c.MAC]; ok {
			c.Hostname = h
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP.Less(out[j].IP) })
	return out
}

func (p *Processor) RecordOpenPort(ip netip.Addr, port uint16) {
	p.mu.Lock()
	key := OpenPort{DeviceIP: ip, Port: port}
	_, seen := p.ports[key]
	p.ports[key] = struct{}{}
	p.mu.Unlock()
	if !seen {
		log.Tracef("Open port %s:%d", ip, port)
	}
}

func (p *Processor) RecordSSDP(rec SSDPRecord) {
	if rec.Seen.IsZero() {
		rec.Seen = p.now()
	}
	p.mu.Lock()
	p.ssdp[rec.DeviceIP] = rec
	p.mu.Unlock()
}

// Process folds one captured frame into the tables.
func (p *Processor) Process(pkt gopacket.Packet) {
	if pkt == nil {
		return
	}
	size := uint64(len(pkt.Data()))

	if arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		p.recordPacket("ARP", size)
		p.handleARP(arp)
		return
	}

	ip4, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		p.recordPacket("", size)
		return
	}
	eth, _ := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)

	if dhcp, ok := pkt.Layer(layers.LayerTypeDHCPv4).(*layers.DHCPv4); ok {
		p.handleDHCP(dhcp)
	}

	src, _ := netip.AddrFromSlice(ip4.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(ip4.DstIP.To4())

	var proto string
	var sport, dport uint16
	tcp, isTCP := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	udp, isUDP := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	switch {
	case isTCP:
		proto, sport, dport = "TCP", uint16(tcp.SrcPort), uint16(tcp.DstPort)
	case isUDP:
		proto, sport, dport = "UDP", uint16(udp.SrcPort), uint16(udp.DstPort)
	case ip4.Protocol == layers.IPProtocolICMPv4:
		proto = "ICMP"
	default:
		proto = ip4.Protocol.String()
	}
	p.recordPacket(proto, size)

	// Forwarded frames are seen twice; only the copy that did not come
	// from this host is counted.
	fromHost := eth != nil && bytes.Equal(eth.SrcMAC, p.hostMAC)
	if eth != nil && !fromHost {
		p.AddDevice(src, eth.SrcMAC)
	}

	if src == p.host || dst == p.host {
		if isTCP && tcp.SYN && tcp.ACK && dst == p.host && p.IsLocal(src) {
			p.RecordOpenPort(src, sport)
		}
		return
	}
	if fromHost {
		return
	}

	if dns, ok := pkt.Layer(layers.LayerTypeDNS).(*layers.DNS); ok && dns.QR && p.IsLocal(dst) {
		p.handleDNS(dst, dns)
	}

	srcLocal, dstLocal := p.IsLocal(src), p.IsLocal(dst)
	switch {
	case srcLocal && !dstLocal:
		p.recordFlow(FlowKey{DeviceIP: src, RemoteIP: dst, DevicePort: sport, RemotePort: dport, Protocol: proto}, Outbound, size)
	case !srcLocal && dstLocal:
		p.recordFlow(FlowKey{DeviceIP: dst, RemoteIP: src, DevicePort: dport, RemotePort: sport, Protocol: proto}, Inbound, size)
	}
}

func (p *Processor) recordPacket(proto string, size uint64) {
	if p.metrics != nil {
		p.metrics.RecordPacket(proto, size)
	}
}

func (p *Processor) handleARP(arp *layers.ARP) {
	if arp.Operation != layers.ARPReply && arp.Operation != layers.ARPRequest {
		return
	}
	ip, ok := netip.AddrFromSlice(arp.SourceProtAddress)
	if !ok {
		return
	}
	p.AddDevice(ip.Unmap(), net.HardwareAddr(arp.SourceHwAddress))
}

// handleDHCP remembers the hostname a client announces in its requests.
func (p *Processor) handleDHCP(d *layers.DHCPv4) {
	if d.Operation != layers.DHCPOpRequest || len(d.ClientHWAddr) == 0 {
		return
	}
	for _, opt := range d.Options {
		if opt.Type != layers.DHCPOptHostname || len(opt.Data) == 0 {
			continue
		}
		name := strings.TrimSpace(string(opt.Data))
		mac := d.ClientHWAddr.String()
		p.mu.Lock()
		prev := p.hostnames[mac]
		p.hostnames[mac] = name
		p.mu.Unlock()
		if prev != name {
			log.Tracef("DHCP: %s is %q", mac, name)
		}
		return
	}
}

func (p *Processor) handleDNS(device netip.Addr, dns *layers.DNS) {
	byName := make(map[string][]netip.Addr)
	var names []string
	for _, ans := range dns.Answers {
		if ans.Type != layers.DNSTypeA || ans.IP == nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(ans.IP.To4())
		if !ok {
			continue
		}
		name := string(ans.Name)
		if _, seen := byName[name]; !seen {
			names = append(names, name)
		}
		byName[name] = append(byName[name], addr)
	}
	if len(names) == 0 {
		return
	}

	now := p.now()
	p.mu.Lock()
	for _, n := range names {
		p.dns = append(p.dns, DNSRecord{DeviceIP: device, Hostname: n, Domain: registrable(n), Addrs: byName[n], Seen: now})
	}
	p.mu.Unlock()
}

// registrable folds a hostname to its eTLD+1 so per-service traffic groups
// together; names without a public suffix are kept as is.
func registrable(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

func (p *Processor) recordFlow(key FlowKey, dir Direction, size uint64) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.flows[key]
	if !ok {
		st = &FlowStats{FirstSeen: now}
		p.flows[key] = st
	}
	st.LastSeen = now
	if dir == Outbound {
		st.OutBytes += size
		st.OutPackets++
	} else {
		st.InBytes += size
		st.InPackets++
	}
}

// Snapshot copies every table without clearing anything.
func (p *Processor) Snapshot() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reportLocked(p.now())
}

// Drain copies every table and resets the per-window ones (flows and DNS).
// Devices, open ports and SSDP records are cumulative.
func (p *Processor) Drain() Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	r := p.reportLocked(now)
	p.flows = make(map[FlowKey]*FlowStats)
	p.dns = nil
	p.windowBeg = now
	return r
}

// maxPendingDNS caps answers carried over between failed uploads.
const maxPendingDNS = 4096

// Requeue merges the flows and DNS answers of an undelivered report back into
// the current window, so they go out with the next upload.
func (p *Processor) Requeue(r Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range r.Flows {
		st, ok := p.flows[f.FlowKey]
		if !ok {
			cp := f.FlowStats
			p.flows[f.FlowKey] = &cp
			continue
		}
		st.OutBytes += f.OutBytes
		st.InBytes += f.InBytes
		st.OutPackets += f.OutPackets
		st.InPackets += f.InPackets
		if f.FirstSeen.Before(st.FirstSeen) {
			st.FirstSeen = f.FirstSeen
		}
		if f.LastSeen.After(st.LastSeen) {
			st.LastSeen = f.LastSeen
		}
	}

	dns := append(append([]DNSRecord(nil), r.DNS...), p.dns...)
	if len(dns) > maxPendingDNS {
		dns = dns[len(dns)-maxPendingDNS:]
	}
	p.dns = dns

	if !r.Start.IsZero() && r.Start.Before(p.windowBeg) {
		p.windowBeg = r.Start
	}
}

func (p *Processor) reportLocked(now time.Time) Report {
	r := Report{
		Devices: p.devicesLocked(),
		Flows:   make([]Flow, 0, len(p.flows)),
		DNS:     append([]DNSRecord(nil), p.dns...),
		Start:   p.windowBeg,
		End:     now,
	}
	for k, st := range p.flows {
		r.Flows = append(r.Flows, Flow{FlowKey: k, FlowStats: *st})
	}
	sort.Slice(r.Flows, func(i, j int) bool {
		a, b := r.Flows[i], r.Flows[j]
		if a.DeviceIP != b.DeviceIP {
			return a.DeviceIP.Less(b.DeviceIP)
		}
		if a.RemoteIP != b.RemoteIP {
			return a.RemoteIP.Less(b.RemoteIP)
		}
		if a.DevicePort != b.DevicePort {
			return a.DevicePort < b.DevicePort
		}
		if a.RemotePort != b.RemotePort {
			return a.RemotePort < b.RemotePort
		}
		return a.Protocol < b.Protocol
	})

	for op := range p.ports {
		r.OpenPorts = append(r.OpenPorts, op)
	}
	sort.Slice(r.OpenPorts, func(i, j int) bool {
		if r.OpenPorts[i].DeviceIP != r.OpenPorts[j].DeviceIP {
			return r.OpenPorts[i].DeviceIP.Less(r.OpenPorts[j].DeviceIP)
		}
		return r.OpenPorts[i].Port < r.OpenPorts[j].Port
	})

	for _, rec := range p.ssdp {
		r.SSDP = append(r.SSDP, rec)
	}
	sort.Slice(r.SSDP, func(i, j int) bool { return r.SSDP[i].DeviceIP.Less(r.SSDP[j].DeviceIP) })
	return r
}
