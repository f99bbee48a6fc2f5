// Package sock builds link-layer frames and writes them out through a shared,
// lazily opened injection handle.
package sock

import (
	"errors"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var ErrNotIPv4 = errors.New("not an IPv4 address")

// ARP describes one ARP frame. EthDst defaults to broadcast.
type ARP struct {
	Op        uint16
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
	EthDst    net.HardwareAddr
}

// Request is a who-has for target sent from sender.
func Request(senderMAC net.HardwareAddr, senderIP, target netip.Addr) ARP {
	return ARP{
		Op:        layers.ARPRequest,
		SenderMAC: senderMAC,
		SenderIP:  senderIP,
		TargetMAC: make(net.HardwareAddr, 6),
		TargetIP:  target,
	}
}

// Reply tells targetMAC that claimedIP is at senderMAC.
func Reply(senderMAC net.HardwareAddr, claimedIP netip.Addr, targetMAC net.HardwareAddr, targetIP netip.Addr) ARP {
	return ARP{
		Op:        layers.ARPReply,
		SenderMAC: senderMAC,
		SenderIP:  claimedIP,
		TargetMAC: targetMAC,
		TargetIP:  targetIP,
		EthDst:    targetMAC,
	}
}

func (a ARP) Bytes() ([]byte, error) {
	if !a.SenderIP.Is4() || !a.TargetIP.Is4() {
		return nil, ErrNotIPv4
	}
	dst := a.EthDst
	if len(dst) == 0 {
		dst = layers.EthernetBroadcast
	}
	sender, target := a.SenderIP.As4(), a.TargetIP.As4()

	eth := &layers.Ethernet{
		SrcMAC:       a.SenderMAC,
		DstMAC:       dst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         a.Op,
		SourceHwAddress:   a.SenderMAC,
		SourceProtAddress: sender[:],
		DstHwAddress:      a.TargetMAC,
		DstProtAddress:    target[:],
	}
	return serialize(eth, arp)
}

// SYN is a bare TCP SYN carried in an Ethernet frame.
type SYN struct {
	SrcMAC, DstMAC   net.HardwareAddr
	SrcIP, DstIP     netip.Addr
	SrcPort, DstPort uint16
	Seq              uint32
}

func (s SYN) Bytes() ([]byte, error) {
	if !s.SrcIP.Is4() || !s.DstIP.Is4() {
		return nil, ErrNotIPv4
	}
	src, dst := s.SrcIP.As4(), s.DstIP.As4()

	eth := &layers.Ethernet{
		SrcMAC:       s.SrcMAC,
		DstMAC:       s.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       uint16(randomUint32()),
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src[:],
		DstIP:    dst[:],
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.SrcPort),
		DstPort: layers.TCPPort(s.DstPort),
		Seq:     s.Seq,
		SYN:     true,
		Window:  1024,
	}
	// checksum needs the pseudo header
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return serialize(eth, ip, tcp)
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
