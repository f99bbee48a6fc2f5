package packet

import (
	"net/netip"
	"time"
)

type Direction string

const (
	Outbound Direction = "outbound" // device -> remote
	Inbound  Direction = "inbound"  // remote -> device
)

type Device struct {
	IP        netip.Addr `json:"ip"`
	MAC       string     `json:"mac"`
	Hostname  string     `json:"hostname,omitempty"` // from the device's DHCP requests
	IsGateway bool       `json:"is_gateway"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
}

type FlowKey struct {
	DeviceIP   netip.Addr `json:"device_ip"`
	RemoteIP   netip.Addr `json:"remote_ip"`
	DevicePort uint16     `json:"device_port"`
	RemotePort uint16     `json:"remote_port"`
	Protocol   string     `json:"protocol"`
}

type FlowStats struct {
	OutBytes   uint64    `json:"out_bytes"`
	InBytes    uint64    `json:"in_bytes"`
	OutPackets uint64    `json:"out_packets"`
	InPackets  uint64    `json:"in_packets"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

type Flow struct {
	FlowKey
	FlowStats
}

type DNSRecord struct {
	DeviceIP netip.Addr   `json:"device_ip"`
	Hostname string       `json:"hostname"`
	Domain   string       `json:"domain"` // registrable domain (eTLD+1) of Hostname
	Addrs    []netip.Addr `json:"addrs"`
	Seen     time.Time    `json:"seen"`
}

// SSDPRecord is what a device advertised in reply to an M-SEARCH.
type SSDPRecord struct {
	DeviceIP netip.Addr `json:"device_ip"`
	Server   string     `json:"server"`
	Location string     `json:"location"`
	USN      string     `json:"usn"`
	ST       string     `json:"st"`
	Seen     time.Time  `json:"seen"`
}

type OpenPort struct {
	DeviceIP netip.Addr `json:"device_ip"`
	Port     uint16     `json:"port"`
}

// Report is a point-in-time copy of the processor tables.
type Report struct {
	Devices   []Device     `json:"devices"`
	Flows     []Flow       `json:"flows"`
	DNS       []DNSRecord  `json:"dns"`
	OpenPorts []OpenPort   `json:"open_ports"`
	SSDP      []SSDPRecord `json:"ssdp"`
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
}
