package upload

import (
	"net/netip"
	"time"

	"github.com/iotinspector/inspector/packet"
)

type Device struct {
	ID        string     `json:"device_id"`
	IP        netip.Addr `json:"ip"`
	Hostname  string     `json:"dhcp_hostname,omitempty"`
	IsGateway bool       `json:"is_gateway"`
	OpenPorts []uint16   `json:"open_ports,omitempty"`
	Server    string     `json:"ssdp_server,omitempty"`
	Location  string     `json:"ssdp_location,omitempty"`
	LastSeen  time.Time  `json:"last_seen"`
}

type Flow struct {
	DeviceID   string     `json:"device_id"`
	RemoteIP   netip.Addr `json:"remote_ip"`
	DevicePort uint16     `json:"device_port"`
	RemotePort uint16     `json:"remote_port"`
	Protocol   string     `json:"protocol"`
	OutBytes   uint64     `json:"out_bytes"`
	InBytes    uint64     `json:"in_bytes"`
	OutPackets uint64     `json:"out_packets"`
	InPackets  uint64     `json:"in_packets"`
}

type DNS struct {
	DeviceID string       `json:"device_id"`
	Hostname string       `json:"hostname"`
	Domain   string       `json:"domain"`
	Addrs    []netip.Addr `json:"addrs"`
}

type Payload struct {
	UserKey string    `json:"user_key"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Devices []Device  `json:"devices"`
	Flows   []Flow    `json:"flows"`
	DNS     []DNS     `json:"dns"`
}

func (p Payload) empty() bool {
	return len(p.Devices) == 0 && len(p.Flows) == 0 && len(p.DNS) == 0
}

// BuildPayload replaces every MAC and device address key in r with a hashed
// device id. Flows and DNS answers of devices without a known MAC are dropped.
func BuildPayload(userKey string, r packet.Report, h *Hasher) Payload {
	ids := make(map[netip.Addr]string, len(r.Devices))
	p := Payload{UserKey: userKey, Start: r.Start, End: r.End}

	index := make(map[netip.Addr]int, len(r.Devices))
	for _, d := range r.Devices {
		id := h.DeviceID(d.MAC)
		ids[d.IP] = id
		index[d.IP] = len(p.Devices)
		p.Devices = append(p.Devices, Device{ID: id, IP: d.IP, Hostname: d.Hostname, IsGateway: d.IsGateway, LastSeen: d.LastSeen})
	}
	for _, op := range r.OpenPorts {
		if i, ok := index[op.DeviceIP]; ok {
			p.Devices[i].OpenPorts = append(p.Devices[i].OpenPorts, op.Port)
		}
	}
	for _, s := range r.SSDP {
		if i, ok := index[s.DeviceIP]; ok {
			p.Devices[i].Server = s.Server
			p.Devices[i].Location = s.Location
		}
	}

	for _, f := range r.Flows {
		id, ok := ids[f.DeviceIP]
		if !ok {
			continue
		}
		p.Flows = append(p.Flows, Flow{
			DeviceID:   id,
			RemoteIP:   f.RemoteIP,
			DevicePort: f.DevicePort,
			RemotePort: f.RemotePort,
			Protocol:   f.Protocol,
			OutBytes:   f.OutBytes,
			InBytes:    f.InBytes,
			OutPackets: f.OutPackets,
			InPackets:  f.InPackets,
		})
	}
	for _, d := range r.DNS {
		id, ok := ids[d.DeviceIP]
		if !ok {
			continue
		}
		p.DNS = append(p.DNS, DNS{DeviceID: id, Hostname: d.Hostname, Domain: d.Domain, Addrs: d.Addrs})
	}
	return p
}
