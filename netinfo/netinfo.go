// Package netinfo resolves the host's addressing: the default gateway, the
// host address on the default-route interface and that interface's MAC.
package netinfo

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/iotinspector/inspector/log"
)

var (
	ErrInvalidIPv4  = errors.New("invalid IPv4 address")
	ErrNoRoute      = errors.New("no default route")
	ErrNoHardware   = errors.New("interface has no hardware address")
	ErrNoIPv4OnLink = errors.New("interface has no IPv4 address")
)

// Facts is resolved once at startup and never changed afterwards.
type Facts struct {
	GatewayIP netip.Addr
	HostIP    netip.Addr
	HostMAC   net.HardwareAddr
	Interface string
	Subnet    netip.Prefix
}

func (f Facts) String() string {
	return fmt.Sprintf("iface=%s host=%s (%s) gateway=%s subnet=%s",
		f.Interface, f.HostIP, f.HostMAC, f.GatewayIP, f.Subnet)
}

// IsIPv4 reports whether s is a well-formed dotted-quad IPv4 address.
func IsIPv4(s string) bool {
	a, err := netip.ParseAddr(s)
	return err == nil && a.Is4()
}

func parseIPv4(what, s string) (netip.Addr, error) {
	if !IsIPv4(s) {
		return netip.Addr{}, fmt.Errorf("%s %q: %w", what, s, ErrInvalidIPv4)
	}
	return netip.MustParseAddr(s), nil
}

// Route is what the OS routing table says about the default route. Host may be
// empty when the source cannot tell; it is then taken from the interface.
type Route struct {
	Gateway   string
	Interface string
	Host      string
}

type RouteSource interface {
	DefaultRoute() (Route, error)
}

type Link struct {
	Name   string
	MAC    net.HardwareAddr
	Prefix netip.Prefix // host address with its mask
}

type LinkSource interface {
	Link(name string) (Link, error)
}

type Resolver struct {
	Routes RouteSource
	Links  LinkSource
	// Interface overrides the interface reported by the route source.
	Interface string
}

func NewResolver(iface string) *Resolver {
	return &Resolver{
		Routes:    systemRoutes{},
		Links:     systemLinks{},
		Interface: iface,
	}
}

// Resolve returns validated facts or an error; a malformed gateway or host
// address is always an error.
func (r *Resolver) Resolve() (Facts, error) {
	route, err := r.Routes.DefaultRoute()
	if err != nil {
		return Facts{}, fmt.Errorf("default route: %w", err)
	}

	name := route.Interface
	if r.Interface != "" {
		name = r.Interface
	}
	link, err := r.Links.Link(name)
	if err != nil {
		return Facts{}, fmt.Errorf("interface %q: %w", name, err)
	}
	if len(link.MAC) == 0 {
		return Facts{}, fmt.Errorf("interface %q: %w", name, ErrNoHardware)
	}

	hostStr := route.Host
	if hostStr == "" {
		if !link.Prefix.IsValid() {
			return Facts{}, fmt.Errorf("interface %q: %w", name, ErrNoIPv4OnLink)
		}
		hostStr = link.Prefix.Addr().String()
	}

	gw, err := parseIPv4("gateway", route.Gateway)
	if err != nil {
		return Facts{}, err
	}
	host, err := parseIPv4("host", hostStr)
	if err != nil {
		return Facts{}, err
	}

	subnet := link.Prefix.Masked()
	if !subnet.IsValid() {
		subnet = netip.PrefixFrom(host, 24).Masked()
		log.Warnf("No netmask for %s, assuming %s", name, subnet)
	}

	return Facts{
		GatewayIP: gw,
		HostIP:    host,
		HostMAC:   link.MAC,
		Interface: link.Name,
		Subnet:    subnet,
	}, nil
}

type systemLinks struct{}

func (systemLinks) Link(name string) (Link, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return Link{}, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return Link{}, err
	}

	l := Link{Name: iface.Name, MAC: iface.HardwareAddr}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil || ipnet.IP.IsLoopback() {
			continue
		}
		addr, _ := netip.AddrFromSlice(ipnet.IP.To4())
		ones, _ := ipnet.Mask.Size()
		l.Prefix = netip.PrefixFrom(addr, ones)
		break
	}
	return l, nil
}
