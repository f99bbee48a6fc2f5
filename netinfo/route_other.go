//go:build !linux

package netinfo

import (
	"net"
	"os/exec"
)

type systemRoutes struct{}

func (systemRoutes) DefaultRoute() (Route, error) {
	out, err := exec.Command("netstat", "-rn").Output()
	if err != nil {
		return Route{}, err
	}
	r, err := parseNetstat(string(out))
	if err != nil {
		return Route{}, err
	}
	if r.Host == "" {
		if host, err := outboundIPv4(r.Gateway); err == nil {
			r.Host = host
		}
	}
	if r.Interface == "" && r.Host != "" {
		r.Interface = interfaceForIP(r.Host)
	}
	return r, nil
}

func interfaceForIP(ip string) string {
	ifs, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, it := range ifs {
		addrs, _ := it.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.String() == ip {
				return it.Name
			}
		}
	}
	return ""
}

// outboundIPv4 returns the local address the kernel would use to reach dst.
// Dialing UDP sends nothing.
func outboundIPv4(dst string) (string, error) {
	conn, err := net.Dial("udp4", net.JoinHostPort(dst, "53"))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
