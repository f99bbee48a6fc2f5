package netinfo

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

const (
	rtfUp      = 0x1
	rtfGateway = 0x2
)

// parseProcRoute extracts the default route from /proc/net/route content.
// Only routes that are up and go through a gateway count; the lowest metric
// wins. Gateways there are little-endian hex.
func parseProcRoute(data string) (Route, error) {
	sc := bufio.NewScanner(strings.NewReader(data))
	first := true
	var (
		best       Route
		bestMetric uint64
		found      bool
	)
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 7 || fields[1] != "00000000" {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&(rtfUp|rtfGateway) != rtfUp|rtfGateway {
			continue
		}
		metric, err := strconv.ParseUint(fields[6], 10, 32)
		if err != nil {
			continue
		}
		raw, err := hex.DecodeString(fields[2])
		if err != nil || len(raw) != 4 {
			return Route{}, fmt.Errorf("bad gateway field %q", fields[2])
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], binary.LittleEndian.Uint32(raw))
		gw := netip.AddrFrom4(b)
		if gw.IsUnspecified() {
			continue
		}
		if found && metric >= bestMetric {
			continue
		}
		best = Route{Gateway: gw.String(), Interface: fields[0]}
		bestMetric = metric
		found = true
	}
	if !found {
		return Route{}, ErrNoRoute
	}
	return best, nil
}

// parseNetstat handles `netstat -rn` output from BSD/macOS ("default <gw> ...
// <iface>") and Windows ("0.0.0.0 0.0.0.0 <gw> <host> <metric>").
func parseNetstat(out string) (Route, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch {
		case fields[0] == "default" && len(fields) >= 2:
			if !IsIPv4(fields[1]) {
				continue // IPv6 table or link# entries
			}
			r := Route{Gateway: fields[1]}
			if len(fields) >= 4 {
				r.Interface = fields[len(fields)-1]
			}
			return r, nil
		case fields[0] == "0.0.0.0" && len(fields) >= 4 && fields[1] == "0.0.0.0":
			return Route{Gateway: fields[2], Host: fields[3]}, nil
		}
	}
	return Route{}, ErrNoRoute
}
