package hoststate

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/iotinspector/inspector/identity"
	"github.com/iotinspector/inspector/netinfo"
	"github.com/iotinspector/inspector/packet"
)

func validID() identity.HostIdentity {
	return identity.HostIdentity{UserKey: "abcd1234ef56", SecretSalt: "00ff"}
}

func validFacts() netinfo.Facts {
	return netinfo.Facts{
		GatewayIP: netip.MustParseAddr("192.168.1.1"),
		HostIP:    netip.MustParseAddr("192.168.1.42"),
		HostMAC:   net.HardwareAddr{0x02, 0, 0, 0, 0, 0x2a},
		Interface: "eth0",
		Subnet:    netip.MustParsePrefix("192.168.1.0/24"),
	}
}

func TestNew_Complete(t *testing.T) {
	st, err := New(validID(), validFacts(), true, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if st.Identity().UserKey != "abcd1234ef56" || st.Identity().SecretSalt == "" {
		t.Errorf("identity not carried: %+v", st.Identity())
	}
	if st.Processor() == nil {
		t.Error("processor missing")
	}
	if !st.PersistentMode() {
		t.Error("persistent flag lost")
	}
	if st.Network().GatewayIP != netip.MustParseAddr("192.168.1.1") {
		t.Errorf("gateway = %s", st.Network().GatewayIP)
	}
}

func TestNew_AllOrNothing(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*identity.HostIdentity, *netinfo.Facts)
		factory ProcessorFactory
		wantErr error
	}{
		{"no user key", func(id *identity.HostIdentity, _ *netinfo.Facts) { id.UserKey = "" }, nil, ErrMissingField},
		{"no salt", func(id *identity.HostIdentity, _ *netinfo.Facts) { id.SecretSalt = "" }, nil, ErrMissingField},
		{"no mac", func(_ *identity.HostIdentity, f *netinfo.Facts) { f.HostMAC = nil }, nil, ErrMissingField},
		{"no gateway", func(_ *identity.HostIdentity, f *netinfo.Facts) { f.GatewayIP = netip.Addr{} }, nil, ErrMissingField},
		{"no host", func(_ *identity.HostIdentity, f *netinfo.Facts) { f.HostIP = netip.Addr{} }, nil, ErrMissingField},
		{"ipv6 host", func(_ *identity.HostIdentity, f *netinfo.Facts) { f.HostIP = netip.MustParseAddr("fe80::1") }, nil, netinfo.ErrInvalidIPv4},
		{
			"processor fails", func(*identity.HostIdentity, *netinfo.Facts) {},
			func(netinfo.Facts) (*packet.Processor, error) { return nil, errors.New("no pcap") }, nil,
		},
		{
			"nil processor", func(*identity.HostIdentity, *netinfo.Facts) {},
			func(netinfo.Facts) (*packet.Processor, error) { return nil, nil }, ErrMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, facts := validID(), validFacts()
			tt.mutate(&id, &facts)
			st, err := New(id, facts, false, tt.factory)
			if err == nil {
				t.Fatal("expected error")
			}
			if st != nil {
				t.Error("partial state returned")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
		})
	}
}

func TestNetwork_ReturnsCopy(t *testing.T) {
	st, err := New(validID(), validFacts(), false, nil)
	if err != nil {
		t.Fatal(err)
	}
	f := st.Network()
	f.HostMAC[0] = 0xff
	if st.Network().HostMAC[0] == 0xff {
		t.Error("caller mutated shared MAC")
	}
}

func TestResolve(t *testing.T) {
	idOK := func(context.Context) (identity.HostIdentity, error) { return validID(), nil }

	t.Run("valid route", func(t *testing.T) {
		st, err := Resolve(context.Background(), idOK, func() (netinfo.Facts, error) { return validFacts(), nil }, true, nil)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if st.Network().HostIP != netip.MustParseAddr("192.168.1.42") {
			t.Errorf("host = %s", st.Network().HostIP)
		}
	})

	t.Run("bad gateway aborts", func(t *testing.T) {
		badNet := func() (netinfo.Facts, error) {
			r := &netinfo.Resolver{
				Routes: staticRoute{netinfo.Route{Gateway: "not-an-ip", Interface: "eth0", Host: "192.168.1.42"}},
				Links:  staticLink{netinfo.Link{Name: "eth0", MAC: validFacts().HostMAC}},
			}
			return r.Resolve()
		}
		st, err := Resolve(context.Background(), idOK, badNet, true, nil)
		if !errors.Is(err, netinfo.ErrInvalidIPv4) {
			t.Fatalf("expected invalid IPv4, got %v", err)
		}
		if st != nil {
			t.Error("state built from bad gateway")
		}
	})

	t.Run("identity failure", func(t *testing.T) {
		boom := errors.New("offline")
		idFail := func(context.Context) (identity.HostIdentity, error) { return identity.HostIdentity{}, boom }
		called := false
		_, err := Resolve(context.Background(), idFail, func() (netinfo.Facts, error) {
			called = true
			return validFacts(), nil
		}, false, nil)
		if !errors.Is(err, boom) {
			t.Fatalf("expected identity error, got %v", err)
		}
		if called {
			t.Error("network resolved after identity failure")
		}
	})
}

type staticRoute struct{ r netinfo.Route }

func (s staticRoute) DefaultRoute() (netinfo.Route, error) { return s.r, nil }

type staticLink struct{ l netinfo.Link }

func (s staticLink) Link(string) (netinfo.Link, error) { return s.l, nil }
