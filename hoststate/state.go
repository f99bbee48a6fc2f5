// Package hoststate is the context every worker shares: who this installation
// is, where it sits on the network and the packet processor they all feed.
package hoststate

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/iotinspector/inspector/identity"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/netinfo"
	"github.com/iotinspector/inspector/packet"
)

var ErrMissingField = errors.New("missing required field")

// ProcessorFactory builds the processor once the network facts are final.
type ProcessorFactory func(netinfo.Facts) (*packet.Processor, error)

// State is read-only after New returns. Only the processor's own tables
// change afterwards, under the processor's lock.
type State struct {
	identity   identity.HostIdentity
	network    netinfo.Facts
	processor  *packet.Processor
	persistent bool
}

// New returns a fully populated State or an error, never a partial State.
func New(id identity.HostIdentity, facts netinfo.Facts, persistent bool, newProcessor ProcessorFactory) (*State, error) {
	switch {
	case id.UserKey == "":
		return nil, fmt.Errorf("user key: %w", ErrMissingField)
	case id.SecretSalt == "":
		return nil, fmt.Errorf("secret salt: %w", ErrMissingField)
	case len(facts.HostMAC) == 0:
		return nil, fmt.Errorf("host mac: %w", ErrMissingField)
	case !facts.GatewayIP.IsValid():
		return nil, fmt.Errorf("gateway ip: %w", ErrMissingField)
	case !facts.HostIP.IsValid():
		return nil, fmt.Errorf("host ip: %w", ErrMissingField)
	}
	if !facts.GatewayIP.Is4() {
		return nil, fmt.Errorf("gateway %s: %w", facts.GatewayIP, netinfo.ErrInvalidIPv4)
	}
	if !facts.HostIP.Is4() {
		return nil, fmt.Errorf("host %s: %w", facts.HostIP, netinfo.ErrInvalidIPv4)
	}

	facts.HostMAC = cloneMAC(facts.HostMAC)

	if newProcessor == nil {
		newProcessor = packet.New
	}
	proc, err := newProcessor(facts)
	if err != nil {
		return nil, fmt.Errorf("create packet processor: %w", err)
	}
	if proc == nil {
		return nil, fmt.Errorf("packet processor: %w", ErrMissingField)
	}

	return &State{
		identity:   id,
		network:    facts,
		processor:  proc,
		persistent: persistent,
	}, nil
}

// Resolve runs identity then network resolution and builds the State. Any
// failure aborts before a State exists.
func Resolve(
	ctx context.Context,
	resolveIdentity func(context.Context) (identity.HostIdentity, error),
	resolveNetwork func() (netinfo.Facts, error),
	persistent bool,
	newProcessor ProcessorFactory,
) (*State, error) {
	id, err := resolveIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	facts, err := resolveNetwork()
	if err != nil {
		return nil, fmt.Errorf("resolve network: %w", err)
	}
	st, err := New(id, facts, persistent, newProcessor)
	if err != nil {
		return nil, err
	}
	log.Infof("Host state ready: %s", facts)
	return st, nil
}

func (s *State) Identity() identity.HostIdentity { return s.identity }

// Network returns a copy; the MAC slice is not shared with the State.
func (s *State) Network() netinfo.Facts {
	f := s.network
	f.HostMAC = cloneMAC(f.HostMAC)
	return f
}

func (s *State) Processor() *packet.Processor { return s.processor }
func (s *State) PersistentMode() bool         { return s.persistent }

func cloneMAC(m net.HardwareAddr) net.HardwareAddr {
	return append(net.HardwareAddr(nil), m...)
}
