package lib

import (
	"fmt"
	"net/netip"
)

// ConnID identifies a connection by its 4-tuple. A zero address or port
// means the field is unset.
type ConnID struct {
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
}

func (id ConnID) String() string {
	return fmt.Sprintf("%s<->%s",
		netip.AddrPortFrom(id.LocalAddr, id.LocalPort),
		netip.AddrPortFrom(id.RemoteAddr, id.RemotePort))
}

// Registry is the fixed-size connection table of one node
type Registry struct {
	slots []*Connection
	ports *PortPool
}

func newRegistry(config *NodeConfig) *Registry {
	return &Registry{
		slots: make([]*Connection, config.MaxConnections),
		ports: newPortPool(config.EphemeralLower, config.EphemeralUpper),
	}
}

func (r *Registry) allocate(n *Node) (*Connection, error) {
	for i, s := range r.slots {
		if s == nil {
			c := newConnection(n, i)
			r.slots[i] = c
			return c, nil
		}
	}
	return nil, ErrNoFreeSlot
}

func (r *Registry) release(c *Connection) {
	if c.slot >= 0 && c.slot < len(r.slots) && r.slots[c.slot] == c {
		r.slots[c.slot] = nil
	}
	if c.ephemeral {
		r.ports.returnPort(c.id.LocalPort)
		c.ephemeral = false
	}
}

// allocatePort draws an ephemeral port that no open connection holds
func (r *Registry) allocatePort() (uint16, error) {
	for range r.ports.available() {
		port, err := r.ports.allocatePort()
		if err != nil {
			return 0, err
		}
		if !r.portInUse(port, nil) {
			return port, nil
		}
		r.ports.returnPort(port)
	}
	return 0, ErrNoFreePort
}

func (r *Registry) portInUse(port uint16, except *Connection) bool {
	for _, s := range r.slots {
		if s != nil && s != except && s.state != StateClosed && s.id.LocalPort == port {
			return true
		}
	}
	return false
}

// Lookup returns the open connection with exactly this 4-tuple
func (r *Registry) Lookup(id ConnID) *Connection {
	for _, s := range r.slots {
		if s == nil || s.state == StateClosed || s.state == StateListen {
			continue
		}
		if s.id == id {
			return s
		}
	}
	return nil
}

// LookupListening returns the connection listening on addr:port
func (r *Registry) LookupListening(addr netip.Addr, port uint16) *Connection {
	for _, s := range r.slots {
		if s != nil && s.state == StateListen && s.id.LocalPort == port && s.id.LocalAddr == addr {
			return s
		}
	}
	return nil
}

// held reports whether an unreleased connection, open or closed, still owns
// the 4-tuple id
func (r *Registry) held(id ConnID) bool {
	for _, s := range r.slots {
		if s != nil && s.state != StateListen && s.id == id {
			return true
		}
	}
	return false
}

// Len is the number of allocated slots
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}
