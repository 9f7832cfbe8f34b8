package lib

import (
	"fmt"
	"math/rand"
)

// PortPool manages the ephemeral port range as a ring of shuffled port
// numbers. Allocated ports leave the ring and rejoin it at the tail.
type PortPool struct {
	ports           []uint16
	capacity        int
	minPort         uint16
	maxPort         uint16
	readIdx         int
	writeIdx        int
	isFull, isEmpty bool
}

func newPortPool(minPort, maxPort uint16) *PortPool {
	capacity := int(maxPort) - int(minPort) + 1

	perm := rand.Perm(capacity)
	ports := make([]uint16, capacity)
	for i, v := range perm {
		ports[i] = minPort + uint16(v)
	}

	return &PortPool{
		ports:    ports,
		capacity: capacity,
		minPort:  minPort,
		maxPort:  maxPort,
		isFull:   true,
	}
}

func (p *PortPool) allocatePort() (uint16, error) {
	if p.isEmpty {
		return 0, ErrNoFreePort
	}

	port := p.ports[p.readIdx]
	p.readIdx = (p.readIdx + 1) % p.capacity
	if p.readIdx == p.writeIdx {
		p.isEmpty = true
	}
	p.isFull = false

	return port, nil
}

func (p *PortPool) returnPort(port uint16) error {
	if port < p.minPort || port > p.maxPort {
		return fmt.Errorf("port %d out of range [%d, %d]", port, p.minPort, p.maxPort)
	}
	if p.isFull {
		return fmt.Errorf("port pool is full, cannot return port %d", port)
	}

	p.ports[p.writeIdx] = port
	p.writeIdx = (p.writeIdx + 1) % p.capacity
	if p.writeIdx == p.readIdx {
		p.isFull = true
	}
	p.isEmpty = false

	return nil
}

// available returns the number of ports left in the ring
func (p *PortPool) available() int {
	switch {
	case p.isEmpty:
		return 0
	case p.isFull:
		return p.capacity
	case p.writeIdx > p.readIdx:
		return p.writeIdx - p.readIdx
	default:
		return p.capacity - (p.readIdx - p.writeIdx)
	}
}
