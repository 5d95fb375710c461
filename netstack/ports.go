package netstack

import (
	"math/rand/v2"

	"github.com/dice-ticker/dice-net/transport"
)

const (
	// PortRangeStart is the first port of the dynamic (ephemeral) range.
	PortRangeStart uint16 = 49152
	// PortRangeEnd is the last port of the dynamic range.
	PortRangeEnd uint16 = 65535

	portRangeSize = uint64(PortRangeEnd) - uint64(PortRangeStart) + 1
)

// SeedRandomPort reseeds the ephemeral port generator.
func (s *NetworkStack) SeedRandomPort(seed uint64) {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()

	s.portSource = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// allocatePortLocked binds a free ephemeral port to h. Ports are drawn uniformly from the
// dynamic range; a drawn port that is already bound is rejected and another one is drawn.
//
// Must be called with sockMu held.
func (s *NetworkStack) allocatePortLocked(h transport.Handle) uint16 {
	for {
		port := PortRangeStart + uint16(s.portSource.Uint64()%portRangeSize)
		if _, loaded := s.ports.LoadOrStore(port, h); !loaded {
			return port
		}

		s.metrics.incPortCollisionCount()
		s.logger.Debug("ephemeral port in use, drawing again", "port", port, "handle", h)
	}
}

// releasePortLocked removes the port bound by the slot from the registry. It is a no-op
// when the slot holds no port, so a port is released exactly once.
//
// Must be called with sockMu held.
func (s *NetworkStack) releasePortLocked(sl *slot) {
	if sl.port == 0 {
		return
	}

	s.ports.Delete(sl.port)
	sl.port = 0
}

// BoundPorts returns the number of ports currently held in the registry.
func (s *NetworkStack) BoundPorts() int {
	return s.ports.Size()
}
