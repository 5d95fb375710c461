package netstack

import (
	"sync"
	"sync/atomic"

	"github.com/dice-ticker/dice-net/logger"
)

// LinkStatus represents the physical and configuration state of the device link.
type LinkStatus uint32

// IsDisconnected returns if the link has no carrier.
func (ls LinkStatus) IsDisconnected() bool { return ls == LinkDisconnected }

// IsUnconfigured returns if the link has carrier but no address.
func (ls LinkStatus) IsUnconfigured() bool { return ls == LinkUnconfigured }

// IsConfigured returns if the link has carrier and an address.
func (ls LinkStatus) IsConfigured() bool { return ls == LinkConfigured }

// String returns string representation of the status.
func (ls LinkStatus) String() string {
	switch ls {
	case LinkDisconnected:
		return "disconnected"
	case LinkUnconfigured:
		return "unconfigured"
	case LinkConfigured:
		return "configured"
	default:
		return "unknown"
	}
}

// Link statuses. A device always starts Disconnected.
//
// Legal transitions:
//
//	Disconnected -> Unconfigured
//	Unconfigured -> Configured
//	Unconfigured -> Disconnected
//	Configured   -> Disconnected
const (
	// LinkDisconnected indicates that the cable is unplugged.
	LinkDisconnected LinkStatus = iota
	// LinkUnconfigured indicates that the link is up but no lease was accepted yet.
	LinkUnconfigured
	// LinkConfigured indicates that the link is up and the interface has an address.
	LinkConfigured
)

// LinkStatusChangeHandler is invoked after every successful transition.
//
// Note: the handler is invoked synchronously by the task performing the transition,
// which is usually the poll task. Keep it short.
type LinkStatusChangeHandler func(prev LinkStatus, cur LinkStatus)

// LinkStatusMgr tracks the LinkStatus of the device.
//
// Status reads are lock free; transitions are serialized.
type LinkStatusMgr struct {
	mu       sync.Mutex
	status   atomic.Uint32
	logger   logger.Logger
	handlers []LinkStatusChangeHandler
}

// NewLinkStatusMgr creates a LinkStatusMgr in the LinkDisconnected status.
func NewLinkStatusMgr(l logger.Logger, handlers ...LinkStatusChangeHandler) *LinkStatusMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &LinkStatusMgr{
		logger:   l,
		handlers: make([]LinkStatusChangeHandler, 0, len(handlers)),
	}
	mgr.handlers = append(mgr.handlers, handlers...)
	mgr.status.Store(uint32(LinkDisconnected))

	return mgr
}

// Status returns the current status.
func (m *LinkStatusMgr) Status() LinkStatus {
	return LinkStatus(m.status.Load())
}

// AddHandler adds handlers invoked on status changes.
func (m *LinkStatusMgr) AddHandler(handlers ...LinkStatusChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, handlers...)
}

// ToUnconfigured moves a disconnected link to LinkUnconfigured.
func (m *LinkStatusMgr) ToUnconfigured() error {
	return m.transition(LinkUnconfigured, LinkDisconnected)
}

// ToConfigured moves an unconfigured link to LinkConfigured.
func (m *LinkStatusMgr) ToConfigured() error {
	return m.transition(LinkConfigured, LinkUnconfigured)
}

// ToDisconnected moves an unconfigured or configured link to LinkDisconnected.
func (m *LinkStatusMgr) ToDisconnected() error {
	return m.transition(LinkDisconnected, LinkUnconfigured, LinkConfigured)
}

func (m *LinkStatusMgr) transition(to LinkStatus, from ...LinkStatus) error {
	m.mu.Lock()

	prev := m.Status()
	legal := false
	for _, s := range from {
		if prev == s {
			legal = true
			break
		}
	}
	if !legal {
		m.mu.Unlock()
		m.logger.Warn("invalid link status transition", "cur_status", prev, "desired_status", to)

		return ErrInvalidTransition
	}

	m.status.Store(uint32(to))
	handlers := make([]LinkStatusChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("link status changed", "prev_status", prev, "status", to)
	for _, h := range handlers {
		h(prev, to)
	}

	return nil
}
