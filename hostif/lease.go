package hostif

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/dice-ticker/dice-net/netif"
)

// ErrNoHostAddress indicates that the host has no usable IPv4 address.
var ErrNoHostAddress = errors.New("hostif: no IPv4 address on the host")

// LeaseSource is a netif.DHCPClient offering one lease after a configurable delay. It
// re-arms on every Reset, which models rediscovery after a link loss.
type LeaseSource struct {
	mu      sync.Mutex
	resolve func() (netif.Lease, error)
	delay   time.Duration
	readyAt time.Time
	armed   bool
	offered bool
}

var _ netif.DHCPClient = (*LeaseSource)(nil)

// NewStaticLease returns a LeaseSource offering lease.
func NewStaticLease(lease netif.Lease, delay time.Duration) *LeaseSource {
	return &LeaseSource{
		resolve: func() (netif.Lease, error) { return lease, nil },
		delay:   delay,
	}
}

// NewHostLease returns a LeaseSource offering the first global unicast IPv4 address of
// the host, or the loopback address when there is none.
func NewHostLease(delay time.Duration) *LeaseSource {
	return &LeaseSource{resolve: hostLease, delay: delay}
}

// Poll returns the lease once the delay since the first poll or the last Reset elapsed.
func (l *LeaseSource) Poll(now time.Time) (*netif.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.armed {
		l.armed = true
		l.readyAt = now.Add(l.delay)
	}
	if l.offered || now.Before(l.readyAt) {
		return nil, nil //nolint:nilnil // no lease this cycle
	}

	lease, err := l.resolve()
	if err != nil {
		// try again after another delay
		l.readyAt = now.Add(l.delay)
		return nil, err
	}
	l.offered = true

	return &lease, nil
}

// Reset drops the lease and restarts the delay.
func (l *LeaseSource) Reset(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.armed = true
	l.offered = false
	l.readyAt = now.Add(l.delay)
}

func hostLease() (netif.Lease, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netif.Lease{}, err
	}

	return leaseFromAddrs(addrs)
}

func leaseFromAddrs(addrs []net.Addr) (netif.Lease, error) {
	var loopback netip.Prefix
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if !ip.Is4() {
			continue
		}
		ones, _ := ipNet.Mask.Size()
		if ones > 32 {
			ones -= 96
		}
		prefix := netip.PrefixFrom(ip, ones)

		if ip.IsGlobalUnicast() {
			return netif.Lease{Address: prefix}, nil
		}
		if ip.IsLoopback() && !loopback.IsValid() {
			loopback = prefix
		}
	}

	if loopback.IsValid() {
		return netif.Lease{Address: loopback}, nil
	}

	return netif.Lease{}, ErrNoHostAddress
}
