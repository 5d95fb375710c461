package netstack

import (
	"errors"
	"math/rand/v2"
	"net/netip"
	"testing"
	"time"

	"github.com/dice-ticker/dice-net/logger"
	"github.com/dice-ticker/dice-net/netif"
	"github.com/dice-ticker/dice-net/transport"
	"github.com/stretchr/testify/require"
)

var remoteAddr = netip.MustParseAddrPort("40.115.22.134:443")

func TestNew(t *testing.T) {
	require := require.New(t)

	_, err := New(nil, []netif.TCPSocket{newFakeSocket()})
	require.ErrorIs(err, ErrInterfaceNil)

	_, err = New(newFakeIface(""), nil)
	require.ErrorIs(err, ErrInvalidSockets)

	sockets := make([]netif.TCPSocket, MaxSockets+1)
	for i := range sockets {
		sockets[i] = newFakeSocket()
	}
	_, err = New(newFakeIface(""), sockets)
	require.ErrorIs(err, ErrInvalidSockets)

	_, err = New(newFakeIface(""), sockets[:1], WithHalfOpenLimit(-1))
	require.Error(err)

	_, err = New(newFakeIface(""), sockets[:1], WithLogger(nil))
	require.Error(err)
}

func TestErrorVocabulary(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{ErrNoSocket, transport.ErrNoAvailableSockets},
		{ErrConnectionFailure, transport.ErrConnectionRefused},
		{ErrSocketNotOpen, transport.ErrSocketNotOpen},
		{ErrReadFailure, transport.ErrReadError},
		{ErrWriteFailure, transport.ErrWriteError},
		{ErrUnsupported, transport.ErrUnsupported},
		{ErrNoIPAddress, transport.ErrNoIPAddress},
		{ErrTimeout, transport.ErrTimeout},
		{ErrBusy, transport.ErrBusy},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.ErrorIs(t, tt.err, tt.kind)
			require.Contains(t, tt.err.Error(), "netstack: ")
		})
	}
}

func TestOpen_NoIPAddress(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("", 4, WithLogger(logger.NewNop()))
	require.True(stack.IsIPUnspecified())

	_, err := stack.Open(transport.ModeNonBlocking)
	require.ErrorIs(err, ErrNoIPAddress)
	require.ErrorIs(err, transport.ErrNoIPAddress)

	// failure leaves the pool untouched
	require.Equal(4, stack.Available())
	for _, f := range fakes {
		require.Zero(f.aborts)
	}
	require.Zero(stack.Metrics().OpenCount.Load())

	// unspecified address counts as no address too
	stack, _, _ = newTestStack("0.0.0.0/0", 4, WithLogger(logger.NewNop()))
	_, err = stack.Open(transport.ModeNonBlocking)
	require.ErrorIs(err, ErrNoIPAddress)
}

func TestOpen_Exhausted(t *testing.T) {
	require := require.New(t)

	stack, _, _ := newTestStack("192.168.1.10/24", MaxSockets, WithLogger(logger.NewNop()))

	seen := make(map[transport.Handle]bool)
	for i := 0; i < MaxSockets; i++ {
		h, err := stack.Open(transport.ModeNonBlocking)
		require.NoError(err)
		require.False(seen[h], "handle %d handed out twice", h)
		seen[h] = true
	}

	_, err := stack.Open(transport.ModeNonBlocking)
	require.ErrorIs(err, ErrNoSocket)
	require.ErrorIs(err, transport.ErrNoAvailableSockets)
	require.Zero(stack.Available())
	require.EqualValues(MaxSockets, stack.Metrics().SocketsInUse.Load())
}

func TestOpen_Modes(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))

	_, err := stack.Open(transport.ModeBlocking)
	require.ErrorIs(err, ErrUnsupported)

	h, err := stack.Open(transport.ModeNonBlocking)
	require.NoError(err)
	require.Equal(transport.Handle(0), h)
	require.Equal(1, fakes[0].aborts, "stale socket state is aborted on open")
}

func TestOpen_Busy(t *testing.T) {
	require := require.New(t)

	stack, _, _ := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))

	stack.sockMu.Lock()
	_, err := stack.Open(transport.ModeNonBlocking)
	stack.sockMu.Unlock()

	require.ErrorIs(err, ErrBusy)
	require.True(transport.IsTransient(err))
	require.Equal(2, stack.Available())
}

func TestConnect_PortCollision(t *testing.T) {
	require := require.New(t)

	// 848 maps to port 50000; the second connect draws it twice before 900 (port 50052)
	src := &seqSource{offsets: []uint64{848, 848, 848, 900}}
	stack, _, fakes := newTestStack("192.168.1.10/24", 2, WithPortSource(src), WithLogger(logger.NewNop()))

	h0, err := stack.Open(transport.ModeNonBlocking)
	require.NoError(err)
	_, err = stack.Connect(h0, remoteAddr)
	require.NoError(err)
	require.Equal(uint16(50000), fakes[h0].LocalPort())

	h1, err := stack.Open(transport.ModeNonBlocking)
	require.NoError(err)
	_, err = stack.Connect(h1, remoteAddr)
	require.NoError(err)
	require.Equal(uint16(50052), fakes[h1].LocalPort())

	require.EqualValues(2, stack.Metrics().PortCollisionCount.Load())
	require.Equal(2, stack.BoundPorts())
}

func TestConnect_PortRange(t *testing.T) {
	require := require.New(t)

	src := &seqSource{offsets: []uint64{portRangeSize - 1, portRangeSize, 0, 5}}
	stack, _, fakes := newTestStack("192.168.1.10/24", 3, WithPortSource(src), WithLogger(logger.NewNop()))

	for i := 0; i < 3; i++ {
		h, err := stack.Open(transport.ModeNonBlocking)
		require.NoError(err)
		_, err = stack.Connect(h, remoteAddr)
		require.NoError(err)
	}

	require.Equal(PortRangeEnd, fakes[0].LocalPort())
	require.Equal(PortRangeStart, fakes[1].LocalPort(), "offsets wrap around the range")
	require.Equal(PortRangeStart+5, fakes[2].LocalPort())
	require.Equal(3, stack.BoundPorts())
}

func TestConnect(t *testing.T) {
	t.Run("idempotent while open", func(t *testing.T) {
		require := require.New(t)
		stack, _, fakes := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))

		h, err := stack.Open(transport.ModeNonBlocking)
		require.NoError(err)
		h2, err := stack.Connect(h, remoteAddr)
		require.NoError(err)
		require.Equal(h, h2)
		port := fakes[h].LocalPort()

		h2, err = stack.Connect(h, remoteAddr)
		require.NoError(err)
		require.Equal(h, h2)
		require.Equal(port, fakes[h].LocalPort())
		require.Equal(1, stack.BoundPorts())
		require.EqualValues(1, stack.Metrics().ConnectCount.Load())
	})

	t.Run("ipv6 unsupported", func(t *testing.T) {
		require := require.New(t)
		stack, _, _ := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))

		h, err := stack.Open(transport.ModeNonBlocking)
		require.NoError(err)
		_, err = stack.Connect(h, netip.MustParseAddrPort("[2001:db8::1]:443"))
		require.ErrorIs(err, ErrUnsupported)
		require.Zero(stack.BoundPorts())
	})

	t.Run("socket failure closes handle", func(t *testing.T) {
		require := require.New(t)
		stack, _, fakes := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))

		h, err := stack.Open(transport.ModeNonBlocking)
		require.NoError(err)
		fakes[h].connectErr = errFakeConnect

		_, err = stack.Connect(h, remoteAddr)
		require.ErrorIs(err, ErrConnectionFailure)
		require.ErrorIs(err, transport.ErrConnectionRefused)
		require.Equal(2, stack.Available())
		require.Zero(stack.BoundPorts())
		require.EqualValues(1, stack.Metrics().ConnectErrCount.Load())
	})

	t.Run("address lost closes handle", func(t *testing.T) {
		require := require.New(t)
		stack, _, _ := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))

		h, err := stack.Open(transport.ModeNonBlocking)
		require.NoError(err)
		require.NoError(stack.HandleLinkReset())

		_, err = stack.Connect(h, remoteAddr)
		require.ErrorIs(err, ErrNoIPAddress)
		require.Equal(2, stack.Available())
	})

	t.Run("free handle", func(t *testing.T) {
		require := require.New(t)
		stack, _, _ := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))

		_, err := stack.Connect(0, remoteAddr)
		require.ErrorIs(err, ErrSocketNotOpen)
		_, err = stack.Connect(7, remoteAddr)
		require.ErrorIs(err, ErrSocketNotOpen)
	})
}

func TestWriteRead(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))
	h, err := stack.Open(transport.ModeNonBlocking)
	require.NoError(err)
	_, err = stack.Connect(h, remoteAddr)
	require.NoError(err)
	sock := fakes[h]

	connected, err := stack.IsConnected(h)
	require.NoError(err)
	require.False(connected)

	// handshake still running
	_, err = stack.Write(h, []byte("GET"))
	require.ErrorIs(err, transport.ErrWouldBlock)
	_, err = stack.Read(h, make([]byte, 8))
	require.ErrorIs(err, transport.ErrWouldBlock)

	sock.establish()
	connected, err = stack.IsConnected(h)
	require.NoError(err)
	require.True(connected)

	n, err := stack.Write(h, []byte("GET / HTTP/1.1\r\n"))
	require.NoError(err)
	require.Equal(16, n)
	require.Equal("GET / HTTP/1.1\r\n", string(sock.tx))

	// transmit buffer full
	sock.txCap = len(sock.tx)
	_, err = stack.Write(h, []byte("more"))
	require.ErrorIs(err, transport.ErrWouldBlock)

	n, err = stack.Write(h, nil)
	require.NoError(err)
	require.Zero(n)

	sock.rx = []byte("HTTP/1.1 200 OK")
	buf := make([]byte, 8)
	n, err = stack.Read(h, buf)
	require.NoError(err)
	require.Equal("HTTP/1.1", string(buf[:n]))
	n, err = stack.Read(h, buf)
	require.NoError(err)
	require.Equal(" 200 OK", string(buf[:n]))

	_, err = stack.Read(h, buf)
	require.ErrorIs(err, transport.ErrWouldBlock)

	// peer closes its half
	sock.state = netif.SocketCloseWait
	sock.mayRecv = false
	sock.rx = []byte("tail")
	n, err = stack.Read(h, buf)
	require.NoError(err)
	require.Equal("tail", string(buf[:n]))
	n, err = stack.Read(h, buf)
	require.NoError(err)
	require.Zero(n, "orderly end of stream")

	require.EqualValues(16, stack.Metrics().BytesSent.Load())
	require.EqualValues(19, stack.Metrics().BytesRecv.Load())

	require.NoError(stack.Close(h))
	_, err = stack.Write(h, []byte("x"))
	require.ErrorIs(err, ErrSocketNotOpen)
	_, err = stack.Read(h, buf)
	require.ErrorIs(err, ErrSocketNotOpen)
}

func TestWriteRead_Busy(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("192.168.1.10/24", 1, WithLogger(logger.NewNop()))
	h, _ := stack.Open(transport.ModeNonBlocking)
	_, err := stack.Connect(h, remoteAddr)
	require.NoError(err)
	fakes[h].establish()
	fakes[h].rx = []byte("data")

	stack.sockMu.Lock()
	_, werr := stack.Write(h, []byte("x"))
	_, rerr := stack.Read(h, make([]byte, 4))
	stack.sockMu.Unlock()

	require.ErrorIs(werr, transport.ErrWouldBlock)
	require.ErrorIs(rerr, transport.ErrWouldBlock)
	require.Empty(fakes[h].tx)
	require.Equal("data", string(fakes[h].rx))
	require.EqualValues(2, stack.Metrics().WouldBlockCount.Load())
}

func TestClose(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))
	h, _ := stack.Open(transport.ModeNonBlocking)
	_, err := stack.Connect(h, remoteAddr)
	require.NoError(err)
	require.Equal(1, stack.BoundPorts())

	require.NoError(stack.Close(h))
	require.Equal(1, fakes[h].closes)
	require.Zero(stack.BoundPorts())
	require.Equal(2, stack.Available())

	// double close must not put the handle on the free list twice
	require.NoError(stack.Close(h))
	require.Equal(2, stack.Available())
	require.EqualValues(1, stack.Metrics().CloseCount.Load())

	a, err := stack.Open(transport.ModeNonBlocking)
	require.NoError(err)
	b, err := stack.Open(transport.ModeNonBlocking)
	require.NoError(err)
	require.NotEqual(a, b)

	require.ErrorIs(stack.Close(99), ErrSocketNotOpen)
}

func TestPortUniqueness(t *testing.T) {
	require := require.New(t)

	// a tiny offset space forces frequent collisions
	var counter uint64
	src := sourceFunc(func() uint64 {
		counter++
		return counter % 6
	})
	stack, _, fakes := newTestStack("192.168.1.10/24", 4, WithPortSource(src), WithLogger(logger.NewNop()))

	rng := rand.New(rand.NewPCG(1, 2))
	open := make(map[transport.Handle]bool)

	for i := 0; i < 2000; i++ {
		switch rng.IntN(3) {
		case 0:
			h, err := stack.Open(transport.ModeNonBlocking)
			if err != nil {
				require.ErrorIs(err, ErrNoSocket)
				continue
			}
			open[h] = true
		case 1:
			for h := range open {
				_, err := stack.Connect(h, remoteAddr)
				require.NoError(err)
				break
			}
		case 2:
			for h := range open {
				require.NoError(stack.Close(h))
				delete(open, h)
				break
			}
		}

		ports := make(map[uint16]transport.Handle)
		bound := 0
		for i, f := range fakes {
			if !f.IsOpen() {
				continue
			}
			bound++
			other, dup := ports[f.LocalPort()]
			require.False(dup, "port %d held by handles %d and %d", f.LocalPort(), other, i)
			ports[f.LocalPort()] = transport.Handle(i)
			require.GreaterOrEqual(f.LocalPort(), PortRangeStart)
		}
		require.Equal(bound, stack.BoundPorts())
	}
}

type sourceFunc func() uint64

func (f sourceFunc) Uint64() uint64 { return f() }

func TestPoll(t *testing.T) {
	t.Run("skips when pool is held", func(t *testing.T) {
		require := require.New(t)
		stack, iface, _ := newTestStack("192.168.1.10/24", 1, WithLogger(logger.NewNop()))

		stack.sockMu.Lock()
		updated, err := stack.Poll(time.Now())
		stack.sockMu.Unlock()

		require.NoError(err)
		require.False(updated)
		require.Zero(iface.polls)
		require.EqualValues(1, stack.Metrics().PollSkipCount.Load())
	})

	t.Run("skips when interface is held", func(t *testing.T) {
		require := require.New(t)
		stack, iface, _ := newTestStack("192.168.1.10/24", 1, WithLogger(logger.NewNop()))

		stack.ifaceMu.Lock()
		updated, err := stack.Poll(time.Now())
		stack.ifaceMu.Unlock()

		require.NoError(err)
		require.False(updated)
		require.Zero(iface.polls)

		// the pool lock was released again
		require.True(stack.sockMu.TryLock())
		stack.sockMu.Unlock()
	})

	t.Run("interface error", func(t *testing.T) {
		require := require.New(t)
		stack, iface, _ := newTestStack("192.168.1.10/24", 1, WithLogger(logger.NewNop()))
		iface.pollErr = errors.New("rx overrun")

		_, err := stack.Poll(time.Now())
		require.ErrorContains(err, "rx overrun")
	})
}

func TestPoll_Lease(t *testing.T) {
	require := require.New(t)

	dhcp := &fakeDHCP{}
	stack, iface, fakes := newTestStack("", 3, WithDHCP(dhcp), WithLogger(logger.NewNop()))

	_, err := stack.Open(transport.ModeNonBlocking)
	require.ErrorIs(err, ErrNoIPAddress)

	dhcp.leases = append(dhcp.leases, &netif.Lease{
		Address:    netip.MustParsePrefix("192.168.1.10/24"),
		Router:     netip.MustParseAddr("192.168.1.1"),
		DNSServers: [netif.MaxDNSServers]netip.Addr{netip.MustParseAddr("1.1.1.1")},
	})
	updated, err := stack.Poll(time.Now())
	require.NoError(err)
	require.True(updated)
	require.False(stack.IsIPUnspecified())
	require.Equal(netip.MustParsePrefix("192.168.1.10/24"), iface.addr)
	require.Equal(netip.MustParsePrefix("192.168.1.10/24"), stack.IPv4Addr())
	require.Equal(netip.MustParseAddr("192.168.1.1"), iface.router)
	require.Equal([]netip.Addr{netip.MustParseAddr("1.1.1.1")}, stack.DNSServers())

	// two live connections
	handles := make([]transport.Handle, 0, 2)
	for i := 0; i < 2; i++ {
		h, err := stack.Open(transport.ModeNonBlocking)
		require.NoError(err)
		_, err = stack.Connect(h, remoteAddr)
		require.NoError(err)
		fakes[h].establish()
		handles = append(handles, h)
	}

	// renewal with the same address keeps the sockets
	dhcp.leases = append(dhcp.leases, &netif.Lease{Address: netip.MustParsePrefix("192.168.1.10/24")})
	_, err = stack.Poll(time.Now())
	require.NoError(err)
	for _, h := range handles {
		require.Equal(netif.SocketEstablished, fakes[h].State())
	}

	// a new address aborts every socket before the swap
	dhcp.leases = append(dhcp.leases, &netif.Lease{Address: netip.MustParsePrefix("192.168.1.20/24")})
	_, err = stack.Poll(time.Now())
	require.NoError(err)
	require.Equal(netip.MustParsePrefix("192.168.1.20/24"), iface.addr)
	for _, h := range handles {
		require.Equal(netif.SocketClosed, fakes[h].State())
		_, err := stack.Write(h, []byte("x"))
		require.ErrorIs(err, ErrSocketNotOpen)
		_, err = stack.Read(h, make([]byte, 1))
		require.ErrorIs(err, ErrSocketNotOpen)
	}
	require.EqualValues(3, stack.Metrics().LeaseCount.Load())
	require.EqualValues(2, stack.Metrics().AbortCount.Load())

	// ports stay bound until their owners close the handles
	require.Equal(2, stack.BoundPorts())
	for _, h := range handles {
		require.NoError(stack.Close(h))
	}
	require.Zero(stack.BoundPorts())

	// a non unicast offer is ignored
	dhcp.leases = append(dhcp.leases, &netif.Lease{Address: netip.MustParsePrefix("224.0.0.1/24")})
	_, err = stack.Poll(time.Now())
	require.NoError(err)
	require.Equal(netip.MustParsePrefix("192.168.1.20/24"), iface.addr)
}

func TestHandleLinkReset(t *testing.T) {
	require := require.New(t)

	dhcp := &fakeDHCP{}
	stack, iface, fakes := newTestStack("192.168.1.10/24", 4, WithDHCP(dhcp), WithLogger(logger.NewNop()))
	iface.router = netip.MustParseAddr("192.168.1.1")

	handles := make([]transport.Handle, 0, 3)
	for i := 0; i < 3; i++ {
		h, err := stack.Open(transport.ModeNonBlocking)
		require.NoError(err)
		_, err = stack.Connect(h, remoteAddr)
		require.NoError(err)
		fakes[h].establish()
		handles = append(handles, h)
	}

	// busy locks defer the reset without touching anything
	stack.ifaceMu.Lock()
	require.ErrorIs(stack.HandleLinkReset(), ErrBusy)
	stack.ifaceMu.Unlock()
	require.False(stack.IsIPUnspecified())
	require.Zero(dhcp.resets)

	require.NoError(stack.HandleLinkReset())
	require.Equal(1, dhcp.resets)
	require.True(stack.IsIPUnspecified())
	require.True(iface.addr.Addr().IsUnspecified())
	require.False(iface.router.IsValid())
	require.Empty(stack.DNSServers())

	for _, h := range handles {
		require.Equal(netif.SocketClosed, fakes[h].State())
		require.Equal(2, fakes[h].aborts)
	}
	require.EqualValues(3, stack.Metrics().AbortCount.Load())

	_, err := stack.Write(handles[0], []byte("x"))
	require.ErrorIs(err, ErrNoIPAddress)
	_, err = stack.IsConnected(handles[0])
	require.ErrorIs(err, ErrNoIPAddress)
	_, err = stack.Open(transport.ModeNonBlocking)
	require.ErrorIs(err, ErrNoIPAddress)
}

func TestHalfOpenReaping(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("192.168.1.10/24", 2, WithHalfOpenLimit(3), WithLogger(logger.NewNop()))
	h, _ := stack.Open(transport.ModeNonBlocking)
	_, err := stack.Connect(h, remoteAddr)
	require.NoError(err)
	require.Equal(netif.SocketSynSent, fakes[h].State())

	for i := 0; i < 3; i++ {
		_, err := stack.Poll(time.Now())
		require.NoError(err)
	}
	require.Equal(netif.SocketSynSent, fakes[h].State())

	updated, err := stack.Poll(time.Now())
	require.NoError(err)
	require.True(updated)
	require.Equal(netif.SocketClosed, fakes[h].State())
	require.EqualValues(1, stack.Metrics().HalfOpenReapCount.Load())

	_, err = stack.Write(h, []byte("x"))
	require.ErrorIs(err, ErrSocketNotOpen)
	require.NoError(stack.Close(h))
	require.Zero(stack.BoundPorts())
}

func TestHalfOpenReaping_ResetOnProgress(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("192.168.1.10/24", 1, WithHalfOpenLimit(2), WithLogger(logger.NewNop()))
	h, _ := stack.Open(transport.ModeNonBlocking)
	_, err := stack.Connect(h, remoteAddr)
	require.NoError(err)

	_, _ = stack.Poll(time.Now())
	_, _ = stack.Poll(time.Now())
	fakes[h].establish()
	_, _ = stack.Poll(time.Now())
	_, _ = stack.Poll(time.Now())
	_, _ = stack.Poll(time.Now())

	require.Equal(netif.SocketEstablished, fakes[h].State())
	require.Zero(stack.Metrics().HalfOpenReapCount.Load())
}

func TestHalfOpenReaping_ClosedHandle(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("192.168.1.10/24", 1, WithHalfOpenLimit(2), WithLogger(logger.NewNop()))
	h, _ := stack.Open(transport.ModeNonBlocking)
	_, err := stack.Connect(h, remoteAddr)
	require.NoError(err)
	fakes[h].establish()

	// the peer never answers the FIN
	require.NoError(stack.Close(h))
	require.Equal(netif.SocketFinWait, fakes[h].State())
	require.Equal(1, stack.Available())

	_, _ = stack.Poll(time.Now())
	_, _ = stack.Poll(time.Now())
	require.Equal(netif.SocketFinWait, fakes[h].State())

	updated, err := stack.Poll(time.Now())
	require.NoError(err)
	require.True(updated)
	require.Equal(netif.SocketClosed, fakes[h].State())
	require.EqualValues(1, stack.Metrics().HalfOpenReapCount.Load())
	require.Equal(1, stack.Available())
	require.Zero(stack.BoundPorts())
}

func TestCloseSockets(t *testing.T) {
	require := require.New(t)

	stack, _, fakes := newTestStack("192.168.1.10/24", 2, WithLogger(logger.NewNop()))
	h, _ := stack.Open(transport.ModeNonBlocking)
	_, err := stack.Connect(h, remoteAddr)
	require.NoError(err)
	fakes[h].establish()

	stack.sockMu.Lock()
	require.ErrorIs(stack.CloseSockets(), ErrBusy)
	stack.sockMu.Unlock()

	require.NoError(stack.CloseSockets())
	require.Equal(netif.SocketClosed, fakes[h].State())
	require.False(stack.IsIPUnspecified())
}

func TestSeedRandomPort(t *testing.T) {
	require := require.New(t)

	ports := func(seed uint64) []uint16 {
		stack, _, fakes := newTestStack("192.168.1.10/24", 3, WithLogger(logger.NewNop()))
		stack.SeedRandomPort(seed)
		result := make([]uint16, 0, 3)
		for i := 0; i < 3; i++ {
			h, err := stack.Open(transport.ModeNonBlocking)
			require.NoError(err)
			_, err = stack.Connect(h, remoteAddr)
			require.NoError(err)
			result = append(result, fakes[h].LocalPort())
		}

		return result
	}

	require.Equal(ports(42), ports(42))
}
