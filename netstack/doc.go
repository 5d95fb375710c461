// Package netstack implements the socket multiplexer of the dice-net transport stack.
//
// A NetworkStack presents a small, fixed set of TCP sockets owned by an interface poll
// engine (see package netif) as logical connections behind the transport.Transport
// capability. It owns:
//
//   - the socket pool: at most MaxSockets slots, handed out from a LIFO free list;
//   - the ephemeral port registry: local ports in [PortRangeStart, PortRangeEnd] bound by
//     open sockets, never shared by two of them;
//   - the interface address, which only changes on DHCP lease acceptance or link reset.
//
// # Concurrency
//
// The pool and the interface are guarded by two mutexes. Poll runs in the highest priority
// task and only ever try-locks them: when either is held it skips the cycle. Open, Read and
// Write try-lock as well and report transport.ErrWouldBlock or ErrBusy, so the calling task
// defers to its next slot. Connect, Close and IsConnected hold the pool lock for a single
// short operation and are never called from the poll task.
//
// # Address changes
//
// When a DHCP lease carries a new unicast address, every socket is aborted before the
// address is swapped, so no connection ever observes a live address change. HandleLinkReset
// does the same when the carrier is lost and leaves the interface unconfigured, which makes
// every later operation fail with ErrNoIPAddress.
//
// # Link status
//
// LinkStatusMgr tracks the physical/configuration state of the device
// (Disconnected, Unconfigured, Configured) and rejects illegal transitions with
// ErrInvalidTransition.
package netstack
