// Package tlslayer implements the secure transport of dice-net: a TLS client session
// layered over another transport.Transport, exposing the same capability.
//
// A Layer supports exactly one session at a time. Its handle is always SessionHandle; the
// handle of the underlying transport is kept internally.
//
// # State machine
//
//	BeforeInit --Init--> NotConnected --Connect--> Connected
//	                          ^                        |
//	                          +-- Close, I/O failure, -+
//	                              retry exhaustion, peer close
//
// BeforeInit is left exactly once. Every operation before Init fails with
// ErrUninitialized.
//
// # Bounded retries
//
// The TLS engine is event driven: while the underlying transport would block it reports
// ErrWantRead, ErrWantWrite or ErrInProgress. Write and Read drive the engine in a loop
// that consumes one unit of the retry budget (TimeoutThreshold by default) for each such
// result and yields between iterations. Exhausting the budget, or any other engine error,
// resets the session, closes the underlying socket and returns the layer to NotConnected.
// A Read that observes an orderly close by the peer returns (0, nil) after the same reset.
//
// # Engines
//
// Engine is the contract of the TLS engine. The engine performs its I/O through a BIO
// held for its whole lifetime, which the Layer backs by the underlying transport. The
// default engine is built on crypto/tls.
package tlslayer
