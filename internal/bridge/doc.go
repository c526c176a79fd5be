// Package bridge is the backend end of the view protocol.
//
// A Bridge receives command messages from client views, routes them to
// handlers by message type, and serializes commands addressed to the same
// handle: while a command on a handle is in flight, later commands on that
// handle wait in a FIFO queue. Commands on different handles, or with no
// handle, are never ordered against each other.
//
// Every view is backed by a NamedContext that owns the resources acquired
// for it (TOCs, view proxies) and releases them, in acquisition order, when
// the view is cleaned up. Contexts live in a Context registry; children are
// cleaned up before their parent.
//
// All Bridge and Context methods must be called on the backend loop
// goroutine.
package bridge
