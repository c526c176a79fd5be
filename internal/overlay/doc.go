// Package overlay implements the overlay source: transient, per-item status
// (for example "sync in progress") delivered to views independently of the
// item's core state.
//
// Overlays are never cached by views. A view proxy obtains a bound
// Resolver for its namespace and calls it every time it needs the current
// overlays of an id; providers announce that an id's overlays changed and
// subscribed proxies re-resolve.
package overlay
