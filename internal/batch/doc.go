// Package batch coalesces view proxy flushes.
//
// A Manager tracks every proxy that is dirty or still owes its view a
// coherent snapshot, and decides when to flush them. There is one flush
// schedule per Manager, not per proxy: idle, a microtask queued for the end
// of the current turn, or a timer of FlushDelay.
//
// Flushes of normal and "soon" urgency are delivered with
// CoherentSnapshot=false and keep the proxy tracked. Only a coherent pass,
// triggered when a root task group completes, delivers CoherentSnapshot=true
// and untracks the proxy until it is dirtied again.
package batch
