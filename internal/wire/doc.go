// Package wire defines the messages exchanged between the backend bridge and
// the front-end API, and their JSON encoding.
//
// Every message is an envelope {"type", "handle", "data"}. The handle names
// the client-visible view (and therefore the backend named context) the
// message concerns; data is the type-specific body.
//
// Backend -> front: update, contextCleanedUp, promisedResult, broadcast, pong.
// Front -> backend: view* commands, seekProxy, refreshView, growView,
// cleanupContext, ping, and the promised wrapper.
package wire
