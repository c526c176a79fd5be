// Package toc provides the ordered collections ("tables of contents") that
// view proxies mirror.
//
// A List is an authoritative, in-memory, ordered set of Records with stable
// ids. It notifies subscribed Listeners of every add, change and remove with
// the index at which it happened, carries an opaque meta dictionary, and can
// forward named broadcast events to whoever mirrors it.
//
// Lists are reference counted: every named context that mirrors a list
// acquires it and releases it at cleanup. When the last owner releases, the
// list is forgotten by the provider that created it.
//
// A Registry maps namespaces ("accounts", "folders", "conversations", ...)
// to providers. FeedProvider builds lists from a Feed (the SQLite store in
// production) and keeps them current by watching it.
//
// All List methods must be called on the backend loop goroutine.
package toc
