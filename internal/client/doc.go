// Package client is the front-end end of the view protocol.
//
// An API allocates a handle per view, sends the view-creating command to
// the backend, and routes the backend's replies to the view owning the
// handle. EntireListView holds every item of a TOC; WindowedListView holds
// a seekable window of one.
//
// Views keep item identity across updates: an item object is created when
// its id first arrives with state and reused, updated in place, for as long
// as the view keeps it. Every applied mutation stamps the item with the
// view's new serial, so serials only ever grow.
//
// Views and the API are not safe for concurrent use; drive them from one
// goroutine (the front-end loop).
package client
