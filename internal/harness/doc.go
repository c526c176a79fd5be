// Package harness runs scripted sessions against a real bridge and client.
//
// A scenario seeds an in-memory record store, opens client views, seeks,
// refreshes and mutates records, and then asserts on the wire trace, the
// store and the final client views. The bridge and the client share one
// loop driven by a fake clock; batched flushes only happen when the script
// advances time, and lists load inline, so a scenario always produces the
// same trace.
//
// # Scenario Format
//
//	name: conversations_window
//	description: "Seek to the top of a folder, then receive a new message"
//	flush_delay: 5s
//	lists:
//	  - namespace: conversations
//	    name: f1
//	    records:
//	      - { id: c1, key: "2024-01-01" }
//	steps:
//	  - open: { view: conversations, id: f1, as: inbox }
//	  - seek: { view: inbox, mode: top, visible: 10, buffer: 5 }
//	  - put:
//	      namespace: conversations
//	      list: f1
//	      record: { id: c2, key: "2024-02-01" }
//	  - advance: 5s
//	assertions:
//	  - type: trace_count
//	    message: update
//	    dir: down
//	    count: 3
//	  - type: view_items
//	    view: inbox
//	    ids: [c2, c1]
//	  - type: final_state
//	    table: records
//	    where: { id: c2 }
//	    expect: { list: f1 }
//
// # Assertion Types
//
//   - trace_contains: a message with matching type, handle and data subset
//   - trace_order: message types appear in the given order
//   - trace_count: a message type appears exactly N times
//   - final_state: a row of a store table has the expected values
//   - view_items: a client view holds exactly the given ids
//
// Golden traces live in testdata/golden and are compared with goldie.
package harness
