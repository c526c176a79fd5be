// Package store provides SQLite-backed durable storage for list records.
//
// Each record belongs to one list, addressed by (namespace, list), and
// carries a sort key, a display height and its JSON state. The store feeds
// TOCs: Load returns a list's records and Watch reports every later write
// of a namespace. Cache drops are signalled through OnCacheDrop.
//
// # Critical Patterns
//
// Logical time
//   - Every write takes the next seq INTEGER, never a timestamp
//   - Watchers observe writes in seq order
//
// Deterministic query results
//   - List queries ORDER BY sort_key ASC, id ASC COLLATE BINARY
//
// Canonical state
//   - State is stored compacted, so equal documents compare equal as TEXT
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
