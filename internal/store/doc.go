// Package store provides SQLite-backed durable storage for entity rows.
//
// One table holds the rows of every collection, keyed by (collection, id).
// Payloads are stored as canonical JSON together with a content fingerprint,
// which lets updates that change nothing be detected and skipped.
//
// # Ordering
//
//   - seq is assigned on insert (max seq in the collection + 1) and never changes
//   - List returns ORDER BY seq ASC, id ASC COLLATE BINARY
//   - revision counts applied updates; no-op updates leave it unchanged
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - a single open connection, since SQLite serializes writers anyway
package store
