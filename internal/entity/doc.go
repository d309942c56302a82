// Package entity holds the vocabulary shared by every layer of the cache engine:
// the Identifiable bound, record origins, pending-operation states and the two
// identifier classes (server ids and temporary ids).
//
// # Identifiers
//
// Server identifiers are assigned by the remote source and are opaque.
// Temporary identifiers are minted on the client for optimistic creates and
// have the form "temp-<unix-millis>-<random hex>". A temporary identifier lives
// only until the create is acknowledged, at which point the cache swaps it for
// the server identifier in a single transaction.
//
// # Pending operations
//
// A record carries at most one pending operation. PendingNone means the record
// reflects the last state observed from the server (or the settled result of a
// local mutation). Every other value is owned by exactly one in-flight mutation
// and is cleared only by that mutation or by disposing the store.
package entity
