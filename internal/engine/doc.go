// Package engine implements the store facade: the only surface callers use
// to read and mutate a collection.
//
// A Store composes one entity cache with a query controller, a mutation
// executor and, optionally, a realtime reconciler. Callers construct it with
// New and own it until Dispose; there is no global registry.
//
// ARCHITECTURE:
//
// Cache Ownership:
// The cache is the single source of truth for what the UI shows and the only
// component that mutates its map. Every other component writes through its
// transactional API:
//   - the query controller and the reconciler use Upsert and Remove, which
//     enforce the staleness rules
//   - the mutation executor owns pending state and uses Put, Purge and
//     Replace for its optimistic and settled writes
//
// Goroutines:
// The store spawns goroutines only at network boundaries. Mutation and fetch
// calls run on the caller's goroutine; Run drives the realtime subscription
// and the staleness loop until the context ends or the store is disposed.
//
// Logical Clock:
// Record versions come from the cache clock. Local writes stamp Next(); a
// fetch result is stamped with Current() at issue; a realtime event carries
// its own version when the transport supplies one. Wall-clock time is used
// only for the staleness window and temporary ids.
//
// Disposal:
// Dispose stops Run, clears the cache and status, and marks the store
// disposed. Remote calls already in flight run to completion but their
// results are discarded by a disposal check before any cache write.
package engine
