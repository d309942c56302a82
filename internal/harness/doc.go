// Package harness runs scripted scenarios against a todo store and records
// reproducible traces.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: optimistic_create_failure
//	description: "What this scenario validates"
//	clock: 10            # initial logical clock (optional)
//	stale_time: 1m       # optional
//	seed:
//	  - {id: e1, title: milk}
//	steps:
//	  - op: enable
//	  - op: hold
//	  - op: create
//	    as: c1
//	    async: true
//	    title: X
//	  - op: fail_next
//	    call: create
//	    error: server unavailable
//	  - op: release
//	    call: create
//	    ref: c1
//	  - op: await
//	    ref: c1
//	    expect: REMOTE_MUTATION
//	assertions:
//	  - type: list
//	    ids: []
//
// # Steps
//
//   - enable, disable: switch the store on (fetching) or off
//   - create, update, remove, refetch, trigger: store calls; async ones run
//     on their own goroutine and are named with as
//   - hold, resume, release, fail_next: control the in-memory source
//   - realtime: hand the store an INSERT, UPDATE or DELETE frame
//   - server_put, server_delete: change server rows behind the store's back
//   - advance: move the wall clock
//   - check: evaluate assertions mid-flow
//
// A release that names its operation with ref waits for that operation to
// finish, so the cache changes it commits are traced before the next step.
//
// # Assertion Types
//
//   - list: the visible ids in render order
//   - entity, absent: one cache record's fields, or its absence
//   - status: the store's status flags
//   - server: one server row, or its absence
//   - remote_calls: how often the source saw a call
//   - trace_count: how many trace events of a type were recorded
//
// # Deterministic Testing
//
// Server ids come from a sequence, the wall clock starts at Epoch and only
// moves on advance, and temporary ids are traced as "temp#N". The same
// scenario therefore produces a byte-identical trace on every run, which
// RunWithGolden compares against testdata/golden/<name>.golden.
package harness
