package entity

// Identifiable is the bound for both wire and UI entities.
// Any type with a stable, collection-unique identifier qualifies.
type Identifiable interface {
	GetID() string
}

// Origin records where the current state of a cache record came from.
type Origin string

const (
	// OriginServer marks state observed from the remote source (query, realtime or acknowledgment).
	OriginServer Origin = "server"
	// OriginOptimistic marks state synthesized locally ahead of acknowledgment.
	OriginOptimistic Origin = "optimistic"
)

// PendingOp is the unresolved local mutation on a record, if any.
type PendingOp string

const (
	PendingNone   PendingOp = "none"
	PendingCreate PendingOp = "create"
	PendingUpdate PendingOp = "update"
	PendingDelete PendingOp = "delete"
)

// IsPending reports whether op names an unresolved mutation.
// The zero value is treated as PendingNone.
func (op PendingOp) IsPending() bool {
	return op != PendingNone && op != ""
}

// String returns the op name, normalizing the zero value to "none".
func (op PendingOp) String() string {
	if op == "" {
		return string(PendingNone)
	}
	return string(op)
}
