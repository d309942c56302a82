package cache

import "github.com/roach88/optimist/internal/entity"

// Record is one cache entry.
//
// Version is stamped from the cache Clock on every applied write and is what
// the staleness rules compare. Gone marks a record whose removal was accepted
// from the server while a local mutation still owns it; it stays hidden until
// that mutation settles.
type Record[U entity.Identifiable] struct {
	ID      string
	Entity  U
	Origin  entity.Origin
	Pending entity.PendingOp
	Version int64
	Gone    bool
}

// Visible reports whether the record is part of the rendered list.
// Records pending deletion or removed by the server are retained internally
// but hidden.
func (r Record[U]) Visible() bool {
	return r.Pending != entity.PendingDelete && !r.Gone
}

// Deferred is an external write that lost to a pending record.
// The owning mutation consults it when it fails: the deferred write is server
// truth observed during the flight and wins over the pre-mutation snapshot
// when it is at least as new.
type Deferred[U entity.Identifiable] struct {
	Remove  bool
	Record  Record[U]
	Version int64
}

// OpKind names a committed cache write.
type OpKind string

const (
	OpUpsert  OpKind = "upsert"
	OpRemove  OpKind = "remove"
	OpPending OpKind = "pending"
	OpReplace OpKind = "replace"
	OpReset   OpKind = "reset"
)

// Op is one committed write within a transaction.
// For OpReplace, OldID is the identifier that was swapped out.
type Op[U entity.Identifiable] struct {
	Kind   OpKind
	ID     string
	OldID  string
	Record Record[U]
}

// Change is delivered to listeners once per committed transaction.
type Change[U entity.Identifiable] struct {
	Ops []Op[U]
}

// IDs returns the identifiers touched by the change, in commit order.
func (c Change[U]) IDs() []string {
	ids := make([]string, 0, len(c.Ops))
	for _, op := range c.Ops {
		if op.OldID != "" {
			ids = append(ids, op.OldID)
		}
		if op.ID != "" {
			ids = append(ids, op.ID)
		}
	}
	return ids
}
