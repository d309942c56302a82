package cache

import (
	"slices"

	"github.com/roach88/optimist/internal/entity"
)

// Tx is an open transaction. It is only valid inside the Update callback.
type Tx[U entity.Identifiable] struct {
	c   *Cache[U]
	ops []Op[U]
}

// Record returns the record for id, including hidden ones.
func (tx *Tx[U]) Record(id string) (Record[U], bool) {
	r, ok := tx.c.records[id]
	if !ok {
		return Record[U]{}, false
	}
	return *r, true
}

// Records returns every record, including hidden ones, in insertion order.
func (tx *Tx[U]) Records() []Record[U] {
	out := make([]Record[U], 0, len(tx.c.order))
	for _, id := range tx.c.order {
		out = append(out, *tx.c.records[id])
	}
	return out
}

// Tombstone returns the removal version recorded for id.
func (tx *Tx[U]) Tombstone(id string) (int64, bool) {
	v, ok := tx.c.tombstones[id]
	return v, ok
}

// Upsert applies an external write under the staleness rules.
//
// A write applied over a pending record replaces entity, origin and version
// but keeps the pending operation, which only its owner may clear.
func (tx *Tx[U]) Upsert(rec Record[U]) bool {
	c := tx.c
	if t, ok := c.tombstones[rec.ID]; ok && rec.Version <= t {
		return false
	}

	pending := entity.PendingNone
	cur, exists := c.records[rec.ID]
	if exists && cur.Pending.IsPending() {
		if rec.Version <= cur.Version {
			rec.Pending = entity.PendingNone
			tx.keepDeferred(rec.ID, Deferred[U]{Record: rec, Version: rec.Version})
			return false
		}
		pending = cur.Pending
	} else if exists && rec.Version < cur.Version {
		return false
	}
	rec.Pending = pending
	rec.Gone = false

	delete(c.tombstones, rec.ID)
	tx.write(rec)
	if d, ok := c.deferred[rec.ID]; ok && d.Version <= rec.Version {
		delete(c.deferred, rec.ID)
	}
	tx.ops = append(tx.ops, Op[U]{Kind: OpUpsert, ID: rec.ID, Record: rec})
	return true
}

// Remove applies an external removal observed at version.
//
// A pending record that loses keeps the removal as its deferred write. A
// pending record that is outranked is marked Gone and hidden; its owner
// purges it when it settles.
func (tx *Tx[U]) Remove(id string, version int64) bool {
	c := tx.c
	cur, exists := c.records[id]
	if !exists {
		if version > c.tombstones[id] {
			c.tombstones[id] = version
		}
		return false
	}

	if cur.Pending.IsPending() {
		if version <= cur.Version {
			tx.keepDeferred(id, Deferred[U]{Remove: true, Version: version})
			return false
		}
		wasVisible := cur.Visible()
		cur.Gone = true
		cur.Version = version
		if !wasVisible {
			return false
		}
		tx.ops = append(tx.ops, Op[U]{Kind: OpRemove, ID: id, Record: *cur})
		return true
	}

	if version < cur.Version {
		return false
	}
	tx.Purge(id, version)
	return true
}

// Put writes rec unconditionally, keeping the position of an existing record.
// Only the owner of the record's pending state may call it.
func (tx *Tx[U]) Put(rec Record[U]) {
	if rec.Pending == "" {
		rec.Pending = entity.PendingNone
	}
	delete(tx.c.tombstones, rec.ID)
	tx.write(rec)
	tx.ops = append(tx.ops, Op[U]{Kind: OpUpsert, ID: rec.ID, Record: rec})
}

// SetPending marks id with op. Returns false if id is absent.
func (tx *Tx[U]) SetPending(id string, op entity.PendingOp) bool {
	cur, ok := tx.c.records[id]
	if !ok {
		return false
	}
	cur.Pending = op
	tx.ops = append(tx.ops, Op[U]{Kind: OpPending, ID: id, Record: *cur})
	return true
}

// ClearPending clears op from id if op is still the record's pending
// operation. A record marked Gone is purged instead.
func (tx *Tx[U]) ClearPending(id string, op entity.PendingOp) bool {
	cur, ok := tx.c.records[id]
	if !ok || cur.Pending != op {
		return false
	}
	if cur.Gone {
		tx.Purge(id, cur.Version)
		return true
	}
	cur.Pending = entity.PendingNone
	tx.ops = append(tx.ops, Op[U]{Kind: OpPending, ID: id, Record: *cur})
	return true
}

// Purge deletes id along with any deferred write.
// A positive version leaves a tombstone at that version.
func (tx *Tx[U]) Purge(id string, version int64) {
	c := tx.c
	delete(c.deferred, id)
	if version > c.tombstones[id] {
		c.tombstones[id] = version
	}
	cur, ok := c.records[id]
	if !ok {
		return
	}
	delete(c.records, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	tx.ops = append(tx.ops, Op[U]{Kind: OpRemove, ID: id, Record: *cur})
}

// Replace swaps the record at oldID for rec in place.
//
// The new record takes the old record's position. Any other record already
// keyed by rec.ID is dropped first so the identifier appears once.
// Returns false if oldID is absent.
func (tx *Tx[U]) Replace(oldID string, rec Record[U]) bool {
	c := tx.c
	if _, ok := c.records[oldID]; !ok {
		return false
	}
	if rec.Pending == "" {
		rec.Pending = entity.PendingNone
	}
	if rec.ID != oldID {
		if _, dup := c.records[rec.ID]; dup {
			delete(c.records, rec.ID)
			c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == rec.ID })
		}
		idx := slices.Index(c.order, oldID)
		c.order[idx] = rec.ID
		delete(c.records, oldID)
		delete(c.deferred, oldID)
	}
	if d, ok := c.deferred[rec.ID]; ok && d.Version <= rec.Version {
		delete(c.deferred, rec.ID)
	}
	delete(c.tombstones, rec.ID)
	r := rec
	c.records[rec.ID] = &r
	tx.ops = append(tx.ops, Op[U]{Kind: OpReplace, ID: rec.ID, OldID: oldID, Record: rec})
	return true
}

// TakeDeferred returns and clears the deferred write for id.
func (tx *Tx[U]) TakeDeferred(id string) (Deferred[U], bool) {
	d, ok := tx.c.deferred[id]
	if ok {
		delete(tx.c.deferred, id)
	}
	return d, ok
}

// DropDeferred discards the deferred write for id.
func (tx *Tx[U]) DropDeferred(id string) {
	delete(tx.c.deferred, id)
}

func (tx *Tx[U]) keepDeferred(id string, d Deferred[U]) {
	if prev, ok := tx.c.deferred[id]; ok && prev.Version > d.Version {
		return
	}
	tx.c.deferred[id] = d
}

func (tx *Tx[U]) write(rec Record[U]) {
	c := tx.c
	if cur, ok := c.records[rec.ID]; ok {
		*cur = rec
		return
	}
	r := rec
	c.records[rec.ID] = &r
	c.order = append(c.order, rec.ID)
}

func (tx *Tx[U]) reset() {
	c := tx.c
	if len(c.records) == 0 && len(c.tombstones) == 0 && len(c.deferred) == 0 {
		return
	}
	c.records = make(map[string]*Record[U])
	c.order = nil
	c.tombstones = make(map[string]int64)
	c.deferred = make(map[string]Deferred[U])
	tx.ops = append(tx.ops, Op[U]{Kind: OpReset})
}
