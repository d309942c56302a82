package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Insert stores a new row for (collection, id).
// The row is appended after every existing row in the collection.
// Returns ErrConflict if the id already exists.
func (s *Store) Insert(ctx context.Context, collection, id string, payload any) (Row, error) {
	text, fp, err := marshalPayload(payload)
	if err != nil {
		return Row{}, fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (collection, id, seq, revision, payload, fingerprint)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM entities WHERE collection = ?), 1, ?, ?)
		ON CONFLICT(collection, id) DO NOTHING
	`, collection, id, collection, text, fp)
	if err != nil {
		return Row{}, fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Row{}, fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return Row{}, fmt.Errorf("insert %s/%s: %w", collection, id, ErrConflict)
	}

	return s.Get(ctx, collection, id)
}

// Update replaces the payload of (collection, id).
//
// An update whose canonical payload matches the stored one is a no-op:
// the revision is unchanged and changed is false.
// Returns ErrNotFound if the row does not exist.
func (s *Store) Update(ctx context.Context, collection, id string, payload any) (row Row, changed bool, err error) {
	text, fp, err := marshalPayload(payload)
	if err != nil {
		return Row{}, false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Row{}, false, fmt.Errorf("update %s/%s: begin: %w", collection, id, err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT fingerprint FROM entities WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	if current != fp {
		_, err = tx.ExecContext(ctx, `
			UPDATE entities
			SET payload = ?, fingerprint = ?, revision = revision + 1
			WHERE collection = ? AND id = ?
		`, text, fp, collection, id)
		if err != nil {
			return Row{}, false, fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
		changed = true
	}

	if err := tx.Commit(); err != nil {
		return Row{}, false, fmt.Errorf("update %s/%s: commit: %w", collection, id, err)
	}

	row, err = s.Get(ctx, collection, id)
	return row, changed, err
}

// Delete removes (collection, id).
// Returns ErrNotFound if the row does not exist.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}
