package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Row is one stored entity.
type Row struct {
	Collection  string
	ID          string
	Seq         int64
	Revision    int64
	Payload     string
	Fingerprint string
}

// CollectionStat summarizes one collection.
type CollectionStat struct {
	Name  string
	Count int
}

// Get returns the row for (collection, id), or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collection, id, seq, revision, payload, fingerprint
		FROM entities
		WHERE collection = ? AND id = ?
	`, collection, id)

	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Row{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return r, nil
}

// List returns every row in collection with deterministic ordering:
// ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the collection has no rows.
func (s *Store) List(ctx context.Context, collection string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, id, seq, revision, payload, fingerprint
		FROM entities
		WHERE collection = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// Collections returns every collection with at least one row, by name.
func (s *Store) Collections(ctx context.Context) ([]CollectionStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, COUNT(*)
		FROM entities
		GROUP BY collection
		ORDER BY collection COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	out := []CollectionStat{}
	for rows.Next() {
		var c CollectionStat
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (Row, error) {
	var r Row
	err := s.Scan(&r.Collection, &r.ID, &r.Seq, &r.Revision, &r.Payload, &r.Fingerprint)
	return r, err
}
