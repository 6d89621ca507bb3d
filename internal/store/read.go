package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/roach88/deploydag/internal/ir"
)

// pageSize bounds how many rows All holds in memory at once.
const pageSize = 64

// Get returns the active record for (network, unit).
// Returns *ir.NotFoundError if none exists.
func (s *Store) Get(ctx context.Context, network, unit string) (ir.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM deployments WHERE network = ? AND unit = ? AND active = 1`,
		network, unit))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, &ir.NotFoundError{Network: network, Unit: unit}
	}
	if err != nil {
		return ir.Record{}, fmt.Errorf("get %s/%s: %w", network, unit, err)
	}
	return rec, nil
}

// All yields the active records of a network ordered by seq.
//
// Rows are fetched a page at a time (keyset pagination on seq) and no
// cursor stays open while the caller handles a record. Ranging again
// restarts from the first record.
func (s *Store) All(ctx context.Context, network string) iter.Seq2[ir.Record, error] {
	return func(yield func(ir.Record, error) bool) {
		var after int64
		for {
			page, err := s.page(ctx, network, after)
			if err != nil {
				yield(ir.Record{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				after = rec.Seq
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

func (s *Store) page(ctx context.Context, network string, after int64) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE network = ? AND active = 1 AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, network, after, pageSize)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var page []ir.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return page, nil
}

// History returns every record written for (network, unit), superseded
// ones included, oldest first. Returns *ir.NotFoundError if there are none.
func (s *Store) History(ctx context.Context, network, unit string) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE network = ? AND unit = ?
		ORDER BY seq ASC
	`, network, unit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []ir.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	if len(history) == 0 {
		return nil, &ir.NotFoundError{Network: network, Unit: unit}
	}
	return history, nil
}

// Networks lists every network with at least one record, sorted.
func (s *Store) Networks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT network FROM deployments ORDER BY network COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query networks: %w", err)
	}
	defer rows.Close()

	networks := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan network: %w", err)
		}
		networks = append(networks, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate networks: %w", err)
	}
	return networks, nil
}
