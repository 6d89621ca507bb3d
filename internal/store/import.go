package store

import (
	"context"
	"fmt"
	"iter"

	"github.com/roach88/deploydag/internal/ir"
)

// Import copies records verbatim (IDs, timestamps and active flags kept)
// from another manifest. Records whose ID is already present are skipped.
// It returns the number of records inserted.
func (s *Store) Import(ctx context.Context, records iter.Seq2[ir.Record, error]) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import: begin: %w", err)
	}
	defer tx.Rollback()

	n := 0
	for rec, err := range records {
		if err != nil {
			return 0, fmt.Errorf("import: %w", err)
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM deployments WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("import: %w", err)
		}
		if exists > 0 {
			continue
		}

		if _, err := insertRecord(ctx, tx, rec); err != nil {
			return 0, fmt.Errorf("import: %w", err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import: commit: %w", err)
	}
	return n, nil
}
