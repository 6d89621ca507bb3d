package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/deploydag/internal/ir"
)

// Put writes a deployment record.
//
// With ir.PutIfAbsent the write succeeds only if no active record exists
// for (rec.Network, rec.Unit); otherwise the existing record is returned
// with false. With ir.PutSupersede the active record, if any, is retired
// and rec is inserted pointing at it through Supersedes.
//
// The read-check-write runs in one IMMEDIATE transaction, so a record that
// did not commit is never visible.
func (s *Store) Put(ctx context.Context, rec ir.Record, mode ir.PutMode) (ir.Record, bool, error) {
	if rec.ID == "" {
		return ir.Record{}, false, fmt.Errorf("put: record %s/%s has no id", rec.Network, rec.Unit)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("put: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM deployments WHERE network = ? AND unit = ? AND active = 1`,
		rec.Network, rec.Unit))
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, false, fmt.Errorf("put: %w", err)
	}

	if found {
		if existing.ID == rec.ID {
			// Same write retried.
			return existing, true, nil
		}
		if mode == ir.PutIfAbsent {
			return existing, false, nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE deployments SET active = 0 WHERE seq = ?`, existing.Seq); err != nil {
			return ir.Record{}, false, fmt.Errorf("put: retire %s: %w", existing.ID, err)
		}
		rec.Supersedes = existing.ID
	}

	rec.Active = true
	seq, err := insertRecord(ctx, tx, rec)
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("put: %w", err)
	}
	rec.Seq = seq

	if err := tx.Commit(); err != nil {
		return ir.Record{}, false, fmt.Errorf("put: commit: %w", err)
	}
	return rec, true, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec ir.Record) (int64, error) {
	argsJSON, err := marshalArgs(rec.Args)
	if err != nil {
		return 0, err
	}
	libsJSON, err := marshalLibraries(rec.Libraries)
	if err != nil {
		return 0, err
	}

	active := 0
	if rec.Active {
		active = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO deployments
		(id, network, unit, artifact, address, tx_hash, args, libraries, run_id, deployed_at, supersedes, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Network,
		rec.Unit,
		rec.Artifact,
		rec.Address,
		rec.TxHash,
		argsJSON,
		libsJSON,
		rec.RunID,
		formatTime(rec.DeployedAt),
		rec.Supersedes,
		active,
	)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	return res.LastInsertId()
}
