package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/deploydag/internal/ir"
)

// recordColumns is the column list every read selects, in scanRecord order.
const recordColumns = `seq, id, network, unit, artifact, address, tx_hash, args, libraries, run_id, deployed_at, supersedes, active`

// marshalArgs converts resolved arguments to canonical JSON TEXT.
func marshalArgs(args ir.IRArray) (string, error) {
	if args == nil {
		args = ir.IRArray{}
	}
	data, err := ir.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalArgs parses canonical JSON TEXT back into an IRArray.
// IRArray.UnmarshalJSON keeps integers exact (json.Number).
func unmarshalArgs(data string) (ir.IRArray, error) {
	if data == "" || data == "[]" {
		return ir.IRArray{}, nil
	}
	var args ir.IRArray
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

func marshalLibraries(links []ir.LibraryLink) (string, error) {
	if links == nil {
		links = []ir.LibraryLink{}
	}
	data, err := json.Marshal(links)
	if err != nil {
		return "", fmt.Errorf("marshal libraries: %w", err)
	}
	return string(data), nil
}

func unmarshalLibraries(data string) ([]ir.LibraryLink, error) {
	links := []ir.LibraryLink{}
	if data == "" {
		return links, nil
	}
	if err := json.Unmarshal([]byte(data), &links); err != nil {
		return nil, fmt.Errorf("unmarshal libraries: %w", err)
	}
	return links, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// scanRecord reads one row selected with recordColumns.
func scanRecord(row interface{ Scan(...any) error }) (ir.Record, error) {
	var (
		rec        ir.Record
		args       string
		libraries  string
		deployedAt string
		active     int
	)
	err := row.Scan(
		&rec.Seq, &rec.ID, &rec.Network, &rec.Unit, &rec.Artifact,
		&rec.Address, &rec.TxHash, &args, &libraries, &rec.RunID,
		&deployedAt, &rec.Supersedes, &active,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return ir.Record{}, err
		}
		return ir.Record{}, fmt.Errorf("scan record: %w", err)
	}

	if rec.Args, err = unmarshalArgs(args); err != nil {
		return ir.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.Libraries, err = unmarshalLibraries(libraries); err != nil {
		return ir.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.DeployedAt, err = time.Parse(time.RFC3339Nano, deployedAt); err != nil {
		return ir.Record{}, fmt.Errorf("record %s: parse deployed_at: %w", rec.ID, err)
	}
	rec.Active = active == 1
	return rec, nil
}
