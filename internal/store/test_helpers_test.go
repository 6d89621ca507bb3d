package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/deploydag/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord builds a record with its content-addressed ID filled in.
func createTestRecord(network, unit, address, runID string) ir.Record {
	rec := ir.Record{
		Network:    network,
		Unit:       unit,
		Artifact:   unit,
		Address:    address,
		TxHash:     "0x" + address[2:] + "aa",
		Args:       ir.IRArray{ir.IRString("0x1111111111111111111111111111111111111111"), ir.IRInt(3)},
		Libraries:  []ir.LibraryLink{},
		RunID:      runID,
		DeployedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	rec.ID = ir.MustRecordID(rec)
	return rec
}
