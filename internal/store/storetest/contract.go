// Package storetest holds the behaviour every manifest backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/store"
)

// Record builds a record with its ID filled in.
func Record(network, unit string, n int, runID string) ir.Record {
	rec := ir.Record{
		Network:    network,
		Unit:       unit,
		Artifact:   unit,
		Address:    fmt.Sprintf("0x%040x", n),
		TxHash:     fmt.Sprintf("0x%064x", n),
		Args:       ir.IRArray{ir.IRString("csLP"), ir.IRInt(int64(n)), ir.IRString("340282366920938463463374607431768211456")},
		Libraries:  []ir.LibraryLink{{Slot: "SwapUtils", Unit: "SwapUtils", Address: "0x00000000000000000000000000000000000000aa"}},
		RunID:      runID,
		DeployedAt: time.Date(2026, 3, 1, 12, 0, n, 0, time.UTC),
	}
	rec.ID = ir.MustRecordID(rec)
	return rec
}

// RunManifestContract runs the shared manifest test suite. open must
// return a fresh, empty manifest; the suite closes it.
func RunManifestContract(t *testing.T, open func(t *testing.T) store.Manifest) {
	fresh := func(t *testing.T) store.Manifest {
		m := open(t)
		t.Cleanup(func() { m.Close() })
		return m
	}
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		m := fresh(t)
		_, err := m.Get(ctx, "testnet", "Router")
		assert.True(t, ir.IsNotFound(err))
	})

	t.Run("PutIfAbsentThenGet", func(t *testing.T) {
		m := fresh(t)
		rec := Record("testnet", "Router", 1, "run-1")

		got, written, err := m.Put(ctx, rec, ir.PutIfAbsent)
		require.NoError(t, err)
		assert.True(t, written)
		assert.True(t, got.Active)

		stored, err := m.Get(ctx, "testnet", "Router")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, stored.ID)
		assert.Equal(t, rec.Args, stored.Args)
		assert.Equal(t, rec.Libraries, stored.Libraries)
		assert.True(t, rec.DeployedAt.Equal(stored.DeployedAt))
		assert.Equal(t, rec.ID, ir.MustRecordID(stored))
	})

	t.Run("PutIfAbsentLoses", func(t *testing.T) {
		m := fresh(t)
		first := Record("testnet", "Router", 1, "run-1")
		second := Record("testnet", "Router", 2, "run-2")

		_, _, err := m.Put(ctx, first, ir.PutIfAbsent)
		require.NoError(t, err)
		got, written, err := m.Put(ctx, second, ir.PutIfAbsent)
		require.NoError(t, err)
		assert.False(t, written)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("Supersede", func(t *testing.T) {
		m := fresh(t)
		first := Record("testnet", "Router", 1, "run-1")
		second := Record("testnet", "Router", 2, "run-2")

		_, _, err := m.Put(ctx, first, ir.PutIfAbsent)
		require.NoError(t, err)
		got, written, err := m.Put(ctx, second, ir.PutSupersede)
		require.NoError(t, err)
		assert.True(t, written)
		assert.Equal(t, first.ID, got.Supersedes)

		active, err := m.Get(ctx, "testnet", "Router")
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)

		history, err := m.History(ctx, "testnet", "Router")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, first.ID, history[0].ID)
		assert.False(t, history[0].Active)
		assert.True(t, history[1].Active)
	})

	t.Run("AllActiveInInsertionOrder", func(t *testing.T) {
		m := fresh(t)
		const n = 150
		for i := range n {
			_, _, err := m.Put(ctx, Record("testnet", fmt.Sprintf("U%03d", n-i), i, "run-1"), ir.PutIfAbsent)
			require.NoError(t, err)
		}
		_, _, err := m.Put(ctx, Record("testnet", "U150", 999, "run-2"), ir.PutSupersede)
		require.NoError(t, err)
		_, _, err = m.Put(ctx, Record("mainnet", "U001", 1, "run-1"), ir.PutIfAbsent)
		require.NoError(t, err)

		var units []string
		for rec, err := range m.All(ctx, "testnet") {
			require.NoError(t, err)
			units = append(units, rec.Unit)
		}
		require.Len(t, units, n)
		assert.Equal(t, "U149", units[0], "U150 was superseded, so its first row is gone")
		assert.Equal(t, "U150", units[n-1], "the superseding row is the newest")

		var again int
		for _, err := range m.All(ctx, "testnet") {
			require.NoError(t, err)
			again++
		}
		assert.Equal(t, n, again, "sequence is restartable")
	})

	t.Run("AllUnknownNetwork", func(t *testing.T) {
		m := fresh(t)
		for _, err := range m.All(ctx, "nowhere") {
			require.NoError(t, err)
			t.Fatal("expected no records")
		}
	})

	t.Run("Networks", func(t *testing.T) {
		m := fresh(t)
		for i, network := range []string{"testnet", "bsc", "testnet"} {
			_, _, err := m.Put(ctx, Record(network, fmt.Sprintf("U%d", i), i, "run-1"), ir.PutIfAbsent)
			require.NoError(t, err)
		}
		networks, err := m.Networks(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"bsc", "testnet"}, networks)
	})

	t.Run("ConcurrentSingleWinner", func(t *testing.T) {
		m := fresh(t)
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
			seen = map[string]bool{}
		)
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, written, err := m.Put(ctx, Record("testnet", "Pool", i+1, "run"), ir.PutIfAbsent)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				if written {
					wins++
				}
				seen[got.ID] = true
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Len(t, seen, 1)
	})
}
