package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deploydag/internal/ir"
)

func TestPut_IfAbsentInserts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord("testnet", "CSwapFactory", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "run-1")

	got, written, err := s.Put(ctx, rec, ir.PutIfAbsent)
	require.NoError(t, err)
	assert.True(t, written)
	assert.True(t, got.Active)
	assert.Positive(t, got.Seq)
	assert.Equal(t, rec.ID, got.ID)

	stored, err := s.Get(ctx, "testnet", "CSwapFactory")
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestPut_IfAbsentKeepsExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	first := createTestRecord("testnet", "CSwapFactory", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "run-1")
	second := createTestRecord("testnet", "CSwapFactory", "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "run-2")

	_, _, err := s.Put(ctx, first, ir.PutIfAbsent)
	require.NoError(t, err)

	got, written, err := s.Put(ctx, second, ir.PutIfAbsent)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.Address, got.Address)

	history, err := s.History(ctx, "testnet", "CSwapFactory")
	require.NoError(t, err)
	assert.Len(t, history, 1, "losing write must not be stored")
}

func TestPut_SameRecordTwice(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord("testnet", "WETH9", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "run-1")

	_, _, err := s.Put(ctx, rec, ir.PutIfAbsent)
	require.NoError(t, err)

	got, written, err := s.Put(ctx, rec, ir.PutSupersede)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, rec.ID, got.ID)
}

func TestPut_Supersede(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	first := createTestRecord("testnet", "CSwapRouter", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "run-1")
	second := createTestRecord("testnet", "CSwapRouter", "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "run-2")

	_, _, err := s.Put(ctx, first, ir.PutIfAbsent)
	require.NoError(t, err)

	got, written, err := s.Put(ctx, second, ir.PutSupersede)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, first.ID, got.Supersedes)

	active, err := s.Get(ctx, "testnet", "CSwapRouter")
	require.NoError(t, err)
	assert.Equal(t, second.Address, active.Address)

	history, err := s.History(ctx, "testnet", "CSwapRouter")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Active)
	assert.True(t, history[1].Active)
	assert.Equal(t, first.ID, history[0].ID)
}

func TestPut_SupersedeWithoutExisting(t *testing.T) {
	s := createTestStore(t)
	rec := createTestRecord("testnet", "Staking", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "run-1")

	got, written, err := s.Put(context.Background(), rec, ir.PutSupersede)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Empty(t, got.Supersedes)
}

func TestPut_KeysAreIndependent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, rec := range []ir.Record{
		createTestRecord("testnet", "Farm", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "run-1"),
		createTestRecord("mainnet", "Farm", "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "run-1"),
		createTestRecord("testnet", "Token", "0xcccccccccccccccccccccccccccccccccccccccc", "run-1"),
	} {
		_, written, err := s.Put(ctx, rec, ir.PutIfAbsent)
		require.NoError(t, err)
		assert.True(t, written)
	}

	farm, err := s.Get(ctx, "mainnet", "Farm")
	require.NoError(t, err)
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", farm.Address)
}

func TestPut_MissingID(t *testing.T) {
	s := createTestStore(t)
	_, _, err := s.Put(context.Background(), ir.Record{Network: "n", Unit: "u"}, ir.PutIfAbsent)
	assert.Error(t, err)
}

func TestPut_ConcurrentIfAbsentSingleWinner(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const writers = 8
	addresses := []string{
		"0x1000000000000000000000000000000000000000",
		"0x2000000000000000000000000000000000000000",
		"0x3000000000000000000000000000000000000000",
		"0x4000000000000000000000000000000000000000",
		"0x5000000000000000000000000000000000000000",
		"0x6000000000000000000000000000000000000000",
		"0x7000000000000000000000000000000000000000",
		"0x8000000000000000000000000000000000000000",
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		results []string
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := createTestRecord("testnet", "Pool", addresses[i], "run")
			got, written, err := s.Put(ctx, rec, ir.PutIfAbsent)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			if written {
				wins++
			}
			results = append(results, got.Address)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, addr := range results {
		assert.Equal(t, results[0], addr, "every writer sees the same active record")
	}
}

func TestPut_ResolvedArgsRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("testnet", "Swap", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "run-1")
	rec.Args = ir.IRArray{
		ir.IRArray{ir.IRString("0x1111111111111111111111111111111111111111"), ir.IRString("0x2222222222222222222222222222222222222222")},
		ir.IRArray{ir.IRInt(18), ir.IRInt(6)},
		ir.IRString("csLP"),
		ir.IRString("5000000000000000000000000000000000000000"),
		ir.IRBool(true),
	}
	rec.Libraries = []ir.LibraryLink{
		{Slot: "SwapUtils", Unit: "SwapUtils", Address: "0x3333333333333333333333333333333333333333"},
	}
	rec.ID = ir.MustRecordID(rec)

	_, _, err := s.Put(ctx, rec, ir.PutIfAbsent)
	require.NoError(t, err)

	got, err := s.Get(ctx, "testnet", "Swap")
	require.NoError(t, err)
	assert.Equal(t, rec.Args, got.Args)
	assert.Equal(t, rec.Libraries, got.Libraries)
	assert.True(t, rec.DeployedAt.Equal(got.DeployedAt))
	assert.Equal(t, rec.ID, ir.MustRecordID(got), "stored record hashes to its id")
}
