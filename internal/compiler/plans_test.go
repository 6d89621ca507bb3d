package compiler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/registry"
	"github.com/roach88/deploydag/internal/resolver"
)

// cronusRegistry carries the constructor schemas of the contracts the
// bundled plans deploy.
func cronusRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	addr := func(name string) ir.Param { return ir.Param{Name: name, Type: "address"} }
	u256 := func(name string) ir.Param { return ir.Param{Name: name, Type: "uint256"} }

	reg := registry.New()
	for _, u := range []ir.Unit{
		{Name: "Multicall"},
		{Name: "CronusERC20"},
		{Name: "CronusFactory", Constructor: []ir.Param{addr("_feeToSetter")}},
		{Name: "CronusRouter02", Constructor: []ir.Param{addr("_factory"), addr("_WETH")}},
		{Name: "AmplificationUtils"},
		{Name: "SwapUtils"},
		{Name: "StableSwap", Libraries: []string{"AmplificationUtils", "SwapUtils"}, Constructor: []ir.Param{
			{Name: "_pooledTokens", Type: "address[]"},
			{Name: "decimals", Type: "uint8[]"},
			{Name: "lpTokenName", Type: "string"},
			{Name: "lpTokenSymbol", Type: "string"},
			u256("_a"), u256("_fee"), u256("_adminFee"),
		}},
		{Name: "StableCronusStaking", Constructor: []ir.Param{
			addr("_rewardToken"), addr("_crn"), addr("_feeCollector"), u256("_depositFeePercent"),
		}},
		{Name: "CronusToken"},
		{Name: "MasterChefCronus", Constructor: []ir.Param{
			addr("_crn"), addr("_devAddr"), addr("_treasuryAddr"), addr("_investorAddr"),
			u256("_cronusPerSec"), u256("_startTimestamp"),
			u256("_devPercent"), u256("_treasuryPercent"), u256("_investorPercent"),
		}},
		{Name: "MockERC20", Constructor: []ir.Param{{Name: "name", Type: "string"}, {Name: "symbol", Type: "string"}}},
	} {
		require.NoError(t, reg.Register(u))
	}
	return reg
}

func TestBundledPlans(t *testing.T) {
	tests := []struct {
		file  string
		order []string
	}{
		{"amm.yaml", []string{"Multicall", "CronusERC20", "CronusFactory", "CronusRouter02"}},
		{"stableswap.yaml", []string{"AmplificationUtils", "SwapUtils", "Swap"}},
		{"staking.yaml", []string{"StableCronusStaking"}},
		{"farming.yaml", []string{"CronusToken", "MasterChefCronus"}},
		{"mock-tokens.yaml", []string{"DAI", "USDC", "USDT", "DEC2"}},
	}

	reg := cronusRegistry(t)
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			plan, err := LoadFile(filepath.Join("..", "..", "plans", tt.file), reg)
			require.NoError(t, err)

			ordered, err := resolver.Resolve(plan, nil)
			require.NoError(t, err)
			names := make([]string, len(ordered))
			for i, r := range ordered {
				names[i] = r.Name
			}
			assert.Equal(t, tt.order, names)
		})
	}
}

func TestBundledPlans_StableSwapLinksLibraries(t *testing.T) {
	plan, err := LoadFile(filepath.Join("..", "..", "plans", "stableswap.yaml"), cronusRegistry(t))
	require.NoError(t, err)

	swap := plan.Requests[2]
	assert.Equal(t, "StableSwap", swap.Unit.Name)
	assert.Equal(t, []string{"AmplificationUtils", "SwapUtils"}, swap.Dependencies())
	assert.Equal(t, ir.IRArray{ir.IRInt(18), ir.IRInt(18), ir.IRInt(18), ir.IRInt(18)}, swap.Args[1])
	assert.Equal(t, ir.IRString("Cronus Stable LP"), swap.Args[2])
}
