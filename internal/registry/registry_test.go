package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deploydag/internal/ir"
)

func pairUnit() ir.Unit {
	return ir.Unit{
		Name:       "CSwapPair",
		SourceName: "contracts/CSwapPair.sol",
		Constructor: []ir.Param{
			{Name: "token0", Type: "address"},
			{Name: "token1", Type: "address"},
		},
	}
}

func TestRegister_Lookup(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(pairUnit()))

	u, err := reg.Lookup("CSwapPair")
	require.NoError(t, err)
	assert.Equal(t, "CSwapPair", u.Name)
	assert.Len(t, u.Constructor, 2)
	assert.Equal(t, 1, reg.Len())
}

func TestLookup_Unknown(t *testing.T) {
	reg := New()

	_, err := reg.Lookup("Nope")
	require.Error(t, err)

	var unknown *ir.UnknownUnitError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Nope", unknown.Name)
	assert.Equal(t, ir.CodeUnknownUnit, ir.CodeOf(err))
}

func TestRegister_SameSchemaIsNoop(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(pairUnit()))

	again := pairUnit()
	again.SourceName = "contracts/other/CSwapPair.sol"
	require.NoError(t, reg.Register(again))

	u, err := reg.Lookup("CSwapPair")
	require.NoError(t, err)
	assert.Equal(t, "contracts/CSwapPair.sol", u.SourceName, "first registration wins")
}

func TestRegister_ConflictingSchema(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(pairUnit()))

	other := pairUnit()
	other.Constructor = []ir.Param{{Name: "token0", Type: "address"}}

	err := reg.Register(other)
	var dup *ir.DuplicateUnitError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "CSwapPair", dup.Name)
	assert.Contains(t, err.Error(), "contracts/CSwapPair.sol")
}

func TestRegister_EmptyName(t *testing.T) {
	err := New().Register(ir.Unit{})
	assert.Error(t, err)
}

func TestRegister_SortsLibraries(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(ir.Unit{Name: "Router", Libraries: []string{"ZMath", "AMath"}}))

	u, err := reg.Lookup("Router")
	require.NoError(t, err)
	assert.Equal(t, []string{"AMath", "ZMath"}, u.Libraries)
}

func TestRegister_UnitIsCopied(t *testing.T) {
	reg := New()
	u := pairUnit()
	u.Libraries = []string{"Math"}
	u.LinkRefs = map[string][]ir.LinkOffset{"Math": {{Start: 10, Length: 20}}}
	require.NoError(t, reg.Register(u))

	// Changes by the registering caller do not reach the registry.
	u.Constructor[0].Type = "uint256"
	u.Libraries[0] = "Other"
	u.LinkRefs["Math"][0].Start = 99
	u.LinkRefs["Extra"] = nil

	got, err := reg.Lookup("CSwapPair")
	require.NoError(t, err)
	assert.Equal(t, "address", got.Constructor[0].Type)
	assert.Equal(t, []string{"Math"}, got.Libraries)
	assert.Equal(t, map[string][]ir.LinkOffset{"Math": {{Start: 10, Length: 20}}}, got.LinkRefs)

	// Nor do changes to a looked-up copy.
	got.Constructor[1].Type = "bytes32"
	got.LinkRefs["Math"][0].Length = 1
	delete(got.LinkRefs, "Math")

	again, err := reg.Lookup("CSwapPair")
	require.NoError(t, err)
	assert.Equal(t, "address", again.Constructor[1].Type)
	assert.Equal(t, []ir.LinkOffset{{Start: 10, Length: 20}}, again.LinkRefs["Math"])
}

func TestNames_Sorted(t *testing.T) {
	reg := New()
	for _, name := range []string{"Vault", "Factory", "Router"} {
		require.NoError(t, reg.Register(ir.Unit{Name: name}))
	}
	assert.Equal(t, []string{"Factory", "Router", "Vault"}, reg.Names())
}
