package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deploydag/internal/config"
	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/testutil"
)

func deployedEnv(t *testing.T, backend string) *testEnv {
	t.Helper()
	env := newTestEnv(t, backend)
	_, err := env.deploy(t, "text", testutil.NewFakeChain(), ammPlan)
	require.NoError(t, err)
	return env
}

func TestManifestList_Networks(t *testing.T) {
	env := deployedEnv(t, config.BackendSQLite)

	out, err := env.run(t, "text", NewManifestCommand, "list")
	require.NoError(t, err)
	assert.Equal(t, "testnet\n", out)
}

func TestManifestList_Records(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			env := deployedEnv(t, backend)

			out, err := env.run(t, "text", NewManifestCommand, "list", "--network", "testnet")
			require.NoError(t, err)
			newGoldie(t).Assert(t, "manifest_list", []byte(out))
		})
	}
}

func TestManifestList_EmptyNetwork(t *testing.T) {
	env := deployedEnv(t, config.BackendSQLite)

	out, err := env.run(t, "text", NewManifestCommand, "list", "--network", "mainnet")
	require.NoError(t, err)
	assert.Equal(t, "No deployments recorded on mainnet\n", out)
}

func TestManifestList_JSON(t *testing.T) {
	env := deployedEnv(t, config.BackendSQLite)

	out, err := env.run(t, "json", NewManifestCommand, "list", "--network", "testnet")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Network string      `json:"network"`
			Records []ir.Record `json:"records"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "testnet", resp.Data.Network)
	require.Len(t, resp.Data.Records, 3)
	assert.Equal(t, "CSwapRouter", resp.Data.Records[2].Unit)
	assert.Equal(t, ir.IRArray{ir.IRString(testutil.AddressAt(1)), ir.IRString(testutil.AddressAt(0))}, resp.Data.Records[2].Args)
}

func TestManifestList_MissingManifest(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)

	out, err := env.run(t, "text", NewManifestCommand, "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeNotFound+"]")
	assert.NoFileExists(t, env.manifest)
}

func TestManifestShow(t *testing.T) {
	env := deployedEnv(t, config.BackendSQLite)

	out, err := env.run(t, "text", NewManifestCommand, "show", "testnet", "CSwapRouter")
	require.NoError(t, err)
	assert.Contains(t, out, "Unit:      CSwapRouter (active)\n")
	assert.Contains(t, out, "Address:   "+testutil.AddressAt(2)+"\n")
	assert.Contains(t, out, "Args:      "+testutil.AddressAt(1)+", "+testutil.AddressAt(0)+"\n")
	assert.Contains(t, out, "Run:       run-1\n")
	assert.Contains(t, out, "Deployed:  2024-01-02T03:04:05Z\n")
}

func TestManifestShow_History(t *testing.T) {
	env := deployedEnv(t, config.BackendSQLite)
	_, err := env.deploy(t, "text", testutil.NewFakeChain(), ammPlan, "--force-unit", "CSwapRouter")
	require.NoError(t, err)

	out, err := env.run(t, "json", NewManifestCommand, "show", "testnet", "CSwapRouter", "--history")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			Records []ir.Record `json:"records"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Records, 2)
	assert.False(t, resp.Data.Records[0].Active)
	assert.True(t, resp.Data.Records[1].Active)
	assert.Equal(t, resp.Data.Records[0].ID, resp.Data.Records[1].Supersedes)
}

func TestManifestShow_NotFound(t *testing.T) {
	env := deployedEnv(t, config.BackendSQLite)

	for _, args := range [][]string{
		{"show", "testnet", "CSwapPair"},
		{"show", "testnet", "CSwapPair", "--history"},
	} {
		out, err := env.run(t, "text", NewManifestCommand, args...)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error ["+ir.CodeNotFound+"]")
	}
}
