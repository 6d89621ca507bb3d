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

func TestValidate_Valid(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)

	out, err := env.run(t, "text", NewValidateCommand, ammPlan)
	require.NoError(t, err)
	assert.Equal(t, "✓ plan amm valid: 3 units\n", out)
}

func TestValidate_JSON(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)

	out, err := env.run(t, "json", NewValidateCommand, ammPlan)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "testnet", resp.Data.Network)
	assert.Equal(t, []string{"WETH9", "CSwapFactory", "CSwapRouter"}, resp.Data.Order)
}

func TestValidate_DoesNotCreateManifest(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)

	_, err := env.run(t, "text", NewValidateCommand, ammPlan)
	require.NoError(t, err)
	assert.NoFileExists(t, env.manifest)
}

func TestValidate_DanglingReference(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)

	out, err := env.run(t, "text", NewValidateCommand, "testdata/plans/dangling.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ir.CodeDanglingReference+"]")
}

func TestValidate_ResolvesAgainstManifest(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)
	_, err := env.deploy(t, "text", testutil.NewFakeChain(), ammPlan)
	require.NoError(t, err)

	// The same plan is dangling without the manifest and valid with it.
	out, err := env.run(t, "text", NewValidateCommand, "testdata/plans/router-only.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ plan router-only valid: 1 units")
}

func TestValidate_SchemaMismatchDetails(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)
	plan := writePlan(t, env, `name: bad
units:
  - unit: CSwapFactory
    args: [12]
`)

	out, err := env.run(t, "json", NewValidateCommand, plan)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ir.CodeSchemaMismatch, resp.Error.Code)
	assert.NotNil(t, resp.Error.Details)
}

func TestValidate_UnknownUnit(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)
	plan := writePlan(t, env, `name: bad
units:
  - unit: CSwapPair
`)

	out, err := env.run(t, "text", NewValidateCommand, plan)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ir.CodeUnknownUnit+"]")
}

func TestValidate_BadConfig(t *testing.T) {
	env := newTestEnv(t, config.BackendSQLite)

	cmd := NewValidateCommand(&RootOptions{Format: "text", ConfigPath: env.dir + "/missing.yaml"})
	out, err := execute(cmd, ammPlan)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeConfig+"]")
}
