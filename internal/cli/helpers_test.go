package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deploydag/internal/engine"
)

const (
	testDeployer = "0x9999999999999999999999999999999999999999"
	testRunID    = "run-1"

	// Hardhat's first dev account; its address is testutil.FakeDeployer.
	testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var testNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// noNode stands in for an unreachable rpc_url.
func noNode(context.Context, string, common.Address) (uint64, error) {
	return 0, errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
}

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// testEnv is a config file pointing at the test artifacts and a manifest
// in a temp dir.
type testEnv struct {
	dir      string
	config   string
	manifest string
}

func newTestEnv(t *testing.T, backend string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	artifacts, err := filepath.Abs("testdata/artifacts")
	require.NoError(t, err)

	env := &testEnv{
		dir:      dir,
		config:   filepath.Join(dir, "deploydag.yaml"),
		manifest: filepath.Join(dir, "deployments.db"),
	}

	cfg := fmt.Sprintf(`artifacts: %s
concurrency: 1
manifest:
  backend: %s
  path: %s
retry:
  max_attempts: 3
  initial_interval: 1ms
  max_interval: 2ms
networks:
  testnet:
    rpc_url: http://127.0.0.1:8545
    chain_id: 31337
    private_key: "%s"
`, artifacts, backend, env.manifest, testKey)
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0644))
	return env
}

func (e *testEnv) rootOpts(format string) *RootOptions {
	return &RootOptions{Format: format, ConfigPath: e.config}
}

// deploy runs the deploy command against client.
func (e *testEnv) deploy(t *testing.T, format string, client engine.Client, args ...string) (string, error) {
	t.Helper()
	cmd := newDeployCommand(&DeployOptions{
		RootOptions:  e.rootOpts(format),
		Client:       client,
		Deployer:     testDeployer,
		RunID:        testRunID,
		Now:          fixedNow,
		PendingNonce: noNode,
	})
	return execute(cmd, args...)
}

// run executes a command built from the env's root options.
func (e *testEnv) run(t *testing.T, format string, newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	t.Helper()
	return execute(newCmd(e.rootOpts(format)), args...)
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writePlan(t *testing.T, env *testEnv, content string) string {
	t.Helper()
	path := filepath.Join(env.dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
