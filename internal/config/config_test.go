package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
artifacts: build/artifacts
manifest:
  backend: bolt
  path: /tmp/manifest.bolt
concurrency: 2
retry:
  max_attempts: 3
  initial_interval: 500ms
log:
  level: debug
  format: json
networks:
  testnet:
    rpc_url: https://evmos-archive-testnet.api.bdnodes.net:8545
    chain_id: 9000
    gas_limit: 6000000
    confirm_timeout: 90s
  hardhat:
    rpc_url: http://127.0.0.1:8545
    chain_id: 31337
    private_key: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploydag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "artifacts", cfg.Artifacts)
	assert.Equal(t, BackendSQLite, cfg.Manifest.Backend)
	assert.Equal(t, "deployments.db", cfg.Manifest.Path)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
	assert.Equal(t, LogFormatText, cfg.Log.Format)
	assert.Empty(t, cfg.NetworkNames())
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "build/artifacts", cfg.Artifacts)
	assert.Equal(t, BackendBolt, cfg.Manifest.Backend)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxInterval, "unset keys keep defaults")
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, LogFormatJSON, cfg.Log.Format)
	assert.Equal(t, []string{"hardhat", "testnet"}, cfg.NetworkNames())

	nc, err := cfg.Network("testnet")
	require.NoError(t, err)
	assert.Equal(t, "https://evmos-archive-testnet.api.bdnodes.net:8545", nc.RPCURL)
	assert.Equal(t, int64(9000), nc.ChainID)
	assert.Equal(t, uint64(6000000), nc.GasLimit)
	assert.Equal(t, 90*time.Second, nc.ConfirmTimeout)
	assert.Empty(t, nc.PrivateKey)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEPLOYDAG_CONCURRENCY", "8")
	t.Setenv("DEPLOYDAG_MANIFEST_PATH", "/var/lib/deploydag/manifest.db")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "/var/lib/deploydag/manifest.db", cfg.Manifest.Path)
}

func TestNetwork_PrivateKeyFromEnv(t *testing.T) {
	t.Setenv("DEPLOYDAG_NETWORKS_TESTNET_PRIVATE_KEY", "0xabc")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	nc, err := cfg.Network("testnet")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", nc.PrivateKey)
	assert.Equal(t, int64(9000), nc.ChainID, "file values survive")
}

func TestNetwork_FallbackPrivateKey(t *testing.T) {
	t.Setenv("DEPLOYDAG_PRIVATE_KEY", "0xfeed")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	testnet, err := cfg.Network("testnet")
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", testnet.PrivateKey)

	hardhat, err := cfg.Network("hardhat")
	require.NoError(t, err)
	assert.Equal(t, "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", hardhat.PrivateKey)
}

func TestNetwork_DefinedFromEnvOnly(t *testing.T) {
	t.Setenv("DEPLOYDAG_NETWORKS_RINKEBY_RPC_URL", "https://rinkeby.example")
	t.Setenv("DEPLOYDAG_NETWORKS_RINKEBY_CHAIN_ID", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	nc, err := cfg.Network("rinkeby")
	require.NoError(t, err)
	assert.Equal(t, "https://rinkeby.example", nc.RPCURL)
	assert.Equal(t, int64(4), nc.ChainID)
}

func TestNetwork_Unknown(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	_, err = cfg.Network("mainnet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"mainnet" is not configured`)
	assert.Contains(t, err.Error(), "hardhat, testnet")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"backend", "manifest:\n  backend: postgres\n", "unknown backend"},
		{"concurrency", "concurrency: 0\n", "concurrency"},
		{"retry", "retry:\n  max_attempts: 0\n", "max_attempts"},
		{"log format", "log:\n  format: logfmt\n", "log.format"},
		{"syntax", "networks: [\n", "failed to read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
