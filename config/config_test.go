package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoyield.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGet_Defaults(t *testing.T) {
	cfg, err := Get("")
	require.NoError(t, err)

	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, AnvilChainID, cfg.ChainID)
	assert.Equal(t, "100", cfg.MaxTestAPYPercent.String())
	assert.Equal(t, "1000.00", cfg.MintAmount.Display(2))
	assert.Equal(t, TimestampsBlock, cfg.History.Timestamps)
	assert.Equal(t, DefaultRPCURL, cfg.Relay.BackingURL)

	anvil := cfg.Contracts(AnvilChainID)
	require.NotNil(t, anvil)
	assert.True(t, anvil.Complete())
	assert.Equal(t, common.HexToAddress(DefaultVaultAddress), anvil.Vault)

	sepolia := cfg.Contracts(SepoliaChainID)
	require.NotNil(t, sepolia)
	assert.False(t, sepolia.Complete())

	assert.Nil(t, cfg.Contracts(1))
	assert.Equal(t, []uint64{AnvilChainID, SepoliaChainID}, cfg.ChainIDs())
}

func TestGet_YAML(t *testing.T) {
	path := writeConfig(t, `
rpc_url: https://rpc.example.org
chain_id: 11155111
test_controls: false
poll_interval: 30s
max_test_apy_percent: "25.5"
history:
  timestamps: approximate
  block_time: 2s
  from_block: 5000
relay:
  addr: ":9000"
  tls_domains: ["rpc.example.org"]
chains:
  11155111:
    token: "0x0000000000000000000000000000000000000001"
    aave: "0x0000000000000000000000000000000000000002"
    compound: "0x0000000000000000000000000000000000000003"
    vault: "0x0000000000000000000000000000000000000004"
`)

	cfg, err := Get(path)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.org", cfg.RPCURL)
	assert.Equal(t, SepoliaChainID, cfg.ChainID)
	assert.False(t, cfg.TestControls)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, "25.5", cfg.MaxTestAPYPercent.String())
	assert.Equal(t, TimestampsApproximate, cfg.History.Timestamps)
	assert.Equal(t, 2*time.Second, cfg.History.BlockTime)
	assert.Equal(t, uint64(5000), cfg.History.FromBlock)
	assert.Equal(t, ":9000", cfg.Relay.Addr)
	assert.Equal(t, []string{"rpc.example.org"}, cfg.Relay.TLSDomains)

	sepolia := cfg.Contracts(SepoliaChainID)
	require.NotNil(t, sepolia)
	assert.True(t, sepolia.Complete())

	// untouched defaults survive a partial file
	assert.True(t, cfg.Contracts(AnvilChainID).Complete())
}

func TestGet_EnvOverrides(t *testing.T) {
	t.Setenv(EnvRPCURL, "http://node:8545")
	t.Setenv(EnvRelayBackingURL, "http://backing:8545")
	t.Setenv(EnvVaultAddress, "0x00000000000000000000000000000000000000ff")

	cfg, err := Get("")
	require.NoError(t, err)

	assert.Equal(t, "http://node:8545", cfg.RPCURL)
	assert.Equal(t, "http://backing:8545", cfg.Relay.BackingURL)
	anvil := cfg.Contracts(AnvilChainID)
	assert.Equal(t, common.HexToAddress("0xff"), anvil.Vault)
	assert.Equal(t, common.HexToAddress(DefaultTokenAddress), anvil.Token)
}

func TestGet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad address", "chains:\n  31337:\n    vault: nothex\n"},
		{"bad max apy", "max_test_apy_percent: abc\n"},
		{"negative max apy", "max_test_apy_percent: \"-1\"\n"},
		{"bad timestamps", "history:\n  timestamps: sometimes\n"},
		{"bad log level", "log_level: loud\n"},
		{"bad mint amount", "mint_amount: lots\n"},
		{"no rpc", "rpc_url: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Get(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestGet_InvalidChainIDEnv(t *testing.T) {
	t.Setenv(EnvChainID, "anvil")
	_, err := Get("")
	assert.Error(t, err)
}

func TestPrivateKeys(t *testing.T) {
	t.Setenv(DefaultPrivateKeyEnv, " 0xaa , 0xbb,,")
	cfg, err := Get("")
	require.NoError(t, err)

	assert.Equal(t, []string{"0xaa", "0xbb"}, cfg.PrivateKeys())
}
