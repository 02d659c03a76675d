package setup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/autoyield/config"
)

func TestBuild_DefaultsRoundTripThroughConfig(t *testing.T) {
	tmp, err := Build(DefaultAnswers())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), config.DefaultFileName)
	require.NoError(t, Save(path, tmp))

	cfg, err := config.Get(path)
	require.NoError(t, err)
	assert.Equal(t, config.AnvilChainID, cfg.ChainID)
	assert.True(t, cfg.TestControls)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.True(t, cfg.Contracts(config.AnvilChainID).Complete())
}

func TestBuild_Custom(t *testing.T) {
	a := DefaultAnswers()
	a.Network = NetworkCustom
	a.RPCURL = "https://rpc.example.org"
	a.ChainID = "11155111"
	a.Token = "0x0000000000000000000000000000000000000001"
	a.Aave = "0x0000000000000000000000000000000000000002"
	a.Compound = "0x0000000000000000000000000000000000000003"
	a.Vault = "0x0000000000000000000000000000000000000004"
	a.TestControls = false

	tmp, err := Build(a)
	require.NoError(t, err)

	assert.Equal(t, uint64(11155111), tmp.ChainID)
	assert.Equal(t, "https://rpc.example.org", tmp.Relay.BackingURL)
	assert.False(t, tmp.Simulate)
	assert.Equal(t, a.Vault, tmp.Chains[11155111].Vault)
}

func TestBuild_Simulate(t *testing.T) {
	a := DefaultAnswers()
	a.Network = NetworkSimulate

	tmp, err := Build(a)
	require.NoError(t, err)
	assert.True(t, tmp.Simulate)
}

func TestBuild_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Answers)
	}{
		{"chain id", func(a *Answers) { a.ChainID = "anvil" }},
		{"poll interval", func(a *Answers) { a.PollInterval = "often" }},
		{"address", func(a *Answers) { a.Vault = "0x123" }},
		{"max apy", func(a *Answers) { a.MaxAPYPercent = "-5" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultAnswers()
			tt.mutate(&a)
			_, err := Build(a)
			assert.Error(t, err)
		})
	}
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateAddress(""))
	assert.NoError(t, validateAddress(config.DefaultVaultAddress))
	assert.Error(t, validateAddress("vault"))

	assert.NoError(t, validatePercent("7.5"))
	assert.Error(t, validatePercent("0"))
	assert.Error(t, validatePercent("x"))
}
