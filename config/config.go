package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

const (
	AnvilChainID   uint64 = 31337
	SepoliaChainID uint64 = 11155111

	DefaultRPCURL        = "http://127.0.0.1:8545"
	DefaultPrivateKeyEnv = "AUTOYIELD_PRIVATE_KEY"
	DefaultWALDir        = "autoyield-data"
	DefaultFileName      = "autoyield.gen.yaml"

	TimestampsBlock       = "block"
	TimestampsApproximate = "approximate"
)

// Environment overrides, applied after the YAML file.
const (
	EnvRPCURL          = "AUTOYIELD_RPC_URL"
	EnvChainID         = "AUTOYIELD_CHAIN_ID"
	EnvTokenAddress    = "AUTOYIELD_TOKEN_ADDRESS"
	EnvAaveAddress     = "AUTOYIELD_AAVE_ADDRESS"
	EnvCompoundAddress = "AUTOYIELD_COMPOUND_ADDRESS"
	EnvVaultAddress    = "AUTOYIELD_VAULT_ADDRESS"
	EnvRelayBackingURL = "AUTOYIELD_RELAY_BACKING_URL"
)

// Local Anvil deployment.
var (
	DefaultTokenAddress    = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	DefaultAaveAddress     = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	DefaultCompoundAddress = "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
	DefaultVaultAddress    = "0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"
)

type HistoryConfig struct {
	Timestamps string
	BlockTime  time.Duration
	FromBlock  uint64
}

type RelayConfig struct {
	Addr       string
	BackingURL string
	TLSDomains []string
	CertCache  string
}

type DashboardConfig struct {
	Addr string
}

// Config is the validated application configuration.
type Config struct {
	RPCURL string
	// ChainID 0 means ask the node.
	ChainID           uint64
	PrivateKeyEnv     string
	TestControls      bool
	Simulate          bool
	WALDir            string
	LogLevel          string
	PollInterval      time.Duration
	MaxTestAPYPercent decimal.Decimal
	MintAmount        domain.Amount
	History           HistoryConfig
	Relay             RelayConfig
	Dashboard         DashboardConfig
	Chains            map[uint64]domain.Contracts
}

type HistoryTmp struct {
	Timestamps string        `yaml:"timestamps,omitempty"`
	BlockTime  time.Duration `yaml:"block_time,omitempty"`
	FromBlock  uint64        `yaml:"from_block,omitempty"`
}

type RelayTmp struct {
	Addr       string   `yaml:"addr,omitempty"`
	BackingURL string   `yaml:"backing_url,omitempty"`
	TLSDomains []string `yaml:"tls_domains,omitempty"`
	CertCache  string   `yaml:"cert_cache,omitempty"`
}

type DashboardTmp struct {
	Addr string `yaml:"addr,omitempty"`
}

type ContractsTmp struct {
	Token    string `yaml:"token"`
	Aave     string `yaml:"aave"`
	Compound string `yaml:"compound"`
	Vault    string `yaml:"vault"`
}

// ConfigTmp is the YAML shape of Config.
type ConfigTmp struct {
	RPCURL            string                  `yaml:"rpc_url"`
	ChainID           uint64                  `yaml:"chain_id"`
	PrivateKeyEnv     string                  `yaml:"private_key_env,omitempty"`
	TestControls      bool                    `yaml:"test_controls"`
	Simulate          bool                    `yaml:"simulate"`
	WALDir            string                  `yaml:"wal_dir,omitempty"`
	LogLevel          string                  `yaml:"log_level,omitempty"`
	PollInterval      time.Duration           `yaml:"poll_interval,omitempty"`
	MaxTestAPYPercent string                  `yaml:"max_test_apy_percent,omitempty"`
	MintAmount        string                  `yaml:"mint_amount,omitempty"`
	History           HistoryTmp              `yaml:"history,omitempty"`
	Relay             RelayTmp                `yaml:"relay,omitempty"`
	Dashboard         DashboardTmp            `yaml:"dashboard,omitempty"`
	Chains            map[uint64]ContractsTmp `yaml:"chains,omitempty"`
}

// DefaultTmp returns the raw defaults: a local Anvil node with the four default
// contracts and a blank Sepolia entry.
func DefaultTmp() ConfigTmp {
	return ConfigTmp{
		RPCURL:            DefaultRPCURL,
		ChainID:           AnvilChainID,
		PrivateKeyEnv:     DefaultPrivateKeyEnv,
		TestControls:      true,
		WALDir:            DefaultWALDir,
		LogLevel:          "info",
		PollInterval:      15 * time.Second,
		MaxTestAPYPercent: "100",
		MintAmount:        "1000",
		History: HistoryTmp{
			Timestamps: TimestampsBlock,
			BlockTime:  12 * time.Second,
		},
		Relay:     RelayTmp{Addr: ":8080", BackingURL: DefaultRPCURL, CertCache: "cert-cache"},
		Dashboard: DashboardTmp{Addr: ":8090"},
		Chains: map[uint64]ContractsTmp{
			AnvilChainID: {
				Token:    DefaultTokenAddress,
				Aave:     DefaultAaveAddress,
				Compound: DefaultCompoundAddress,
				Vault:    DefaultVaultAddress,
			},
			SepoliaChainID: {},
		},
	}
}

// Get loads the configuration from path (optional), then applies .env and
// environment overrides.
func Get(path string) (Config, error) {
	raw := DefaultTmp()

	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(f, &raw); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// a missing .env is fine
	_ = godotenv.Load()

	if err := applyEnv(&raw); err != nil {
		return Config{}, err
	}

	return raw.Validate()
}

func applyEnv(raw *ConfigTmp) error {
	if v := os.Getenv(EnvRPCURL); v != "" {
		raw.RPCURL = v
	}
	if v := os.Getenv(EnvChainID); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "incorrect %s", EnvChainID)
		}
		raw.ChainID = id
	}
	if v := os.Getenv(EnvRelayBackingURL); v != "" {
		raw.Relay.BackingURL = v
	}

	target := raw.ChainID
	if target == 0 {
		target = AnvilChainID
	}
	if raw.Chains == nil {
		raw.Chains = make(map[uint64]ContractsTmp)
	}
	entry := raw.Chains[target]
	overrides := []struct {
		env   string
		field *string
	}{
		{EnvTokenAddress, &entry.Token},
		{EnvAaveAddress, &entry.Aave},
		{EnvCompoundAddress, &entry.Compound},
		{EnvVaultAddress, &entry.Vault},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.field = v
		}
	}
	raw.Chains[target] = entry

	return nil
}

// Validate converts the raw YAML shape into Config.
func (c ConfigTmp) Validate() (Config, error) {
	if strings.TrimSpace(c.RPCURL) == "" && !c.Simulate {
		return Config{}, errors.New("'rpc_url' is required unless simulate is set")
	}

	maxAPY := domain.DefaultMaxAPYPercent
	if c.MaxTestAPYPercent != "" {
		d, err := decimal.NewFromString(c.MaxTestAPYPercent)
		if err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'max_test_apy_percent' param in yaml config (must be a decimal)")
		}
		if !d.IsPositive() {
			return Config{}, errors.New("'max_test_apy_percent' must be positive")
		}
		maxAPY = d
	}

	mint := domain.MustParseAmount("1000")
	if c.MintAmount != "" {
		a, err := domain.ParseAmount(c.MintAmount)
		if err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'mint_amount' param in yaml config")
		}
		mint = a
	}

	switch c.History.Timestamps {
	case "":
		c.History.Timestamps = TimestampsBlock
	case TimestampsBlock, TimestampsApproximate:
	default:
		return Config{}, fmt.Errorf("incorrect 'history.timestamps' param in yaml config: %q (block or approximate)", c.History.Timestamps)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("incorrect 'log_level' param in yaml config: %q", c.LogLevel)
	}

	chains := make(map[uint64]domain.Contracts, len(c.Chains))
	for id, entry := range c.Chains {
		contracts, err := entry.parse()
		if err != nil {
			return Config{}, errors.Wrapf(err, "chain %d", id)
		}
		chains[id] = contracts
	}

	cfg := Config{
		RPCURL:            strings.TrimSpace(c.RPCURL),
		ChainID:           c.ChainID,
		PrivateKeyEnv:     c.PrivateKeyEnv,
		TestControls:      c.TestControls,
		Simulate:          c.Simulate,
		WALDir:            c.WALDir,
		LogLevel:          strings.ToLower(c.LogLevel),
		PollInterval:      c.PollInterval,
		MaxTestAPYPercent: maxAPY,
		MintAmount:        mint,
		History: HistoryConfig{
			Timestamps: c.History.Timestamps,
			BlockTime:  c.History.BlockTime,
			FromBlock:  c.History.FromBlock,
		},
		Relay: RelayConfig{
			Addr:       c.Relay.Addr,
			BackingURL: c.Relay.BackingURL,
			TLSDomains: c.Relay.TLSDomains,
			CertCache:  c.Relay.CertCache,
		},
		Dashboard: DashboardConfig{Addr: c.Dashboard.Addr},
		Chains:    chains,
	}
	if cfg.PrivateKeyEnv == "" {
		cfg.PrivateKeyEnv = DefaultPrivateKeyEnv
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Relay.BackingURL == "" {
		cfg.Relay.BackingURL = cfg.RPCURL
	}

	return cfg, nil
}

// blank and "0x" addresses mean the contract is not deployed on that chain
func parseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("incorrect '%s' address: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func (c ContractsTmp) parse() (domain.Contracts, error) {
	var out domain.Contracts
	var err error
	if out.Token, err = parseAddress("token", c.Token); err != nil {
		return out, err
	}
	if out.Aave, err = parseAddress("aave", c.Aave); err != nil {
		return out, err
	}
	if out.Compound, err = parseAddress("compound", c.Compound); err != nil {
		return out, err
	}
	if out.Vault, err = parseAddress("vault", c.Vault); err != nil {
		return out, err
	}
	return out, nil
}

// Contracts returns the deployment for chainID, or nil if the chain is not configured.
func (c Config) Contracts(chainID uint64) *domain.Contracts {
	entry, ok := c.Chains[chainID]
	if !ok {
		return nil
	}
	return &entry
}

// ChainIDs lists the configured chains in ascending order.
func (c Config) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.Chains))
	for id := range c.Chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PrivateKeys reads the signing keys from the configured environment variable.
// Several keys may be given separated by commas.
func (c Config) PrivateKeys() []string {
	v := os.Getenv(c.PrivateKeyEnv)
	if v == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
