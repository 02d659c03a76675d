package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/autoyield/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const (
	NetworkAnvil    = "anvil"
	NetworkCustom   = "custom"
	NetworkSimulate = "simulate"
)

// Answers are the values collected by the wizard.
type Answers struct {
	Network       string
	RPCURL        string
	ChainID       string
	Token         string
	Aave          string
	Compound      string
	Vault         string
	TestControls  bool
	MaxAPYPercent string
	PollInterval  string
	RelayAddr     string
	DashboardAddr string
}

// DefaultAnswers prefill the wizard with the local Anvil deployment.
func DefaultAnswers() Answers {
	return Answers{
		Network:       NetworkAnvil,
		RPCURL:        config.DefaultRPCURL,
		ChainID:       strconv.FormatUint(config.AnvilChainID, 10),
		Token:         config.DefaultTokenAddress,
		Aave:          config.DefaultAaveAddress,
		Compound:      config.DefaultCompoundAddress,
		Vault:         config.DefaultVaultAddress,
		TestControls:  true,
		MaxAPYPercent: "100",
		PollInterval:  "15s",
		RelayAddr:     ":8080",
		DashboardAddr: ":8090",
	}
}

// Build turns wizard answers into the YAML config shape.
func Build(a Answers) (config.ConfigTmp, error) {
	cfg := config.DefaultTmp()

	chainID, err := strconv.ParseUint(a.ChainID, 10, 64)
	if err != nil {
		return cfg, errors.Wrap(err, "chain id")
	}
	pollInterval, err := time.ParseDuration(a.PollInterval)
	if err != nil {
		return cfg, errors.Wrap(err, "poll interval")
	}

	cfg.RPCURL = a.RPCURL
	cfg.ChainID = chainID
	cfg.Simulate = a.Network == NetworkSimulate
	cfg.TestControls = a.TestControls
	cfg.MaxTestAPYPercent = a.MaxAPYPercent
	cfg.PollInterval = pollInterval
	cfg.Relay.Addr = a.RelayAddr
	cfg.Relay.BackingURL = a.RPCURL
	cfg.Dashboard.Addr = a.DashboardAddr
	cfg.Chains[chainID] = config.ContractsTmp{
		Token:    a.Token,
		Aave:     a.Aave,
		Compound: a.Compound,
		Vault:    a.Vault,
	}

	// the result must load
	if _, err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the config as YAML.
func Save(path string, cfg config.ConfigTmp) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

func clearScreen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("AUTOYIELD CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and returns the path of the written file.
func RunTUI() (string, error) {
	a := DefaultAnswers()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("AUTOYIELD CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Point the vault client at your deployment.\n"))

	fmt.Println(stepStyle.Render("STEP 1: NETWORK"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where does the vault live?").
				Options(
					huh.NewOption("Local Anvil node (default contracts)", NetworkAnvil),
					huh.NewOption("Custom RPC endpoint", NetworkCustom),
					huh.NewOption("Simulation (in-memory ledger)", NetworkSimulate),
				).
				Value(&a.Network),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if a.Network == NetworkCustom {
		clearScreen("STEP 2: ENDPOINT")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("RPC URL").
					Value(&a.RPCURL).
					Validate(func(s string) error {
						if s == "" {
							return errors.New("rpc url cannot be empty")
						}
						return nil
					}),
				huh.NewInput().
					Title("Chain ID").
					Description("0 asks the node").
					Value(&a.ChainID).
					Validate(func(s string) error {
						_, err := strconv.ParseUint(s, 10, 64)
						return err
					}),
			),
		).Run()
		if err != nil {
			return "", err
		}

		clearScreen("STEP 3: CONTRACTS")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Token").Value(&a.Token).Validate(validateAddress),
				huh.NewInput().Title("Aave venue").Value(&a.Aave).Validate(validateAddress),
				huh.NewInput().Title("Compound venue").Value(&a.Compound).Validate(validateAddress),
				huh.NewInput().Title("Vault").Value(&a.Vault).Validate(validateAddress),
			),
		).Run()
		if err != nil {
			return "", err
		}
	}

	clearScreen("STEP 4: SERVICES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable test controls?").
				Description("Minting test funds and overriding venue APYs").
				Value(&a.TestControls),
			huh.NewInput().
				Title("Max test APY %").
				Value(&a.MaxAPYPercent).
				Validate(validatePercent),
			huh.NewInput().
				Title("Overview poll interval").
				Description("Duration string (e.g. 15s, 1m)").
				Value(&a.PollInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().Title("Relay listen address").Value(&a.RelayAddr),
			huh.NewInput().Title("Dashboard listen address").Value(&a.DashboardAddr),
		),
	).Run()
	if err != nil {
		return "", err
	}

	clearScreen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Network: %s\nRPC: %s\nChain: %s\nVault: %s\nTest controls: %t\n",
		a.Network, a.RPCURL, a.ChainID, a.Vault, a.TestControls,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", errors.New("setup cancelled by user")
	}

	cfg, err := Build(a)
	if err != nil {
		return "", err
	}
	if err := Save(config.DefaultFileName, cfg); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", config.DefaultFileName)))
	return config.DefaultFileName, nil
}

func validateAddress(s string) error {
	if s == "" {
		return nil
	}
	if !common.IsHexAddress(s) {
		return errors.New("must be a 0x-prefixed 20-byte hex address")
	}
	return nil
}

func validatePercent(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errors.New("must be a valid number")
	}
	if !d.IsPositive() {
		return errors.New("must be positive")
	}
	return nil
}
