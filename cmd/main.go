// Command autoyield is a client for a yield vault that moves deposits between
// lending venues. It reads the vault, sends deposits and withdrawals, lists
// rebalance history and serves the JSON-RPC relay and the dashboard API.
//
// Usage:
//
//	autoyield setup
//	autoyield overview --config autoyield.gen.yaml
//	autoyield deposit 100
//	autoyield serve
//
// Signing keys are read from the environment variable named by private_key_env
// (AUTOYIELD_PRIVATE_KEY by default).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vadiminshakov/autoyield/config"
	"github.com/vadiminshakov/autoyield/internal"
)

var cmdMain = &cobra.Command{
	Use:           "autoyield",
	Short:         "Yield vault client, RPC relay and dashboard",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var flagMain struct {
	Config   string
	LogLevel string
}

func init() {
	cmdMain.PersistentFlags().StringVarP(&flagMain.Config, "config", "c", "", "Path to the YAML config (defaults apply when empty)")
	cmdMain.PersistentFlags().StringVar(&flagMain.LogLevel, "log-level", "", "Override the configured log level")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmdMain.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config. A missing flag falls back to
// the wizard's output file when it exists.
func loadConfig() (config.Config, error) {
	path := flagMain.Config
	if path == "" {
		if _, err := os.Stat(config.DefaultFileName); err == nil {
			path = config.DefaultFileName
		}
	}

	cfg, err := config.Get(path)
	if err != nil {
		return config.Config{}, err
	}
	if flagMain.LogLevel != "" {
		cfg.LogLevel = flagMain.LogLevel
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

// withApp loads config, connects to the ledger, settles journaled transactions
// and hands the app to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *internal.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	app, err := internal.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Recover(ctx); err != nil {
		logger.Warn("journal recovery failed", zap.Error(err))
	}

	return fn(ctx, app)
}
