package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vadiminshakov/autoyield/internal"
	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/metrics"
	"github.com/vadiminshakov/autoyield/internal/relay"
	"github.com/vadiminshakov/autoyield/internal/setup"
)

var cmdOverview = &cobra.Command{
	Use:   "overview",
	Short: "Show vault totals, the active venue and both venue APYs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			overview, err := app.Controls.ReadVaultOverview(ctx, app.Session)
			if err != nil {
				return err
			}
			fmt.Println(renderOverview(app.Session, overview))

			view, err := app.Transfers.Refresh(ctx, app.Session)
			if err != nil {
				return err
			}
			fmt.Println(renderBalances(view))
			return nil
		})
	},
}

var cmdDeposit = &cobra.Command{
	Use:   "deposit AMOUNT",
	Short: "Deposit tokens into the vault, approving the exact amount when needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			err := app.Transfers.Deposit(ctx, app.Session, args[0])
			fmt.Println(renderTransfer(app.Transfers.State(), app.Transfers.View(app.Session.Account)))
			return err
		})
	},
}

var cmdWithdraw = &cobra.Command{
	Use:   "withdraw AMOUNT",
	Short: "Withdraw tokens from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			err := app.Transfers.Withdraw(ctx, app.Session, args[0])
			fmt.Println(renderTransfer(app.Transfers.State(), app.Transfers.View(app.Session.Account)))
			return err
		})
	},
}

var cmdMint = &cobra.Command{
	Use:   "mint",
	Short: "Mint test tokens to the session account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			err := app.Transfers.MintTestFunds(ctx, app.Session)
			fmt.Println(renderTransfer(app.Transfers.State(), app.Transfers.View(app.Session.Account)))
			return err
		})
	},
}

var cmdResume = &cobra.Command{
	Use:   "resume",
	Short: "Wait again for a transfer left pending by an earlier run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			if !app.Transfers.State().Status.Busy {
				fmt.Println(mutedStyle.Render("nothing to resume"))
				return nil
			}
			err := app.Transfers.Resume(ctx, app.Session)
			fmt.Println(renderTransfer(app.Transfers.State(), app.Transfers.View(app.Session.Account)))
			return err
		})
	},
}

var cmdDismiss = &cobra.Command{
	Use:   "dismiss SURFACE",
	Short: "Clear a finished or failed transaction from a surface (transfer or controls)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		surface, err := domain.ParseSurface(args[0])
		if err != nil {
			return err
		}

		return withApp(cmd, func(_ context.Context, app *internal.App) error {
			if err := app.Dismiss(surface); err != nil {
				return err
			}
			fmt.Println(okStyle.Render(fmt.Sprintf("%s surface is idle", surface)))
			return nil
		})
	},
}

var cmdAcknowledge = &cobra.Command{
	Use:   "acknowledge SURFACE",
	Short: "Hide a stuck pending transaction; the surface stays reserved until it settles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		surface, err := domain.ParseSurface(args[0])
		if err != nil {
			return err
		}

		return withApp(cmd, func(_ context.Context, app *internal.App) error {
			if err := app.Acknowledge(surface); err != nil {
				return err
			}
			fmt.Println(warnStyle.Render(fmt.Sprintf("%s transaction acknowledged, run resume once it is mined", surface)))
			return nil
		})
	},
}

var cmdRebalance = &cobra.Command{
	Use:   "rebalance",
	Short: "Ask the vault to rebalance; the vault decides whether funds move",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			handle, err := app.Controls.TriggerManualRebalance(ctx, app.Session)
			fmt.Println(renderHandle(handle))
			return err
		})
	},
}

var cmdSetAPY = &cobra.Command{
	Use:   "set-apy VENUE PERCENT",
	Short: "Override a venue mock's APY (test deployments only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		venue, err := domain.ParseVenue(args[0])
		if err != nil {
			return err
		}
		pct, err := domain.ParsePercent(args[1])
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			handle, err := app.Controls.SetTestVenueAPY(ctx, app.Session, venue, pct)
			fmt.Println(renderHandle(handle))
			return err
		})
	},
}

var cmdHistory = &cobra.Command{
	Use:   "history",
	Short: "List the vault's rebalance events, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			fmt.Println(renderHistory(app.History.FetchHistory(ctx, app.Session)))
			return nil
		})
	},
}

var cmdRelay = &cobra.Command{
	Use:   "relay",
	Short: "Run only the JSON-RPC relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()

		metrics.Init()
		srv := relay.NewServer(cfg.Relay.Addr, cfg.Relay.BackingURL, logger)
		if len(cfg.Relay.TLSDomains) > 0 {
			return srv.StartWithAutoTLS(cmd.Context(), cfg.Relay.TLSDomains, cfg.Relay.CertCache)
		}
		return srv.Start(cmd.Context())
	},
}

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Poll the vault and serve the relay and the dashboard API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		metrics.Init()
		return withApp(cmd, func(ctx context.Context, app *internal.App) error {
			return app.Serve(ctx)
		})
	},
}

var cmdSetup = &cobra.Command{
	Use:   "setup",
	Short: "Write a config file with the interactive wizard",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		_, err := setup.RunTUI()
		return err
	},
}

func init() {
	cmdMain.AddCommand(
		cmdOverview,
		cmdDeposit,
		cmdWithdraw,
		cmdMint,
		cmdResume,
		cmdDismiss,
		cmdAcknowledge,
		cmdRebalance,
		cmdSetAPY,
		cmdHistory,
		cmdRelay,
		cmdServe,
		cmdSetup,
	)
}
