package internal

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/autoyield/config"
	"github.com/vadiminshakov/autoyield/internal/clients"
)

// newClient creates the ledger client the configuration asks for.
func newClient(ctx context.Context, cfg config.Config, logger *zap.Logger) (any, error) {
	if cfg.Simulate {
		chainID := cfg.ChainID
		if chainID == 0 {
			chainID = config.AnvilChainID
		}
		contracts := cfg.Contracts(chainID)
		if !contracts.Complete() {
			return nil, errors.Errorf("simulation needs a complete deployment for chain %d", chainID)
		}
		return clients.NewSimulatedLedger(*contracts), nil
	}

	client, err := clients.NewEthClient(ctx, cfg.RPCURL, cfg.ChainID, cfg.PrivateKeys(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to ledger")
	}
	return client, nil
}
