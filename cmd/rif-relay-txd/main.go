package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/rsksmart/rif-relay-txcore/internal/chain"
	"github.com/rsksmart/rif-relay-txcore/internal/keymanager"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/txbuilder"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/txmanager"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/txstore"
	"github.com/rsksmart/rif-relay-txcore/log"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting rif-relay-txd", "chain_id", cfg.Chain.ChainID)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, manager, km, store, err := setup(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer store.Close()

	signers := km.Signers()
	if len(signers) == 0 {
		log.Fatalf("no signing keys registered: configure keys.managerKey and keys.workerKey on first run")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Chain.PollInterval)
	defer ticker.Stop()

	log.Infow("entering sweep loop", "signers", len(signers), "interval", cfg.Chain.PollInterval)
	for {
		select {
		case sig := <-sigCh:
			log.Infow("received signal, shutting down", "signal", sig.String())
			return
		case <-ticker.C:
			if err := tick(ctx, adapter, manager, signers); err != nil {
				log.Errorw(err, "sweep tick failed")
			}
		}
	}
}

// tick runs one boost-then-reap sweep against the chain's current
// block height: every configured signer's oldest pending transaction
// is considered for repricing in parallel, then the whole store is
// swept once for transactions confirmed deeply enough to prune. Boost
// and reap never run concurrently with each other, matching the
// worker-loop model the transaction management core assumes.
func tick(ctx context.Context, interactor chain.Interactor, manager *txmanager.Manager, signers []common.Address) error {
	blockNumber, err := interactor.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch block number: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, signer := range signers {
		signer := signer
		g.Go(func() error {
			boosted, err := manager.BoostPending(gctx, signer, blockNumber)
			if err != nil {
				return fmt.Errorf("boost pending failed for %s: %w", signer.Hex(), err)
			}
			if len(boosted) > 0 {
				log.Infow("boosted pending transactions", "signer", signer.Hex(), "count", len(boosted))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return manager.ReapConfirmed(ctx, blockNumber)
}

func setup(ctx context.Context, cfg *Config) (chain.Interactor, *txmanager.Manager, *keymanager.KeyManager, *txstore.Store, error) {
	endpoints := make([]*chain.Endpoint, 0, len(cfg.Chain.RPCEndpoints))
	for _, uri := range cfg.Chain.RPCEndpoints {
		ep, err := chain.DialEndpoint(ctx, uri)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to dial %s: %w", uri, err)
		}
		endpoints = append(endpoints, ep)
	}
	adapter, err := chain.NewAdapter(new(big.Int).SetUint64(cfg.Chain.ChainID), endpoints...)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to build chain adapter: %w", err)
	}

	store, err := txstore.Open(filepath.Join(cfg.Datadir, "txstore"), cfg.Store.DevMode)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open tx store: %w", err)
	}

	km := keymanager.New(cfg.Keys.KeystoreDir)
	if cfg.Keys.ManagerKeyHex != "" {
		if _, err := km.Import(cfg.Keys.ManagerKeyHex, cfg.Keys.ManagerPassword); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to import manager key: %w", err)
		}
	}
	if cfg.Keys.WorkerKeyHex != "" {
		if _, err := km.Import(cfg.Keys.WorkerKeyHex, cfg.Keys.WorkerPassword); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to import worker key: %w", err)
		}
	}

	mgrCfg := txmanager.Config{
		RetryGasPriceFactor:             cfg.Gas.RetryGasPriceFactor,
		MaxGasPrice:                     new(big.Int).SetUint64(cfg.Gas.MaxGasPriceWei),
		EstimateGasFactor:               cfg.Gas.EstimateGasFactor,
		DefaultGasLimit:                 cfg.Gas.DefaultGasLimit,
		ConfirmationsNeeded:             cfg.Gas.ConfirmationsNeeded,
		PendingTransactionTimeoutBlocks: cfg.Gas.PendingTransactionTimeoutBlocks,
	}
	manager := txmanager.New(adapter, store, []txbuilder.KeySigner{km}, mgrCfg)

	return adapter, manager, km, store, nil
}
