package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	snapshotservice "assetsnap/contexts/asset-payouts/snapshot-service"
	"assetsnap/contexts/asset-payouts/snapshot-service/adapters/cache"
	ethadapter "assetsnap/contexts/asset-payouts/snapshot-service/adapters/ethereum"
	"assetsnap/contexts/asset-payouts/snapshot-service/adapters/ipfs"
	postgresadapter "assetsnap/contexts/asset-payouts/snapshot-service/adapters/postgres"
	"assetsnap/contexts/asset-payouts/snapshot-service/application/workers"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
	"assetsnap/internal/platform/config"
	"assetsnap/internal/platform/db"
	"assetsnap/internal/platform/logging"
	"assetsnap/internal/platform/metrics"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const dialTimeout = 10 * time.Second

var newLogger = logging.New

type WorkerApp struct {
	postgres     *db.Postgres
	eth          *ethclient.Client
	worker       workers.SnapshotWorker
	pollInterval time.Duration
	metricsAddr  string
	logger       *slog.Logger
	logCloser    io.Closer
}

// CLIApp backs snapshotctl. Payouts is nil when no RPC endpoint or payout
// manager address is configured.
type CLIApp struct {
	Module  snapshotservice.Module
	Payouts ports.PayoutLookup
	ChainID int64
	Logger  *slog.Logger

	postgres  *db.Postgres
	eth       *ethclient.Client
	logCloser io.Closer
}

func BuildWorker(ctx context.Context) (_ *WorkerApp, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, logCloser := newLogger(logging.Options{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		ServiceName: cfg.ServiceName,
		Process:     "worker",
	})
	defer func() {
		if err != nil {
			_ = logCloser.Close()
		}
	}()
	if strings.TrimSpace(cfg.EthRPCURL) == "" {
		return nil, errors.New("ETH_RPC_URL is required")
	}
	if strings.TrimSpace(cfg.IPFSAPIURL) == "" {
		return nil, errors.New("IPFS_API_URL is required")
	}

	pg, err := connectPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	eth, err := dialEth(ctx, cfg.EthRPCURL)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}
	content, err := ipfs.NewClient(cfg.IPFSAPIURL, nil, logger)
	if err != nil {
		eth.Close()
		_ = pg.Close()
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	module := snapshotservice.NewModule(snapshotservice.Dependencies{
		Snapshots:      repo,
		Trees:          repo,
		Chain:          ethadapter.NewConnector(eth, cfg.SnapshotLogChunkSize, logger),
		Content:        content,
		Cache:          treeCache(cfg),
		Metrics:        metrics.Snapshot(),
		Clock:          postgresadapter.SystemClock{},
		IDGen:          postgresadapter.UUIDGenerator{},
		ScanStartBlock: cfg.SnapshotScanStartBlock,
		Logger:         logger,
	})
	return &WorkerApp{
		postgres:     pg,
		eth:          eth,
		worker:       module.Worker,
		pollInterval: cfg.SnapshotPollInterval,
		metricsAddr:  cfg.MetricsAddr,
		logger:       logger,
		logCloser:    logCloser,
	}, nil
}

func BuildCLI(ctx context.Context) (_ *CLIApp, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, logCloser := newLogger(logging.Options{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		ServiceName: cfg.ServiceName,
		Process:     "snapshotctl",
	})
	defer func() {
		if err != nil {
			_ = logCloser.Close()
		}
	}()

	pg, err := connectPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	repo := postgresadapter.NewRepository(pg.DB, logger)
	deps := snapshotservice.Dependencies{
		Snapshots: repo,
		Trees:     repo,
		Cache:     treeCache(cfg),
		Clock:     postgresadapter.SystemClock{},
		IDGen:     postgresadapter.UUIDGenerator{},
		Logger:    logger,
	}

	app := &CLIApp{
		Logger:    logger,
		postgres:  pg,
		logCloser: logCloser,
	}
	if strings.TrimSpace(cfg.EthRPCURL) != "" && common.IsHexAddress(cfg.PayoutManagerAddress) {
		eth, err := dialEth(ctx, cfg.EthRPCURL)
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			_ = pg.Close()
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
		manager := ethadapter.NewPayoutManager(eth, chainID.Int64(), common.HexToAddress(cfg.PayoutManagerAddress))
		deps.ClaimRecords = manager
		app.Payouts = manager
		app.ChainID = chainID.Int64()
		app.eth = eth
	}
	app.Module = snapshotservice.NewModule(deps)
	return app, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	if strings.TrimSpace(w.metricsAddr) != "" {
		go func() {
			if err := metrics.Serve(ctx, normalizeAddr(w.metricsAddr), w.logger); err != nil {
				w.logger.Error("metrics endpoint stopped",
					"event", "bootstrap_metrics_failed",
					"module", "internal/app/bootstrap",
					"layer", "platform",
					"error", err.Error(),
				)
			}
		}()
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		// Claim errors are already logged by the worker; the next tick retries.
		_ = w.worker.RunOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("worker app stopping",
				"event", "bootstrap_worker_stopping",
				"module", "internal/app/bootstrap",
				"layer", "platform",
			)
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.eth != nil {
		w.eth.Close()
	}
	var err error
	if w.postgres != nil {
		err = w.postgres.Close()
	}
	if w.logCloser != nil {
		err = errors.Join(err, w.logCloser.Close())
	}
	return err
}

func (a *CLIApp) Close() error {
	if a.eth != nil {
		a.eth.Close()
	}
	var err error
	if a.postgres != nil {
		err = a.postgres.Close()
	}
	if a.logCloser != nil {
		err = errors.Join(err, a.logCloser.Close())
	}
	return err
}

func connectPostgres(ctx context.Context, cfg config.Config, logger *slog.Logger) (*db.Postgres, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	pg, err := db.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(logger, postgresadapter.AutoMigrate); err != nil {
		_ = pg.Close()
		return nil, err
	}
	return pg, nil
}

// treeCache is nil unless TREE_CACHE_TTL is positive, so by default every
// fetch hashes its leaf rows again.
func treeCache(cfg config.Config) ports.TreeCache {
	if cfg.TreeCacheTTL <= 0 {
		return nil
	}
	return cache.NewTreeCache(cfg.TreeCacheTTL)
}

func dialEth(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := ethadapter.DialEVMClient(dialCtx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial eth rpc: %w", err)
	}
	return client, nil
}

func normalizeAddr(addr string) string {
	value := strings.TrimSpace(addr)
	if value == "" {
		return ":9090"
	}
	if strings.Contains(value, ":") {
		return value
	}
	return ":" + value
}
