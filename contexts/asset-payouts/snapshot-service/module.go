package snapshotservice

import (
	"log/slog"

	"assetsnap/contexts/asset-payouts/snapshot-service/adapters/cache"
	"assetsnap/contexts/asset-payouts/snapshot-service/adapters/ipfs"
	"assetsnap/contexts/asset-payouts/snapshot-service/adapters/memory"
	"assetsnap/contexts/asset-payouts/snapshot-service/application/commands"
	"assetsnap/contexts/asset-payouts/snapshot-service/application/queries"
	"assetsnap/contexts/asset-payouts/snapshot-service/application/workers"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/services"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

type Module struct {
	Submit    commands.SubmitSnapshotUseCase
	Worker    workers.SnapshotWorker
	Snapshots queries.SnapshotQueries
	Trees     queries.TreeQueries
	Claims    queries.ClaimQueries

	Store   *memory.Store
	Content *ipfs.MemoryStore
}

type Dependencies struct {
	Snapshots      ports.SnapshotRepository
	Trees          ports.TreeRepository
	Chain          ports.ChainConnector
	Content        ports.ContentStore
	ClaimRecords   ports.ClaimRecordReader
	Cache          ports.TreeCache
	Metrics        ports.Metrics
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	HashFunction   merkle.HashFunction
	ScanStartBlock uint64
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	hashFn := deps.HashFunction
	if hashFn == nil {
		hashFn = merkle.Keccak256
	}
	trees := queries.TreeQueries{
		Trees:     deps.Trees,
		Snapshots: deps.Snapshots,
		Cache:     deps.Cache,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	}
	return Module{
		Submit: commands.SubmitSnapshotUseCase{
			Snapshots:   deps.Snapshots,
			Clock:       deps.Clock,
			IDGenerator: deps.IDGen,
			Logger:      deps.Logger,
		},
		Worker: workers.SnapshotWorker{
			Snapshots: deps.Snapshots,
			Processor: commands.ProcessSnapshotUseCase{
				Chain:          deps.Chain,
				Content:        deps.Content,
				Clock:          deps.Clock,
				HashFunction:   hashFn,
				ScanStartBlock: deps.ScanStartBlock,
				Logger:         deps.Logger,
			},
			Metrics: deps.Metrics,
			Clock:   deps.Clock,
			Logger:  deps.Logger,
		},
		Snapshots: queries.SnapshotQueries{
			Snapshots: deps.Snapshots,
			Logger:    deps.Logger,
		},
		Trees: trees,
		Claims: queries.ClaimQueries{
			Trees:        trees,
			ClaimRecords: deps.ClaimRecords,
			Calculator:   services.ClaimCalculator{},
			Logger:       deps.Logger,
		},
	}
}

// NewInMemoryModule wires the module onto process local storage. chain and
// claimRecords are still required from the caller.
func NewInMemoryModule(chain ports.ChainConnector, claimRecords ports.ClaimRecordReader, logger *slog.Logger) Module {
	store := memory.NewStore()
	content := ipfs.NewMemoryStore()
	module := NewModule(Dependencies{
		Snapshots:    store,
		Trees:        store,
		Chain:        chain,
		Content:      content,
		ClaimRecords: claimRecords,
		Cache:        cache.NewTreeCache(cache.DefaultTTL),
		Clock:        store,
		IDGen:        store,
		Logger:       logger,
	})
	module.Store = store
	module.Content = content
	return module
}
