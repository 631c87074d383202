// Package engine wires one chain's tree, indexer, publisher, chain client,
// and checkpoint store into a single per-chain bundle. Per spec.md §9's
// design note, a struct keyed by chainId replaces module-level mutable maps.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dustnet/relayer/internal/chain"
	"github.com/dustnet/relayer/internal/config"
	"github.com/dustnet/relayer/internal/indexer"
	"github.com/dustnet/relayer/internal/publisher"
	"github.com/dustnet/relayer/pkg/checkpoint"
	"github.com/dustnet/relayer/pkg/log"
	"github.com/dustnet/relayer/pkg/merkle"
)

// ChainClient is the subset of *chain.Client that Engine and the API layer
// depend on directly (beyond what indexer.ChainReader/publisher.ChainWriter
// already narrow down to). A fake satisfying this interface stands in for
// tests that never touch a real RPC endpoint.
type ChainClient interface {
	SponsorAddress() common.Address
	IsKnownRoot(ctx context.Context, root *big.Int) (bool, error)
	IsNullifierSpent(ctx context.Context, nullifier *big.Int) (bool, error)
	SubmitUpdateRoot(ctx context.Context, newRoot *big.Int) (*types.Receipt, error)
	SubmitProof(ctx context.Context, proof []byte, publicSignals [8]*big.Int) (*types.Receipt, error)
}

// Engine bundles everything needed to serve one chain's API routes and keep
// its tree in sync.
type Engine struct {
	ChainID uint64

	Client    ChainClient
	Tree      *merkle.Tree
	Indexer   *indexer.Indexer
	Publisher *publisher.Publisher

	checkpoints *checkpoint.Store
	logger      *log.Logger

	// nullifierCache is a local fast-path cache of nullifiers this engine has
	// itself seen spent; per spec.md's data model, the chain remains the
	// source of truth and is always consulted before a submission proceeds.
	nullifierMu    sync.Mutex
	nullifierCache map[string]bool
}

// New connects to cfg's chain, restores from the latest checkpoint (falling
// back to a fresh tree and a full scan from StartBlock on any load failure),
// and wires the indexer/publisher around the resulting tree.
func New(ctx context.Context, cfg config.ChainConfig, checkpoints *checkpoint.Store, sponsorKeyHex string, logger *log.Logger) (*Engine, error) {
	logger = logger.Module(fmt.Sprintf("engine[%d]", cfg.ChainID))

	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.PoolAddress, cfg.ChainID, sponsorKeyHex)
	if err != nil {
		return nil, fmt.Errorf("engine: dial chain %d: %w", cfg.ChainID, err)
	}

	tree := merkle.NewTree()
	startBlock := cfg.StartBlock

	if cp, err := checkpoints.Load(cfg.ChainID); err != nil {
		logger.Warn("no usable checkpoint, falling back to full scan", "reason", err)
	} else {
		if err := cp.Replay(tree); err != nil {
			logger.Warn("checkpoint replay failed, falling back to full scan", "reason", err)
			tree = merkle.NewTree()
		} else {
			startBlock = cp.LastSyncedBlock
			logger.Info("restored from checkpoint", "lastSyncedBlock", cp.LastSyncedBlock, "leafCount", cp.LeafCount)
		}
	}

	idx := indexer.New(client, tree, cfg.ChunkSize, startBlock, logger)
	pub := publisher.New(client, tree, cfg.RootPublishBatch, cfg.RootPublishInterval, logger)

	return &Engine{
		ChainID:        cfg.ChainID,
		Client:         client,
		Tree:           tree,
		Indexer:        idx,
		Publisher:      pub,
		checkpoints:    checkpoints,
		logger:         logger,
		nullifierCache: make(map[string]bool),
	}, nil
}

// NewForTest wires an Engine directly around a fake ChainClient and tree,
// bypassing New's real Dial and checkpoint restore. Exported so the api
// package's tests can build an Engine around a fake chain backend without a
// live RPC node; production code always goes through New.
func NewForTest(chainID uint64, client ChainClient, tree *merkle.Tree, checkpoints *checkpoint.Store, idx *indexer.Indexer, pub *publisher.Publisher, logger *log.Logger) *Engine {
	return &Engine{
		ChainID:        chainID,
		Client:         client,
		Tree:           tree,
		Indexer:        idx,
		Publisher:      pub,
		checkpoints:    checkpoints,
		logger:         logger,
		nullifierCache: make(map[string]bool),
	}
}

// Sync scans the tree forward to the chain head and writes a checkpoint if
// any new leaves were inserted. Every read-path API handler calls this before
// serving a response, per spec.md §4.7's "calls ensureSynced first".
func (e *Engine) Sync(ctx context.Context) error {
	before := e.Tree.LeafCount()
	if err := e.Indexer.EnsureSynced(ctx); err != nil {
		return err
	}
	inserted := int(e.Tree.LeafCount() - before)
	if inserted > 0 {
		e.Publisher.NotifyLeavesInserted(inserted)
		cp := checkpoint.FromTree(e.ChainID, e.Indexer.LastSyncedBlock(), e.Tree, time.Now())
		if err := e.checkpoints.Save(cp); err != nil {
			e.logger.Error("checkpoint save failed", "err", err)
		}
	}
	return nil
}

// SyncAndMaybePublish runs Sync, then publishes the root if the batch or
// interval trigger has fired. The background sync loop calls this on a
// ticker; request-handling paths call Sync alone so a publish's RPC latency
// never lands on the request's critical path.
func (e *Engine) SyncAndMaybePublish(ctx context.Context) error {
	if err := e.Sync(ctx); err != nil {
		return err
	}
	if e.Publisher.ShouldPost() {
		if _, err := e.Publisher.PostRootIfNeeded(ctx); err != nil {
			e.logger.Error("root publish failed", "err", err)
		}
	}
	return nil
}

// IsNullifierSpent checks the local cache first, then the chain -- which
// remains the source of truth. A positive chain result populates the cache.
func (e *Engine) IsNullifierSpent(ctx context.Context, nullifier *big.Int) (bool, error) {
	key := nullifier.Text(16)

	e.nullifierMu.Lock()
	cached := e.nullifierCache[key]
	e.nullifierMu.Unlock()
	if cached {
		return true, nil
	}

	spent, err := e.Client.IsNullifierSpent(ctx, nullifier)
	if err != nil {
		return false, err
	}
	if spent {
		e.nullifierMu.Lock()
		e.nullifierCache[key] = true
		e.nullifierMu.Unlock()
	}
	return spent, nil
}

// MarkNullifierSpent records that nullifier was just consumed by a
// successful submission, without waiting for a future chain read to confirm it.
func (e *Engine) MarkNullifierSpent(nullifier *big.Int) {
	e.nullifierMu.Lock()
	e.nullifierCache[nullifier.Text(16)] = true
	e.nullifierMu.Unlock()
}
