// Package indexer scans a chain for DepositQueued events and feeds newly
// confirmed commitments into the chain's incremental Merkle tree, in strict
// leaf-index order.
package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"

	"github.com/dustnet/relayer/internal/chain"
	"github.com/dustnet/relayer/pkg/hash"
	"github.com/dustnet/relayer/pkg/log"
	"github.com/dustnet/relayer/pkg/merkle"
)

// ChainReader is the subset of chain.Client the indexer depends on. Tests
// substitute a fake implementation so the full sync loop — including reorg
// detection — runs without a live RPC node.
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterDepositQueued(ctx context.Context, fromBlock, toBlock uint64) ([]chain.DepositQueuedEvent, error)
}

// ErrReorgDetected is returned (and otherwise never recovered from — see
// the design note on fatal reorg handling) when the block the indexer last
// synced against no longer has the hash it was inserted with.
var ErrReorgDetected = fmt.Errorf("indexer: reorg detected below the last synced block")

// ErrChainUnavailable is returned when an RPC call fails after exhausting
// retries.
var ErrChainUnavailable = fmt.Errorf("indexer: chain unavailable")

// retryAttempts and retryBaseDelay bound the exponential backoff applied to
// RPC calls before surfacing ErrChainUnavailable.
const (
	retryAttempts  = 8
	retryBaseDelay = 500 * time.Millisecond
)

// DepositRecord is the indexer's retained view of one observed DepositQueued
// event. Created once when the event is first ingested; never mutated or
// deleted afterward.
type DepositRecord struct {
	Commitment  hash.F
	LeafIndex   uint64
	Amount      *big.Int
	Asset       common.Address
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   uint64
}

// Indexer maintains one chain's sync progress and feeds its tree.
type Indexer struct {
	client    ChainReader
	tree      *merkle.Tree
	chunkSize uint64
	logger    *log.Logger

	mu              sync.Mutex
	lastSyncedBlock uint64
	lastBlockHash   [32]byte

	// commitmentToLeafIndex dedups DepositQueued events keyed by the
	// canonical zero-padded lowercase 32-byte hex of the commitment, per
	// spec's data model. A chunk whose commitments were already inserted
	// but whose header-fetch retry then fails (leaving lastSyncedBlock
	// unadvanced) is rescanned verbatim on the next EnsureSynced call;
	// without this map that rescan would insert the same commitments
	// again at new leaf indices.
	commitmentToLeafIndex map[string]uint64
	records               map[string]DepositRecord

	sf singleflight.Group
}

// New constructs an Indexer that will resume scanning from startBlock+1 (or
// from startBlock itself if the tree is empty and this is a cold start).
func New(client ChainReader, tree *merkle.Tree, chunkSize, startBlock uint64, logger *log.Logger) *Indexer {
	last := startBlock
	if tree.LeafCount() == 0 && startBlock > 0 {
		last = startBlock - 1
	}
	return &Indexer{
		client:                client,
		tree:                  tree,
		chunkSize:             chunkSize,
		logger:                logger.Module("indexer"),
		lastSyncedBlock:       last,
		commitmentToLeafIndex: make(map[string]uint64),
		records:               make(map[string]DepositRecord),
	}
}

// LastSyncedBlock returns the highest block number fully scanned so far.
func (idx *Indexer) LastSyncedBlock() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lastSyncedBlock
}

// DepositRecord returns the retained record for a previously observed
// commitment, and whether one exists.
func (idx *Indexer) DepositRecord(commitment hash.F) (DepositRecord, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rec, ok := idx.records[commitmentKey(commitment)]
	return rec, ok
}

// commitmentKey is the canonical zero-padded lowercase 32-byte hex encoding
// of a commitment, used as the map key for commitmentToLeafIndex and records.
func commitmentKey(commitment hash.F) string {
	b := hash.ToBytes32(commitment)
	return hex.EncodeToString(b[:])
}

// EnsureSynced scans forward to the chain's current head. Concurrent callers
// coalesce onto a single in-flight scan via singleflight, so a burst of API
// requests arriving while a sync is already running triggers exactly one RPC
// round trip rather than one per caller.
func (idx *Indexer) EnsureSynced(ctx context.Context) error {
	_, err, _ := idx.sf.Do("sync", func() (any, error) {
		return nil, idx.syncOnce(ctx)
	})
	return err
}

func (idx *Indexer) syncOnce(ctx context.Context) error {
	head, err := retry(ctx, func() (*big.Int, error) {
		h, err := idx.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		return h.Number, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	latest := head.Uint64()

	idx.mu.Lock()
	from := idx.lastSyncedBlock + 1
	checkpointBlock := idx.lastSyncedBlock
	checkpointHash := idx.lastBlockHash
	idx.mu.Unlock()

	// No hash is recorded until this process has synced a chunk (a cold
	// start, or a restore from a checkpoint), so there is nothing to compare.
	if checkpointBlock > 0 && checkpointHash != ([32]byte{}) {
		if err := idx.checkNoReorg(ctx, checkpointBlock, checkpointHash); err != nil {
			return err
		}
	}

	for ; from <= latest; from += idx.chunkSize {
		to := from + idx.chunkSize - 1
		if to > latest {
			to = latest
		}

		events, err := retry(ctx, func() ([]chain.DepositQueuedEvent, error) {
			return idx.client.FilterDepositQueued(ctx, from, to)
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
		}

		sort.Slice(events, func(i, j int) bool { return events[i].LeafIndex < events[j].LeafIndex })

		for _, ev := range events {
			key := commitmentKey(ev.Commitment)

			idx.mu.Lock()
			_, seen := idx.commitmentToLeafIndex[key]
			idx.mu.Unlock()
			if seen {
				continue
			}

			leafIndex, _, err := idx.tree.Insert(ev.Commitment)
			if err != nil {
				return fmt.Errorf("indexer: insert commitment from block %d: %w", ev.BlockNumber, err)
			}
			if leafIndex != ev.LeafIndex {
				return fmt.Errorf("indexer: leaf index invariant violation: tree assigned %d, contract reported %d", leafIndex, ev.LeafIndex)
			}

			idx.mu.Lock()
			idx.commitmentToLeafIndex[key] = leafIndex
			idx.records[key] = DepositRecord{
				Commitment:  ev.Commitment,
				LeafIndex:   leafIndex,
				Amount:      ev.Amount,
				Asset:       ev.Asset,
				TxHash:      ev.TxHash,
				BlockNumber: ev.BlockNumber,
				Timestamp:   ev.Timestamp,
			}
			idx.mu.Unlock()
		}

		toHeader, err := retry(ctx, func() (*types.Header, error) {
			return idx.client.HeaderByNumber(ctx, new(big.Int).SetUint64(to))
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
		}

		var toHash [32]byte = toHeader.Hash()

		idx.mu.Lock()
		idx.lastSyncedBlock = to
		idx.lastBlockHash = toHash
		idx.mu.Unlock()

		idx.logger.Info("synced chunk", "fromBlock", from, "toBlock", to, "depositsFound", len(events))
	}

	return nil
}

// checkNoReorg re-fetches checkpointBlock and compares its hash against the
// one recorded when it was last synced. A mismatch means blocks the indexer
// already processed have been reorganized out — per the design note, this is
// fatal rather than auto-recovered, since notes already inserted into the
// tree may no longer correspond to a valid on-chain deposit.
func (idx *Indexer) checkNoReorg(ctx context.Context, blockNumber uint64, expectedHash [32]byte) error {
	h, err := retry(ctx, func() (*[32]byte, error) {
		header, err := idx.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return nil, err
		}
		var blockHash [32]byte = header.Hash()
		return &blockHash, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	if *h != expectedHash {
		return ErrReorgDetected
	}
	return nil
}

// retry runs fn with bounded exponential backoff, stopping early if ctx is
// cancelled.
func retry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt < retryAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return zero, lastErr
}
