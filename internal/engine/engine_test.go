package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dustnet/relayer/internal/chain"
	"github.com/dustnet/relayer/internal/indexer"
	"github.com/dustnet/relayer/internal/publisher"
	"github.com/dustnet/relayer/pkg/checkpoint"
	"github.com/dustnet/relayer/pkg/log"
	"github.com/dustnet/relayer/pkg/merkle"
)

// fakeChainClient implements ChainClient, indexer.ChainReader, and
// publisher.ChainWriter entirely in memory.
type fakeChainClient struct {
	head     uint64
	deposits []chain.DepositQueuedEvent

	nullifiersSpent map[string]bool
	knownRoots      map[string]bool

	updateRootStatus uint64
}

func newFakeChainClient(head uint64) *fakeChainClient {
	return &fakeChainClient{
		head:             head,
		nullifiersSpent:  make(map[string]bool),
		knownRoots:       make(map[string]bool),
		updateRootStatus: types.ReceiptStatusSuccessful,
	}
}

func (f *fakeChainClient) SponsorAddress() common.Address { return common.Address{} }

func (f *fakeChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	n := f.head
	if number != nil {
		n = number.Uint64()
	}
	h := &types.Header{Number: big.NewInt(int64(n))}
	return h, nil
}

func (f *fakeChainClient) FilterDepositQueued(ctx context.Context, fromBlock, toBlock uint64) ([]chain.DepositQueuedEvent, error) {
	var out []chain.DepositQueuedEvent
	for _, d := range f.deposits {
		if d.BlockNumber >= fromBlock && d.BlockNumber <= toBlock {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeChainClient) IsKnownRoot(ctx context.Context, root *big.Int) (bool, error) {
	return f.knownRoots[root.Text(16)], nil
}

func (f *fakeChainClient) IsNullifierSpent(ctx context.Context, nullifier *big.Int) (bool, error) {
	return f.nullifiersSpent[nullifier.Text(16)], nil
}

func (f *fakeChainClient) SubmitUpdateRoot(ctx context.Context, newRoot *big.Int) (*types.Receipt, error) {
	f.knownRoots[newRoot.Text(16)] = true
	return &types.Receipt{Status: f.updateRootStatus}, nil
}

func (f *fakeChainClient) SubmitProof(ctx context.Context, proof []byte, publicSignals [8]*big.Int) (*types.Receipt, error) {
	nullifiers := []*big.Int{publicSignals[1], publicSignals[2]}
	for _, n := range nullifiers {
		if n.Sign() != 0 {
			f.nullifiersSpent[n.Text(16)] = true
		}
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func testLogger() *log.Logger { return log.Default() }

func newTestEngine(t *testing.T, client *fakeChainClient) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := checkpoint.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tree := merkle.NewTree()
	idx := indexer.New(client, tree, 10_000, 0, testLogger())
	pub := publisher.New(client, tree, 10, time.Minute, testLogger())
	e := NewForTest(1, client, tree, store, idx, pub, testLogger())
	return e, dir
}

func TestSyncSavesCheckpointAfterInsert(t *testing.T) {
	client := newFakeChainClient(5)
	client.deposits = []chain.DepositQueuedEvent{
		{Commitment: big.NewInt(42), LeafIndex: 0, BlockNumber: 2},
	}
	e, _ := newTestEngine(t, client)

	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if e.Tree.LeafCount() != 1 {
		t.Fatalf("LeafCount = %d, want 1", e.Tree.LeafCount())
	}

	cp, err := e.checkpoints.Load(1)
	if err != nil {
		t.Fatalf("Load checkpoint: %v", err)
	}
	if cp.LeafCount != 1 {
		t.Fatalf("checkpoint LeafCount = %d, want 1", cp.LeafCount)
	}
}

func TestSyncSkipsCheckpointWhenNothingChanged(t *testing.T) {
	client := newFakeChainClient(5)
	e, _ := newTestEngine(t, client)

	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := e.checkpoints.Load(1); err == nil {
		t.Fatalf("expected no checkpoint to have been written")
	}
}

func TestSyncAndMaybePublishPublishesAfterBatchThreshold(t *testing.T) {
	client := newFakeChainClient(20)
	client.deposits = make([]chain.DepositQueuedEvent, 10)
	for i := range client.deposits {
		client.deposits[i] = chain.DepositQueuedEvent{
			Commitment: big.NewInt(int64(100 + i)), LeafIndex: uint64(i), BlockNumber: 2,
		}
	}
	e, _ := newTestEngine(t, client)

	if err := e.SyncAndMaybePublish(context.Background()); err != nil {
		t.Fatalf("SyncAndMaybePublish: %v", err)
	}
	if got := e.Publisher.LastPostedRoot(); got.Cmp(e.Tree.Root()) != 0 {
		t.Fatalf("expected the batch-size trigger to publish the current root")
	}
}

func TestIsNullifierSpentCachesAPositiveChainResult(t *testing.T) {
	client := newFakeChainClient(0)
	nullifier := big.NewInt(7)
	client.nullifiersSpent[nullifier.Text(16)] = true
	e, _ := newTestEngine(t, client)

	spent, err := e.IsNullifierSpent(context.Background(), nullifier)
	if err != nil || !spent {
		t.Fatalf("IsNullifierSpent = %v, %v, want true, nil", spent, err)
	}

	// Flip the chain's state directly; the cached result should still win.
	delete(client.nullifiersSpent, nullifier.Text(16))
	spent, err = e.IsNullifierSpent(context.Background(), nullifier)
	if err != nil || !spent {
		t.Fatalf("IsNullifierSpent (cached) = %v, %v, want true, nil", spent, err)
	}
}

func TestMarkNullifierSpentShortCircuitsAFutureChainCheck(t *testing.T) {
	client := newFakeChainClient(0)
	e, _ := newTestEngine(t, client)
	nullifier := big.NewInt(9)

	e.MarkNullifierSpent(nullifier)

	spent, err := e.IsNullifierSpent(context.Background(), nullifier)
	if err != nil || !spent {
		t.Fatalf("IsNullifierSpent = %v, %v, want true, nil", spent, err)
	}
}
