package api_test

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dustnet/relayer/internal/chain"
)

// fakeChainClient implements engine.ChainClient, indexer.ChainReader, and
// publisher.ChainWriter entirely in memory, so the API layer's handlers can
// be exercised without a live RPC node.
type fakeChainClient struct {
	head     uint64
	deposits []chain.DepositQueuedEvent

	nullifiersSpent map[string]bool
	knownRoots      map[string]bool

	submittedReceiptStatus uint64
	rejectSubmission       error
}

func newFakeChainClient(head uint64) *fakeChainClient {
	return &fakeChainClient{
		head:                   head,
		nullifiersSpent:        make(map[string]bool),
		knownRoots:             make(map[string]bool),
		submittedReceiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (f *fakeChainClient) SponsorAddress() common.Address { return common.Address{} }

func (f *fakeChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	n := f.head
	if number != nil {
		n = number.Uint64()
	}
	return &types.Header{Number: big.NewInt(int64(n))}, nil
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
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (f *fakeChainClient) SubmitProof(ctx context.Context, proof []byte, publicSignals [8]*big.Int) (*types.Receipt, error) {
	if f.rejectSubmission != nil {
		return nil, f.rejectSubmission
	}
	if publicSignals[1].Sign() != 0 {
		f.nullifiersSpent[publicSignals[1].Text(16)] = true
	}
	if publicSignals[2].Sign() != 0 {
		f.nullifiersSpent[publicSignals[2].Text(16)] = true
	}
	return &types.Receipt{
		Status:      f.submittedReceiptStatus,
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: big.NewInt(123),
		GasUsed:     50_000,
	}, nil
}
