// Package chain wraps go-ethereum's ethclient/bind machinery around the
// shielded pool contract: the indexer's event scan, the publisher's
// updateRoot submission, and the API's withdraw/transfer proof submission
// all go through this one client.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DepositQueuedEvent is a decoded DepositQueued log.
type DepositQueuedEvent struct {
	Commitment  *big.Int
	LeafIndex   uint64
	Amount      *big.Int
	Asset       common.Address
	Timestamp   uint64
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
}

// Client is a per-chain connection to one shielded pool deployment. A Client
// with no sponsor key can still read (FilterDepositQueued, IsKnownRoot,
// IsNullifierSpent, HeaderByNumber); submitting transactions requires one.
type Client struct {
	eth         *ethclient.Client
	poolABI     abi.ABI
	pool        *bind.BoundContract
	poolAddress common.Address
	chainID     *big.Int
	sponsor     *bind.TransactOpts
	depositSig  common.Hash
}

// Dial connects to rpcURL and returns a Client bound to poolAddress on the
// given chainID. sponsorKeyHex is the sponsor's ECDSA private key (hex,
// "0x" prefix optional); pass an empty string for a read-only client.
func Dial(ctx context.Context, rpcURL, poolAddress string, chainID uint64, sponsorKeyHex string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	poolABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse pool ABI: %w", err)
	}

	addr := common.HexToAddress(poolAddress)
	c := &Client{
		eth:         eth,
		poolABI:     poolABI,
		pool:        bind.NewBoundContract(addr, poolABI, eth, eth, eth),
		poolAddress: addr,
		chainID:     new(big.Int).SetUint64(chainID),
		depositSig:  poolABI.Events["DepositQueued"].ID,
	}

	if sponsorKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(sponsorKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chain: parse sponsor key: %w", err)
		}
		opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
		if err != nil {
			return nil, fmt.Errorf("chain: build transactor: %w", err)
		}
		c.sponsor = opts
	}

	return c, nil
}

// SponsorAddress returns the sponsor account's address, or the zero address
// for a read-only client.
func (c *Client) SponsorAddress() common.Address {
	if c.sponsor == nil {
		return common.Address{}
	}
	return c.sponsor.From
}

// HeaderByNumber returns the header at number, or the latest header if
// number is nil.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	h, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("chain: header by number: %w", err)
	}
	return h, nil
}

// FilterDepositQueued scans [fromBlock, toBlock] (inclusive) for DepositQueued
// logs emitted by the pool contract.
func (c *Client) FilterDepositQueued(ctx context.Context, fromBlock, toBlock uint64) ([]DepositQueuedEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.poolAddress},
		Topics:    [][]common.Hash{{c.depositSig}},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs [%d,%d]: %w", fromBlock, toBlock, err)
	}

	events := make([]DepositQueuedEvent, 0, len(logs))
	for _, lg := range logs {
		var decoded struct {
			LeafIndex *big.Int
			Amount    *big.Int
			Asset     common.Address
			Timestamp *big.Int
		}
		if err := c.poolABI.UnpackIntoInterface(&decoded, "DepositQueued", lg.Data); err != nil {
			return nil, fmt.Errorf("chain: unpack DepositQueued at block %d: %w", lg.BlockNumber, err)
		}
		if len(lg.Topics) < 2 {
			return nil, fmt.Errorf("chain: DepositQueued log missing indexed commitment topic at block %d", lg.BlockNumber)
		}
		events = append(events, DepositQueuedEvent{
			Commitment:  new(big.Int).SetBytes(lg.Topics[1].Bytes()),
			LeafIndex:   decoded.LeafIndex.Uint64(),
			Amount:      decoded.Amount,
			Asset:       decoded.Asset,
			Timestamp:   decoded.Timestamp.Uint64(),
			BlockNumber: lg.BlockNumber,
			BlockHash:   lg.BlockHash,
			TxHash:      lg.TxHash,
		})
	}
	return events, nil
}

// IsKnownRoot calls the pool's isKnownRoot view.
func (c *Client) IsKnownRoot(ctx context.Context, root *big.Int) (bool, error) {
	var out bool
	if err := c.call(ctx, &out, "isKnownRoot", root); err != nil {
		return false, fmt.Errorf("chain: isKnownRoot: %w", err)
	}
	return out, nil
}

// IsNullifierSpent calls the pool's nullifiers view.
func (c *Client) IsNullifierSpent(ctx context.Context, nullifier *big.Int) (bool, error) {
	var out bool
	if err := c.call(ctx, &out, "nullifiers", nullifier); err != nil {
		return false, fmt.Errorf("chain: nullifiers: %w", err)
	}
	return out, nil
}

// SubmitUpdateRoot sends a sponsor-signed updateRoot(newRoot) transaction and
// blocks until it is mined.
func (c *Client) SubmitUpdateRoot(ctx context.Context, newRoot *big.Int) (*types.Receipt, error) {
	return c.send(ctx, "updateRoot", newRoot)
}

// SubmitProof sends a sponsor-signed submitProof(proof, publicSignals)
// transaction and blocks until it is mined. publicSignals must have exactly
// protocol.NumPublicSignals entries, in the order the circuit defines.
func (c *Client) SubmitProof(ctx context.Context, proof []byte, publicSignals [8]*big.Int) (*types.Receipt, error) {
	return c.send(ctx, "submitProof", proof, publicSignals)
}

// call invokes a view method through the bound contract and unpacks its
// single return value into out.
func (c *Client) call(ctx context.Context, out any, method string, args ...any) error {
	results := []any{out}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.pool.Call(opts, &results, method, args...); err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	return nil
}

// send packs, signs, and submits a sponsor-signed state-changing call,
// blocking until it is mined. bind.BoundContract.Transact handles nonce
// assignment, gas estimation, and signing via c.sponsor.Signer.
func (c *Client) send(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	if c.sponsor == nil {
		return nil, fmt.Errorf("chain: %s requires a sponsor key, client is read-only", method)
	}

	opts := *c.sponsor
	opts.Context = ctx

	tx, err := c.pool.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: submit %s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("chain: wait for %s receipt: %w", method, err)
	}
	return receipt, nil
}
