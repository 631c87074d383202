// Package publisher keeps a chain's known-roots set fresh by posting the
// tree's current root whenever it drifts from the last root the contract
// was told about.
package publisher

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dustnet/relayer/pkg/hash"
	"github.com/dustnet/relayer/pkg/log"
	"github.com/dustnet/relayer/pkg/merkle"
)

// ErrPublishFailed wraps a recoverable updateRoot failure (revert or
// timeout). A later PostRootIfNeeded retries; the tree is never rolled back.
type ErrPublishFailed struct{ Cause error }

func (e *ErrPublishFailed) Error() string { return fmt.Sprintf("publisher: publish failed: %v", e.Cause) }
func (e *ErrPublishFailed) Unwrap() error { return e.Cause }

// ChainWriter is the subset of chain.Client the publisher depends on.
type ChainWriter interface {
	SubmitUpdateRoot(ctx context.Context, newRoot *big.Int) (*types.Receipt, error)
}

// Publisher posts one chain's tree root on a batch/interval cadence, never
// running more than one updateRoot submission concurrently.
type Publisher struct {
	client ChainWriter
	tree   *merkle.Tree
	logger *log.Logger

	batchSize int
	interval  time.Duration

	mu             sync.Mutex
	pending        bool
	lastPostedRoot hash.F
	leavesSinceLast int
	lastPostAt     time.Time
}

// New constructs a Publisher. batchSize and interval are the two triggers
// from the design: post after batchSize new leaves since the last post, or
// after interval has elapsed, whichever comes first.
func New(client ChainWriter, tree *merkle.Tree, batchSize int, interval time.Duration, logger *log.Logger) *Publisher {
	return &Publisher{
		client: client,
		tree:   tree,
		logger: logger.Module("publisher"),

		batchSize: batchSize,
		interval:  interval,

		// The contract's genesis root already matches an empty tree's root,
		// so a freshly constructed Publisher has nothing to post until the
		// tree actually changes.
		lastPostedRoot: tree.Root(),

		// The interval clock starts at construction.
		lastPostAt: time.Now(),
	}
}

// NotifyLeavesInserted records that n new leaves were appended to the tree
// by the indexer, for the batch-size trigger.
func (p *Publisher) NotifyLeavesInserted(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leavesSinceLast += n
}

// ShouldPost reports whether the batch or interval trigger has fired since
// the last successful publication.
func (p *Publisher) ShouldPost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leavesSinceLast == 0 {
		return false
	}
	if p.leavesSinceLast >= p.batchSize {
		return true
	}
	return p.lastPostAt.IsZero() || time.Since(p.lastPostAt) >= p.interval
}

// PostRootIfNeeded reads the tree's current root; if it differs from the
// last root successfully posted, it submits a sponsor-signed updateRoot and
// awaits the receipt. At most one publication per Publisher is ever
// in-flight -- a concurrent call while one is pending is a no-op that
// returns (false, nil) immediately.
func (p *Publisher) PostRootIfNeeded(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.pending {
		p.mu.Unlock()
		return false, nil
	}
	current := p.tree.Root()
	if current.Cmp(p.lastPostedRoot) == 0 {
		p.mu.Unlock()
		return false, nil
	}
	p.pending = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.pending = false
		p.mu.Unlock()
	}()

	receipt, err := p.client.SubmitUpdateRoot(ctx, current)
	if err != nil {
		return false, &ErrPublishFailed{Cause: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, &ErrPublishFailed{Cause: fmt.Errorf("updateRoot reverted in tx %s", receipt.TxHash)}
	}

	p.mu.Lock()
	p.lastPostedRoot = current
	p.leavesSinceLast = 0
	p.lastPostAt = time.Now()
	p.mu.Unlock()

	p.logger.Info("posted root", "root", current.Text(16), "txHash", receipt.TxHash.Hex())
	return true, nil
}

// LastPostedRoot returns the most recently confirmed on-chain root.
func (p *Publisher) LastPostedRoot() hash.F {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPostedRoot
}
