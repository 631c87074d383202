// Package protocol holds the fixed parameters shared by the tree, circuits,
// and API — the constants a client and the relayer must agree on bit for bit.
package protocol

import "time"

const (
	// TreeDepth is the fixed depth of the incremental Merkle tree (D=20).
	TreeDepth = 20

	// RootHistorySize is the number of recent roots kept in the tree's ring
	// buffer; proofs submitted on-chain must reference a root still in this
	// window.
	RootHistorySize = 100

	// NumPublicSignals is the length of a withdraw/transfer circuit's public
	// input vector.
	NumPublicSignals = 8

	// DefaultChunkSize is the maximum number of blocks scanned per indexer
	// RPC call, bounded by common provider limits.
	DefaultChunkSize = 10_000

	// DefaultRootPublishBatchSize triggers a root publication after this many
	// newly inserted leaves since the last post.
	DefaultRootPublishBatchSize = 10

	// DefaultRootPublishInterval triggers a root publication on this cadence
	// regardless of batch size.
	DefaultRootPublishInterval = 5 * time.Minute

	// ReceiptTimeout bounds how long a withdraw/transfer submission waits for
	// an on-chain receipt before returning ReceiptTimeout to the client.
	ReceiptTimeout = 30 * time.Second

	// GrothProofSize is the fixed byte length of a BN254 Groth16 proof in
	// gnark's compressed Proof.WriteTo encoding with no commitments: Ar (G1,
	// 32 bytes), Bs (G2, 64), Krs (G1, 32), the commitment count (uint32, 4)
	// and CommitmentPok (G1, 32) — 32+64+32+4+32.
	GrothProofSize = 164

	// KnownRootLookbackSize equals RootHistorySize, the number of recent tree
	// roots merkle.Tree.IsKnownRoot accepts. Nothing in internal/api refers to
	// it; the API's known-root check goes through the tree.
	KnownRootLookbackSize = RootHistorySize
)
