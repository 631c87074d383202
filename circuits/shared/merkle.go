// Package shared holds the Merkle-proof sub-circuit common to both the
// withdraw and transfer circuits: each spent input note proves membership at
// a fixed tree depth against the circuit's public root.
package shared

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash"
	"github.com/consensys/gnark/std/permutation/poseidon2"

	"github.com/dustnet/relayer/pkg/protocol"
)

// MerkleProofCircuit proves that LeafValue sits at some leaf of a tree whose
// root is RootHash, by replaying the sibling hashing up the fixed-depth path.
// Every leaf of the relayer's tree sits at exactly protocol.TreeDepth and an
// absent sibling is supplied as the precomputed empty-subtree hash for its
// level, so every level of ProofPath participates in every proof.
type MerkleProofCircuit struct {
	RootHash frontend.Variable `gnark:"rootHash"`

	LeafValue  frontend.Variable                         `gnark:"leafValue"`
	ProofPath  [protocol.TreeDepth]frontend.Variable `gnark:"proofPath"`
	Directions [protocol.TreeDepth]frontend.Variable `gnark:"directions"` // 0 = sibling on right, 1 = sibling on left
}

// Define replays the path from LeafValue to RootHash and asserts equality.
func (c *MerkleProofCircuit) Define(api frontend.API) error {
	return c.verify(api, 0)
}

// VerifyUnlessDummy behaves like Define, except the root equality is forced
// to trivially hold when isDummy is 1 -- used by the 2-in/2-out circuit to
// skip Merkle-membership enforcement for an unused input slot.
func (c *MerkleProofCircuit) VerifyUnlessDummy(api frontend.API, isDummy frontend.Variable) error {
	return c.verify(api, isDummy)
}

func (c *MerkleProofCircuit) verify(api frontend.API, isDummy frontend.Variable) error {
	p, err := poseidon2.NewPoseidon2FromParameters(api, 2, 6, 50)
	if err != nil {
		return err
	}
	hasher := hash.NewMerkleDamgardHasher(api, p, 0)

	current := c.LeafValue
	for i := 0; i < protocol.TreeDepth; i++ {
		sibling := c.ProofPath[i]
		direction := c.Directions[i]

		left := api.Select(direction, sibling, current)
		right := api.Select(direction, current, sibling)

		hasher.Reset()
		hasher.Write(left, right)
		current = hasher.Sum()
	}

	diff := api.Sub(current, c.RootHash)
	api.AssertIsEqual(api.Mul(api.Sub(1, isDummy), diff), 0)
	return nil
}
