package withdraw

import (
	"fmt"
	"math/big"

	"github.com/dustnet/relayer/circuits/shared"
	"github.com/dustnet/relayer/pkg/hash"
	"github.com/dustnet/relayer/pkg/merkle"
	"github.com/dustnet/relayer/pkg/note"
)

// Input describes one note being spent. A caller withdrawing a single note
// passes exactly one Input; the second input slot is zero-filled.
type Input struct {
	Note      note.Note
	LeafIndex uint64
	Proof     merkle.Proof
}

// Output describes one note being created (typically a change note). A
// caller with no change passes note.Note{} (all-zero fields).
type Output struct {
	Note note.Note
}

// WitnessResult holds the fully populated circuit assignment plus the public
// signals in their canonical order, ready for frontend.NewWitness or for
// handing straight to the relayer API as publicSignals[8].
type WitnessResult struct {
	Assignment    Circuit
	PublicSignals [8]hash.F
}

// PrepareWitness builds a withdrawal witness for 0 < len(inputs) <= 2 and
// 0 <= len(outputs) <= 2, withdrawing amount of asset to recipient. Unused
// input/output slots are zero-filled with a zero Merkle proof, per the
// circuit's dummy-slot convention.
func PrepareWitness(spendingKey, nullifierKey hash.F, inputs []Input, outputs []Output, root hash.F, amount, asset, recipient hash.F) (*WitnessResult, error) {
	if len(inputs) == 0 || len(inputs) > shared.NumInputs {
		return nil, fmt.Errorf("withdraw: expected 1 or %d inputs, got %d", shared.NumInputs, len(inputs))
	}
	if len(outputs) > shared.NumOutputs {
		return nil, fmt.Errorf("withdraw: expected at most %d outputs, got %d", shared.NumOutputs, len(outputs))
	}

	publicAmount := note.EncodeWithdrawAmount(amount)

	var assignment Circuit
	assignment.MerkleRoot = root
	assignment.SpendingKey = spendingKey
	assignment.NullifierKey = nullifierKey
	assignment.PublicAmount = publicAmount
	assignment.PublicAsset = asset
	assignment.Recipient = recipient

	var nullifiers [shared.NumInputs]hash.F
	for i := 0; i < shared.NumInputs; i++ {
		if i < len(inputs) {
			in := inputs[i]
			n := in.Note
			commitment := note.Commitment(n)

			assignment.InOwner[i] = n.Owner
			assignment.InAmount[i] = n.Amount
			assignment.InAsset[i] = n.Asset
			assignment.InChainID[i] = n.ChainID
			assignment.InBlinding[i] = n.Blinding
			assignment.LeafIndex[i] = new(big.Int).SetUint64(in.LeafIndex)
			assignment.InProofs[i] = merkleProofAssignment(commitment, root, in.Proof)

			nullifiers[i] = note.Nullifier(nullifierKey, commitment, in.LeafIndex)
		} else {
			assignment.InOwner[i] = big.NewInt(0)
			assignment.InAmount[i] = big.NewInt(0)
			assignment.InAsset[i] = big.NewInt(0)
			assignment.InChainID[i] = big.NewInt(0)
			assignment.InBlinding[i] = big.NewInt(0)
			assignment.LeafIndex[i] = big.NewInt(0)
			assignment.InProofs[i] = zeroMerkleProofAssignment(root)
			nullifiers[i] = big.NewInt(0)
		}
	}
	assignment.Nullifier0 = nullifiers[0]
	assignment.Nullifier1 = nullifiers[1]

	var outputCommitments [shared.NumOutputs]hash.F
	for i := 0; i < shared.NumOutputs; i++ {
		var n note.Note
		if i < len(outputs) {
			n = outputs[i].Note
		}
		assignment.OutOwner[i] = zeroIfNil(n.Owner)
		assignment.OutAmount[i] = zeroIfNil(n.Amount)
		assignment.OutAsset[i] = zeroIfNil(n.Asset)
		assignment.OutChainID[i] = zeroIfNil(n.ChainID)
		assignment.OutBlinding[i] = zeroIfNil(n.Blinding)
		outputCommitments[i] = note.Commitment(note.Note{
			Owner:    assignment.OutOwner[i],
			Amount:   assignment.OutAmount[i],
			Asset:    assignment.OutAsset[i],
			ChainID:  assignment.OutChainID[i],
			Blinding: assignment.OutBlinding[i],
		})
	}
	assignment.OutputCommitment0 = outputCommitments[0]
	assignment.OutputCommitment1 = outputCommitments[1]

	return &WitnessResult{
		Assignment: assignment,
		PublicSignals: [8]hash.F{
			root, nullifiers[0], nullifiers[1],
			outputCommitments[0], outputCommitments[1],
			publicAmount, asset, recipient,
		},
	}, nil
}

func merkleProofAssignment(leaf, root hash.F, proof merkle.Proof) shared.MerkleProofCircuit {
	var out shared.MerkleProofCircuit
	out.LeafValue = leaf
	out.RootHash = root
	for i := range proof.Siblings {
		out.ProofPath[i] = proof.Siblings[i]
		out.Directions[i] = big.NewInt(int64(proof.Directions[i]))
	}
	return out
}

func zeroMerkleProofAssignment(root hash.F) shared.MerkleProofCircuit {
	var out shared.MerkleProofCircuit
	out.LeafValue = big.NewInt(0)
	out.RootHash = root
	for i := range out.ProofPath {
		out.ProofPath[i] = big.NewInt(0)
		out.Directions[i] = big.NewInt(0)
	}
	return out
}

func zeroIfNil(f hash.F) hash.F {
	if f == nil {
		return big.NewInt(0)
	}
	return f
}
