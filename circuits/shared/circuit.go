package shared

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash"
	"github.com/consensys/gnark/std/permutation/poseidon2"

	"github.com/dustnet/relayer/pkg/note"
)

// NumInputs and NumOutputs are fixed: every withdraw/transfer spends up to
// two existing notes and creates up to two new ones. An unused slot is
// zero-filled (owner=amount=asset=chainId=blinding=0) and carries a zero
// Merkle proof, rather than being omitted from the circuit.
const (
	NumInputs  = 2
	NumOutputs = 2
)

// zeroCommitment is the constant Poseidon5(0,0,0,0,0), computed once and
// baked into the circuit as the sentinel identifying an unused input slot.
var zeroCommitment = note.ZeroCommitment()

// Circuit is the 2-in/2-out shielded transaction circuit shared by withdraw
// and transfer: a spender proves ownership and Merkle membership of up to
// two input notes, correctly derives their nullifiers, and correctly
// derives up to two output commitments, all while conserving value.
//
// Public signals, in the exact order the relayer and the on-chain verifier
// agree on: merkleRoot, nullifier0, nullifier1, outputCommitment0,
// outputCommitment1, publicAmount, publicAsset, recipient.
type Circuit struct {
	MerkleRoot        frontend.Variable `gnark:"merkleRoot,public"`
	Nullifier0        frontend.Variable `gnark:"nullifier0,public"`
	Nullifier1        frontend.Variable `gnark:"nullifier1,public"`
	OutputCommitment0 frontend.Variable `gnark:"outputCommitment0,public"`
	OutputCommitment1 frontend.Variable `gnark:"outputCommitment1,public"`
	PublicAmount      frontend.Variable `gnark:"publicAmount,public"`
	PublicAsset       frontend.Variable `gnark:"publicAsset,public"`
	Recipient         frontend.Variable `gnark:"recipient,public"`

	SpendingKey  frontend.Variable                  `gnark:"spendingKey"`
	NullifierKey frontend.Variable                  `gnark:"nullifierKey"`
	InOwner      [NumInputs]frontend.Variable       `gnark:"inOwner"`
	InAmount     [NumInputs]frontend.Variable       `gnark:"inAmount"`
	InAsset      [NumInputs]frontend.Variable       `gnark:"inAsset"`
	InChainID    [NumInputs]frontend.Variable       `gnark:"inChainId"`
	InBlinding   [NumInputs]frontend.Variable       `gnark:"inBlinding"`
	LeafIndex    [NumInputs]frontend.Variable       `gnark:"leafIndex"`
	InProofs     [NumInputs]MerkleProofCircuit      `gnark:"inProofs"`

	OutOwner    [NumOutputs]frontend.Variable `gnark:"outOwner"`
	OutAmount   [NumOutputs]frontend.Variable `gnark:"outAmount"`
	OutAsset    [NumOutputs]frontend.Variable `gnark:"outAsset"`
	OutChainID  [NumOutputs]frontend.Variable `gnark:"outChainId"`
	OutBlinding [NumOutputs]frontend.Variable `gnark:"outBlinding"`
}

// Define wires the full withdraw/transfer constraint set. Unused input slots
// are recognized by their commitment equaling zeroCommitment and skip
// ownership, nullifier, and Merkle-membership enforcement; their public
// nullifier slot is instead constrained to the literal 0. An output slot
// with a zero amount is exempt from the asset-consistency check; its
// commitment is still derived and matched against its public signal, and the
// balance equation already accounts for a zero amount contributing nothing.
func (c *Circuit) Define(api frontend.API) error {
	p, err := poseidon2.NewPoseidon2FromParameters(api, 2, 6, 50)
	if err != nil {
		return err
	}
	h := hash.NewMerkleDamgardHasher(api, p, 0)

	h.Reset()
	h.Write(c.SpendingKey)
	ownerPub := h.Sum()

	nullifierPublics := [NumInputs]frontend.Variable{c.Nullifier0, c.Nullifier1}

	inSum := frontend.Variable(0)
	for i := 0; i < NumInputs; i++ {
		h.Reset()
		h.Write(c.InOwner[i], c.InAmount[i], c.InAsset[i], c.InChainID[i], c.InBlinding[i])
		commitment := h.Sum()

		isDummy := api.IsZero(api.Sub(commitment, zeroCommitment))
		isActive := api.Sub(1, isDummy)

		// Ownership: the prover must know the spending key for every active
		// input note.
		api.AssertIsEqual(api.Mul(isActive, api.Sub(c.InOwner[i], ownerPub)), 0)

		// Asset consistency: every active input is denominated in the asset
		// the transaction as a whole is denominated in.
		api.AssertIsEqual(api.Mul(isActive, api.Sub(c.InAsset[i], c.PublicAsset)), 0)

		// Nullifier derivation, bypassed to the literal 0 for an unused slot.
		h.Reset()
		h.Write(c.NullifierKey, commitment, c.LeafIndex[i])
		derivedNullifier := h.Sum()
		expectedNullifier := api.Select(isDummy, 0, derivedNullifier)
		api.AssertIsEqual(expectedNullifier, nullifierPublics[i])

		// Merkle membership, bypassed for an unused slot.
		c.InProofs[i].LeafValue = commitment
		c.InProofs[i].RootHash = c.MerkleRoot
		if err := c.InProofs[i].VerifyUnlessDummy(api, isDummy); err != nil {
			return err
		}

		inSum = api.Add(inSum, api.Mul(isActive, c.InAmount[i]))
	}

	outSum := frontend.Variable(0)
	outputPublics := [NumOutputs]frontend.Variable{c.OutputCommitment0, c.OutputCommitment1}
	for i := 0; i < NumOutputs; i++ {
		h.Reset()
		h.Write(c.OutOwner[i], c.OutAmount[i], c.OutAsset[i], c.OutChainID[i], c.OutBlinding[i])
		commitment := h.Sum()
		api.AssertIsEqual(commitment, outputPublics[i])

		isDummy := api.IsZero(c.OutAmount[i])
		isActive := api.Sub(1, isDummy)
		api.AssertIsEqual(api.Mul(isActive, api.Sub(c.OutAsset[i], c.PublicAsset)), 0)

		outSum = api.Add(outSum, c.OutAmount[i])
	}

	// Balance conservation: inSum + publicAmount == outSum (mod p). A
	// withdrawal encodes publicAmount as the field's additive inverse of the
	// withdrawn amount; a pure transfer carries publicAmount == 0.
	api.AssertIsEqual(api.Add(inSum, c.PublicAmount), outSum)

	return nil
}
