// Package localverify runs a Groth16 proof through the shipped verification
// key before the relayer ever submits it on-chain, matching the teacher's
// local-verify-before-submit discipline in circuits/poi/export.go.
package localverify

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/dustnet/relayer/circuits/shared"
	"github.com/dustnet/relayer/pkg/hash"
)

// ErrLocalVerifyFailed is returned when a client-submitted proof does not
// verify against the shipped verification key. Per the design note, a proof
// that fails here MUST NOT be submitted on-chain.
var ErrLocalVerifyFailed = fmt.Errorf("localverify: proof failed local verification")

// PublicAssignment builds a circuit assignment with only the public signals
// populated, in the relayer's canonical order: merkleRoot, nullifier0,
// nullifier1, outputCommitment0, outputCommitment1, publicAmount,
// publicAsset, recipient. Private fields are left nil; frontend.PublicOnly
// tells gnark to ignore them when building the witness.
func PublicAssignment(signals [8]hash.F) *shared.Circuit {
	return &shared.Circuit{
		MerkleRoot:        signals[0],
		Nullifier0:        signals[1],
		Nullifier1:        signals[2],
		OutputCommitment0: signals[3],
		OutputCommitment1: signals[4],
		PublicAmount:      signals[5],
		PublicAsset:       signals[6],
		Recipient:         signals[7],
	}
}

// Verify checks proof against vk for the given public signals.
func Verify(proof groth16.Proof, vk groth16.VerifyingKey, signals [8]hash.F) error {
	assignment := PublicAssignment(signals)

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("localverify: build public witness: %w", err)
	}

	if err := groth16.Verify(proof, vk, w); err != nil {
		return fmt.Errorf("%w: %v", ErrLocalVerifyFailed, err)
	}
	return nil
}
