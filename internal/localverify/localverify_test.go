package localverify_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/dustnet/relayer/circuits/withdraw"
	"github.com/dustnet/relayer/internal/localverify"
	"github.com/dustnet/relayer/pkg/hash"
	"github.com/dustnet/relayer/pkg/merkle"
	"github.com/dustnet/relayer/pkg/note"
	"github.com/dustnet/relayer/pkg/setup"
)

func buildProof(t *testing.T) (groth16.Proof, groth16.VerifyingKey, [8]hash.F) {
	t.Helper()

	spendingKey := big.NewInt(55)
	nullifierKey := big.NewInt(66)
	asset := note.AssetID(big.NewInt(1), note.NativeToken)

	spentNote := note.Note{
		Owner:    note.OwnerPub(spendingKey),
		Amount:   big.NewInt(10),
		Asset:    asset,
		ChainID:  big.NewInt(1),
		Blinding: big.NewInt(3),
	}

	tree := merkle.NewTree()
	leafIndex, root, err := tree.Insert(note.Commitment(spentNote))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	proof, err := tree.Proof(leafIndex)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}

	result, err := withdraw.PrepareWitness(
		spendingKey, nullifierKey,
		[]withdraw.Input{{Note: spentNote, LeafIndex: leafIndex, Proof: proof}},
		nil,
		root, big.NewInt(10), asset, big.NewInt(1),
	)
	if err != nil {
		t.Fatalf("PrepareWitness: %v", err)
	}

	ccs, err := setup.CompileCircuit(&withdraw.Circuit{})
	if err != nil {
		t.Fatalf("compile circuit: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		t.Fatalf("groth16 setup: %v", err)
	}

	witness, err := frontend.NewWitness(&result.Assignment, ecc.BN254.ScalarField())
	if err != nil {
		t.Fatalf("create witness: %v", err)
	}

	zkProof, err := groth16.Prove(ccs, pk, witness)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	return zkProof, vk, result.PublicSignals
}

func TestVerifyAcceptsAValidProof(t *testing.T) {
	proof, vk, signals := buildProof(t)
	if err := localverify.Verify(proof, vk, signals); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsATamperedPublicSignal(t *testing.T) {
	proof, vk, signals := buildProof(t)
	signals[5] = new(big.Int).Add(signals[5], big.NewInt(1))

	err := localverify.Verify(proof, vk, signals)
	if err == nil {
		t.Fatalf("expected verification to fail on a tampered public signal")
	}
	if !errors.Is(err, localverify.ErrLocalVerifyFailed) {
		t.Fatalf("expected ErrLocalVerifyFailed, got %v", err)
	}
}
