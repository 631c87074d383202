// Package hash provides the Poseidon hash primitives shared by the
// commitment/nullifier derivations, the incremental Merkle tree, and the
// withdraw/transfer circuits. Every arity feeds the same BN254 Poseidon2
// sponge so that off-chain hashing stays bit-identical to the in-circuit
// hashing the verifier checks.
package hash

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// F is a scalar field element, represented as an unsigned big.Int in [0, p).
type F = *big.Int

// poseidon hashes inputs with the BN254 Poseidon2 Merkle-Damgard sponge.
// Each input is written as its canonical 32-byte big-endian encoding so a
// zero field element contributes 32 zero bytes, matching the in-circuit
// hasher exactly.
func poseidon(inputs ...F) F {
	h := poseidon2.NewMerkleDamgardHasher()
	for _, in := range inputs {
		var elem fr.Element
		elem.SetBigInt(in)
		b := elem.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Poseidon1 hashes a single field element. Used for ownerPub = H(spendingKey).
func Poseidon1(a F) F { return poseidon(a) }

// Poseidon2 hashes two field elements. Used for tree nodes and asset-ids.
func Poseidon2(a, b F) F { return poseidon(a, b) }

// Poseidon3 hashes three field elements. Used for nullifier derivation.
func Poseidon3(a, b, c F) F { return poseidon(a, b, c) }

// Poseidon5 hashes five field elements. Used for note commitments.
func Poseidon5(a, b, c, d, e F) F { return poseidon(a, b, c, d, e) }

// ScalarField returns the BN254 scalar field order p.
func ScalarField() *big.Int {
	return fr.Modulus()
}

// ErrNotCanonical is returned by FromBytes32 when the encoded value is >= p.
var ErrNotCanonical = fmt.Errorf("hash: value is not a canonical field element")

// ToBytes32 returns the deterministic 32-byte big-endian encoding of x.
// x must already be reduced into [0, p); callers that hash arbitrary
// integers should reduce first.
func ToBytes32(x F) [32]byte {
	var elem fr.Element
	elem.SetBigInt(x)
	return elem.Bytes()
}

// FromBytes32 decodes a 32-byte big-endian buffer into a field element,
// rejecting values >= p with ErrNotCanonical.
func FromBytes32(b [32]byte) (F, error) {
	var elem fr.Element
	if err := elem.SetBytesCanonical(b[:]); err != nil {
		return nil, ErrNotCanonical
	}
	out := new(big.Int)
	elem.BigInt(out)
	return out, nil
}
