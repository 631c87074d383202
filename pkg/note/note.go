// Package note defines the shielded note structure and the canonical
// commitment, nullifier, owner-key, and asset-id derivations shared by the
// client and the relayer.
package note

import (
	"math/big"

	"github.com/dustnet/relayer/pkg/hash"
)

// Note represents a shielded UTXO: {owner, amount, asset, chainId, blinding}.
type Note struct {
	Owner    hash.F
	Amount   hash.F
	Asset    hash.F
	ChainID  hash.F
	Blinding hash.F
}

// Commitment derives commitment = Poseidon5(owner, amount, asset, chainId, blinding).
func Commitment(n Note) hash.F {
	return hash.Poseidon5(n.Owner, n.Amount, n.Asset, n.ChainID, n.Blinding)
}

// Nullifier derives nullifier = Poseidon3(nullifierKey, commitment, leafIndex).
func Nullifier(nullifierKey, commitment hash.F, leafIndex uint64) hash.F {
	return hash.Poseidon3(nullifierKey, commitment, new(big.Int).SetUint64(leafIndex))
}

// OwnerPub derives the public spend-key image ownerPub = Poseidon1(spendingKey).
func OwnerPub(spendingKey hash.F) hash.F {
	return hash.Poseidon1(spendingKey)
}

// NativeToken is the sentinel tokenAddress field value denoting the chain's
// native coin rather than an ERC-20 contract.
var NativeToken = big.NewInt(0)

// AssetID derives asset = Poseidon2(chainId, tokenAddress). tokenAddress is
// NativeToken (0) for the native coin; asset-id is purely a domain separator,
// not an address.
func AssetID(chainID, tokenAddress hash.F) hash.F {
	return hash.Poseidon2(chainID, tokenAddress)
}

// ZeroCommitment is the commitment of an all-zero note. The circuit uses it
// as the sentinel that marks an unused input slot.
func ZeroCommitment() hash.F {
	zero := big.NewInt(0)
	return Commitment(Note{Owner: zero, Amount: zero, Asset: zero, ChainID: zero, Blinding: zero})
}

// CheckBalance verifies the circuit's balance-conservation equation:
// inAmount0 + inAmount1 + publicAmount ≡ outAmount0 + outAmount1 (mod p).
func CheckBalance(inAmount0, inAmount1, publicAmount, outAmount0, outAmount1 hash.F) bool {
	p := hash.ScalarField()
	lhs := new(big.Int).Add(inAmount0, inAmount1)
	lhs.Add(lhs, publicAmount)
	lhs.Mod(lhs, p)

	rhs := new(big.Int).Add(outAmount0, outAmount1)
	rhs.Mod(rhs, p)

	return lhs.Cmp(rhs) == 0
}

// EncodeWithdrawAmount returns publicAmount for a withdrawal of amount units:
// publicAmount = (p - amount) mod p, the additive inverse encoding a
// negative public delta.
func EncodeWithdrawAmount(amount hash.F) hash.F {
	p := hash.ScalarField()
	out := new(big.Int).Sub(p, new(big.Int).Mod(amount, p))
	out.Mod(out, p)
	return out
}
