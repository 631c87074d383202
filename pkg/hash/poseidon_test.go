package hash

import (
	"math/big"
	"testing"
)

func TestBytes32RoundTrip(t *testing.T) {
	cases := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(123456789),
		new(big.Int).Sub(ScalarField(), big.NewInt(1)), // p-1, the largest canonical value
	}

	for _, x := range cases {
		b := ToBytes32(x)
		got, err := FromBytes32(b)
		if err != nil {
			t.Fatalf("FromBytes32(%s): %v", x, err)
		}
		if got.Cmp(x) != 0 {
			t.Fatalf("round trip mismatch: got %s, want %s", got, x)
		}
	}
}

func TestFromBytes32RejectsNonCanonicalValue(t *testing.T) {
	// p itself, and anything >= p, is not a valid field element encoding.
	p := ScalarField()
	var b [32]byte
	p.FillBytes(b[:])

	if _, err := FromBytes32(b); err != ErrNotCanonical {
		t.Fatalf("FromBytes32(p): got err %v, want ErrNotCanonical", err)
	}

	var allOnes [32]byte
	for i := range allOnes {
		allOnes[i] = 0xff
	}
	if _, err := FromBytes32(allOnes); err != ErrNotCanonical {
		t.Fatalf("FromBytes32(0xff...ff): got err %v, want ErrNotCanonical", err)
	}
}

func TestToBytes32ZeroIsAllZeroBytes(t *testing.T) {
	b := ToBytes32(big.NewInt(0))
	for i, v := range b {
		if v != 0 {
			t.Fatalf("ToBytes32(0)[%d] = %d, want 0", i, v)
		}
	}
}

func TestPoseidonIsDeterministicAndArityDistinct(t *testing.T) {
	a, b, c := big.NewInt(1), big.NewInt(2), big.NewInt(3)

	h1 := Poseidon2(a, b)
	h2 := Poseidon2(a, b)
	if h1.Cmp(h2) != 0 {
		t.Fatalf("Poseidon2 is not deterministic: %s != %s", h1, h2)
	}

	if Poseidon2(a, b).Cmp(Poseidon3(a, b, c)) == 0 {
		t.Fatalf("Poseidon2 and Poseidon3 collided on overlapping inputs")
	}
	if Poseidon1(a).Cmp(Poseidon2(a, b)) == 0 {
		t.Fatalf("Poseidon1 and Poseidon2 collided on overlapping inputs")
	}
}
