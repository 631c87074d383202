package api

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/dustnet/relayer/pkg/hash"
)

// encodeBytes32 renders f as the wire's "0x" + 64 lowercase hex chars form.
func encodeBytes32(f hash.F) string {
	b := hash.ToBytes32(f)
	return "0x" + hex.EncodeToString(b[:])
}

// decodeBytes32 parses the wire's bytes32 encoding back into a field element.
func decodeBytes32(s string) (hash.F, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return nil, fmt.Errorf("want 64 hex chars, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	var buf [32]byte
	copy(buf[:], raw)
	f, err := hash.FromBytes32(buf)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// decodeAddress validates s as a "0x" + 40 hex char canonical address and
// returns its lowercased form (checksum casing is accepted on input but not
// required, per the wire contract).
func decodeAddress(s string) (string, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed) != 40 {
		return "", fmt.Errorf("want 40 hex chars, got %d", len(trimmed))
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("invalid hex: %w", err)
	}
	return "0x" + strings.ToLower(trimmed), nil
}

// decodeProof parses the wire's opaque hex proof blob and checks its length
// against the circuit's fixed calldata size.
func decodeProof(s string, wantLen int) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != wantLen {
		return nil, fmt.Errorf("want %d bytes, got %d", wantLen, len(raw))
	}
	return raw, nil
}

// decodePublicSignals parses eight decimal-string field elements, each
// required to be a canonical value less than the scalar field's modulus.
func decodePublicSignals(signals []string) ([8]hash.F, error) {
	var out [8]hash.F
	if len(signals) != 8 {
		return out, fmt.Errorf("want 8 signals, got %d", len(signals))
	}
	p := hash.ScalarField()
	for i, s := range signals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return out, fmt.Errorf("signal %d: not a decimal integer", i)
		}
		if v.Sign() < 0 || v.Cmp(p) >= 0 {
			return out, fmt.Errorf("signal %d: not a canonical field element", i)
		}
		out[i] = v
	}
	return out, nil
}
