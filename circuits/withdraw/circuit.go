// Package withdraw defines the withdrawal circuit: a 2-in/2-out shielded
// transaction that sends an amount out of the pool to recipient, carried in
// publicAmount as the field's additive inverse (p - amount) mod p. It is the shared.Circuit shape under its own name so the setup
// package can compile, key, and ceremony it independently of transfer.
package withdraw

import (
	"github.com/dustnet/relayer/circuits/shared"
)

// Circuit is the withdraw circuit. Its Define is exactly shared.Circuit's --
// withdraw and transfer differ only in how the relayer API constrains their
// public signals (transfer rejects a nonzero publicAmount), not in circuit
// shape -- but each gets its own proving/verifying key pair since a
// per-circuit trusted setup is keyed to one constraint system.
type Circuit struct {
	shared.Circuit
}

// Name identifies this circuit's key/ceremony files on disk.
const Name = "withdraw"
