// Package transfer defines the shielded transfer circuit: a 2-in/2-out
// shielded transaction that moves value entirely within the pool, with no
// public balance delta.
package transfer

import (
	"github.com/dustnet/relayer/circuits/shared"
)

// Circuit is the transfer circuit -- identical in shape to withdraw.Circuit;
// the relayer API is what additionally requires publicSignals[5]
// (publicAmount) to be exactly 0 for a transfer. Keeping it a distinct named
// type gives transfer its own proving/verifying key pair and ceremony.
type Circuit struct {
	shared.Circuit
}

// Name identifies this circuit's key/ceremony files on disk.
const Name = "transfer"
