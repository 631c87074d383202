// Package checkpoint persists a chain's indexer progress and tree contents so
// a restarted relayer can resume without rescanning from genesis. Each chain
// gets one JSON file, written with a temp-file-then-rename sequence so a
// crash mid-write never leaves a corrupt checkpoint on disk.
package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustnet/relayer/pkg/hash"
	"github.com/dustnet/relayer/pkg/merkle"
)

// CurrentVersion is written into every checkpoint produced by this package.
// Load rejects a file whose Version does not exactly match CurrentVersion.
const CurrentVersion = 1

// ErrFutureVersion is returned by Load when the file's Version does not
// match the schema version this build understands.
var ErrFutureVersion = fmt.Errorf("checkpoint: file version is not understood by this build")

// ErrChainIDMismatch is returned by Load when the checkpoint file's recorded
// ChainID does not match the chain it was looked up for.
var ErrChainIDMismatch = fmt.Errorf("checkpoint: file chainId does not match the requested chain")

// Checkpoint is the on-disk snapshot of one chain's tree and sync progress.
type Checkpoint struct {
	Version         int       `json:"version"`
	ChainID         uint64    `json:"chainId"`
	LastSyncedBlock uint64    `json:"lastSyncedBlock"`
	LeafCount       uint64    `json:"leafCount"`
	Commitments     []string  `json:"commitments"` // hex(32-byte canonical encoding), index order
	SavedAt         time.Time `json:"savedAt"`
}

// FromTree builds a Checkpoint capturing tree's current leaves.
func FromTree(chainID, lastSyncedBlock uint64, tree *merkle.Tree, savedAt time.Time) Checkpoint {
	leaves := tree.Leaves()
	commitments := make([]string, len(leaves))
	for i, l := range leaves {
		b := hash.ToBytes32(l)
		commitments[i] = hex.EncodeToString(b[:])
	}
	return Checkpoint{
		Version:         CurrentVersion,
		ChainID:         chainID,
		LastSyncedBlock: lastSyncedBlock,
		LeafCount:       uint64(len(commitments)),
		Commitments:     commitments,
		SavedAt:         savedAt,
	}
}

// Replay reinserts every commitment, in order, into tree. Used on cold start
// to restore tree state without rescanning the chain.
func (c Checkpoint) Replay(tree *merkle.Tree) error {
	for i, hexCommitment := range c.Commitments {
		raw, err := hex.DecodeString(hexCommitment)
		if err != nil {
			return fmt.Errorf("checkpoint: commitment %d: %w", i, err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("checkpoint: commitment %d: want 32 bytes, got %d", i, len(raw))
		}
		var buf [32]byte
		copy(buf[:], raw)
		f, err := hash.FromBytes32(buf)
		if err != nil {
			return fmt.Errorf("checkpoint: commitment %d: %w", i, err)
		}
		if _, _, err := tree.Insert(f); err != nil {
			return fmt.Errorf("checkpoint: replay leaf %d: %w", i, err)
		}
	}
	if tree.LeafCount() != c.LeafCount {
		return fmt.Errorf("checkpoint: replayed leaf count %d != recorded %d", tree.LeafCount(), c.LeafCount)
	}
	return nil
}

// Store reads and writes one checkpoint file per chain under a directory.
type Store struct {
	dir string
}

// NewStore opens (creating if necessary) a checkpoint store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(chainID uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("dust-v2-tree-%d.json", chainID))
}

// Save atomically writes cp to disk, replacing any prior checkpoint for the
// same chain. It writes to a ".tmp" sibling and renames into place so a
// process killed mid-write leaves the previous checkpoint intact.
func (s *Store) Save(cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	path := s.path(cp.ChainID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load reads the checkpoint for chainID. It returns an error satisfying
// os.IsNotExist if no checkpoint has ever been saved for that chain — callers
// treat that as "start from genesis", not a fatal error.
func (s *Store) Load(chainID uint64) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(chainID))
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	if cp.Version != CurrentVersion {
		return nil, ErrFutureVersion
	}
	if cp.ChainID != chainID {
		return nil, ErrChainIDMismatch
	}
	return &cp, nil
}
