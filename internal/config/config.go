// Package config loads and validates the relayer's per-chain runtime
// configuration from a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustnet/relayer/pkg/protocol"
)

// Configuration errors.
var (
	ErrConfigFileNotFound = errors.New("config: file not found")
	ErrNoChains           = errors.New("config: at least one chain must be configured")
)

// ChainConfig is one entry of the {chainId -> ...} config map.
type ChainConfig struct {
	ChainID             uint64        `json:"chainId"`
	RPCURL              string        `json:"rpcUrl"`
	PoolAddress         string        `json:"poolAddress"`
	SponsorKeyPath      string        `json:"sponsorKeyPath"`
	StartBlock          uint64        `json:"startBlock"`
	ChunkSize           uint64        `json:"chunkSize"`
	RootPublishBatch    int           `json:"rootPublishBatchSize"`
	RootPublishInterval time.Duration `json:"rootPublishInterval"`
}

// applyDefaults fills zero-valued fields with the protocol defaults.
func (c *ChainConfig) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = protocol.DefaultChunkSize
	}
	if c.RootPublishBatch == 0 {
		c.RootPublishBatch = protocol.DefaultRootPublishBatchSize
	}
	if c.RootPublishInterval == 0 {
		c.RootPublishInterval = protocol.DefaultRootPublishInterval
	}
}

func (c ChainConfig) validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: chain entry missing chainId")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("config: chain %d missing rpcUrl", c.ChainID)
	}
	if c.PoolAddress == "" {
		return fmt.Errorf("config: chain %d missing poolAddress", c.ChainID)
	}
	return nil
}

// Config aggregates the whole relayer's configuration: the chains it serves
// plus the API and checkpoint/verification-key file locations.
type Config struct {
	Chains              []ChainConfig `json:"chains"`
	APIBindAddress      string        `json:"apiBindAddress"`
	APIPort             int           `json:"apiPort"`
	CheckpointDir       string        `json:"checkpointDir"`
	VerificationKeyPath string        `json:"verificationKeyPath"`
}

// Load reads and validates a Config from path, applying defaults to any
// unspecified per-chain field. A misconfigured file is a fatal error: the
// caller should exit non-zero rather than start with partial chain coverage.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.APIBindAddress == "" {
		cfg.APIBindAddress = "0.0.0.0"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.CheckpointDir == "" {
		cfg.CheckpointDir = "checkpoints"
	}

	if len(cfg.Chains) == 0 {
		return nil, ErrNoChains
	}
	for i := range cfg.Chains {
		cfg.Chains[i].applyDefaults()
		if err := cfg.Chains[i].validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}
