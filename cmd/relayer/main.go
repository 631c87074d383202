// Command relayer runs the shielded-pool relayer: one Engine per configured
// chain, an HTTP API serving all of them, and a background loop that keeps
// each chain's tree synced and its root published.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustnet/relayer/circuits/transfer"
	"github.com/dustnet/relayer/circuits/withdraw"
	"github.com/dustnet/relayer/internal/api"
	"github.com/dustnet/relayer/internal/config"
	"github.com/dustnet/relayer/internal/engine"
	"github.com/dustnet/relayer/internal/indexer"
	"github.com/dustnet/relayer/pkg/checkpoint"
	"github.com/dustnet/relayer/pkg/log"
	"github.com/dustnet/relayer/pkg/setup"
)

// syncInterval is how often the background loop re-syncs each chain between
// deposit events; a fresh deposit also wakes the indexer on the next tick.
const syncInterval = 5 * time.Second

func main() {
	configPath := "config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	logger := log.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("load config", "path", configPath, "err", err)
		os.Exit(1)
	}

	vks, err := loadVerifyingKeys(cfg.VerificationKeyPath)
	if err != nil {
		logger.Error("load verifying keys", "err", err)
		os.Exit(1)
	}

	checkpoints, err := checkpoint.NewStore(cfg.CheckpointDir)
	if err != nil {
		logger.Error("open checkpoint store", "dir", cfg.CheckpointDir, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engines := make(map[uint64]*engine.Engine, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		sponsorKeyHex, err := readSponsorKey(chainCfg.SponsorKeyPath)
		if err != nil {
			logger.Error("read sponsor key", "chainId", chainCfg.ChainID, "err", err)
			os.Exit(1)
		}

		e, err := engine.New(ctx, chainCfg, checkpoints, sponsorKeyHex, logger)
		if err != nil {
			logger.Error("start engine", "chainId", chainCfg.ChainID, "err", err)
			os.Exit(1)
		}
		engines[chainCfg.ChainID] = e
	}

	server := api.NewServer(engines, vks, "dev", logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.APIBindAddress, cfg.APIPort),
		Handler: server.Handler(),
	}

	for _, e := range engines {
		go runSyncLoop(ctx, e, logger)
	}

	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
}

// runSyncLoop keeps one chain's tree synced and its root published until ctx
// is cancelled. A detected reorg is a fatal correctness violation per
// spec.md §7/§9: notes already inserted into the tree may no longer
// correspond to a valid on-chain deposit, so the process exits rather than
// continuing to serve a request path that already surfaced the same
// condition as a 500 to individual callers.
func runSyncLoop(ctx context.Context, e *engine.Engine, logger *log.Logger) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SyncAndMaybePublish(ctx); err != nil {
				if errors.Is(err, indexer.ErrReorgDetected) {
					logger.Error("fatal reorg, exiting", "chainId", e.ChainID, "err", err)
					os.Exit(1)
				}
				logger.Warn("sync failed, retrying next tick", "chainId", e.ChainID, "err", err)
			}
		}
	}
}

func loadVerifyingKeys(dir string) (api.VerifyingKeys, error) {
	vks := make(api.VerifyingKeys, 2)
	for _, name := range []string{withdraw.Name, transfer.Name} {
		_, vk, err := setup.LoadKeys(dir, name)
		if err != nil {
			return nil, fmt.Errorf("load %s verifying key: %w", name, err)
		}
		vks[name] = vk
	}
	return vks, nil
}

// readSponsorKey reads a hex-encoded ECDSA private key from path, trimming
// surrounding whitespace. chain.Dial accepts the "0x" prefix either way.
func readSponsorKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
