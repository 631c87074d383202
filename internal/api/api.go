// Package api is the HTTP boundary between clients and the engine: a single
// process serving many chains, each behind its own engine.Engine.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"

	"github.com/dustnet/relayer/internal/apierr"
	"github.com/dustnet/relayer/internal/engine"
	"github.com/dustnet/relayer/internal/indexer"
	"github.com/dustnet/relayer/internal/localverify"
	"github.com/dustnet/relayer/pkg/hash"
	"github.com/dustnet/relayer/pkg/log"
	"github.com/dustnet/relayer/pkg/merkle"
	"github.com/dustnet/relayer/pkg/protocol"
)

// VerifyingKeys holds the circuit verifying keys the local-verify step needs,
// keyed by circuit name ("withdraw", "transfer").
type VerifyingKeys map[string]groth16.VerifyingKey

// Server serves the relayer's HTTP API across every configured chain.
type Server struct {
	engines map[uint64]*engine.Engine
	vks     VerifyingKeys
	version string
	logger  *log.Logger
	mux     *http.ServeMux

	// workers bounds the number of CPU-bound proof verifications running at
	// once, so a burst of submissions cannot starve the request-handling
	// goroutines of the runtime scheduler, per spec.md §5.
	workers chan struct{}
}

// NewServer wires a Server over one engine.Engine per chain.
func NewServer(engines map[uint64]*engine.Engine, vks VerifyingKeys, version string, logger *log.Logger) *Server {
	s := &Server{
		engines: engines,
		vks:     vks,
		version: version,
		logger:  logger.Module("api"),
		workers: make(chan struct{}, runtime.NumCPU()),
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// Handler returns the root HTTP handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v2/tree/root", s.handleTreeRoot)
	s.mux.HandleFunc("GET /api/v2/tree/proof/{leafIndex}", s.handleTreeProof)
	s.mux.HandleFunc("GET /api/v2/deposit/status/{commitment}", s.handleDepositStatus)
	s.mux.HandleFunc("POST /api/v2/withdraw", s.handleWithdraw)
	s.mux.HandleFunc("POST /api/v2/transfer", s.handleTransfer)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path, "query", r.URL.RawQuery,
			"status", rec.status, "latencyMs", time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// engineFor resolves the chainId query parameter against the configured
// engines, returning an *apierr.Error on a missing or unsupported chain.
func (s *Server) engineFor(r *http.Request) (*engine.Engine, error) {
	raw := r.URL.Query().Get("chainId")
	if raw == "" {
		return nil, apierr.New(apierr.InvalidRequest, "missing chainId query parameter")
	}
	chainID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, apierr.New(apierr.InvalidRequest, "chainId must be a non-negative integer")
	}
	e, ok := s.engines[chainID]
	if !ok {
		return nil, apierr.New(apierr.UnsupportedChain, "unsupported chain")
	}
	return e, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var leafCount uint64
	for _, e := range s.engines {
		leafCount += e.Tree.LeafCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"leafCount": leafCount,
	})
}

func (s *Server) handleTreeRoot(w http.ResponseWriter, r *http.Request) {
	e, err := s.engineFor(r)
	if err != nil {
		apierr.Write(s.logger, w, err)
		return
	}
	if err := e.Sync(r.Context()); err != nil {
		apierr.Write(s.logger, w, syncError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"root":      encodeBytes32(e.Tree.Root()),
		"leafCount": e.Tree.LeafCount(),
	})
}

func (s *Server) handleTreeProof(w http.ResponseWriter, r *http.Request) {
	e, err := s.engineFor(r)
	if err != nil {
		apierr.Write(s.logger, w, err)
		return
	}

	leafIndex, err := strconv.ParseUint(r.PathValue("leafIndex"), 10, 64)
	if err != nil {
		apierr.Write(s.logger, w, apierr.New(apierr.InvalidRequest, "leaf index must be a non-negative integer"))
		return
	}

	if err := e.Sync(r.Context()); err != nil {
		apierr.Write(s.logger, w, syncError(err))
		return
	}

	if leafIndex >= e.Tree.LeafCount() {
		apierr.Write(s.logger, w, apierr.New(apierr.LeafOutOfRange, "leaf index out of range"))
		return
	}

	proof, err := e.Tree.Proof(leafIndex)
	if err != nil {
		apierr.Write(s.logger, w, apierr.New(apierr.LeafOutOfRange, "leaf index out of range"))
		return
	}

	pathElements := make([]string, len(proof.Siblings))
	for i, sib := range proof.Siblings {
		pathElements[i] = encodeBytes32(sib)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pathElements": pathElements,
		"pathIndices":  proof.Directions,
		"root":         encodeBytes32(e.Tree.Root()),
	})
}

func (s *Server) handleDepositStatus(w http.ResponseWriter, r *http.Request) {
	e, err := s.engineFor(r)
	if err != nil {
		apierr.Write(s.logger, w, err)
		return
	}

	commitment, err := decodeBytes32(r.PathValue("commitment"))
	if errors.Is(err, hash.ErrNotCanonical) {
		// A well-formed bytes32 at or above p can never be a leaf of the tree.
		writeJSON(w, http.StatusOK, map[string]any{"confirmed": false, "leafIndex": -1})
		return
	}
	if err != nil {
		apierr.Write(s.logger, w, apierr.New(apierr.InvalidRequest, "commitment must be a bytes32 hex value"))
		return
	}

	if err := e.Sync(r.Context()); err != nil {
		apierr.Write(s.logger, w, syncError(err))
		return
	}

	leafIndex, err := e.Tree.LeafIndexOf(commitment)
	if errors.Is(err, merkle.ErrUnknownCommitment) {
		writeJSON(w, http.StatusOK, map[string]any{"confirmed": false, "leafIndex": -1})
		return
	}
	if err != nil {
		apierr.Write(s.logger, w, apierr.Wrap(apierr.Internal, "internal error, please try again", err))
		return
	}

	resp := map[string]any{"confirmed": true, "leafIndex": leafIndex}
	if rec, ok := e.Indexer.DepositRecord(commitment); ok {
		resp["amount"] = rec.Amount.String()
		resp["asset"] = rec.Asset.Hex()
		resp["txHash"] = rec.TxHash.Hex()
		resp["blockNumber"] = rec.BlockNumber
		resp["timestamp"] = rec.Timestamp
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitRequest is the shared wire shape for both POST /withdraw and
// POST /transfer; unknown fields are ignored per spec.md §4.7.
type submitRequest struct {
	Proof         string   `json:"proof"`
	PublicSignals []string `json:"publicSignals"`
	TargetChainID uint64   `json:"targetChainId"`
	TokenAddress  string   `json:"tokenAddress"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, "withdraw", false)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, "transfer", true)
}

// handleSubmit implements the shared validation/processing order spec.md
// §4.7 specifies for both POST endpoints. requirePublicAmountZero is set for
// transfer, which additionally rejects a nonzero signals[5].
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, circuitName string, requirePublicAmountZero bool) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(s.logger, w, apierr.New(apierr.InvalidRequest, "malformed JSON body"))
		return
	}
	if req.Proof == "" || len(req.PublicSignals) == 0 || req.TargetChainID == 0 || req.TokenAddress == "" {
		apierr.Write(s.logger, w, apierr.New(apierr.InvalidRequest, "missing required field"))
		return
	}

	if len(req.PublicSignals) != protocol.NumPublicSignals {
		apierr.Write(s.logger, w, apierr.New(apierr.InvalidRequest, "publicSignals must have exactly 8 entries"))
		return
	}
	signals, err := decodePublicSignals(req.PublicSignals)
	if err != nil {
		apierr.Write(s.logger, w, apierr.New(apierr.InvalidRequest, "invalid public signal: "+err.Error()))
		return
	}

	proofBytes, err := decodeProof(req.Proof, protocol.GrothProofSize)
	if err != nil {
		apierr.Write(s.logger, w, apierr.New(apierr.InvalidProofLength, "proof has the wrong length"))
		return
	}

	e, ok := s.engines[req.TargetChainID]
	if !ok {
		apierr.Write(s.logger, w, apierr.New(apierr.UnsupportedChain, "unsupported target chain"))
		return
	}

	if _, err := decodeAddress(req.TokenAddress); err != nil {
		apierr.Write(s.logger, w, apierr.New(apierr.InvalidRequest, "tokenAddress must be a canonical address"))
		return
	}

	if requirePublicAmountZero && signals[5].Sign() != 0 {
		apierr.Write(s.logger, w, apierr.New(apierr.NonZeroPublicAmount, "transfer must not carry a public amount"))
		return
	}

	if err := e.Sync(r.Context()); err != nil {
		apierr.Write(s.logger, w, syncError(err))
		return
	}
	if !e.Tree.IsKnownRoot(signals[0]) {
		apierr.Write(s.logger, w, apierr.New(apierr.UnknownMerkleRoot, "merkle root is not current or recent"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), protocol.ReceiptTimeout)
	defer cancel()

	spentErr := s.checkNullifiers(ctx, e, signals)
	if spentErr != nil {
		apierr.Write(s.logger, w, spentErr)
		return
	}

	if err := s.localVerify(circuitName, signals, proofBytes); err != nil {
		apierr.Write(s.logger, w, apierr.Wrap(apierr.LocalVerifyFailed, "proof failed local verification", err))
		return
	}

	receipt, err := e.Client.SubmitProof(ctx, proofBytes, signals)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			apierr.Write(s.logger, w, apierr.Wrap(apierr.ReceiptTimeout, "timed out waiting for the transaction receipt", err))
			return
		}
		apierr.Write(s.logger, w, apierr.Wrap(apierr.TxReverted, "chain submission failed", err))
		return
	}
	if receipt.Status != 1 {
		apierr.Write(s.logger, w, apierr.New(apierr.TxReverted, "transaction reverted on-chain"))
		return
	}

	e.MarkNullifierSpent(signals[1])
	if signals[2].Sign() != 0 {
		e.MarkNullifierSpent(signals[2])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"txHash":      receipt.TxHash.Hex(),
		"blockNumber": receipt.BlockNumber.Uint64(),
		"gasUsed":     receipt.GasUsed,
	})
}

// checkNullifiers validates signals[1] (always active) and signals[2] (only
// if nonzero, per the 2-in/2-out circuit's dummy-slot convention) are not
// already spent on-chain.
func (s *Server) checkNullifiers(ctx context.Context, e *engine.Engine, signals [protocol.NumPublicSignals]hash.F) error {
	spent, err := e.IsNullifierSpent(ctx, signals[1])
	if err != nil {
		return apierr.Wrap(apierr.ChainUnavailable, "could not reach the chain", err)
	}
	if spent {
		return apierr.New(apierr.NullifierAlreadySpent, "nullifier already spent")
	}
	if signals[2].Sign() != 0 {
		spent, err := e.IsNullifierSpent(ctx, signals[2])
		if err != nil {
			return apierr.Wrap(apierr.ChainUnavailable, "could not reach the chain", err)
		}
		if spent {
			return apierr.New(apierr.NullifierAlreadySpent, "nullifier already spent")
		}
	}
	return nil
}

// localVerify runs groth16.Verify on a worker-pool slot, keeping CPU-bound
// verification off the unbounded set of request-handling goroutines.
func (s *Server) localVerify(circuitName string, signals [protocol.NumPublicSignals]hash.F, proofBytes []byte) error {
	vk, ok := s.vks[circuitName]
	if !ok {
		return fmt.Errorf("no verifying key loaded for circuit %q", circuitName)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("decode proof: %w", err)
	}

	s.workers <- struct{}{}
	defer func() { <-s.workers }()

	return localverify.Verify(proof, vk, signals)
}

// syncError classifies an indexer/engine sync failure into the error
// taxonomy's ChainUnavailable or IndexInvariantViolation kinds. A reorg below
// the last synced block is a fatal correctness violation, not a transient
// chain outage, per spec.md §9's fatal-reorg design note.
func syncError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, indexer.ErrReorgDetected) {
		return apierr.Wrap(apierr.IndexInvariantViolation, "chain reorganization invalidated synced state", err)
	}
	return apierr.Wrap(apierr.ChainUnavailable, "could not reach the chain", err)
}
