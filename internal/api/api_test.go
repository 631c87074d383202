package api_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"github.com/dustnet/relayer/circuits/withdraw"
	"github.com/dustnet/relayer/internal/api"
	"github.com/dustnet/relayer/internal/engine"
	"github.com/dustnet/relayer/internal/indexer"
	"github.com/dustnet/relayer/internal/publisher"
	"github.com/dustnet/relayer/pkg/checkpoint"
	"github.com/dustnet/relayer/pkg/hash"
	"github.com/dustnet/relayer/pkg/log"
	"github.com/dustnet/relayer/pkg/merkle"
	"github.com/dustnet/relayer/pkg/note"
	"github.com/dustnet/relayer/pkg/protocol"
	"github.com/dustnet/relayer/pkg/setup"
)

const testChainID = 1

// unseenCommitment is a bytes32 hex value that is never inserted into the
// test tree, used to exercise the "not yet indexed" deposit-status path.
const unseenCommitment = "0x" +
	"ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

// testHarness bundles a live withdraw proving/verifying key pair with a
// single-chain api.Server wired around a fake chain client, so tests can
// build real withdrawal proofs and submit them through the HTTP layer.
type testHarness struct {
	server *api.Server
	client *fakeChainClient
	engine *engine.Engine
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	client := newFakeChainClient(5)
	tree := merkle.NewTree()
	logger := log.Default()
	idx := indexer.New(client, tree, 10_000, 0, logger)
	pub := publisher.New(client, tree, 10, time.Minute, logger)
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	e := engine.NewForTest(testChainID, client, tree, store, idx, pub, logger)

	ccs, err := setup.CompileCircuit(&withdraw.Circuit{})
	if err != nil {
		t.Fatalf("compile circuit: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		t.Fatalf("groth16 setup: %v", err)
	}

	vks := api.VerifyingKeys{withdraw.Name: vk}
	server := api.NewServer(map[uint64]*engine.Engine{testChainID: e}, vks, "test", logger)

	return &testHarness{server: server, client: client, engine: e, ccs: ccs, pk: pk}
}

func (h *testHarness) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

// depositAndProve inserts a spendable note into the tree and produces a
// real, verifying withdrawal proof spending its full balance.
func (h *testHarness) depositAndProve(t *testing.T) (proofHex string, signals [8]hash.F) {
	t.Helper()

	spendingKey := big.NewInt(11)
	nullifierKey := big.NewInt(22)
	asset := note.AssetID(big.NewInt(testChainID), note.NativeToken)
	amount := big.NewInt(5_000_000)

	n := note.Note{
		Owner:    note.OwnerPub(spendingKey),
		Amount:   amount,
		Asset:    asset,
		ChainID:  big.NewInt(testChainID),
		Blinding: big.NewInt(3),
	}
	commitment := note.Commitment(n)

	leafIndex, root, err := h.engine.Tree.Insert(commitment)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	h.engine.Publisher.NotifyLeavesInserted(1)
	if _, err := h.client.SubmitUpdateRoot(context.Background(), root); err != nil {
		t.Fatalf("seed known root: %v", err)
	}

	proofPath, err := h.engine.Tree.Proof(leafIndex)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}

	result, err := withdraw.PrepareWitness(
		spendingKey, nullifierKey,
		[]withdraw.Input{{Note: n, LeafIndex: leafIndex, Proof: proofPath}},
		nil,
		root, amount, asset, big.NewInt(0xdead),
	)
	if err != nil {
		t.Fatalf("PrepareWitness: %v", err)
	}

	witness, err := frontend.NewWitness(&result.Assignment, ecc.BN254.ScalarField())
	if err != nil {
		t.Fatalf("NewWitness: %v", err)
	}
	proof, err := groth16.Prove(h.ccs, h.pk, witness)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	return "0x" + hex.EncodeToString(buf.Bytes()), result.PublicSignals
}

func signalsToStrings(signals [8]hash.F) []string {
	out := make([]string, 8)
	for i, s := range signals {
		out[i] = s.String()
	}
	return out
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthReportsLeafCount(t *testing.T) {
	h := newTestHarness(t)
	h.depositAndProve(t)

	rec := h.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status    string
		LeafCount uint64
	}
	decodeJSON(t, rec, &body)
	if body.Status != "ok" || body.LeafCount != 1 {
		t.Fatalf("body = %+v", body)
	}
}

func TestTreeRootReturnsCurrentRoot(t *testing.T) {
	h := newTestHarness(t)
	h.depositAndProve(t)

	rec := h.do(t, http.MethodGet, "/api/v2/tree/root?chainId=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Root      string
		LeafCount uint64
	}
	decodeJSON(t, rec, &body)
	if body.LeafCount != 1 {
		t.Fatalf("leafCount = %d, want 1", body.LeafCount)
	}
	wantRoot := hash.ToBytes32(h.engine.Tree.Root())
	if body.Root != "0x"+hex.EncodeToString(wantRoot[:]) {
		t.Fatalf("root = %s, want 0x%x", body.Root, wantRoot)
	}
}

func TestTreeProofOutOfRangeReturns404(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v2/tree/proof/999999?chainId=1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTreeProofNegativeIndexReturns400(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v2/tree/proof/-1?chainId=1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDepositStatusUnseenCommitment(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v2/deposit/status/"+unseenCommitment+"?chainId=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Confirmed bool
		LeafIndex int64
	}
	decodeJSON(t, rec, &body)
	if body.Confirmed || body.LeafIndex != -1 {
		t.Fatalf("body = %+v", body)
	}
}

func TestWithdrawFullBalanceRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	proofHex, signals := h.depositAndProve(t)

	body, _ := json.Marshal(map[string]any{
		"proof":         proofHex,
		"publicSignals": signalsToStrings(signals),
		"targetChainId": testChainID,
		"tokenAddress":  "0x0000000000000000000000000000000000000001",
	})

	rec := h.do(t, http.MethodPost, "/api/v2/withdraw", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TxHash      string
		BlockNumber uint64
		GasUsed     uint64
	}
	decodeJSON(t, rec, &resp)
	if resp.TxHash == "" {
		t.Fatalf("expected a non-empty txHash")
	}

	if spent, _ := h.client.IsNullifierSpent(context.Background(), signals[1]); !spent {
		t.Fatalf("expected nullifier to be marked spent on-chain")
	}
}

func TestWithdrawRejectsAlreadySpentNullifier(t *testing.T) {
	h := newTestHarness(t)
	proofHex, signals := h.depositAndProve(t)
	h.client.nullifiersSpent[signals[1].Text(16)] = true

	body, _ := json.Marshal(map[string]any{
		"proof":         proofHex,
		"publicSignals": signalsToStrings(signals),
		"targetChainId": testChainID,
		"tokenAddress":  "0x0000000000000000000000000000000000000001",
	})

	rec := h.do(t, http.MethodPost, "/api/v2/withdraw", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWithdrawRejectsUnknownMerkleRoot(t *testing.T) {
	h := newTestHarness(t)
	_, signals := h.depositAndProve(t)
	signals[0] = big.NewInt(0xbad)

	body, _ := json.Marshal(map[string]any{
		"proof":         "0x" + hex.EncodeToString(make([]byte, protocol.GrothProofSize)),
		"publicSignals": signalsToStrings(signals),
		"targetChainId": testChainID,
		"tokenAddress":  "0x0000000000000000000000000000000000000001",
	})

	rec := h.do(t, http.MethodPost, "/api/v2/withdraw", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTransferRejectsNonzeroPublicAmount(t *testing.T) {
	h := newTestHarness(t)
	_, signals := h.depositAndProve(t)
	signals[5] = big.NewInt(1) // nonzero public amount on a transfer

	body, _ := json.Marshal(map[string]any{
		"proof":         "0x" + hex.EncodeToString(make([]byte, protocol.GrothProofSize)),
		"publicSignals": signalsToStrings(signals),
		"targetChainId": testChainID,
		"tokenAddress":  "0x0000000000000000000000000000000000000001",
	})

	rec := h.do(t, http.MethodPost, "/api/v2/transfer", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var decoded struct{ Error string }
	decodeJSON(t, rec, &decoded)
	if decoded.Error == "" {
		t.Fatalf("expected a non-empty error message")
	}
}

func TestWithdrawRejectsUnsupportedChain(t *testing.T) {
	h := newTestHarness(t)
	_, signals := h.depositAndProve(t)

	body, _ := json.Marshal(map[string]any{
		"proof":         "0x" + hex.EncodeToString(make([]byte, protocol.GrothProofSize)),
		"publicSignals": signalsToStrings(signals),
		"targetChainId": 999,
		"tokenAddress":  "0x0000000000000000000000000000000000000001",
	})

	rec := h.do(t, http.MethodPost, "/api/v2/withdraw", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWithdrawRejectsWrongProofLength(t *testing.T) {
	h := newTestHarness(t)
	_, signals := h.depositAndProve(t)

	body, _ := json.Marshal(map[string]any{
		"proof":         "0x" + hex.EncodeToString(make([]byte, 4)),
		"publicSignals": signalsToStrings(signals),
		"targetChainId": testChainID,
		"tokenAddress":  "0x0000000000000000000000000000000000000001",
	})

	rec := h.do(t, http.MethodPost, "/api/v2/withdraw", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
