package engine

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stepmesh/proof-engine/internal/attest"
	"github.com/stepmesh/proof-engine/internal/config"
	"github.com/stepmesh/proof-engine/internal/db"
	"github.com/stepmesh/proof-engine/internal/mesh"
	"github.com/stepmesh/proof-engine/internal/proof"
	"github.com/stepmesh/proof-engine/pkg/models"
)

// fakeStore is an in-memory Store honoring the same semantics as the
// Postgres implementation: unique (account, nonce), click-count transition
// at 11, balance crediting.
type fakeStore struct {
	mu        sync.Mutex
	triangles map[string]*models.Triangle
	events    []*models.Event
	nonces    map[string]bool // account + "\x00" + nonce
	balances  map[string]*big.Int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		triangles: make(map[string]*models.Triangle),
		nonces:    make(map[string]bool),
		balances:  make(map[string]*big.Int),
	}
}

func (f *fakeStore) addTriangle(t *testing.T, id string) *models.Triangle {
	t.Helper()
	tr, err := mesh.BuildTriangle(id, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	f.triangles[id] = tr
	return tr
}

func (f *fakeStore) GetTriangle(_ context.Context, id string) (*models.Triangle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.triangles[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (f *fakeStore) HasEvent(_ context.Context, account, nonce string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account+"\x00"+nonce], nil
}

func (f *fakeStore) LastClick(_ context.Context, account string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Account == account && f.events[i].Kind == models.EventClick {
			return f.events[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CommitClick(_ context.Context, ev *models.Event, rewardMicro *big.Int,
	childBuilder func() ([]*models.Triangle, error)) (*models.ClickOutcome, error) {

	f.mu.Lock()
	defer f.mu.Unlock()
	key := ev.Account + "\x00" + ev.Nonce
	if f.nonces[key] {
		return nil, db.ErrDuplicateNonce
	}
	tr, ok := f.triangles[ev.TriangleID]
	if !ok || tr.State != models.TriangleActive || tr.Clicks >= models.ClicksToSubdivide {
		return nil, db.ErrTriangleInactive
	}
	f.nonces[key] = true
	f.events = append(f.events, ev)
	tr.Clicks++
	ts := ev.Timestamp
	tr.LastClickAt = &ts

	outcome := &models.ClickOutcome{Clicks: tr.Clicks, State: tr.State}
	if tr.Clicks == models.ClicksToSubdivide && childBuilder != nil {
		children, err := childBuilder()
		if err != nil {
			return nil, err
		}
		tr.State = models.TriangleSubdivided
		for _, c := range children {
			f.triangles[c.ID] = c
			tr.Children = append(tr.Children, c.ID)
		}
		subID := fmt.Sprintf("sub-%d", len(f.events))
		f.events = append(f.events, &models.Event{
			ID: subID, TriangleID: tr.ID, Kind: models.EventSubdivide,
			Timestamp: ev.Timestamp, Account: models.SystemAccount, Nonce: subID,
		})
		outcome.State = models.TriangleSubdivided
		outcome.Subdivided = true
		outcome.ChildIDs = tr.Children
	}

	bal, ok := f.balances[ev.Account]
	if !ok {
		bal = big.NewInt(0)
	}
	bal = new(big.Int).Add(bal, rewardMicro)
	f.balances[ev.Account] = bal
	outcome.Balance = new(big.Int).Set(bal)
	return outcome, nil
}

type harness struct {
	engine  *Engine
	store   *fakeStore
	key     *ecdsa.PrivateKey
	account string
	clock   time.Time
}

func newHarness(t *testing.T, cfg *config.Config, verifiers attest.Registry) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	store := newFakeStore()
	eng := New(store, cfg, verifiers, nil, nil)
	h := &harness{
		engine:  eng,
		store:   store,
		key:     key,
		account: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		clock:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	eng.now = func() time.Time { return h.clock }
	return h
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:         "development",
		GpsMaxAccuracyM:     50,
		SpeedLimitMps:       15,
		Moratorium:          10 * time.Second,
		AcceptanceThreshold: 50, // signature+accuracy+speed+moratorium = 50
		AttestationTimeout:  500 * time.Millisecond,
		CellLookupTimeout:   400 * time.Millisecond,
	}
}

// signedProof builds a v1 payload at the centroid of the triangle and signs
// it with the harness key.
func (h *harness) signedProof(t *testing.T, triangleID, nonce string) (*models.ProofPayload, string) {
	t.Helper()
	lat, lon, err := mesh.Centroid(triangleID)
	if err != nil {
		t.Fatal(err)
	}
	p := &models.ProofPayload{
		Version:    models.ProofVersionV1,
		Account:    h.account,
		TriangleID: triangleID,
		Lat:        json.Number(strconv.FormatFloat(lat, 'f', 6, 64)),
		Lon:        json.Number(strconv.FormatFloat(lon, 'f', 6, 64)),
		Accuracy:   json.Number("12.5"),
		Timestamp:  h.clock.Format(proof.TimestampLayout),
		Nonce:      nonce,
	}
	return p, h.sign(t, p)
}

func (h *harness) sign(t *testing.T, p *models.ProofPayload) string {
	t.Helper()
	message, err := proof.CanonicalMessage(p)
	if err != nil {
		t.Fatal(err)
	}
	digest := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	sig, err := crypto.Sign(digest, h.key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func testTriangleID(t *testing.T, level int) string {
	t.Helper()
	// A real cell somewhere over western Europe.
	id, err := mesh.Locate(48.8584, 2.2945, level)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSubmit_AcceptLevel10(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, sig := h.signedProof(t, id, "nonce-1")

	res, rej := h.engine.Submit(context.Background(), p, sig)
	if rej != nil {
		t.Fatalf("accept scenario rejected: %+v", rej)
	}
	if res.Reward != "0.001953" {
		t.Errorf("level-10 reward = %q, want 0.001953", res.Reward)
	}
	if res.Clicks != 1 {
		t.Errorf("clicks = %d, want 1", res.Clicks)
	}
	if res.Balance != "0.001953" {
		t.Errorf("balance = %q", res.Balance)
	}
	if res.Confidence < 50 {
		t.Errorf("confidence = %d", res.Confidence)
	}
	if res.Unit != "STEP" || res.Level != 10 {
		t.Errorf("unit=%q level=%d", res.Unit, res.Level)
	}
}

func TestSubmit_NonceReplay(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, sig := h.signedProof(t, id, "nonce-1")

	if _, rej := h.engine.Submit(context.Background(), p, sig); rej != nil {
		t.Fatalf("first submission rejected: %+v", rej)
	}
	h.clock = h.clock.Add(time.Minute)
	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeNonceReplay {
		t.Fatalf("replay: got %+v, want NonceReplay", rej)
	}
	// Exactly one click event persisted.
	clicks := 0
	for _, ev := range h.store.events {
		if ev.Kind == models.EventClick {
			clicks++
		}
	}
	if clicks != 1 {
		t.Errorf("click events = %d, want 1", clicks)
	}
}

func TestSubmit_AccuracyGate(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, _ := h.signedProof(t, id, "nonce-1")
	p.Accuracy = json.Number("75")
	sig := h.sign(t, p)

	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeLowGpsAccuracy {
		t.Fatalf("got %+v, want LowGpsAccuracy", rej)
	}
	if len(h.store.events) != 0 {
		t.Error("rejected proof left events behind")
	}
}

func TestSubmit_BadSignature(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, sig := h.signedProof(t, id, "nonce-1")

	// Tamper after signing: the recovered address no longer matches.
	p.Nonce = "nonce-2"
	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeBadSignature {
		t.Fatalf("got %+v, want BadSignature", rej)
	}
}

func TestSubmit_TriangleNotFound(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, 10) // never added to the store
	p, sig := h.signedProof(t, id, "nonce-1")
	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeTriangleNotFound {
		t.Fatalf("got %+v, want TriangleNotFound", rej)
	}
}

func TestSubmit_OutOfBounds(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, _ := h.signedProof(t, id, "nonce-1")
	// Sydney is not in a Paris triangle.
	p.Lat, p.Lon = json.Number("-33.8568"), json.Number("151.2153")
	sig := h.sign(t, p)

	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeOutOfBounds {
		t.Fatalf("got %+v, want OutOfBounds", rej)
	}
}

func TestSubmit_SpeedGate(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	parisID := testTriangleID(t, 10)
	h.store.addTriangle(t, parisID)
	p1, sig1 := h.signedProof(t, parisID, "nonce-1")
	if _, rej := h.engine.Submit(context.Background(), p1, sig1); rej != nil {
		t.Fatalf("first proof rejected: %+v", rej)
	}

	// ~390 km away (Lyon), 15 s later: ~26 000 m/s.
	lyonID, err := mesh.Locate(45.7640, 4.8357, 10)
	if err != nil {
		t.Fatal(err)
	}
	h.store.addTriangle(t, lyonID)
	h.clock = h.clock.Add(15 * time.Second)
	p2, sig2 := h.signedProof(t, lyonID, "nonce-2")

	_, rej := h.engine.Submit(context.Background(), p2, sig2)
	if rej == nil || rej.Code != CodeTooFast {
		t.Fatalf("got %+v, want TooFast", rej)
	}
}

func TestSubmit_Moratorium(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p1, sig1 := h.signedProof(t, id, "nonce-1")
	if _, rej := h.engine.Submit(context.Background(), p1, sig1); rej != nil {
		t.Fatalf("first proof rejected: %+v", rej)
	}

	h.clock = h.clock.Add(5 * time.Second) // inside the 10 s moratorium
	p2, sig2 := h.signedProof(t, id, "nonce-2")
	_, rej := h.engine.Submit(context.Background(), p2, sig2)
	if rej == nil || rej.Code != CodeMoratorium {
		t.Fatalf("got %+v, want Moratorium", rej)
	}
}

func TestSubmit_SubdivisionAtEleven(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)

	var last *models.SubmitResult
	for i := 1; i <= models.ClicksToSubdivide; i++ {
		p, sig := h.signedProof(t, id, fmt.Sprintf("nonce-%d", i))
		res, rej := h.engine.Submit(context.Background(), p, sig)
		if rej != nil {
			t.Fatalf("click %d rejected: %+v", i, rej)
		}
		last = res
		h.clock = h.clock.Add(time.Minute)
	}
	if last.Clicks != 11 {
		t.Errorf("final clicks = %d, want 11", last.Clicks)
	}

	parent := h.store.triangles[id]
	if parent.State != models.TriangleSubdivided {
		t.Errorf("parent state = %q", parent.State)
	}
	if len(parent.Children) != 4 {
		t.Fatalf("children = %d, want 4", len(parent.Children))
	}
	for _, cid := range parent.Children {
		child := h.store.triangles[cid]
		if child == nil {
			t.Fatalf("child %s not materialized", cid)
		}
		if child.Level != 11 || child.State != models.TriangleActive || child.Clicks != 0 {
			t.Errorf("child %s: level=%d state=%q clicks=%d", cid, child.Level, child.State, child.Clicks)
		}
	}

	subdivides := 0
	for _, ev := range h.store.events {
		if ev.Kind == models.EventSubdivide {
			subdivides++
			if ev.Account != models.SystemAccount {
				t.Errorf("subdivide account = %q", ev.Account)
			}
		}
	}
	if subdivides != 1 {
		t.Errorf("subdivide events = %d, want 1", subdivides)
	}

	// Balance: 11 clicks at level 10 = 11 * 1953 micro.
	wantBalance := big.NewInt(11 * 1953)
	if got := h.store.balances[strings.ToLower(h.account)]; got.Cmp(wantBalance) != 0 {
		t.Errorf("balance = %s, want %s", got, wantBalance)
	}

	// The retired parent accepts nothing further.
	p, sig := h.signedProof(t, id, "nonce-after")
	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeInvalidPayload {
		t.Fatalf("click on subdivided triangle: got %+v", rej)
	}
}

func TestSubmit_DeepestLevelSaturates(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	id := testTriangleID(t, mesh.MaxLevel)
	h.store.addTriangle(t, id)

	var last *models.SubmitResult
	for i := 1; i <= models.ClicksToSubdivide; i++ {
		p, sig := h.signedProof(t, id, fmt.Sprintf("nonce-%d", i))
		res, rej := h.engine.Submit(context.Background(), p, sig)
		if rej != nil {
			t.Fatalf("click %d at the deepest level rejected: %+v", i, rej)
		}
		last = res
		h.clock = h.clock.Add(time.Minute)
	}
	if last.Clicks != 11 {
		t.Errorf("final clicks = %d, want 11", last.Clicks)
	}
	if last.Reward != "0.000001" {
		t.Errorf("deepest-level reward = %q, want 0.000001", last.Reward)
	}

	// The cell saturates instead of subdividing.
	tr := h.store.triangles[id]
	if tr.State != models.TriangleActive {
		t.Errorf("state = %q, want active", tr.State)
	}
	if len(tr.Children) != 0 {
		t.Errorf("children = %v, want none", tr.Children)
	}
	for _, ev := range h.store.events {
		if ev.Kind == models.EventSubdivide {
			t.Fatal("deepest-level cell subdivided")
		}
	}

	// Further clicks bounce off the click guard.
	p, sig := h.signedProof(t, id, "nonce-after")
	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeInvalidPayload {
		t.Fatalf("click on saturated cell: got %+v", rej)
	}
}

func TestSubmit_ConcurrentSameNonce(t *testing.T) {
	cfg := testConfig()
	cfg.Moratorium = 0 // isolate the replay guard from the timing gate
	h := newHarness(t, cfg, nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, sig := h.signedProof(t, id, "nonce-1")

	const racers = 8
	rejections := make([]*Rejection, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, rejections[slot] = h.engine.Submit(context.Background(), p, sig)
		}(i)
	}
	wg.Wait()

	accepted, replayed := 0, 0
	for _, rej := range rejections {
		switch {
		case rej == nil:
			accepted++
		case rej.Code == CodeNonceReplay:
			replayed++
		default:
			t.Errorf("unexpected rejection %+v", rej)
		}
	}
	if accepted != 1 || replayed != racers-1 {
		t.Fatalf("accepted = %d replayed = %d, want exactly one winner", accepted, replayed)
	}
	clicks := 0
	for _, ev := range h.store.events {
		if ev.Kind == models.EventClick {
			clicks++
		}
	}
	if clicks != 1 {
		t.Errorf("click events = %d, want 1", clicks)
	}
}

// stubVerifier returns a fixed verdict or error.
type stubVerifier struct {
	verdict *attest.Verdict
	err     error
}

func (s stubVerifier) Verify(context.Context, string, string, string) (*attest.Verdict, error) {
	return s.verdict, s.err
}

func TestSubmit_AttestationRequired(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAttestation = true
	cfg.AndroidPackageName = "net.stepmesh.miner"
	h := newHarness(t, cfg, nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, sig := h.signedProof(t, id, "nonce-1")

	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeAttestationRequired {
		t.Fatalf("got %+v, want AttestationRequired", rej)
	}
}

func TestSubmit_AttestationFailedVerdict(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAttestation = true
	cfg.AndroidPackageName = "net.stepmesh.miner"
	verifiers := attest.Registry{
		attest.PlatformAndroid: stubVerifier{verdict: &attest.Verdict{
			Passed: false, Reason: "emulator detected", Platform: attest.PlatformAndroid,
		}},
	}
	h := newHarness(t, cfg, verifiers)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, _ := h.signedProof(t, id, "nonce-1")
	p.Version = models.ProofVersionV2
	p.Attestation = &models.Attestation{Platform: attest.PlatformAndroid, Token: "opaque"}
	sig := h.sign(t, p)

	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeAttestationFailed {
		t.Fatalf("got %+v, want AttestationFailed", rej)
	}
	if len(rej.Reasons) == 0 {
		t.Error("failed attestation carries no reasons")
	}
}

func TestSubmit_LowConfidenceWithReasons(t *testing.T) {
	cfg := testConfig()
	cfg.AcceptanceThreshold = 70 // gates alone reach only 50
	h := newHarness(t, cfg, nil)
	id := testTriangleID(t, 10)
	h.store.addTriangle(t, id)
	p, sig := h.signedProof(t, id, "nonce-1")

	_, rej := h.engine.Submit(context.Background(), p, sig)
	if rej == nil || rej.Code != CodeLowConfidence {
		t.Fatalf("got %+v, want LowConfidence", rej)
	}
	if rej.Confidence != 50 {
		t.Errorf("confidence = %d, want 50", rej.Confidence)
	}
	if len(rej.Reasons) == 0 {
		t.Error("low-confidence rejection carries no reasons")
	}
}
