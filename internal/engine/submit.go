package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stepmesh/proof-engine/internal/attest"
	"github.com/stepmesh/proof-engine/internal/config"
	"github.com/stepmesh/proof-engine/internal/db"
	"github.com/stepmesh/proof-engine/internal/heuristics"
	"github.com/stepmesh/proof-engine/internal/mesh"
	"github.com/stepmesh/proof-engine/internal/proof"
	"github.com/stepmesh/proof-engine/pkg/models"
)

// Store is the slice of persistence the orchestrator needs. *db.Store
// satisfies it; tests use an in-memory fake.
type Store interface {
	GetTriangle(ctx context.Context, id string) (*models.Triangle, error)
	HasEvent(ctx context.Context, account, nonce string) (bool, error)
	LastClick(ctx context.Context, account string) (*models.Event, error)
	CommitClick(ctx context.Context, ev *models.Event, rewardMicro *big.Int,
		childBuilder func() ([]*models.Triangle, error)) (*models.ClickOutcome, error)
}

// Broadcaster pushes accepted events to live subscribers. May be nil.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Engine runs the proof-submission pipeline.
type Engine struct {
	store     Store
	cfg       *config.Config
	weights   heuristics.Weights
	verifiers attest.Registry
	towers    heuristics.TowerLocator
	hub       Broadcaster
	now       func() time.Time
}

// New wires the orchestrator. verifiers, towers and hub may be nil; the
// corresponding signals then score zero.
func New(store Store, cfg *config.Config, verifiers attest.Registry,
	towers heuristics.TowerLocator, hub Broadcaster) *Engine {

	weights := heuristics.DefaultWeights()
	weights.Threshold = cfg.AcceptanceThreshold
	return &Engine{
		store:     store,
		cfg:       cfg,
		weights:   weights,
		verifiers: verifiers,
		towers:    towers,
		hub:       hub,
		now:       time.Now,
	}
}

// Weights exposes the injected scoring table (for the config endpoint).
func (e *Engine) Weights() heuristics.Weights { return e.weights }

// Submit validates one proof end to end and, on acceptance, commits the
// click atomically. The returned error is always a *Rejection.
func (e *Engine) Submit(ctx context.Context, payload *models.ProofPayload, signature string) (*models.SubmitResult, *Rejection) {
	arrival := e.now().UTC()

	// Structural validation and canonicalization. The canonical message is
	// needed for the signature step anyway; building it validates version,
	// presence and numeric round-trips in one pass.
	message, err := proof.CanonicalMessage(payload)
	if err != nil {
		return nil, reject(CodeInvalidPayload, err.Error())
	}
	lat, lon, acc := payload.Position()
	latF, _ := proof.ParseCoordinate(lat, -90, 90)
	lonF, _ := proof.ParseCoordinate(lon, -180, 180)
	accF, _ := proof.ParseCoordinate(acc, 0, math.MaxFloat64)
	clientTime, _ := proof.ParseTimestamp(payload.Timestamp)

	// Accuracy gate runs before the signature: it is free and fails often.
	accuracyOK := heuristics.AccuracyOK(accF, e.cfg.GpsMaxAccuracyM)
	if !accuracyOK {
		return nil, reject(CodeLowGpsAccuracy,
			fmt.Sprintf("reported accuracy %.1f m exceeds the %.0f m limit", accF, e.cfg.GpsMaxAccuracyM))
	}

	sig, err := proof.DecodeSignature(signature)
	if err != nil {
		return nil, reject(CodeBadSignature, err.Error())
	}
	addr, err := proof.RecoverAddress(message, sig)
	if err != nil {
		return nil, reject(CodeBadSignature, err.Error())
	}
	if !strings.EqualFold(addr.Hex(), payload.Account) {
		return nil, reject(CodeBadSignature, proof.ErrAddressMismatch.Error())
	}
	account := strings.ToLower(payload.Account)

	// Nonce pre-check. The unique index in the commit is the authority;
	// this only short-circuits the obvious replays before the expensive
	// verifier calls.
	if seen, err := e.store.HasEvent(ctx, account, payload.Nonce); err != nil {
		return nil, e.internal(err)
	} else if seen {
		return nil, reject(CodeNonceReplay, "this (account, nonce) was already accepted")
	}

	triangle, err := e.store.GetTriangle(ctx, payload.TriangleID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, reject(CodeTriangleNotFound, fmt.Sprintf("triangle %s does not exist", payload.TriangleID))
	}
	if err != nil {
		return nil, e.internal(err)
	}
	if triangle.State != models.TriangleActive {
		return nil, reject(CodeInvalidPayload,
			fmt.Sprintf("triangle %s is subdivided; submit against one of its children", triangle.ID))
	}

	inside, err := mesh.PointInTriangle(latF, lonF, triangle.ID)
	if err != nil {
		return nil, reject(CodeInvalidPayload, err.Error())
	}
	if !inside {
		return nil, reject(CodeOutOfBounds,
			fmt.Sprintf("point (%s, %s) is not inside triangle %s", lat, lon, triangle.ID))
	}

	prior, err := e.store.LastClick(ctx, account)
	if err != nil {
		return nil, e.internal(err)
	}
	speedMps, speedOK, moratoriumOK, rej := e.movementGates(prior, latF, lonF, clientTime, arrival)
	if rej != nil {
		return nil, rej
	}

	signals := heuristics.Signals{
		SignatureValid: true,
		AccuracyOK:     true,
		SpeedOK:        speedOK,
		MoratoriumOK:   moratoriumOK,
	}
	if rej := e.collectEvidence(ctx, payload, latF, lonF, &signals); rej != nil {
		return nil, rej
	}

	confidence := heuristics.Score(signals, e.weights)
	if !confidence.Accepted {
		return nil, &Rejection{
			Code:       CodeLowConfidence,
			Message:    fmt.Sprintf("confidence %d below threshold %d", confidence.Total, e.weights.Threshold),
			Confidence: confidence.Total,
			Reasons:    confidence.Reasons,
		}
	}

	rewardMicro := big.NewInt(RewardMicro(triangle.Level))
	outcome, rej := e.commit(ctx, triangle, payload, account, signature, arrival,
		latF, lonF, accF, speedMps, rewardMicro)
	if rej != nil {
		return nil, rej
	}

	e.broadcast(triangle, account, outcome, rewardMicro, arrival)

	return &models.SubmitResult{
		Reward:          FormatStep(rewardMicro),
		Unit:            "STEP",
		TriangleID:      triangle.ID,
		Level:           triangle.Level,
		Clicks:          outcome.Clicks,
		Balance:         FormatStep(outcome.Balance),
		Confidence:      confidence.Total,
		ConfidenceLevel: confidence.Level,
		Scores:          confidence.Scores,
		ProcessedAt:     arrival.Format(proof.TimestampLayout),
	}, nil
}

// movementGates evaluates the speed and moratorium gates against the
// account's previous click. Speed compares client timestamps (with drift
// clamping); the moratorium compares server clocks only.
func (e *Engine) movementGates(prior *models.Event, lat, lon float64,
	clientTime, arrival time.Time) (speedMps float64, speedOK, moratoriumOK bool, rej *Rejection) {

	if prior == nil {
		return 0, true, true, nil
	}
	if !heuristics.MoratoriumOK(arrival, prior.Timestamp, e.cfg.Moratorium) {
		return 0, true, false, reject(CodeMoratorium,
			fmt.Sprintf("minimum interval between proofs is %s", e.cfg.Moratorium))
	}
	var prev models.ClickEventPayload
	if err := json.Unmarshal(prior.Payload, &prev); err != nil {
		// Unreadable history cannot fail the miner.
		log.Printf("Unreadable prior click payload for event %s: %v", prior.ID, err)
		return 0, true, true, nil
	}
	prevTime, err := proof.ParseTimestamp(prev.ClientTime)
	if err != nil {
		prevTime = prior.Timestamp
	}
	distance := heuristics.HaversineM(prev.Lat, prev.Lon, lat, lon)
	speedMps = heuristics.SpeedMps(distance, clientTime.Sub(prevTime))
	if !heuristics.SpeedOK(speedMps, e.cfg.SpeedLimitMps) {
		return speedMps, false, true, reject(CodeTooFast,
			fmt.Sprintf("implied speed %.1f m/s exceeds the %.0f m/s limit", speedMps, e.cfg.SpeedLimitMps))
	}
	return speedMps, true, true, nil
}

// collectEvidence gathers the optional v2 signals. The attestation verifier
// and the cell-tower lookup overlap their network latency; GNSS analysis is
// pure and runs inline.
func (e *Engine) collectEvidence(ctx context.Context, payload *models.ProofPayload,
	lat, lon float64, signals *heuristics.Signals) *Rejection {

	if payload.Gnss != nil {
		signals.HasGnss = true
		signals.GnssPoints, signals.GnssChecks = heuristics.GnssScore(payload.Gnss)
	}

	cellDone := make(chan int, 1)
	if payload.Cell != nil && e.towers != nil {
		signals.HasCell = true
		go func() {
			cellCtx, cancel := context.WithTimeout(ctx, e.cfg.CellLookupTimeout)
			defer cancel()
			cellDone <- heuristics.CellScore(cellCtx, e.towers, payload.Cell, lat, lon)
		}()
	} else {
		cellDone <- 0
	}

	if rej := e.verifyAttestation(ctx, payload, signals); rej != nil {
		return rej
	}
	signals.CellPoints = <-cellDone
	return nil
}

func (e *Engine) verifyAttestation(ctx context.Context, payload *models.ProofPayload,
	signals *heuristics.Signals) *Rejection {

	att := payload.Attestation
	if att == nil || att.Token == "" {
		if e.cfg.RequireAttestation {
			return reject(CodeAttestationRequired, "an attestation token is required")
		}
		return nil
	}
	signals.AttestationPresent = true

	verifier := e.verifiers.Lookup(att.Platform)
	if verifier == nil {
		signals.AttestationReason = fmt.Sprintf("no verifier for platform %q", att.Platform)
		return nil
	}
	expectedAppID := e.cfg.AndroidPackageName
	if att.Platform == attest.PlatformIOS {
		expectedAppID = e.cfg.IOSBundleID
	}

	attCtx, cancel := context.WithTimeout(ctx, e.cfg.AttestationTimeout)
	defer cancel()
	verdict, err := verifier.Verify(attCtx, att.Token, expectedAppID, payload.Nonce)
	if err != nil {
		// Transport failure is non-fatal: score without attestation points.
		log.Printf("Attestation verifier error (platform %s): %v", att.Platform, err)
		signals.AttestationReason = "verifier unavailable"
		return nil
	}
	signals.AttestationPassed = verdict.Passed
	signals.AttestationReason = verdict.Reason
	if !verdict.Passed && e.cfg.RequireAttestation {
		return &Rejection{
			Code:    CodeAttestationFailed,
			Message: "attestation verdict failed",
			Reasons: []string{verdict.Reason},
		}
	}
	return nil
}

// commit builds the event row and runs the atomic transaction.
func (e *Engine) commit(ctx context.Context, triangle *models.Triangle,
	payload *models.ProofPayload, account, signature string, arrival time.Time,
	lat, lon, acc, speedMps float64, rewardMicro *big.Int) (*models.ClickOutcome, *Rejection) {

	eventPayload, err := json.Marshal(models.ClickEventPayload{
		Miner:       account,
		RewardMicro: rewardMicro.Int64(),
		ClickNumber: triangle.Clicks + 1,
		Lat:         lat,
		Lon:         lon,
		Accuracy:    acc,
		SpeedMps:    speedMps,
		ClientTime:  payload.Timestamp,
	})
	if err != nil {
		return nil, e.internal(err)
	}
	ev := &models.Event{
		ID:         uuid.NewString(),
		TriangleID: triangle.ID,
		Kind:       models.EventClick,
		Timestamp:  arrival,
		Account:    account,
		Nonce:      payload.Nonce,
		Signature:  signature,
		Payload:    eventPayload,
	}
	// Level-21 cells cannot subdivide: a nil builder tells the store to
	// accept the final click and leave the cell saturated.
	var childBuilder func() ([]*models.Triangle, error)
	if triangle.Level < mesh.MaxLevel {
		childBuilder = func() ([]*models.Triangle, error) {
			return mesh.BuildChildren(triangle.ID, arrival)
		}
	}
	outcome, err := e.store.CommitClick(ctx, ev, rewardMicro, childBuilder)
	if errors.Is(err, db.ErrDuplicateNonce) {
		return nil, reject(CodeNonceReplay, "this (account, nonce) was already accepted")
	}
	if errors.Is(err, db.ErrTriangleInactive) {
		return nil, reject(CodeInvalidPayload,
			fmt.Sprintf("triangle %s is no longer accepting clicks", triangle.ID))
	}
	if err != nil {
		return nil, e.internal(err)
	}
	return outcome, nil
}

func (e *Engine) broadcast(triangle *models.Triangle, account string,
	outcome *models.ClickOutcome, rewardMicro *big.Int, arrival time.Time) {

	if e.hub == nil {
		return
	}
	msg, err := json.Marshal(map[string]any{
		"type":       "click",
		"triangleId": triangle.ID,
		"level":      triangle.Level,
		"clicks":     outcome.Clicks,
		"account":    account,
		"reward":     FormatStep(rewardMicro),
		"timestamp":  arrival.Format(proof.TimestampLayout),
	})
	if err == nil {
		e.hub.Broadcast(msg)
	}
	if outcome.Subdivided {
		msg, err := json.Marshal(map[string]any{
			"type":      "subdivide",
			"parentId":  triangle.ID,
			"childIds":  outcome.ChildIDs,
			"newLevel":  triangle.Level + 1,
			"timestamp": arrival.Format(proof.TimestampLayout),
		})
		if err == nil {
			e.hub.Broadcast(msg)
		}
	}
}

func (e *Engine) internal(err error) *Rejection {
	log.Printf("Internal error in proof pipeline: %v", err)
	msg := "internal error"
	if e.cfg.Environment == "development" {
		msg = err.Error()
	}
	return reject(CodeInternalError, msg)
}
