package heuristics

import (
	"fmt"

	"github.com/stepmesh/proof-engine/pkg/models"
)

// Multi-signal confidence aggregation. Nine weighted signals sum to a 0-110
// scale (the witness bonus can push past 100); the proof is accepted when
// the total clears the configured threshold.

// Weights enumerates the nine signal weights plus the acceptance threshold.
// An instance is injected into the engine; defaults ship in code.
type Weights struct {
	Signature   int
	GpsAccuracy int
	Speed       int
	Moratorium  int
	Attestation int
	GnssRaw     int
	CellTower   int
	Wifi        int
	Witness     int
	Threshold   int
}

// DefaultWeights is the shipped scoring table.
func DefaultWeights() Weights {
	return Weights{
		Signature:   20,
		GpsAccuracy: 15,
		Speed:       10,
		Moratorium:  5,
		Attestation: 25,
		GnssRaw:     GnssMaxPoints,
		CellTower:   CellMaxPoints,
		Wifi:        10,
		Witness:     10,
		Threshold:   70,
	}
}

// Signals carries the evaluated per-signal outcomes for one proof. Gate
// signals are booleans worth their full weight; GNSS and cell carry partial
// points already bounded by their budgets.
type Signals struct {
	SignatureValid bool
	AccuracyOK     bool
	SpeedOK        bool
	MoratoriumOK   bool

	AttestationPresent bool
	AttestationPassed  bool
	AttestationReason  string

	GnssPoints int
	GnssChecks GnssChecks
	HasGnss    bool

	CellPoints int
	HasCell    bool

	// Wifi and Witness are reserved signals; no scorer populates them yet.
	WifiPoints    int
	WitnessPoints int
}

// Confidence bands, a pure function of the total.
func Band(total int) string {
	switch {
	case total >= 95:
		return "Very High Confidence"
	case total >= 85:
		return "High Confidence"
	case total >= 70:
		return "Moderate Confidence"
	case total >= 50:
		return "Low Confidence"
	default:
		return "Fraud Likely"
	}
}

// Score aggregates the signals under the given weights and produces the
// accept/reject decision plus human-readable reasons on failure.
func Score(s Signals, w Weights) models.ConfidenceResult {
	bd := models.ScoreBreakdown{
		GnssRaw:   min(s.GnssPoints, w.GnssRaw),
		CellTower: min(s.CellPoints, w.CellTower),
		Wifi:      min(s.WifiPoints, w.Wifi),
		Witness:   min(s.WitnessPoints, w.Witness),
	}
	if s.SignatureValid {
		bd.Signature = w.Signature
	}
	if s.AccuracyOK {
		bd.GpsAccuracy = w.GpsAccuracy
	}
	if s.SpeedOK {
		bd.Speed = w.Speed
	}
	if s.MoratoriumOK {
		bd.Moratorium = w.Moratorium
	}
	if s.AttestationPassed {
		bd.Attestation = w.Attestation
	}

	total := bd.Signature + bd.GpsAccuracy + bd.Speed + bd.Moratorium +
		bd.Attestation + bd.GnssRaw + bd.CellTower + bd.Wifi + bd.Witness

	result := models.ConfidenceResult{
		Total:    total,
		Level:    Band(total),
		Accepted: total >= w.Threshold,
		Scores:   bd,
	}
	if !result.Accepted {
		result.Reasons = reasons(s, w, total)
	}
	return result
}

// reasons emits at most one line per failing signal plus the threshold
// summary.
func reasons(s Signals, w Weights, total int) []string {
	var out []string
	if !s.SignatureValid {
		out = append(out, fmt.Sprintf("signature invalid (0/%d)", w.Signature))
	}
	if !s.AccuracyOK {
		out = append(out, fmt.Sprintf("GPS accuracy above limit (0/%d)", w.GpsAccuracy))
	}
	if !s.SpeedOK {
		out = append(out, fmt.Sprintf("implied speed above limit (0/%d)", w.Speed))
	}
	if !s.MoratoriumOK {
		out = append(out, fmt.Sprintf("proof inside moratorium window (0/%d)", w.Moratorium))
	}
	switch {
	case !s.AttestationPresent:
		out = append(out, fmt.Sprintf("no attestation token (0/%d)", w.Attestation))
	case !s.AttestationPassed:
		msg := fmt.Sprintf("attestation failed (0/%d)", w.Attestation)
		if s.AttestationReason != "" {
			msg = fmt.Sprintf("attestation failed: %s (0/%d)", s.AttestationReason, w.Attestation)
		}
		out = append(out, msg)
	}
	if !s.HasGnss {
		out = append(out, fmt.Sprintf("no raw GNSS data (0/%d)", w.GnssRaw))
	} else if s.GnssPoints < w.GnssRaw {
		out = append(out, fmt.Sprintf("GNSS environment implausible (%d/%d)", s.GnssPoints, w.GnssRaw))
	}
	if !s.HasCell {
		out = append(out, fmt.Sprintf("no cell tower data (0/%d)", w.CellTower))
	} else if s.CellPoints < w.CellTower {
		out = append(out, fmt.Sprintf("cell tower distance suspicious (%d/%d)", s.CellPoints, w.CellTower))
	}
	out = append(out, fmt.Sprintf("confidence %d below acceptance threshold %d", total, w.Threshold))
	return out
}
