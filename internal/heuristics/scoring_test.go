package heuristics

import (
	"strings"
	"testing"
)

// allGood is a proof passing every live signal: 20+15+10+5+25+15+10 = 100.
func allGood() Signals {
	return Signals{
		SignatureValid:     true,
		AccuracyOK:         true,
		SpeedOK:            true,
		MoratoriumOK:       true,
		AttestationPresent: true,
		AttestationPassed:  true,
		GnssPoints:         GnssMaxPoints,
		HasGnss:            true,
		CellPoints:         CellMaxPoints,
		HasCell:            true,
	}
}

func TestScore_FullHouse(t *testing.T) {
	res := Score(allGood(), DefaultWeights())
	if res.Total != 100 {
		t.Errorf("total = %d, want 100", res.Total)
	}
	if !res.Accepted {
		t.Error("100-point proof rejected")
	}
	if res.Level != "Very High Confidence" {
		t.Errorf("band = %q", res.Level)
	}
	if len(res.Reasons) != 0 {
		t.Errorf("accepted proof has reasons: %v", res.Reasons)
	}
}

func TestScore_ThresholdBoundary(t *testing.T) {
	// Signature + accuracy + speed + moratorium + attestation = 75.
	s := allGood()
	s.GnssPoints, s.HasGnss = 0, false
	s.CellPoints, s.HasCell = 0, false
	res := Score(s, DefaultWeights())
	if res.Total != 75 || !res.Accepted {
		t.Errorf("total = %d accepted = %v, want 75 accepted", res.Total, res.Accepted)
	}

	// Dropping the moratorium signal lands exactly on 70: still accepted.
	s.MoratoriumOK = false
	res = Score(s, DefaultWeights())
	if res.Total != 70 || !res.Accepted {
		t.Errorf("total = %d accepted = %v, want 70 accepted", res.Total, res.Accepted)
	}

	// One point below the threshold rejects.
	w := DefaultWeights()
	w.Threshold = 71
	res = Score(s, w)
	if res.Accepted {
		t.Error("70 accepted under threshold 71")
	}
}

func TestScore_RejectionReasons(t *testing.T) {
	s := allGood()
	s.AttestationPassed = false
	s.AttestationReason = "emulator detected"
	s.GnssPoints = 6
	res := Score(s, DefaultWeights())
	// 100 - 25 - 9 = 66 < 70.
	if res.Accepted {
		t.Fatalf("total = %d unexpectedly accepted", res.Total)
	}
	joined := strings.Join(res.Reasons, "\n")
	if !strings.Contains(joined, "emulator detected") {
		t.Errorf("attestation reason missing: %v", res.Reasons)
	}
	if !strings.Contains(joined, "GNSS") {
		t.Errorf("GNSS reason missing: %v", res.Reasons)
	}
	if !strings.Contains(joined, "threshold") {
		t.Errorf("threshold summary missing: %v", res.Reasons)
	}
}

func TestBand_PureFunctionOfTotal(t *testing.T) {
	cases := []struct {
		total int
		want  string
	}{
		{0, "Fraud Likely"},
		{49, "Fraud Likely"},
		{50, "Low Confidence"},
		{69, "Low Confidence"},
		{70, "Moderate Confidence"},
		{84, "Moderate Confidence"},
		{85, "High Confidence"},
		{94, "High Confidence"},
		{95, "Very High Confidence"},
		{110, "Very High Confidence"},
	}
	for _, tc := range cases {
		if got := Band(tc.total); got != tc.want {
			t.Errorf("Band(%d) = %q, want %q", tc.total, got, tc.want)
		}
	}
}

func TestScore_WitnessBonusCanExceed100(t *testing.T) {
	s := allGood()
	s.WitnessPoints = 10
	res := Score(s, DefaultWeights())
	if res.Total != 110 {
		t.Errorf("total with witness bonus = %d, want 110", res.Total)
	}
}
