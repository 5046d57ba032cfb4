package heuristics

import (
	"math"

	"github.com/stepmesh/proof-engine/pkg/models"
)

// Raw-GNSS plausibility analysis.
//
// Spoofed fixes injected through mock-location providers rarely fabricate a
// convincing satellite environment: they report too few satellites, a single
// constellation, identical C/N0 across the sky, or implausible signal
// strength. Each sub-check contributes an equal share of a 15-point budget.
// Missing GNSS data scores 0 and is never a rejection on its own (one mobile
// platform does not expose raw measurements at all).

// GnssMaxPoints is the raw-GNSS share of the confidence budget.
const GnssMaxPoints = 15

const (
	gnssMinSatellites    = 4
	gnssMinConstellation = 2
	gnssMinCn0Variance   = 5.0 // dB-Hz^2
	gnssMeanCn0Low       = 30.0
	gnssMeanCn0High      = 50.0
	gnssMinElevStdDev    = 5.0 // degrees
)

// GnssChecks is the per-sub-check outcome, kept for rejection reasons.
type GnssChecks struct {
	EnoughSatellites   bool
	MultiConstellation bool
	Cn0VarianceOK      bool
	Cn0MeanOK          bool
	ElevationSpreadOK  bool
}

// GnssScore runs all sub-checks over the raw measurements and returns the
// earned share of the 15-point budget.
func GnssScore(ms []models.GnssMeasurement) (int, GnssChecks) {
	var checks GnssChecks
	if len(ms) == 0 {
		return 0, checks
	}

	checks.EnoughSatellites = len(ms) >= gnssMinSatellites

	constellations := make(map[string]bool)
	var sum, sumSq, elevSum, elevSumSq float64
	for _, m := range ms {
		constellations[m.Constellation] = true
		sum += m.Cn0DbHz
		sumSq += m.Cn0DbHz * m.Cn0DbHz
		elevSum += m.ElevationDeg
		elevSumSq += m.ElevationDeg * m.ElevationDeg
	}
	n := float64(len(ms))
	mean := sum / n
	variance := sumSq/n - mean*mean
	elevMean := elevSum / n
	elevStd := math.Sqrt(math.Max(0, elevSumSq/n-elevMean*elevMean))

	checks.MultiConstellation = len(constellations) >= gnssMinConstellation
	checks.Cn0VarianceOK = variance > gnssMinCn0Variance
	checks.Cn0MeanOK = mean >= gnssMeanCn0Low && mean <= gnssMeanCn0High
	// A real sky never shows every satellite at the same elevation; a flat
	// distribution is the classic replay/simulator fingerprint.
	checks.ElevationSpreadOK = elevStd >= gnssMinElevStdDev

	points := 0
	for _, ok := range []bool{
		checks.EnoughSatellites,
		checks.MultiConstellation,
		checks.Cn0VarianceOK,
		checks.Cn0MeanOK,
		checks.ElevationSpreadOK,
	} {
		if ok {
			points += GnssMaxPoints / 5
		}
	}
	return points, checks
}
