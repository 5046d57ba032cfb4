package heuristics

import (
	"testing"

	"github.com/stepmesh/proof-engine/pkg/models"
)

// realisticSky is a plausible 8-satellite, 3-constellation environment.
func realisticSky() []models.GnssMeasurement {
	return []models.GnssMeasurement{
		{Svid: 2, Cn0DbHz: 44.1, ElevationDeg: 71, AzimuthDeg: 12, Constellation: "GPS"},
		{Svid: 5, Cn0DbHz: 38.5, ElevationDeg: 44, AzimuthDeg: 101, Constellation: "GPS"},
		{Svid: 13, Cn0DbHz: 31.2, ElevationDeg: 15, AzimuthDeg: 220, Constellation: "GPS"},
		{Svid: 30, Cn0DbHz: 41.9, ElevationDeg: 58, AzimuthDeg: 305, Constellation: "GPS"},
		{Svid: 7, Cn0DbHz: 35.0, ElevationDeg: 26, AzimuthDeg: 156, Constellation: "GLONASS"},
		{Svid: 14, Cn0DbHz: 43.3, ElevationDeg: 63, AzimuthDeg: 88, Constellation: "GLONASS"},
		{Svid: 4, Cn0DbHz: 29.8, ElevationDeg: 9, AzimuthDeg: 340, Constellation: "GALILEO"},
		{Svid: 11, Cn0DbHz: 39.6, ElevationDeg: 37, AzimuthDeg: 197, Constellation: "GALILEO"},
	}
}

func TestGnssScore_RealisticSkyFullBudget(t *testing.T) {
	points, checks := GnssScore(realisticSky())
	if points != GnssMaxPoints {
		t.Errorf("realistic sky scored %d/%d: %+v", points, GnssMaxPoints, checks)
	}
}

func TestGnssScore_MissingDataIsZeroNotRejection(t *testing.T) {
	points, _ := GnssScore(nil)
	if points != 0 {
		t.Errorf("missing GNSS scored %d", points)
	}
}

func TestGnssScore_SimulatorFingerprints(t *testing.T) {
	// Single constellation, identical C/N0, flat elevations: the classic
	// mock-provider signature. Only the satellite-count check passes.
	flat := make([]models.GnssMeasurement, 6)
	for i := range flat {
		flat[i] = models.GnssMeasurement{
			Svid: i + 1, Cn0DbHz: 40, ElevationDeg: 45, Constellation: "GPS",
		}
	}
	points, checks := GnssScore(flat)
	if !checks.EnoughSatellites {
		t.Error("6 satellites not counted")
	}
	if checks.MultiConstellation || checks.Cn0VarianceOK || checks.ElevationSpreadOK {
		t.Errorf("simulator sky passed plausibility checks: %+v", checks)
	}
	if points != GnssMaxPoints/5 {
		t.Errorf("simulator sky scored %d, want %d", points, GnssMaxPoints/5)
	}
}

func TestGnssScore_WeakSignalMean(t *testing.T) {
	sky := realisticSky()
	for i := range sky {
		sky[i].Cn0DbHz -= 25 // deep attenuation, mean drops below 30
	}
	_, checks := GnssScore(sky)
	if checks.Cn0MeanOK {
		t.Error("sub-30 dB-Hz mean passed the C/N0 mean check")
	}
}
