package heuristics

import (
	"math"
	"time"
)

// Anti-spoof gates. Each gate looks at one proof plus, for the movement
// gates, the account's most recent prior click.

// EarthRadiusM is the mean earth radius used by the haversine distance.
const EarthRadiusM = 6371000.0

// ClockDriftWindow bounds tolerated client-clock skew: a negative client
// time delta inside this window is clamped to zero before the speed check.
const ClockDriftWindow = 2 * time.Minute

// HaversineM returns the great-circle distance in meters between two
// geodetic points.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*sinLon*sinLon
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(a)))
}

// AccuracyOK is the accuracy gate: reported GPS accuracy must not exceed
// the configured ceiling.
func AccuracyOK(accuracyM, maxAccuracyM float64) bool {
	return accuracyM <= maxAccuracyM
}

// SpeedMps computes the implied travel speed between two client-timestamped
// positions. Negative deltas inside the drift window are clamped to zero; a
// zero delta yields speed 0 (the moratorium gate owns rapid resubmission).
// A negative delta beyond the window is not explainable by clock drift and
// reports an infinite speed.
func SpeedMps(distanceM float64, dt time.Duration) float64 {
	if dt < 0 {
		if dt < -ClockDriftWindow {
			return math.Inf(1)
		}
		dt = 0
	}
	if dt == 0 {
		return 0
	}
	return distanceM / dt.Seconds()
}

// SpeedOK is the speed gate against the configured limit.
func SpeedOK(speedMps, limitMps float64) bool {
	return speedMps <= limitMps
}

// MoratoriumOK is the minimum inter-proof interval gate. It compares server
// clocks only: the arrival time of this proof against the stored server
// timestamp of the previous click, so client timestamps cannot bypass it.
func MoratoriumOK(arrival, prevStored time.Time, moratorium time.Duration) bool {
	return arrival.Sub(prevStored) >= moratorium
}
