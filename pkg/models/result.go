package models

import "time"

// ScoreBreakdown is the per-signal decomposition returned to clients so UIs
// can render a confidence band.
type ScoreBreakdown struct {
	Signature   int `json:"signature"`
	GpsAccuracy int `json:"gpsAccuracy"`
	Speed       int `json:"speed"`
	Moratorium  int `json:"moratorium"`
	Attestation int `json:"attestation"`
	GnssRaw     int `json:"gnssRaw"`
	CellTower   int `json:"cellTower"`
	Wifi        int `json:"wifi"`
	Witness     int `json:"witness"`
}

// ConfidenceResult is the aggregated multi-signal verdict for one proof.
type ConfidenceResult struct {
	Total    int            `json:"total"`
	Level    string         `json:"level"`
	Accepted bool           `json:"accepted"`
	Scores   ScoreBreakdown `json:"scores"`
	Reasons  []string       `json:"reasons,omitempty"`
}

// SubmitResult is the success response of the proof-submission pipeline.
type SubmitResult struct {
	Reward          string         `json:"reward"` // decimal STEP
	Unit            string         `json:"unit"`   // always "STEP"
	TriangleID      string         `json:"triangleId"`
	Level           int            `json:"level"`
	Clicks          int            `json:"clicks"`
	Balance         string         `json:"balance"` // decimal STEP after crediting
	Confidence      int            `json:"confidence"`
	ConfidenceLevel string         `json:"confidenceLevel"`
	Scores          ScoreBreakdown `json:"scores"`
	ProcessedAt     string         `json:"processedAt"`
}

// DBHealth is the persistence snapshot embedded in /health responses.
type DBHealth struct {
	Status      string         `json:"status"` // "connected" | "disconnected"
	ConnectedAt *time.Time     `json:"connectedAt,omitempty"`
	LastErrorAt *time.Time     `json:"lastErrorAt,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	Info        map[string]any `json:"info,omitempty"`
}
