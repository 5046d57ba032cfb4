package models

import "encoding/json"

// Proof payload schema versions accepted by the engine.
const (
	ProofVersionV1 = "STEP-PROOF-v1"
	ProofVersionV2 = "STEP-PROOF-v2"
)

// Location carries the v2 nested position report. Lat, Lon and Accuracy are
// kept as json.Number so the exact byte text the client signed survives
// decoding; the canonical string is re-assembled from these fields
// character-for-character.
type Location struct {
	Lat      json.Number `json:"lat"`
	Lon      json.Number `json:"lon"`
	Accuracy json.Number `json:"accuracy"`
}

// Attestation is the platform integrity token attached to a v2 proof.
type Attestation struct {
	Platform string `json:"platform"` // "android" | "ios"
	Token    string `json:"token"`
}

// GnssMeasurement is one raw satellite observation.
type GnssMeasurement struct {
	Svid          int     `json:"svid"`
	Cn0DbHz       float64 `json:"cn0DbHz"`
	AzimuthDeg    float64 `json:"azimuthDeg"`
	ElevationDeg  float64 `json:"elevationDeg"`
	Constellation string  `json:"constellation"` // GPS, GLONASS, GALILEO, BEIDOU, QZSS
}

// NeighborCell is an optional neighboring tower report.
type NeighborCell struct {
	CellID int64   `json:"cellId"`
	RSRP   float64 `json:"rsrp,omitempty"`
}

// CellInfo identifies the serving cell tower.
type CellInfo struct {
	MCC       int            `json:"mcc"`
	MNC       int            `json:"mnc"`
	CellID    int64          `json:"cellId"`
	TAC       int            `json:"tac,omitempty"`
	RSRP      float64        `json:"rsrp,omitempty"`
	Neighbors []NeighborCell `json:"neighbors,omitempty"`
}

// WifiAP is a reserved Wi-Fi access point observation (scored 0 today).
type WifiAP struct {
	BSSID string  `json:"bssid"`
	RSSI  float64 `json:"rssi"`
}

// DeviceInfo describes the submitting device (v2 only, informational).
type DeviceInfo struct {
	Model      string `json:"model,omitempty"`
	OS         string `json:"os,omitempty"`
	OSVersion  string `json:"osVersion,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
}

// ProofPayload is a submitted location proof. v1 carries the position in the
// flat Lat/Lon/Accuracy fields; v2 nests it under Location and may attach
// attestation, GNSS, cell, Wi-Fi and device evidence.
type ProofPayload struct {
	Version    string `json:"version"`
	Account    string `json:"account"`
	TriangleID string `json:"triangleId"`

	// v1 flat position
	Lat      json.Number `json:"lat,omitempty"`
	Lon      json.Number `json:"lon,omitempty"`
	Accuracy json.Number `json:"accuracy,omitempty"`

	// v2 nested position
	Location *Location `json:"location,omitempty"`

	Timestamp string `json:"timestamp"` // ISO-8601 with milliseconds, UTC, trailing Z
	Nonce     string `json:"nonce"`

	Attestation *Attestation      `json:"attestation,omitempty"`
	Gnss        []GnssMeasurement `json:"gnss,omitempty"`
	Cell        *CellInfo         `json:"cell,omitempty"`
	Wifi        []WifiAP          `json:"wifi,omitempty"`
	Device      *DeviceInfo       `json:"device,omitempty"`
}

// Position returns the textual lat/lon/accuracy regardless of schema
// version. v2 nested fields win when present.
func (p *ProofPayload) Position() (lat, lon, acc json.Number) {
	if p.Location != nil {
		return p.Location.Lat, p.Location.Lon, p.Location.Accuracy
	}
	return p.Lat, p.Lon, p.Accuracy
}
