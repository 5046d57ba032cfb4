package models

import (
	"encoding/json"
	"math/big"
	"time"
)

// Triangle states.
const (
	TriangleActive     = "active"
	TriangleSubdivided = "subdivided"
)

// Event kinds.
const (
	EventClick     = "click"
	EventSubdivide = "subdivide"
)

// SystemAccount is the sentinel account recorded on subdivide events. The
// (account, nonce) uniqueness constraint is satisfied by using the event id
// as the nonce for these rows.
const SystemAccount = "system"

// ClicksToSubdivide is the click count at which a triangle is retired and
// its four children are materialized, in the same transaction.
const ClicksToSubdivide = 11

// Triangle is the persisted mesh cell record.
type Triangle struct {
	ID                string       `json:"id"`
	Face              int          `json:"face"`
	Level             int          `json:"level"`
	Path              string       `json:"path"` // digits 0-3, empty at level 1
	ParentID          *string      `json:"parentId,omitempty"`
	Children          []string     `json:"children"`
	State             string       `json:"state"`
	Clicks            int          `json:"clicks"`
	MoratoriumStartAt time.Time    `json:"moratoriumStartAt"`
	LastClickAt       *time.Time   `json:"lastClickAt,omitempty"`
	CentroidLat       float64      `json:"centroidLat"`
	CentroidLon       float64      `json:"centroidLon"`
	Polygon           [][2]float64 `json:"polygon"` // closed ring of [lat, lon]
}

// Event is one append-only audit log row.
type Event struct {
	ID         string          `json:"id"`
	TriangleID string          `json:"triangleId"`
	Kind       string          `json:"kind"`
	Timestamp  time.Time       `json:"timestamp"`
	Account    string          `json:"account"`
	Nonce      string          `json:"nonce"`
	Signature  string          `json:"signature,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// ClickEventPayload is the type-specific payload stored on click events.
type ClickEventPayload struct {
	Miner       string  `json:"miner"`
	RewardMicro int64   `json:"rewardMicro"`
	ClickNumber int     `json:"clickNumber"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Accuracy    float64 `json:"accuracy"`
	SpeedMps    float64 `json:"speedMps,omitempty"`
	ClientTime  string  `json:"clientTime"`
}

// SubdivideEventPayload is the type-specific payload stored on subdivide events.
type SubdivideEventPayload struct {
	ParentID string   `json:"parentId"`
	ChildIDs []string `json:"childIds"`
	OldLevel int      `json:"oldLevel"`
	NewLevel int      `json:"newLevel"`
}

// Account holds a miner balance in micro-STEP (1 STEP = 10^6 micro).
// Balances are arbitrary-precision and monotonically non-decreasing.
type Account struct {
	Address string   `json:"address"`
	Balance *big.Int `json:"balance"`
}

// ClickOutcome is what the atomic click transaction reports back.
type ClickOutcome struct {
	Clicks     int
	State      string
	Balance    *big.Int // account balance after crediting, micro-STEP
	Subdivided bool
	ChildIDs   []string
}
