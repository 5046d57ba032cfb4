package heuristics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stepmesh/proof-engine/pkg/models"
)

// Cell-tower cross-check: the serving tower's known position is looked up in
// an external database and compared against the reported GPS fix. A fix far
// from its serving tower is the strongest fraud signal this engine has.
// Lookup failure degrades to 0 points, never a rejection.

// CellMaxPoints is the cell-tower share of the confidence budget.
const CellMaxPoints = 10

// Distance buckets in meters and their awarded points.
const (
	cellNearM = 10000
	cellMidM  = 25000
	cellFarM  = 50000
)

// TowerLocator resolves a cell identity to tower coordinates.
type TowerLocator interface {
	Locate(ctx context.Context, cell *models.CellInfo) (lat, lon float64, err error)
}

// CellScore buckets the tower-to-fix distance into confidence points.
func CellScore(ctx context.Context, locator TowerLocator, cell *models.CellInfo, gpsLat, gpsLon float64) int {
	if cell == nil || locator == nil {
		return 0
	}
	towerLat, towerLon, err := locator.Locate(ctx, cell)
	if err != nil {
		log.Printf("Cell tower lookup failed for mcc=%d mnc=%d cid=%d: %v", cell.MCC, cell.MNC, cell.CellID, err)
		return 0
	}
	return scoreTowerDistance(HaversineM(gpsLat, gpsLon, towerLat, towerLon))
}

func scoreTowerDistance(distanceM float64) int {
	switch {
	case distanceM < cellNearM:
		return 10
	case distanceM < cellMidM:
		return 7
	case distanceM < cellFarM:
		return 4
	default:
		return 0
	}
}

// HTTPTowerLocator queries a free global cell database first and falls back
// to a keyed commercial service when the primary misses.
type HTTPTowerLocator struct {
	Client      *http.Client
	PrimaryURL  string
	FallbackURL string
	APIKey      string
}

// NewHTTPTowerLocator wires a locator with its own short-timeout client.
func NewHTTPTowerLocator(primaryURL, fallbackURL, apiKey string, timeout time.Duration) *HTTPTowerLocator {
	return &HTTPTowerLocator{
		Client:      &http.Client{Timeout: timeout},
		PrimaryURL:  primaryURL,
		FallbackURL: fallbackURL,
		APIKey:      apiKey,
	}
}

type towerResponse struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Locate implements TowerLocator.
func (l *HTTPTowerLocator) Locate(ctx context.Context, cell *models.CellInfo) (float64, float64, error) {
	lat, lon, err := l.query(ctx, l.PrimaryURL, cell, "")
	if err == nil {
		return lat, lon, nil
	}
	if l.FallbackURL == "" {
		return 0, 0, err
	}
	return l.query(ctx, l.FallbackURL, cell, l.APIKey)
}

func (l *HTTPTowerLocator) query(ctx context.Context, base string, cell *models.CellInfo, apiKey string) (float64, float64, error) {
	if base == "" {
		return 0, 0, fmt.Errorf("no tower lookup endpoint configured")
	}
	q := url.Values{}
	q.Set("mcc", strconv.Itoa(cell.MCC))
	q.Set("mnc", strconv.Itoa(cell.MNC))
	q.Set("cellid", strconv.FormatInt(cell.CellID, 10))
	if cell.TAC != 0 {
		q.Set("tac", strconv.Itoa(cell.TAC))
	}
	if apiKey != "" {
		q.Set("key", apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("tower lookup returned %d", resp.StatusCode)
	}
	var body towerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, err
	}
	if body.Lat == 0 && body.Lon == 0 {
		return 0, 0, fmt.Errorf("tower not found")
	}
	return body.Lat, body.Lon, nil
}
