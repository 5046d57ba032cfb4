package heuristics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stepmesh/proof-engine/pkg/models"
)

type fixedLocator struct {
	lat, lon float64
	err      error
}

func (f fixedLocator) Locate(context.Context, *models.CellInfo) (float64, float64, error) {
	return f.lat, f.lon, f.err
}

func TestCellScore_DistanceBuckets(t *testing.T) {
	cases := []struct {
		distanceM float64
		want      int
	}{
		{500, 10},
		{9999, 10},
		{15000, 7},
		{40000, 4},
		{50000, 0},
		{2000000, 0},
	}
	for _, tc := range cases {
		if got := scoreTowerDistance(tc.distanceM); got != tc.want {
			t.Errorf("distance %.0f m scored %d, want %d", tc.distanceM, got, tc.want)
		}
	}
}

func TestCellScore_LookupFailureIsZero(t *testing.T) {
	cell := &models.CellInfo{MCC: 208, MNC: 1, CellID: 42}
	got := CellScore(context.Background(), fixedLocator{err: errors.New("service down")}, cell, 48.85, 2.29)
	if got != 0 {
		t.Errorf("lookup failure scored %d", got)
	}
	if got := CellScore(context.Background(), fixedLocator{lat: 48.86, lon: 2.30}, nil, 48.85, 2.29); got != 0 {
		t.Errorf("missing cell data scored %d", got)
	}
}

func TestCellScore_NearbyTower(t *testing.T) {
	// Tower ~1.3 km from the fix.
	cell := &models.CellInfo{MCC: 208, MNC: 1, CellID: 42}
	got := CellScore(context.Background(), fixedLocator{lat: 48.86, lon: 2.31}, cell, 48.8584, 2.2945)
	if got != 10 {
		t.Errorf("nearby tower scored %d, want 10", got)
	}
}

func TestHTTPTowerLocator_FallbackOnPrimaryMiss(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"lat": 48.86, "lon": 2.31}`))
	}))
	defer fallback.Close()

	loc := NewHTTPTowerLocator(primary.URL, fallback.URL, "secret", time.Second)
	lat, lon, err := loc.Locate(context.Background(), &models.CellInfo{MCC: 208, MNC: 1, CellID: 42})
	if err != nil {
		t.Fatalf("fallback lookup failed: %v", err)
	}
	if lat != 48.86 || lon != 2.31 {
		t.Errorf("tower at (%f, %f)", lat, lon)
	}
}
