package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stepmesh/proof-engine/internal/db"
	"github.com/stepmesh/proof-engine/internal/engine"
	"github.com/stepmesh/proof-engine/internal/heuristics"
	"github.com/stepmesh/proof-engine/internal/mesh"
)

// Mesh endpoints are pure functions of the triangle algebra (info/:id also
// consults the store for live state). They share the {ok, result, timestamp}
// envelope.

const (
	defaultSearchResults = 100
	maxSearchResults     = 1000
	defaultNearestCount  = 5
	maxNearestCount      = 50
)

func meshOK(c *gin.Context, result any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result, "timestamp": stamp()})
}

func meshFail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"ok":        false,
		"error":     gin.H{"code": code, "message": message},
		"timestamp": stamp(),
	})
}

func meshBadRequest(c *gin.Context, message string) {
	meshFail(c, http.StatusBadRequest, "InvalidPayload", message)
}

func queryFloat(c *gin.Context, key string) (float64, bool) {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	return v, err == nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return fallback
}

// triangleSummary is the common read-model of one mesh cell.
func triangleSummary(id string, includePolygon bool) (gin.H, error) {
	face, level, path, err := mesh.Decode(id)
	if err != nil {
		return nil, err
	}
	lat, lon, err := mesh.Centroid(id)
	if err != nil {
		return nil, err
	}
	out := gin.H{
		"triangleId": id,
		"face":       face,
		"level":      level,
		"path":       mesh.PathString(path),
		"centroid":   gin.H{"lat": lat, "lon": lon},
		// Kilometers.
		"estimatedSideLength": mesh.EstimatedSideKm(level),
	}
	if includePolygon {
		poly, err := mesh.Polygon(id)
		if err != nil {
			return nil, err
		}
		out["polygon"] = poly
	}
	return out, nil
}

func (h *Handler) handleTriangleAt(c *gin.Context) {
	lat, ok1 := queryFloat(c, "lat")
	lon, ok2 := queryFloat(c, "lon")
	if !ok1 || !ok2 {
		meshBadRequest(c, "lat and lon query parameters are required")
		return
	}
	level := queryInt(c, "level", 10)
	id, err := mesh.Locate(lat, lon, level)
	if err != nil {
		meshBadRequest(c, err.Error())
		return
	}
	result, err := triangleSummary(id, c.Query("includePolygon") == "true")
	if err != nil {
		meshFail(c, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	meshOK(c, result)
}

func (h *Handler) handlePolygon(c *gin.Context) {
	id := c.Param("id")
	poly, err := mesh.Polygon(id)
	if err != nil {
		meshBadRequest(c, err.Error())
		return
	}
	result := gin.H{"triangleId": id, "polygon": poly}
	if c.Query("includeMetadata") == "true" {
		lat, lon, _ := mesh.Centroid(id)
		area, _ := mesh.AreaKm2(id)
		perimeter, _ := mesh.PerimeterKm(id)
		result["centroid"] = gin.H{"lat": lat, "lon": lon}
		result["areaKm2"] = area
		result["perimeterKm"] = perimeter
	}
	meshOK(c, result)
}

func (h *Handler) handleChildren(c *gin.Context) {
	id := c.Param("id")
	children, err := mesh.Children(id)
	if err != nil {
		meshBadRequest(c, err.Error())
		return
	}
	meshOK(c, gin.H{"triangleId": id, "children": children[:]})
}

func (h *Handler) handleParent(c *gin.Context) {
	id := c.Param("id")
	parent, err := mesh.Parent(id)
	if err != nil {
		meshBadRequest(c, err.Error())
		return
	}
	meshOK(c, gin.H{"triangleId": id, "parent": parent})
}

// handleSearch samples the bbox on a grid finer than the triangle side and
// deduplicates the located cells. bbox = minLat,minLon,maxLat,maxLon.
func (h *Handler) handleSearch(c *gin.Context) {
	var box [4]float64
	n, err := parseBBox(c.Query("bbox"), &box)
	if err != nil || n != 4 {
		meshBadRequest(c, "bbox must be minLat,minLon,maxLat,maxLon")
		return
	}
	minLat, minLon, maxLat, maxLon := box[0], box[1], box[2], box[3]
	if minLat > maxLat || minLon > maxLon {
		meshBadRequest(c, "bbox is inverted")
		return
	}
	level := queryInt(c, "level", 10)
	if level < 1 || level > mesh.MaxLevel {
		meshBadRequest(c, "level out of range")
		return
	}
	maxResults := queryInt(c, "maxResults", defaultSearchResults)
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}
	includePolygon := c.Query("includePolygon") == "true"

	// Half a side length in degrees guarantees every cell overlapping the
	// box is hit by at least one sample.
	stepDeg := mesh.EstimatedSideKm(level) / 111.0 / 2
	if stepDeg <= 0 {
		stepDeg = 0.001
	}
	seen := make(map[string]bool)
	var results []gin.H
	for lat := minLat; lat <= maxLat+stepDeg; lat += stepDeg {
		for lon := minLon; lon <= maxLon+stepDeg; lon += stepDeg {
			id, err := mesh.Locate(clampLat(lat), clampLon(lon), level)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			summary, err := triangleSummary(id, includePolygon)
			if err != nil {
				continue
			}
			results = append(results, summary)
			if len(results) >= maxResults {
				meshOK(c, gin.H{"count": len(results), "truncated": true, "triangles": results})
				return
			}
		}
	}
	meshOK(c, gin.H{"count": len(results), "truncated": false, "triangles": results})
}

func parseBBox(s string, out *[4]float64) (int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return len(parts), errors.New("bbox needs four numbers")
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return i, err
		}
		out[i] = v
	}
	return 4, nil
}

func clampLat(v float64) float64 {
	if v > 90 {
		return 90
	}
	if v < -90 {
		return -90
	}
	return v
}

func clampLon(v float64) float64 {
	for v > 180 {
		v -= 360
	}
	for v < -180 {
		v += 360
	}
	return v
}

// handleNearest locates the containing cell and ranks the sampled
// neighborhood by centroid distance.
func (h *Handler) handleNearest(c *gin.Context) {
	lat, ok1 := queryFloat(c, "lat")
	lon, ok2 := queryFloat(c, "lon")
	if !ok1 || !ok2 {
		meshBadRequest(c, "lat and lon query parameters are required")
		return
	}
	level := queryInt(c, "level", 10)
	if level < 1 || level > mesh.MaxLevel {
		meshBadRequest(c, "level out of range")
		return
	}
	count := queryInt(c, "count", defaultNearestCount)
	if count > maxNearestCount {
		count = maxNearestCount
	}

	// Sample a 7x7 grid spanning three side lengths around the point. That
	// covers the containing cell and its full ring of neighbors.
	stepDeg := mesh.EstimatedSideKm(level) / 111.0 / 2
	seen := make(map[string]bool)
	type candidate struct {
		id        string
		distanceM float64
	}
	var candidates []candidate
	for dy := -3; dy <= 3; dy++ {
		for dx := -3; dx <= 3; dx++ {
			id, err := mesh.Locate(clampLat(lat+float64(dy)*stepDeg), clampLon(lon+float64(dx)*stepDeg), level)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			cLat, cLon, err := mesh.Centroid(id)
			if err != nil {
				continue
			}
			candidates = append(candidates, candidate{id, heuristics.HaversineM(lat, lon, cLat, cLon)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distanceM < candidates[j].distanceM })
	if len(candidates) > count {
		candidates = candidates[:count]
	}

	results := make([]gin.H, 0, len(candidates))
	for _, cand := range candidates {
		summary, err := triangleSummary(cand.id, false)
		if err != nil {
			continue
		}
		summary["distanceM"] = cand.distanceM
		results = append(results, summary)
	}
	meshOK(c, gin.H{"count": len(results), "triangles": results})
}

// handleInfo merges the algebraic view of a cell with its persisted state,
// when the store has materialized it.
func (h *Handler) handleInfo(c *gin.Context) {
	id := c.Param("id")
	result, err := triangleSummary(id, true)
	if err != nil {
		meshBadRequest(c, err.Error())
		return
	}
	if parent, err := mesh.Parent(id); err == nil {
		result["parent"] = parent
	}
	if children, err := mesh.Children(id); err == nil {
		result["childIds"] = children[:]
	}
	if area, err := mesh.AreaKm2(id); err == nil {
		result["areaKm2"] = area
	}

	if h.store != nil {
		record, err := h.store.GetTriangle(c.Request.Context(), id)
		switch {
		case err == nil:
			result["state"] = record.State
			result["clicks"] = record.Clicks
			result["lastClickAt"] = record.LastClickAt
			result["materialized"] = true
		case errors.Is(err, db.ErrNotFound):
			result["materialized"] = false
		default:
			meshFail(c, http.StatusInternalServerError, "InternalError", err.Error())
			return
		}
	}
	meshOK(c, result)
}

// handleStats reports per-level cell counts and scale. Pure algebra; the
// counts are totals of the full mesh, not of materialized rows.
func (h *Handler) handleStats(c *gin.Context) {
	levelStat := func(level int) gin.H {
		return gin.H{
			"level":               level,
			"triangles":           mesh.TrianglesAtLevel(level),
			"estimatedSideLength": mesh.EstimatedSideKm(level),
			"rewardMicroStep":     engine.RewardMicro(level),
		}
	}
	if q := c.Query("level"); q != "" {
		level, err := strconv.Atoi(q)
		if err != nil || level < 1 || level > mesh.MaxLevel {
			meshBadRequest(c, "level out of range")
			return
		}
		meshOK(c, levelStat(level))
		return
	}
	levels := make([]gin.H, 0, mesh.MaxLevel)
	for level := 1; level <= mesh.MaxLevel; level++ {
		levels = append(levels, levelStat(level))
	}
	meshOK(c, gin.H{"faces": mesh.NumFaces, "maxLevel": mesh.MaxLevel, "levels": levels})
}
