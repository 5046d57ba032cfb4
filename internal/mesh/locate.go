package mesh

import (
	"fmt"
	"math"
)

// Containment on the sphere: a point is inside a counter-clockwise spherical
// triangle when it sits on the left of (or on) each directed edge, i.e. when
// (x × y) · p is non-negative for every edge. The edge normal is unit-length
// so the margin is the sine of the angular distance from the edge's great
// circle; that keeps the test well-conditioned even for level-21 triangles
// whose raw triple products underflow toward zero. The epsilon absorbs
// rounding at shared edges; the deterministic descent rule below makes edge
// ties stable anyway.
const edgeEps = 1e-12

func edgeSide(x, y, p Vec3) float64 {
	return x.Cross(y).Normalize().Dot(p)
}

// Levels up to sphericalMaxLevel are tested with spherical containment;
// deeper triangles are small enough (~225 km sides and below) for the planar
// polygon approximation.
const sphericalMaxLevel = 5

func containsSpherical(a, b, c, p Vec3) bool {
	return edgeSide(a, b, p) >= -edgeEps &&
		edgeSide(b, c, p) >= -edgeEps &&
		edgeSide(c, a, p) >= -edgeEps
}

// edgeMargin is how far inside (positive) or outside (negative) p sits,
// measured as the smallest angular edge distance. Used as a tiebreaker when
// rounding leaves a point claimed by no child.
func edgeMargin(a, b, c, p Vec3) float64 {
	m := edgeSide(a, b, p)
	if v := edgeSide(b, c, p); v < m {
		m = v
	}
	if v := edgeSide(c, a, p); v < m {
		m = v
	}
	return m
}

// containsPlanar runs even-odd ray casting over the lat/lon ring. Longitudes
// are unwrapped around the first vertex so triangles straddling the
// antimeridian behave.
func containsPlanar(ring [][2]float64, lat, lon float64) bool {
	ref := ring[0][1]
	unwrap := func(l float64) float64 {
		for l-ref > 180 {
			l -= 360
		}
		for l-ref < -180 {
			l += 360
		}
		return l
	}
	x := unwrap(lon)
	inside := false
	for i := 0; i < len(ring)-1; i++ {
		y1, x1 := ring[i][0], unwrap(ring[i][1])
		y2, x2 := ring[i+1][0], unwrap(ring[i+1][1])
		if (y1 > lat) != (y2 > lat) {
			xint := x1 + (lat-y1)/(y2-y1)*(x2-x1)
			if x < xint {
				inside = !inside
			}
		}
	}
	return inside
}

// PointInTriangle reports whether a geodetic point lies inside the triangle.
// Shallow levels use spherical containment; deep levels the planar ring.
func PointInTriangle(lat, lon float64, id string) (bool, error) {
	_, level, _, err := Decode(id)
	if err != nil {
		return false, err
	}
	if level <= sphericalMaxLevel {
		a, b, c, err := Vertices(id)
		if err != nil {
			return false, err
		}
		return containsSpherical(a, b, c, FromLatLon(lat, lon)), nil
	}
	ring, err := Polygon(id)
	if err != nil {
		return false, err
	}
	return containsPlanar(ring, lat, lon), nil
}

// Locate descends the mesh to the triangle containing a point at the given
// level. At each step the children are tried in subdivision order and the
// first container wins, so points on shared edges deterministically resolve
// to the smallest path digit. A child is always found: when rounding leaves
// the point marginally outside all four, the child with the largest edge
// margin is taken.
func Locate(lat, lon float64, level int) (string, error) {
	if level < 1 || level > MaxLevel {
		return "", fmt.Errorf("%w: level %d out of range", ErrMalformedID, level)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("%w: coordinates out of range", ErrMalformedID)
	}
	p := FromLatLon(lat, lon)

	face := -1
	bestMargin := math.Inf(-1)
	for f := 0; f < NumFaces; f++ {
		a, b, c := FaceVertices(f)
		if containsSpherical(a, b, c, p) {
			face = f
			break
		}
		if m := edgeMargin(a, b, c, p); m > bestMargin {
			bestMargin = m
			face = f
		}
	}

	a, b, c := FaceVertices(face)
	path := make([]int, 0, level-1)
	for l := 2; l <= level; l++ {
		picked := -1
		bestMargin = math.Inf(-1)
		var pa, pb, pc Vec3
		for d := 0; d < 4; d++ {
			ca, cb, cc := childVertices(a, b, c, d)
			if containsSpherical(ca, cb, cc, p) {
				picked, pa, pb, pc = d, ca, cb, cc
				break
			}
			if m := edgeMargin(ca, cb, cc, p); m > bestMargin {
				bestMargin = m
				picked, pa, pb, pc = d, ca, cb, cc
			}
		}
		path = append(path, picked)
		a, b, c = pa, pb, pc
	}
	return Encode(face, level, path)
}
