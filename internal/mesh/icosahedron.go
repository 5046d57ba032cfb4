package mesh

import "math"

// Base icosahedron. The 12 vertices are the cyclic golden-ratio rectangles,
// unit-normalized; the 20 faces use the published corner ordering below.
// Face winding is counter-clockwise seen from outside the sphere, which the
// containment tests and the polygon invariant both rely on. The ordering is
// frozen: child indices derived from it are serialized in triangle paths and
// in the event log.

// NumFaces is the number of root triangles (level 1).
const NumFaces = 20

// MaxLevel is the deepest mesh level; level-21 triangles cannot subdivide.
const MaxLevel = 21

// BaseEdgeKm approximates the side length of a level-1 triangle. Each level
// halves it.
const BaseEdgeKm = 7200.0

var icoVerts [12]Vec3

var icoFaces = [NumFaces][3]int{
	{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
	{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
	{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
	{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
}

func init() {
	phi := (1 + math.Sqrt(5)) / 2
	raw := [12]Vec3{
		{-1, phi, 0}, {1, phi, 0}, {-1, -phi, 0}, {1, -phi, 0},
		{0, -1, phi}, {0, 1, phi}, {0, -1, -phi}, {0, 1, -phi},
		{phi, 0, -1}, {phi, 0, 1}, {-phi, 0, -1}, {-phi, 0, 1},
	}
	for i, v := range raw {
		icoVerts[i] = v.Normalize()
	}
}

// FaceVertices returns the three corner unit vectors (A, B, C) of a root face.
func FaceVertices(face int) (Vec3, Vec3, Vec3) {
	f := icoFaces[face]
	return icoVerts[f[0]], icoVerts[f[1]], icoVerts[f[2]]
}

// EstimatedSideKm returns the approximate triangle edge length at a level.
func EstimatedSideKm(level int) float64 {
	return BaseEdgeKm / math.Pow(2, float64(level-1))
}

// TrianglesAtLevel returns the total cell count of a level: 20 * 4^(level-1).
func TrianglesAtLevel(level int) float64 {
	return NumFaces * math.Pow(4, float64(level-1))
}
