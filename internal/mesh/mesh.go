package mesh

// Subdivision of a spherical triangle (A, B, C) produces four children in a
// frozen order:
//
//	0  A-corner  (A,   Mab, Mca)
//	1  B-corner  (Mab, B,   Mbc)
//	2  C-corner  (Mca, Mbc, C)
//	3  center    (Mab, Mbc, Mca)
//
// where Mxy is the geodesic midpoint of x and y. The ordering is serialized
// in paths and the event log and must never change. Corner children inherit
// the parent winding; the medial (center) child keeps it too, so every
// triangle in the mesh stays counter-clockwise.

func childVertices(a, b, c Vec3, digit int) (Vec3, Vec3, Vec3) {
	mab := Midpoint(a, b)
	mbc := Midpoint(b, c)
	mca := Midpoint(c, a)
	switch digit {
	case 0:
		return a, mab, mca
	case 1:
		return mab, b, mbc
	case 2:
		return mca, mbc, c
	default:
		return mab, mbc, mca
	}
}

// Vertices resolves an id to its three corner unit vectors by walking the
// path from the root face.
func Vertices(id string) (Vec3, Vec3, Vec3, error) {
	face, _, path, err := Decode(id)
	if err != nil {
		return Vec3{}, Vec3{}, Vec3{}, err
	}
	a, b, c := FaceVertices(face)
	for _, d := range path {
		a, b, c = childVertices(a, b, c, d)
	}
	return a, b, c, nil
}

// Children returns the four child ids of a triangle, in subdivision order.
func Children(id string) ([4]string, error) {
	var out [4]string
	face, level, path, err := Decode(id)
	if err != nil {
		return out, err
	}
	if level >= MaxLevel {
		return out, ErrMaxLevel
	}
	for d := 0; d < 4; d++ {
		child := make([]int, len(path), len(path)+1)
		copy(child, path)
		child = append(child, d)
		out[d], err = Encode(face, level+1, child)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Parent returns the parent id of a non-root triangle.
func Parent(id string) (string, error) {
	face, level, path, err := Decode(id)
	if err != nil {
		return "", err
	}
	if level <= 1 {
		return "", ErrRootLevel
	}
	return Encode(face, level-1, path[:len(path)-1])
}

// Polygon returns the triangle boundary as a closed counter-clockwise ring
// of [lat, lon] points (four entries, last equals first).
func Polygon(id string) ([][2]float64, error) {
	a, b, c, err := Vertices(id)
	if err != nil {
		return nil, err
	}
	ring := make([][2]float64, 0, 4)
	for _, v := range []Vec3{a, b, c, a} {
		lat, lon := v.ToLatLon()
		ring = append(ring, [2]float64{lat, lon})
	}
	return ring, nil
}

// Centroid returns the spherical centroid of a triangle: the normalized mean
// of its three vertices.
func Centroid(id string) (lat, lon float64, err error) {
	a, b, c, err := Vertices(id)
	if err != nil {
		return 0, 0, err
	}
	lat, lon = a.Add(b).Add(c).Normalize().ToLatLon()
	return lat, lon, nil
}
