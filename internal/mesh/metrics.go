package mesh

import "math"

const earthRadiusKm = 6371.0

// arc returns the central angle between two unit vectors. Atan2 keeps the
// result stable for the tiny angles of deep levels.
func arc(x, y Vec3) float64 {
	return math.Atan2(x.Cross(y).Norm(), x.Dot(y))
}

// PerimeterKm returns the great-circle boundary length of a triangle.
func PerimeterKm(id string) (float64, error) {
	a, b, c, err := Vertices(id)
	if err != nil {
		return 0, err
	}
	return (arc(a, b) + arc(b, c) + arc(c, a)) * earthRadiusKm, nil
}

// AreaKm2 returns the spherical triangle area via L'Huilier's theorem.
func AreaKm2(id string) (float64, error) {
	a, b, c, err := Vertices(id)
	if err != nil {
		return 0, err
	}
	ab, bc, ca := arc(a, b), arc(b, c), arc(c, a)
	s := (ab + bc + ca) / 2
	t := math.Tan(s/2) * math.Tan((s-ab)/2) * math.Tan((s-bc)/2) * math.Tan((s-ca)/2)
	if t < 0 {
		t = 0
	}
	excess := 4 * math.Atan(math.Sqrt(t))
	return excess * earthRadiusKm * earthRadiusKm, nil
}
