package mesh

import "math"

// Vec3 is a point on (or near) the unit sphere in earth-centered coordinates.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalize projects v onto the unit sphere. The zero vector is returned
// unchanged; callers never produce it from distinct sphere points.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return Vec3{v.X / n, v.Y / n, v.Z / n}
}

// Midpoint is the geodesic midpoint of two unit vectors: the unit-normalized
// sum. This is the subdivision primitive for the whole mesh.
func Midpoint(a, b Vec3) Vec3 {
	return a.Add(b).Normalize()
}

// FromLatLon converts geodetic degrees to a unit vector.
func FromLatLon(lat, lon float64) Vec3 {
	latR := lat * math.Pi / 180
	lonR := lon * math.Pi / 180
	cosLat := math.Cos(latR)
	return Vec3{
		cosLat * math.Cos(lonR),
		cosLat * math.Sin(lonR),
		math.Sin(latR),
	}
}

// ToLatLon converts a unit vector back to geodetic degrees.
func (v Vec3) ToLatLon() (lat, lon float64) {
	u := v.Normalize()
	lat = math.Asin(math.Max(-1, math.Min(1, u.Z))) * 180 / math.Pi
	lon = math.Atan2(u.Y, u.X) * 180 / math.Pi
	return lat, lon
}
