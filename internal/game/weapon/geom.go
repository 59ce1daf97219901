package weapon

import "math"

// Vec3 is a 3D vector in world units.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Cross returns the cross product of v and o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Length returns the Euclidean magnitude of v.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalized returns v scaled to unit length, or the zero vector when v is zero.
func (v Vec3) Normalized() Vec3 {
	mag := v.Length()
	if mag == 0 {
		return Vec3{}
	}
	return v.Scale(1 / mag)
}

// IsZero reports whether all components are exactly zero.
func (v Vec3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

// Quat is a unit quaternion used to rotate fire directions.
type Quat struct {
	W, X, Y, Z float64
}

// QuatAxisAngle builds the quaternion rotating by deg degrees about axis.
//
// Precondition: axis should be unit length; it is normalized defensively.
func QuatAxisAngle(axis Vec3, deg float64) Quat {
	a := axis.Normalized()
	half := deg * math.Pi / 360
	s := math.Sin(half)
	return Quat{
		W: math.Cos(half),
		X: a.X * s,
		Y: a.Y * s,
		Z: a.Z * s,
	}
}

// Mul returns the Hamilton product q * o. Rotating by the product applies
// o first, then q.
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Rotate applies the rotation q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	// v' = q * (0, v) * conj(q), expanded to avoid allocating intermediates.
	u := Vec3{q.X, q.Y, q.Z}
	uv := Vec3{
		u.Y*v.Z - u.Z*v.Y,
		u.Z*v.X - u.X*v.Z,
		u.X*v.Y - u.Y*v.X,
	}
	uuv := Vec3{
		u.Y*uv.Z - u.Z*uv.Y,
		u.Z*uv.X - u.X*uv.Z,
		u.X*uv.Y - u.Y*uv.X,
	}
	return v.Add(uv.Scale(2 * q.W)).Add(uuv.Scale(2))
}
