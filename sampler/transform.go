package sampler

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Point represents a 2D coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, D: 1}
}

// TransformPoint applies an affine transform to a point
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// InvertMatrix computes the inverse of an affine transform
// Returns identity if matrix is singular (determinant ~= 0)
func InvertMatrix(m AffineMatrix) AffineMatrix {
	det := m.A*m.D - m.B*m.C
	if math.Abs(det) < 1e-12 {
		return Identity()
	}
	invDet := 1.0 / det
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}
}

// Rotation creates a rotation matrix (angle in radians)
func Rotation(angle float64) AffineMatrix {
	cos, sin := math.Cos(angle), math.Sin(angle)
	return AffineMatrix{A: cos, B: -sin, C: sin, D: cos}
}

// Translation creates a translation matrix
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, Tx: tx, D: 1, Ty: ty}
}

// NormalizeYaw wraps an angle in radians into [-pi, pi]
func NormalizeYaw(yaw float64) float64 {
	for yaw < -math.Pi {
		yaw += 2 * math.Pi
	}
	for yaw > math.Pi {
		yaw -= 2 * math.Pi
	}
	return yaw
}

// Matrix returns the rigid transform that maps the pose's local frame into
// its parent frame
func (p Pose2D) Matrix() AffineMatrix {
	return MultiplyMatrices(Translation(p.X, p.Y), Rotation(p.Yaw))
}

// PoseFromMatrix recovers a pose from a rigid transform
func PoseFromMatrix(m AffineMatrix) Pose2D {
	return Pose2D{X: m.Tx, Y: m.Ty, Yaw: math.Atan2(m.C, m.A)}
}

// Compose returns p ⊕ q: the pose q, expressed in p's frame, lifted into
// p's parent frame
func (p Pose2D) Compose(q Pose2D) Pose2D {
	out := PoseFromMatrix(MultiplyMatrices(p.Matrix(), q.Matrix()))
	out.Yaw = NormalizeYaw(p.Yaw + q.Yaw)
	return out
}

// Inverse returns the pose that undoes p
func (p Pose2D) Inverse() Pose2D {
	out := PoseFromMatrix(InvertMatrix(p.Matrix()))
	out.Yaw = NormalizeYaw(-p.Yaw)
	return out
}

// Position returns the pose translation as a Point
func (p Pose2D) Position() Point {
	return Point{X: p.X, Y: p.Y}
}

// Displacement returns the planar distance and wrapped yaw difference from
// one pose to another
func Displacement(from, to Pose2D) (dist, dyaw float64) {
	dist = planar.Distance(orb.Point{from.X, from.Y}, orb.Point{to.X, to.Y})
	dyaw = NormalizeYaw(to.Yaw - from.Yaw)
	return dist, dyaw
}

// RotateVector rotates (x, y) by angle radians
func RotateVector(x, y, angle float64) (float64, float64) {
	p := TransformPoint(Point{X: x, Y: y}, Rotation(angle))
	return p.X, p.Y
}
