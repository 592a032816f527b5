package tangram

import "math"

// TransformPoint applies an affine transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformPoints applies an affine transform to multiple points
func TransformPoints(points []Point, m AffineMatrix) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// RotationAngle extracts the rotation encoded by a transform via atan2(C, A),
// in radians.
func RotationAngle(m AffineMatrix) float64 {
	return math.Atan2(m.C, m.A)
}

// TransformAngle applies the rotation component of an affine transform to a
// local angle (radians). Returns the result normalized to [-pi, pi].
func TransformAngle(localAngle float64, m AffineMatrix) float64 {
	return NormalizeAngle(localAngle + RotationAngle(m))
}

// Determinant returns the determinant of the linear part of the transform.
func Determinant(m AffineMatrix) float64 {
	return m.A*m.D - m.B*m.C
}

// IsMirrored reports whether the transform reverses orientation (negative
// determinant). This is the flip-parity probe for parallelogram targets.
func IsMirrored(m AffineMatrix) bool {
	return Determinant(m) < 0
}

// IsFinite reports whether every entry of the transform is a finite number.
func (m AffineMatrix) IsFinite() bool {
	for _, v := range [6]float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
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

// InvertMatrix computes the inverse of an affine transform.
// Returns identity and false if the matrix is singular (determinant ~= 0);
// callers treat that as a skip-frame condition rather than propagating NaN.
func InvertMatrix(m AffineMatrix) (AffineMatrix, bool) {
	det := Determinant(m)
	if math.Abs(det) < 1e-10 {
		return Identity(), false
	}

	invDet := 1.0 / det
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}, true
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) AffineMatrix {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return AffineMatrix{A: cos, B: -sin, Tx: 0, C: sin, D: cos, Ty: 0}
}

// RotationAbout creates a rotation transform around an arbitrary center.
func RotationAbout(angle float64, center Point) AffineMatrix {
	rot := Rotation(angle)
	return AffineMatrix{
		A:  rot.A,
		B:  rot.B,
		Tx: center.X - (rot.A*center.X + rot.B*center.Y),
		C:  rot.C,
		D:  rot.D,
		Ty: center.Y - (rot.C*center.X + rot.D*center.Y),
	}
}

// Reflection creates an x-axis mirror transform. Composed with a rotation and
// translation it places flipped parallelogram targets.
func Reflection() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: -1, Ty: 0}
}

// PoseTransform creates a rotation + translation transform: rotation is
// applied first (around the origin), then the translation. With mirrored set,
// the canonical outline is reflected across the x axis before rotating.
func PoseTransform(angle float64, tx, ty float64, mirrored bool) AffineMatrix {
	m := Rotation(angle)
	if mirrored {
		m = MultiplyMatrices(m, Reflection())
	}
	m.Tx = tx
	m.Ty = ty
	return m
}

// RigidFromPairs computes the best rigid transform (rotation + translation,
// no scale) mapping source points onto target points.
//
// Zero pairs or mismatched lengths return identity and false. One pair gives
// a pure translation. Two pairs give the closed-form two-point solution with
// rotation taken from the bearing difference. Three or more pairs use
// Procrustes analysis: theta = atan2(h21-h12, h11+h22) over the centered
// clouds. Degenerate spans (coincident points) return identity and false.
func RigidFromPairs(source, target []Point) (AffineMatrix, bool) {
	n := len(source)
	if n == 0 || n != len(target) {
		return Identity(), false
	}

	if n == 1 {
		return Translation(target[0].X-source[0].X, target[0].Y-source[0].Y), true
	}

	if n == 2 {
		return rigidFromTwoPairs(source, target)
	}

	return rigidProcrustes(source, target)
}

// rigidFromTwoPairs computes rotation + translation from exactly 2 point
// pairs. Rotation is the bearing difference between the target and source
// segments; unlike a similarity fit, scale is fixed at 1 because pieces are
// rigid at a known size.
func rigidFromTwoPairs(source, target []Point) (AffineMatrix, bool) {
	sx := source[1].X - source[0].X
	sy := source[1].Y - source[0].Y
	tx := target[1].X - target[0].X
	ty := target[1].Y - target[0].Y

	if math.Hypot(sx, sy) < 1e-10 || math.Hypot(tx, ty) < 1e-10 {
		return Identity(), false
	}

	angle := math.Atan2(ty, tx) - math.Atan2(sy, sx)
	cos := math.Cos(angle)
	sin := math.Sin(angle)

	a, b, c, d := cos, -sin, sin, cos

	// Anchor the fit on the first pair: target[0] = transform(source[0])
	translateX := target[0].X - (a*source[0].X + b*source[0].Y)
	translateY := target[0].Y - (c*source[0].X + d*source[0].Y)

	return AffineMatrix{
		A: a, B: b, Tx: translateX,
		C: c, D: d, Ty: translateY,
	}, true
}

// rigidProcrustes computes the least-squares rigid transform for 3+ pairs.
func rigidProcrustes(source, target []Point) (AffineMatrix, bool) {
	srcCentroid := Centroid(source)
	tgtCentroid := Centroid(target)

	// Cross-covariance matrix H = sum tgt * src^T over the centered clouds
	// H = [h11 h12]
	//     [h21 h22]
	var h11, h12, h21, h22 float64
	for i := range source {
		sx := source[i].X - srcCentroid.X
		sy := source[i].Y - srcCentroid.Y
		tx := target[i].X - tgtCentroid.X
		ty := target[i].Y - tgtCentroid.Y

		h11 += tx * sx
		h12 += tx * sy
		h21 += ty * sx
		h22 += ty * sy
	}

	if math.Abs(h11+h22) < 1e-10 && math.Abs(h21-h12) < 1e-10 {
		return Identity(), false
	}

	// The optimal 2D rotation minimizing squared error is
	// theta = atan2(h21 - h12, h11 + h22)
	theta := math.Atan2(h21-h12, h11+h22)

	cos := math.Cos(theta)
	sin := math.Sin(theta)
	a, b, c, d := cos, -sin, sin, cos

	// t = tgtCentroid - R * srcCentroid
	tx := tgtCentroid.X - (a*srcCentroid.X + b*srcCentroid.Y)
	ty := tgtCentroid.Y - (c*srcCentroid.X + d*srcCentroid.Y)

	return AffineMatrix{A: a, B: b, Tx: tx, C: c, D: d, Ty: ty}, true
}
