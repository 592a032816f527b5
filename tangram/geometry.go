package tangram

import "math"

// Canonical feature-angle offsets. Triangle pieces report their rotation
// relative to the right-angle corner, while target transforms encode the
// hypotenuse direction, so the two sides fold with different offsets before
// any comparison.
const (
	pieceTriangleOffset  = 3 * math.Pi / 4
	targetTriangleOffset = math.Pi / 4
)

// NormalizeAngle wraps an angle in radians into [-pi, pi].
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// AngleDelta returns the signed difference a-b normalized into [-pi, pi].
func AngleDelta(a, b float64) float64 {
	return NormalizeAngle(a - b)
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// SymmetryPeriod returns the rotational symmetry period for a piece type:
// pi/2 for the square (4-fold), pi for triangles and the parallelogram
// (2-fold). Rotating a piece by its period produces a visually identical
// placement.
func SymmetryPeriod(t PieceType) float64 {
	if t == PieceSquare {
		return math.Pi / 2
	}
	return math.Pi
}

// SymmetricAngleDistance returns the minimal absolute angular distance
// between a and b under the given symmetry period. A period <= 0 compares
// plain normalized angles.
func SymmetricAngleDistance(a, b, period float64) float64 {
	d := math.Abs(AngleDelta(a, b))
	if period <= 0 {
		return d
	}
	d = math.Mod(d, period)
	if d > period/2 {
		d = period - d
	}
	return d
}

// PieceFeatureAngle folds an observed rotation into the piece's canonical
// feature angle: feature = rotation + (flipped ? -offset : +offset), with
// offset 3pi/4 for triangles and 0 for the square and parallelogram.
func PieceFeatureAngle(rotation float64, flipped bool, t PieceType) float64 {
	off := 0.0
	if t.IsTriangle() {
		off = pieceTriangleOffset
	}
	if flipped {
		off = -off
	}
	return NormalizeAngle(rotation + off)
}

// TargetFeatureAngle folds a target rotation into feature space. Targets use
// offset pi/4 for triangles and 0 otherwise.
func TargetFeatureAngle(rotation float64, flipped bool, t PieceType) float64 {
	off := 0.0
	if t.IsTriangle() {
		off = targetTriangleOffset
	}
	if flipped {
		off = -off
	}
	return NormalizeAngle(rotation + off)
}

// FeatureAngleDistance returns the symmetric distance between an observed
// pose's feature angle and a target's feature angle, in radians.
func FeatureAngleDistance(pieceRot float64, pieceFlipped bool, targetRot float64, targetFlipped bool, t PieceType) float64 {
	pf := PieceFeatureAngle(pieceRot, pieceFlipped, t)
	tf := TargetFeatureAngle(targetRot, targetFlipped, t)
	return SymmetricAngleDistance(pf, tf, SymmetryPeriod(t))
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Centroid returns the mean of a point set, or the origin for an empty set.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(points))
	return Point{X: sx / n, Y: sy / n}
}

// Add returns a + b.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns a - b.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Scale returns p scaled by s.
func (p Point) Scale(s float64) Point { return Point{X: p.X * s, Y: p.Y * s} }

// Bearing returns the angle of the vector from p to q, in radians.
func Bearing(p, q Point) float64 {
	return math.Atan2(q.Y-p.Y, q.X-p.X)
}

// Rotate returns p rotated by the given angle about the origin.
func (p Point) Rotate(rad float64) Point {
	s, c := math.Sincos(rad)
	return Point{X: c*p.X - s*p.Y, Y: s*p.X + c*p.Y}
}

// RotateAbout returns p rotated by the given angle about center.
func (p Point) RotateAbout(rad float64, center Point) Point {
	return p.Sub(center).Rotate(rad).Add(center)
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}
