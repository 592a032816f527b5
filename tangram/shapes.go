package tangram

import (
	"math"

	"github.com/paulmach/orb"
)

// CanonicalUnit is the scene length of one small-triangle leg. All canonical
// outlines are authored in multiples of it, so piece sizes stay consistent
// with the tolerances in ValidationConfig.
const CanonicalUnit = 80.0

// sqrt2 in canonical-unit helpers below.
var sqrt2 = math.Sqrt2

// CanonicalOutline returns the vertex ring of a piece in its local frame,
// unrotated and unflipped, in scene units. The ring is open (first vertex
// not repeated); callers closing paths append the first point themselves.
func CanonicalOutline(t PieceType) orb.Ring {
	u := CanonicalUnit
	switch t {
	case PieceSmallTriangle1, PieceSmallTriangle2:
		return orb.Ring{{0, 0}, {u, 0}, {0, u}}
	case PieceMediumTriangle:
		return orb.Ring{{0, 0}, {sqrt2 * u, 0}, {0, sqrt2 * u}}
	case PieceLargeTriangle1, PieceLargeTriangle2:
		return orb.Ring{{0, 0}, {2 * u, 0}, {0, 2 * u}}
	case PieceSquare:
		return orb.Ring{{0, 0}, {u, 0}, {u, u}, {0, u}}
	case PieceParallelogram:
		return orb.Ring{
			{0, 0},
			{sqrt2 * u, 0},
			{1.5 * sqrt2 * u, 0.5 * sqrt2 * u},
			{0.5 * sqrt2 * u, 0.5 * sqrt2 * u},
		}
	}
	return nil
}

// CanonicalCentroid returns the centroid of the canonical outline in the
// piece's local frame.
func CanonicalCentroid(t PieceType) Point {
	u := CanonicalUnit
	switch t {
	case PieceSmallTriangle1, PieceSmallTriangle2:
		return Point{X: u / 3, Y: u / 3}
	case PieceMediumTriangle:
		return Point{X: sqrt2 * u / 3, Y: sqrt2 * u / 3}
	case PieceLargeTriangle1, PieceLargeTriangle2:
		return Point{X: 2 * u / 3, Y: 2 * u / 3}
	case PieceSquare:
		return Point{X: u / 2, Y: u / 2}
	case PieceParallelogram:
		return Point{X: 0.75 * sqrt2 * u, Y: 0.25 * sqrt2 * u}
	}
	return Point{}
}

// PieceArea returns the area of a piece in scene units squared.
func PieceArea(t PieceType) float64 {
	u := CanonicalUnit
	switch t {
	case PieceSmallTriangle1, PieceSmallTriangle2:
		return u * u / 2
	case PieceMediumTriangle:
		return u * u
	case PieceLargeTriangle1, PieceLargeTriangle2:
		return 2 * u * u
	case PieceSquare:
		return u * u
	case PieceParallelogram:
		return u * u
	}
	return 0
}

// OutlineForPose places a piece's canonical outline at an observed pose:
// the outline is flipped (if set) and rotated about its centroid, then
// translated so the centroid lands on the pose position.
func OutlineForPose(t PieceType, pos Point, rotation float64, flipped bool) orb.Ring {
	canonical := CanonicalOutline(t)
	if canonical == nil {
		return nil
	}
	centroid := CanonicalCentroid(t)

	out := make(orb.Ring, len(canonical))
	s, c := math.Sincos(rotation)
	for i, v := range canonical {
		x := v[0] - centroid.X
		y := v[1] - centroid.Y
		if flipped {
			y = -y
		}
		out[i] = orb.Point{
			c*x - s*y + pos.X,
			s*x + c*y + pos.Y,
		}
	}
	return out
}

// ObservedOutline places an observation's outline in scene coordinates.
// Triangle rotations are reported relative to the right-angle corner while
// outlines are authored in the hypotenuse convention, so triangle rotations
// are re-based by the offset difference before placement.
func ObservedOutline(o PieceObservation) orb.Ring {
	rot := o.Rotation
	if o.Type.IsTriangle() {
		d := pieceTriangleOffset - targetTriangleOffset
		if o.IsFlipped {
			d = -d
		}
		rot = NormalizeAngle(rot + d)
	}
	return OutlineForPose(o.Type, o.Position, rot, o.IsFlipped)
}

// OutlineForTarget places a target's canonical outline through its stored
// affine transform into target space.
func OutlineForTarget(t TargetPiece) orb.Ring {
	canonical := CanonicalOutline(t.Type)
	if canonical == nil {
		return nil
	}
	out := make(orb.Ring, len(canonical))
	for i, v := range canonical {
		p := TransformPoint(Point{X: v[0], Y: v[1]}, t.Transform)
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

// RingBound returns the bounding box of a set of rings.
func RingBound(rings []orb.Ring) orb.Bound {
	var bound orb.Bound
	first := true
	for _, r := range rings {
		if len(r) == 0 {
			continue
		}
		b := r.Bound()
		if first {
			bound = b
			first = false
		} else {
			bound = bound.Union(b)
		}
	}
	return bound
}

// toOrbPoint converts an engine point to an orb point.
func toOrbPoint(p Point) orb.Point { return orb.Point{p.X, p.Y} }

// fromOrbPoint converts an orb point to an engine point.
func fromOrbPoint(p orb.Point) Point { return Point{X: p[0], Y: p[1]} }
