package tangram

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ai-power-rangers/bemo-app-sub011/hungarian"
)

// assignmentOutcome is the result of scoring one trial rotation.
type assignmentOutcome struct {
	total   float64 // summed bucket assignment cost, sentinel terms included
	matched int     // real (non-sentinel) piece-to-target correspondences
	ok      bool    // false on non-finite numerics; callers skip the frame
}

// EstablishOrUpdateMappingOptimized is the global path, used when two or
// more observed pieces are simultaneously available. Instead of committing
// to one anchor it grid-searches the group rotation and scores each trial
// angle with a per-type-bucket Hungarian assignment, so symmetric and
// ambiguous clusters resolve to the globally cheapest alignment.
//
// Results are cached per group keyed by the membership signature; a frame
// with unchanged membership returns the cached mapping without recomputing.
// Fewer than two observations, no targets, or degenerate numerics leave the
// cache untouched and return the previously cached mapping (possibly nil).
func (s *MappingService) EstablishOrUpdateMappingOptimized(groupID string, obs []PieceObservation, targets []TargetPiece) *AnchorMapping {
	g := s.group(groupID)
	if len(obs) < 2 || len(targets) == 0 {
		return g.mapping
	}

	ids := make([]string, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	sig := MembershipSignature(ids)
	if g.mapping != nil && g.signature == sig {
		return g.mapping
	}

	obsPoints := make([]Point, len(obs))
	for i, o := range obs {
		obsPoints[i] = o.Position
	}
	tgtPoints := make([]Point, len(targets))
	for i, t := range targets {
		tgtPoints[i] = t.Position()
	}
	obsCentroid := Centroid(obsPoints)
	tgtCentroid := Centroid(tgtPoints)

	// Coarse sweep over the full circle
	bestTheta := 0.0
	bestCost := math.Inf(1)
	for deg := 0.0; deg < 360.0; deg += s.cfg.RotationStepDeg {
		theta := DegToRad(deg)
		out := s.scoreRotation(theta, obs, targets, obsCentroid, tgtCentroid)
		if !out.ok {
			return g.mapping
		}
		if out.total < bestCost {
			bestCost = out.total
			bestTheta = theta
		}
	}

	// Fine sweep around the coarse winner
	coarseBest := bestTheta
	span := DegToRad(s.cfg.RotationStepDeg)
	step := DegToRad(s.cfg.FineStepDeg)
	for theta := coarseBest - span; theta <= coarseBest+span+1e-12; theta += step {
		out := s.scoreRotation(theta, obs, targets, obsCentroid, tgtCentroid)
		if !out.ok {
			return g.mapping
		}
		if out.total < bestCost {
			bestCost = out.total
			bestTheta = theta
		}
	}

	if math.IsInf(bestCost, 0) || math.IsNaN(bestCost) {
		return g.mapping
	}

	// Re-score the winner once for the matched count and confidence
	final := s.scoreRotation(bestTheta, obs, targets, obsCentroid, tgtCentroid)
	if !final.ok || final.matched == 0 {
		return g.mapping
	}

	// The anchor (first observation) fixes the translation exactly: its
	// cheapest assignable target under the same cost model receives it.
	anchor := obs[0]
	best := -1
	bestAnchorCost := math.Inf(1)
	for i, t := range targets {
		if !TypesAssignable(anchor.Type, t.Type) {
			continue
		}
		c := s.candidateCost(bestTheta, anchor, t, obsCentroid, tgtCentroid)
		if c < bestAnchorCost {
			bestAnchorCost = c
			best = i
		}
	}
	if best < 0 {
		return g.mapping
	}
	anchorTarget := targets[best]
	anchorTargetPos := anchorTarget.Position()

	translation := anchorTargetPos.Sub(anchor.Position.Rotate(bestTheta))

	flip := false
	if anchor.Type == PieceParallelogram {
		flip = anchor.IsFlipped != anchorTarget.IsFlipped()
	}

	version := 2
	if g.mapping != nil {
		version = g.mapping.Version + 1
	}

	avg := final.total / float64(final.matched)
	m := &AnchorMapping{
		Kind:            MappingGlobal,
		RotationDelta:   NormalizeAngle(bestTheta),
		Translation:     translation,
		FlipParity:      flip,
		AnchorPieceID:   anchor.ID,
		AnchorTargetID:  anchorTarget.ID,
		AnchorPiecePos:  anchor.Position,
		AnchorTargetPos: anchorTargetPos,
		Version:         version,
		PairCount:       final.matched,
		Confidence:      1.0 / (1.0 + avg/100.0),
	}
	s.install(groupID, m, sig)
	return m
}

// scoreRotation computes the total assignment cost for one trial rotation.
// Pieces and targets are bucketed by type family (twin triangles share a
// bucket, types never match across buckets); each bucket is solved as a
// minimum-cost assignment, rectangular buckets padded with the sentinel.
func (s *MappingService) scoreRotation(theta float64, obs []PieceObservation, targets []TargetPiece, obsCentroid, tgtCentroid Point) assignmentOutcome {
	obsBuckets := make(map[PieceType][]int)
	for i, o := range obs {
		f := o.Type.Family()
		obsBuckets[f] = append(obsBuckets[f], i)
	}
	tgtBuckets := make(map[PieceType][]int)
	for i, t := range targets {
		f := t.Type.Family()
		tgtBuckets[f] = append(tgtBuckets[f], i)
	}

	var total float64
	matched := 0
	for family, rows := range obsBuckets {
		cols := tgtBuckets[family]
		r, c := len(rows), len(cols)
		if c == 0 {
			// No target can ever take these pieces
			total += s.cfg.DisallowedCost * float64(r)
			continue
		}

		// Pad to r <= width so the solver accepts the shape; padded columns
		// carry the sentinel and count as unmatched.
		width := c
		if r > width {
			width = r
		}
		data := make([]float64, r*width)
		for ri, oi := range rows {
			for w := 0; w < width; w++ {
				cost := s.cfg.DisallowedCost
				if w < c {
					cost = s.candidateCost(theta, obs[oi], targets[cols[w]], obsCentroid, tgtCentroid)
					if math.IsNaN(cost) || math.IsInf(cost, 0) {
						return assignmentOutcome{}
					}
				}
				data[ri*width+w] = cost
			}
		}

		assignment, bucketTotal, err := hungarian.Solve(mat.NewDense(r, width, data))
		if err != nil {
			return assignmentOutcome{}
		}
		total += bucketTotal
		for _, col := range assignment {
			if col < c {
				matched++
			}
		}
	}

	return assignmentOutcome{total: total, matched: matched, ok: true}
}

// candidateCost is the per-pair cost at a trial rotation: weighted position
// distance plus weighted symmetric rotation distance in degrees. Positions
// are compared after rotating the observation about the observed centroid
// and translating centroid onto centroid.
func (s *MappingService) candidateCost(theta float64, o PieceObservation, t TargetPiece, obsCentroid, tgtCentroid Point) float64 {
	trial := tgtCentroid.Add(o.Position.Sub(obsCentroid).Rotate(theta))
	posDist := Distance(trial, t.Position())

	feature := NormalizeAngle(PieceFeatureAngle(o.Rotation, o.IsFlipped, o.Type) + theta)
	targetFeature := TargetFeatureAngle(t.Rotation(), t.IsFlipped(), t.Type)
	rotDist := SymmetricAngleDistance(feature, targetFeature, SymmetryPeriod(t.Type))

	return s.cfg.TranslationWeight*posDist + s.cfg.RotationWeight*RadToDeg(rotDist)
}
