package tangram

import "math"

// TargetPairRelation is one precomputed entry of the target pair library:
// the relative geometry of an ordered pair of targets. AxisAngle is the
// bearing from A to B measured relative to A's feature angle, which makes
// it invariant under the unknown group rotation.
type TargetPairRelation struct {
	TargetA   string
	TargetB   string
	TypeA     PieceType
	TypeB     PieceType
	Distance  float64 // mutual centroid distance
	AxisAngle float64 // radians, pair axis relative to A's feature angle
}

// PreferredPair names an explicit target-id pair the caller wants tried
// first (for example the two targets a player was last working on).
type PreferredPair struct {
	TargetA string
	TargetB string
}

// BuildTargetPairLibrary precomputes the pair relations for a puzzle's
// targets, both orderings of every distinct pair.
func BuildTargetPairLibrary(targets []TargetPiece) []TargetPairRelation {
	var lib []TargetPairRelation
	for i := range targets {
		for j := range targets {
			if i == j {
				continue
			}
			a, b := targets[i], targets[j]
			posA, posB := a.Position(), b.Position()
			axis := AngleDelta(Bearing(posA, posB), TargetFeatureAngle(a.Rotation(), a.IsFlipped(), a.Type))
			lib = append(lib, TargetPairRelation{
				TargetA:   a.ID,
				TargetB:   b.ID,
				TypeA:     a.Type,
				TypeB:     b.Type,
				Distance:  Distance(posA, posB),
				AxisAngle: axis,
			})
		}
	}
	return lib
}

// SelectWellConditionedPair picks the two observations whose relative
// geometry best conditions a two-point rigid fit: the most mutually distant
// pair. Pairs closer than MinPairSeparation are ill-conditioned, but when
// nothing better exists the most distant pair is still returned as the
// fallback. Fewer than two observations yield nils.
func SelectWellConditionedPair(obs []PieceObservation, cfg PairingConfig) (*PieceObservation, *PieceObservation) {
	if len(obs) < 2 {
		return nil, nil
	}

	bestI, bestJ := 0, 1
	bestDist := -1.0
	for i := 0; i < len(obs); i++ {
		for j := i + 1; j < len(obs); j++ {
			if d := Distance(obs[i].Position, obs[j].Position); d > bestDist {
				bestDist = d
				bestI, bestJ = i, j
			}
		}
	}

	return &obs[bestI], &obs[bestJ]
}

// MatchTargetPair finds the target pair the observed pair most plausibly
// corresponds to. Fallback order: the explicit preferred pair when supplied
// and type-compatible; the best library match by distance error plus
// weighted axis-angle error; the first type-compatible library entry.
// Returns false when no entry is type-compatible at all.
func MatchTargetPair(a, b PieceObservation, lib []TargetPairRelation, preferred *PreferredPair, cfg PairingConfig) (string, string, bool) {
	compatible := func(rel TargetPairRelation) bool {
		return TypesAssignable(a.Type, rel.TypeA) && TypesAssignable(b.Type, rel.TypeB)
	}

	if preferred != nil {
		for _, rel := range lib {
			if rel.TargetA == preferred.TargetA && rel.TargetB == preferred.TargetB && compatible(rel) {
				return rel.TargetA, rel.TargetB, true
			}
			if rel.TargetA == preferred.TargetB && rel.TargetB == preferred.TargetA && compatible(rel) {
				return rel.TargetA, rel.TargetB, true
			}
		}
	}

	obsDist := Distance(a.Position, b.Position)
	obsAxis := AngleDelta(Bearing(a.Position, b.Position), PieceFeatureAngle(a.Rotation, a.IsFlipped, a.Type))

	best := -1
	bestScore := math.Inf(1)
	firstCompatible := -1
	for i, rel := range lib {
		if !compatible(rel) {
			continue
		}
		if firstCompatible < 0 {
			firstCompatible = i
		}
		axisErr := SymmetricAngleDistance(obsAxis, rel.AxisAngle, SymmetryPeriod(a.Type))
		score := math.Abs(obsDist-rel.Distance) + cfg.BearingWeight*axisErr
		if score < bestScore {
			bestScore = score
			best = i
		}
	}

	if best >= 0 {
		return lib[best].TargetA, lib[best].TargetB, true
	}
	if firstCompatible >= 0 {
		return lib[firstCompatible].TargetA, lib[firstCompatible].TargetB, true
	}
	return "", "", false
}

// SolvePairMapping seeds a group mapping from exactly two piece-to-target
// correspondences via the closed-form two-point rigid fit (rotation from
// the bearing difference, no scale). The result installs as a global
// mapping with version 2 and pair count 2. A degenerate pair (coincident
// points) leaves the cache untouched and returns the previous mapping.
func (s *MappingService) SolvePairMapping(groupID string, members []string, a, b PieceObservation, ta, tb TargetPiece) *AnchorMapping {
	g := s.group(groupID)

	transform, ok := RigidFromPairs(
		[]Point{a.Position, b.Position},
		[]Point{ta.Position(), tb.Position()},
	)
	if !ok {
		return g.mapping
	}

	flip := false
	if a.Type == PieceParallelogram && a.IsFlipped != ta.IsFlipped() {
		flip = true
	}
	if b.Type == PieceParallelogram && b.IsFlipped != tb.IsFlipped() {
		flip = true
	}

	m := &AnchorMapping{
		Kind:            MappingGlobal,
		RotationDelta:   RotationAngle(transform),
		Translation:     Point{X: transform.Tx, Y: transform.Ty},
		FlipParity:      flip,
		AnchorPieceID:   a.ID,
		AnchorTargetID:  ta.ID,
		AnchorPiecePos:  a.Position,
		AnchorTargetPos: ta.Position(),
		Version:         2,
		PairCount:       2,
		Confidence:      0.7, // two corroborating pieces, not yet globally optimized
	}
	s.install(groupID, m, MembershipSignature(members))
	return m
}
