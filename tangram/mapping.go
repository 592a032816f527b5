package tangram

import "math"

// AnchorCandidate is the caller-computed description of the one observed
// piece chosen to seed a group mapping.
type AnchorCandidate struct {
	PieceID   string
	Type      PieceType
	Position  Point
	Rotation  float64 // radians
	IsFlipped bool
}

// TargetCandidate is one feasible target for the anchor, precomputed by the
// caller (typically the unconsumed targets of the active puzzle).
type TargetCandidate struct {
	TargetID  string
	Type      PieceType
	Position  Point
	Rotation  float64 // radians
	IsFlipped bool
}

// EstablishOptions carries the optional gates for the single-anchor path.
// Zero values disable each gate.
type EstablishOptions struct {
	MaxFeatureAngleDelta float64 // radians; reject anchors whose folded angle disagrees more than this
	RequireEdgeContact   bool    // reject anchors with no neighbor in contact range
	NeighborCount        int     // pieces within edge-contact distance of the anchor, caller-computed
}

// CorrespondencePair is one piece-to-target position correspondence handed
// to RefineMapping.
type CorrespondencePair struct {
	PieceID  string
	TargetID string
	Source   Point // observed position, scene frame
	Target   Point // matched target centroid, target frame
}

// groupState is the per-group slot of the mapping cache: the live mapping
// and the membership signature it was computed for.
type groupState struct {
	mapping   *AnchorMapping
	signature string
}

// MappingService owns the per-group mapping cache. It has no internal
// locking: all calls must come from the single frame-driving goroutine.
type MappingService struct {
	cfg    MappingConfig
	groups map[string]*groupState
}

// NewMappingService creates a mapping service with the given tuning.
func NewMappingService(cfg MappingConfig) *MappingService {
	return &MappingService{
		cfg:    cfg,
		groups: make(map[string]*groupState),
	}
}

func (s *MappingService) group(groupID string) *groupState {
	g, ok := s.groups[groupID]
	if !ok {
		g = &groupState{}
		s.groups[groupID] = g
	}
	return g
}

// Mapping returns the live mapping for a group, or nil.
func (s *MappingService) Mapping(groupID string) *AnchorMapping {
	if g, ok := s.groups[groupID]; ok {
		return g.mapping
	}
	return nil
}

// GroupSignature returns the membership signature the group's mapping was
// computed for, or "" when no mapping exists.
func (s *MappingService) GroupSignature(groupID string) string {
	if g, ok := s.groups[groupID]; ok {
		return g.signature
	}
	return ""
}

// InvalidateGroup drops the cached mapping for a group. Callers invoke this
// whenever group membership changes; a stale mapping computed for different
// members is worse than no mapping.
func (s *MappingService) InvalidateGroup(groupID string) {
	delete(s.groups, groupID)
}

// install replaces a group's mapping. Mappings are replaced, never mutated.
func (s *MappingService) install(groupID string, m *AnchorMapping, signature string) {
	g := s.group(groupID)
	g.mapping = m
	g.signature = signature
}

// EstablishOrUpdateMapping is the single-anchor path: derive a rigid
// transform for the group from one anchor piece matched to its nearest
// same-type target.
//
// Idempotent: while a mapping exists for the group it is returned unchanged;
// callers must InvalidateGroup on membership change. An empty member set,
// nil anchor, rejected gate, or a candidate list with no assignable-type
// entry yields nil (and caches nothing).
func (s *MappingService) EstablishOrUpdateMapping(groupID string, members []string, anchor *AnchorCandidate, targets []TargetCandidate, opts EstablishOptions) *AnchorMapping {
	g := s.group(groupID)
	if g.mapping != nil {
		return g.mapping
	}

	if len(members) == 0 || anchor == nil {
		return nil
	}
	if opts.RequireEdgeContact && opts.NeighborCount == 0 {
		return nil
	}

	// Nearest assignable-type candidate by centroid distance
	best := -1
	bestDist := math.Inf(1)
	for i, c := range targets {
		if !TypesAssignable(anchor.Type, c.Type) {
			continue
		}
		if d := Distance(anchor.Position, c.Position); d < bestDist {
			bestDist = d
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	cand := targets[best]

	pieceFeature := PieceFeatureAngle(anchor.Rotation, anchor.IsFlipped, anchor.Type)
	targetFeature := TargetFeatureAngle(cand.Rotation, cand.IsFlipped, cand.Type)

	if opts.MaxFeatureAngleDelta > 0 {
		period := SymmetryPeriod(anchor.Type)
		if SymmetricAngleDistance(pieceFeature, targetFeature, period) > opts.MaxFeatureAngleDelta {
			return nil
		}
	}

	m := &AnchorMapping{
		Kind:            MappingAnchorRelative,
		RotationDelta:   AngleDelta(targetFeature, pieceFeature),
		Translation:     cand.Position.Sub(anchor.Position),
		FlipParity:      anchor.IsFlipped != cand.IsFlipped,
		AnchorPieceID:   anchor.PieceID,
		AnchorTargetID:  cand.TargetID,
		AnchorPiecePos:  anchor.Position,
		AnchorTargetPos: cand.Position,
		Version:         1,
		PairCount:       1,
		Confidence:      0.5, // a lone anchor is a guess until more pieces corroborate
	}
	s.install(groupID, m, MembershipSignature(members))
	return m
}

// RefineMapping replaces a group's mapping with a global least-squares fit
// over two or more piece-to-target correspondences. Rotation is the mean
// resultant angle of per-pair bearing deltas about the respective centroids;
// translation aligns the rotated source centroid onto the target centroid.
//
// Fewer than two pairs, or a degenerate set with no usable bearing, leaves
// the cached mapping untouched and returns it.
func (s *MappingService) RefineMapping(groupID string, pairs []CorrespondencePair) *AnchorMapping {
	g := s.group(groupID)
	if len(pairs) < 2 {
		return g.mapping
	}

	src := make([]Point, len(pairs))
	dst := make([]Point, len(pairs))
	for i, p := range pairs {
		src[i] = p.Source
		dst[i] = p.Target
	}
	srcCentroid := Centroid(src)
	dstCentroid := Centroid(dst)

	// Mean resultant angle of the per-pair bearing deltas
	var sumSin, sumCos float64
	contributions := 0
	for i := range pairs {
		if Distance(src[i], srcCentroid) < 1e-9 || Distance(dst[i], dstCentroid) < 1e-9 {
			continue // coincident with centroid, bearing undefined
		}
		delta := AngleDelta(Bearing(dstCentroid, dst[i]), Bearing(srcCentroid, src[i]))
		sumSin += math.Sin(delta)
		sumCos += math.Cos(delta)
		contributions++
	}
	if contributions == 0 || (math.Abs(sumSin) < 1e-12 && math.Abs(sumCos) < 1e-12) {
		return g.mapping
	}
	theta := math.Atan2(sumSin, sumCos)

	rotated := srcCentroid.Rotate(theta)
	translation := dstCentroid.Sub(rotated)

	prev := g.mapping
	version := 2
	anchorPieceID, anchorTargetID := pairs[0].PieceID, pairs[0].TargetID
	anchorPiecePos, anchorTargetPos := pairs[0].Source, pairs[0].Target
	flip := false
	if prev != nil {
		version = prev.Version + 1
		flip = prev.FlipParity
		anchorPieceID, anchorTargetID = prev.AnchorPieceID, prev.AnchorTargetID
		anchorPiecePos, anchorTargetPos = prev.AnchorPiecePos, prev.AnchorTargetPos
	}

	m := &AnchorMapping{
		Kind:            MappingGlobal,
		RotationDelta:   theta,
		Translation:     translation,
		FlipParity:      flip,
		AnchorPieceID:   anchorPieceID,
		AnchorTargetID:  anchorTargetID,
		AnchorPiecePos:  anchorPiecePos,
		AnchorTargetPos: anchorTargetPos,
		Version:         version,
		PairCount:       len(pairs),
		Confidence:      math.Min(1.0, 0.6+0.1*float64(len(pairs))),
	}
	s.install(groupID, m, g.signature)
	return m
}

// MapPieceToTargetSpace pushes a scene-frame point through a mapping into
// target space. A nil mapping is the identity.
//
// The two conventions are dispatched exhaustively on Kind: the global form
// is p' = R*p + T; the anchor-relative form rotates about the anchor piece
// and lands it on its matched target, p' = anchorTarget + R*(p - anchorPiece).
func MapPieceToTargetSpace(m *AnchorMapping, p Point) Point {
	if m == nil {
		return p
	}
	switch m.Kind {
	case MappingGlobal:
		return p.Rotate(m.RotationDelta).Add(m.Translation)
	case MappingAnchorRelative:
		return p.Sub(m.AnchorPiecePos).Rotate(m.RotationDelta).Add(m.AnchorTargetPos)
	}
	return p
}

// InverseMapTargetToPhysical is the exact algebraic inverse of
// MapPieceToTargetSpace, used to draw target outlines in the scene frame.
func InverseMapTargetToPhysical(m *AnchorMapping, p Point) Point {
	if m == nil {
		return p
	}
	switch m.Kind {
	case MappingGlobal:
		return p.Sub(m.Translation).Rotate(-m.RotationDelta)
	case MappingAnchorRelative:
		return p.Sub(m.AnchorTargetPos).Rotate(-m.RotationDelta).Add(m.AnchorPiecePos)
	}
	return p
}

// MapPose pushes a full pose through a mapping: position via
// MapPieceToTargetSpace, rotation advanced by the rotation delta, flip
// XORed with the flip parity.
func MapPose(m *AnchorMapping, pose MappedPose) MappedPose {
	if m == nil {
		return pose
	}
	return MappedPose{
		Position:  MapPieceToTargetSpace(m, pose.Position),
		Rotation:  NormalizeAngle(pose.Rotation + m.RotationDelta),
		IsFlipped: pose.IsFlipped != m.FlipParity,
	}
}

// MapObservation maps an observation's pose into target space.
func MapObservation(m *AnchorMapping, o PieceObservation) MappedPose {
	return MapPose(m, MappedPose{Position: o.Position, Rotation: o.Rotation, IsFlipped: o.IsFlipped})
}

// ValidateMapped reports whether an observation, mapped through m, matches
// the target within the tolerance envelope.
func ValidateMapped(m *AnchorMapping, obs PieceObservation, target TargetPiece, tol Tolerance) bool {
	ok, _ := ValidateMappedDetailed(m, obs, target, tol)
	return ok
}

// ValidateMappedDetailed validates and, on failure, classifies the dominant
// cause. Priority is flip > position > rotation: a flip mismatch is reported
// first because no amount of sliding or turning fixes it.
func ValidateMappedDetailed(m *AnchorMapping, obs PieceObservation, target TargetPiece, tol Tolerance) (bool, *ValidationFailure) {
	if !TypesAssignable(obs.Type, target.Type) {
		return false, &ValidationFailure{Kind: FailureWrongPiece}
	}

	mapped := MapObservation(m, obs)

	if target.Type == PieceParallelogram && mapped.IsFlipped != target.IsFlipped() {
		return false, &ValidationFailure{Kind: FailureNeedsFlip}
	}

	targetPos := target.Position()
	if d := Distance(mapped.Position, targetPos); d > tol.Position {
		return false, &ValidationFailure{
			Kind:   FailureWrongPosition,
			Offset: targetPos.Sub(mapped.Position),
		}
	}

	rotDist := FeatureAngleDistance(mapped.Rotation, mapped.IsFlipped, target.Rotation(), target.IsFlipped(), target.Type)
	if RadToDeg(rotDist) > tol.RotationDeg {
		return false, &ValidationFailure{
			Kind:       FailureWrongRotation,
			DegreesOff: RadToDeg(rotDist),
		}
	}

	return true, nil
}
