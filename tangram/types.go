package tangram

import "time"

// PieceType identifies one of the seven canonical tangram pieces.
type PieceType string

const (
	PieceLargeTriangle1 PieceType = "largeTriangle1"
	PieceLargeTriangle2 PieceType = "largeTriangle2"
	PieceMediumTriangle PieceType = "mediumTriangle"
	PieceSmallTriangle1 PieceType = "smallTriangle1"
	PieceSmallTriangle2 PieceType = "smallTriangle2"
	PieceSquare         PieceType = "square"
	PieceParallelogram  PieceType = "parallelogram"
)

// AllPieceTypes returns the seven canonical piece types in a stable order.
func AllPieceTypes() []PieceType {
	return []PieceType{
		PieceLargeTriangle1,
		PieceLargeTriangle2,
		PieceMediumTriangle,
		PieceSmallTriangle1,
		PieceSmallTriangle2,
		PieceSquare,
		PieceParallelogram,
	}
}

// IsTriangle reports whether the type is one of the five triangle pieces.
func (t PieceType) IsTriangle() bool {
	switch t {
	case PieceLargeTriangle1, PieceLargeTriangle2, PieceMediumTriangle,
		PieceSmallTriangle1, PieceSmallTriangle2:
		return true
	}
	return false
}

// IsValid reports whether the type is one of the seven canonical pieces.
func (t PieceType) IsValid() bool {
	return t.IsTriangle() || t == PieceSquare || t == PieceParallelogram
}

// AssignableTypes returns the target types an observation of type t may bind
// to. The two large triangles are physically identical and interchangeable,
// likewise the two small triangles; every other type only matches itself.
func AssignableTypes(t PieceType) []PieceType {
	switch t {
	case PieceLargeTriangle1, PieceLargeTriangle2:
		return []PieceType{PieceLargeTriangle1, PieceLargeTriangle2}
	case PieceSmallTriangle1, PieceSmallTriangle2:
		return []PieceType{PieceSmallTriangle1, PieceSmallTriangle2}
	default:
		return []PieceType{t}
	}
}

// TypesAssignable reports whether an observation of type a may bind to a
// target of type b.
func TypesAssignable(a, b PieceType) bool {
	for _, t := range AssignableTypes(a) {
		if t == b {
			return true
		}
	}
	return false
}

// Family collapses the interchangeable twin types onto one representative,
// so pieces and targets that may bind to each other bucket together.
func (t PieceType) Family() PieceType {
	switch t {
	case PieceLargeTriangle1, PieceLargeTriangle2:
		return PieceLargeTriangle1
	case PieceSmallTriangle1, PieceSmallTriangle2:
		return PieceSmallTriangle1
	}
	return t
}

// Point represents a 2D coordinate in scene or target space.
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
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// PieceObservation is one reported pose for one piece in one frame, in scene
// coordinates. Observations are immutable; the engine never retains them
// beyond the frame being processed.
type PieceObservation struct {
	ID        string    `json:"id"`
	Type      PieceType `json:"type"`
	Position  Point     `json:"position"`
	Rotation  float64   `json:"rotation"` // radians
	IsFlipped bool      `json:"isFlipped"`
	Velocity  Point     `json:"velocity"` // scene units per second
	Timestamp time.Time `json:"timestamp"`
}

// Speed returns the magnitude of the observation's velocity.
func (o PieceObservation) Speed() float64 {
	return Distance(Point{}, o.Velocity)
}

// TargetPiece is one element of a puzzle solution: a canonical piece placed
// into target space by an affine transform (rotation + translation, plus a
// reflection for mirrored parallelogram targets).
type TargetPiece struct {
	ID        string       `json:"id"`
	Type      PieceType    `json:"type"`
	Transform AffineMatrix `json:"transform"`
}

// Position returns the target centroid in target space.
func (t TargetPiece) Position() Point {
	return TransformPoint(CanonicalCentroid(t.Type), t.Transform)
}

// Rotation returns the rotation encoded by the target transform, in radians.
func (t TargetPiece) Rotation() float64 {
	return RotationAngle(t.Transform)
}

// IsFlipped reports whether the target transform mirrors the canonical
// outline. Only meaningful for the parallelogram, the one chiral piece.
func (t TargetPiece) IsFlipped() bool {
	return IsMirrored(t.Transform)
}

// GamePuzzleData is an immutable puzzle definition: the seven target pieces
// of one silhouette, loaded once at puzzle start.
type GamePuzzleData struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Targets []TargetPiece `json:"targets"`
}

// TargetByID returns the target with the given id, or nil.
func (p *GamePuzzleData) TargetByID(id string) *TargetPiece {
	for i := range p.Targets {
		if p.Targets[i].ID == id {
			return &p.Targets[i]
		}
	}
	return nil
}

// MappingKind selects which transform convention an AnchorMapping uses.
type MappingKind int

const (
	// MappingAnchorRelative maps p' = anchorTarget + R*(p - anchorPiece) + T.
	// Fresh single-pair mappings use this form.
	MappingAnchorRelative MappingKind = iota
	// MappingGlobal maps p' = R*p + T. Refined and optimized mappings use
	// this form; the estimate is centered at the origin, not at one piece.
	MappingGlobal
)

func (k MappingKind) String() string {
	switch k {
	case MappingAnchorRelative:
		return "anchorRelative"
	case MappingGlobal:
		return "global"
	}
	return "unknown"
}

// AnchorMapping is the rigid transform for one construction group, mapping
// scene-frame poses into target space. Mappings are replaced, never mutated:
// refinement installs a new value in the group cache.
type AnchorMapping struct {
	Kind            MappingKind `json:"kind"`
	RotationDelta   float64     `json:"rotationDelta"` // radians
	Translation     Point       `json:"translation"`
	FlipParity      bool        `json:"flipParity"`
	AnchorPieceID   string      `json:"anchorPieceId"`
	AnchorTargetID  string      `json:"anchorTargetId"`
	AnchorPiecePos  Point       `json:"anchorPiecePos"`
	AnchorTargetPos Point       `json:"anchorTargetPos"`
	Version         int         `json:"version"`   // 1 = single-pair estimate, >=2 = refined
	PairCount       int         `json:"pairCount"` // correspondences that contributed
	Confidence      float64     `json:"confidence"`
}

// FailureKind tags the dominant reason a mapped pose did not match its target.
type FailureKind string

const (
	FailureWrongPiece    FailureKind = "wrongPiece"
	FailureWrongPosition FailureKind = "wrongPosition"
	FailureWrongRotation FailureKind = "wrongRotation"
	FailureNeedsFlip     FailureKind = "needsFlip"
)

// ValidationFailure describes why a piece failed validation. Produced
// transiently per validation pass and surfaced to the UI layer; never
// persisted.
type ValidationFailure struct {
	Kind       FailureKind `json:"kind"`
	Offset     Point       `json:"offset,omitempty"`     // wrongPosition: vector from mapped pose to target
	DegreesOff float64     `json:"degreesOff,omitempty"` // wrongRotation: folded angular error
}

// LockedValidation is the hysteresis record for a piece that has validated.
// While locked, the piece is checked against the (looser) lock slack before
// being declared invalid, so sensor jitter does not flicker the state.
type LockedValidation struct {
	PieceID          string    `json:"pieceId"`
	TargetID         string    `json:"targetId"`
	ValidPosition    Point     `json:"validPosition"`
	ValidRotation    float64   `json:"validRotation"` // radians
	LockedAt         time.Time `json:"lockedAt"`
	PositionSlack    float64   `json:"positionSlack,omitempty"`    // 0 = engine default
	RotationSlackDeg float64   `json:"rotationSlackDeg,omitempty"` // 0 = engine default
}

// MappedPose is an observed pose pushed through a group mapping into target
// space.
type MappedPose struct {
	Position  Point   `json:"position"`
	Rotation  float64 `json:"rotation"` // radians
	IsFlipped bool    `json:"isFlipped"`
}

// PieceValidationState is the per-piece slice of a ValidationResult.
type PieceValidationState struct {
	Valid      bool       `json:"valid"`
	Confidence float64    `json:"confidence"`
	TargetID   string     `json:"targetId,omitempty"`
	MappedPose MappedPose `json:"mappedPose"`
}

// NudgeLevel orders corrective hints from gentle to explicit.
type NudgeLevel int

const (
	NudgeEncourage NudgeLevel = iota
	NudgeDirectional
	NudgeSpecific
	NudgeSolution
)

func (l NudgeLevel) String() string {
	switch l {
	case NudgeEncourage:
		return "encourage"
	case NudgeDirectional:
		return "directional"
	case NudgeSpecific:
		return "specific"
	case NudgeSolution:
		return "solution"
	}
	return "unknown"
}

// Nudge is a synthesized corrective hint for one persistently misplaced piece.
type Nudge struct {
	Level    NudgeLevel         `json:"level"`
	PieceID  string             `json:"pieceId"`
	TargetID string             `json:"targetId,omitempty"`
	Message  string             `json:"message"`
	Failure  *ValidationFailure `json:"failure,omitempty"`
}

// ValidationResult is the per-frame output of the engine. It is rebuilt on
// every pass from current observations and cached mappings.
type ValidationResult struct {
	ValidatedTargets    map[string]bool                 `json:"validatedTargets"`
	PieceStates         map[string]PieceValidationState `json:"pieceStates"`
	Bindings            map[string]string               `json:"bindings"` // piece id -> target id
	PrimaryNudge        *Nudge                          `json:"primaryNudge,omitempty"`
	PieceNudges         map[string]Nudge                `json:"pieceNudges,omitempty"`
	GroupMappings       map[string]*AnchorMapping       `json:"groupMappings"`
	Failures            map[string]ValidationFailure    `json:"failures"`
	OrientedOnlyTargets map[string]bool                 `json:"orientedOnlyTargets"`
	AnchorPieceIDs      map[string]bool                 `json:"anchorPieceIds"`
	FrameTimestamp      time.Time                       `json:"frameTimestamp"`
}

// NewValidationResult returns an empty result with all maps allocated.
func NewValidationResult(ts time.Time) *ValidationResult {
	return &ValidationResult{
		ValidatedTargets:    make(map[string]bool),
		PieceStates:         make(map[string]PieceValidationState),
		Bindings:            make(map[string]string),
		PieceNudges:         make(map[string]Nudge),
		GroupMappings:       make(map[string]*AnchorMapping),
		Failures:            make(map[string]ValidationFailure),
		OrientedOnlyTargets: make(map[string]bool),
		AnchorPieceIDs:      make(map[string]bool),
		FrameTimestamp:      ts,
	}
}

// AllTargetsValidated reports whether every target of the puzzle is validated.
func (r *ValidationResult) AllTargetsValidated(puzzle *GamePuzzleData) bool {
	if r == nil || puzzle == nil || len(puzzle.Targets) == 0 {
		return false
	}
	for _, t := range puzzle.Targets {
		if !r.ValidatedTargets[t.ID] {
			return false
		}
	}
	return true
}

// Frame is one discrete batch of observations plus the group memberships in
// effect for it. Groups map group id to member piece ids.
type Frame struct {
	Observations []PieceObservation  `json:"observations"`
	Groups       map[string][]string `json:"groups,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// ObservationByID returns the frame's observation with the given id, or nil.
func (f *Frame) ObservationByID(id string) *PieceObservation {
	for i := range f.Observations {
		if f.Observations[i].ID == id {
			return &f.Observations[i]
		}
	}
	return nil
}
