package tangram

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// LoadPuzzleFile loads a puzzle definition from a JSON file. A missing file
// is not an error; callers fall back to the built-in puzzle.
func LoadPuzzleFile(path string) (*GamePuzzleData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No puzzle file yet
		}
		return nil, fmt.Errorf("reading puzzle file: %w", err)
	}

	var puzzle GamePuzzleData
	if err := json.Unmarshal(data, &puzzle); err != nil {
		return nil, fmt.Errorf("parsing puzzle file: %w", err)
	}

	if err := ValidatePuzzle(&puzzle); err != nil {
		return nil, fmt.Errorf("puzzle %s: %w", path, err)
	}

	return &puzzle, nil
}

// SavePuzzleFile saves a puzzle definition to a JSON file
func SavePuzzleFile(path string, puzzle *GamePuzzleData) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating puzzle directory: %w", err)
	}

	data, err := json.MarshalIndent(puzzle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling puzzle data: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing puzzle file: %w", err)
	}

	return nil
}

// ValidatePuzzle checks a puzzle definition for structural problems:
// missing ids, unknown piece types, duplicate target ids, and transforms
// that are not finite rigid placements.
func ValidatePuzzle(p *GamePuzzleData) error {
	if p.ID == "" {
		return fmt.Errorf("puzzle id is required")
	}
	if len(p.Targets) == 0 {
		return fmt.Errorf("at least one target must be defined")
	}

	seen := make(map[string]bool)
	for i, t := range p.Targets {
		if t.ID == "" {
			return fmt.Errorf("target[%d].id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("target[%d].id %q is duplicated", i, t.ID)
		}
		seen[t.ID] = true

		if !t.Type.IsValid() {
			return fmt.Errorf("target[%d] (%s): unknown piece type %q", i, t.ID, t.Type)
		}
		if !t.Transform.IsFinite() {
			return fmt.Errorf("target[%d] (%s): transform has non-finite entries", i, t.ID)
		}
		if det := math.Abs(Determinant(t.Transform)); math.Abs(det-1) > 0.05 {
			return fmt.Errorf("target[%d] (%s): transform is not rigid (|det|=%.3f)", i, t.ID, det)
		}
	}

	return nil
}

// NewTarget builds a target piece whose canonical outline lands with its
// centroid at pos, rotated by angle radians, optionally mirrored.
func NewTarget(id string, t PieceType, pos Point, angle float64, mirrored bool) TargetPiece {
	m := Rotation(angle)
	if mirrored {
		m = MultiplyMatrices(m, Reflection())
	}
	c := TransformPoint(CanonicalCentroid(t), m)
	m.Tx = pos.X - c.X
	m.Ty = pos.Y - c.Y
	return TargetPiece{ID: id, Type: t, Transform: m}
}

// ExpectedPose returns the observed pose that satisfies this target exactly
// when the group mapping is identity: centroid position, flip state, and a
// rotation whose folded feature angle coincides with the target's.
func (t TargetPiece) ExpectedPose() MappedPose {
	flipped := t.IsFlipped()
	tf := TargetFeatureAngle(t.Rotation(), flipped, t.Type)

	off := 0.0
	if t.Type.IsTriangle() {
		off = pieceTriangleOffset
	}
	if flipped {
		off = -off
	}

	return MappedPose{
		Position:  t.Position(),
		Rotation:  NormalizeAngle(tf - off),
		IsFlipped: flipped,
	}
}

// CatPuzzle returns the built-in sitting-cat silhouette: square head with
// two small-triangle ears, medium-triangle chest, two large triangles for
// the body, and a mirrored parallelogram tail.
func CatPuzzle() *GamePuzzleData {
	return &GamePuzzleData{
		ID:   "cat",
		Name: "Cat",
		Targets: []TargetPiece{
			NewTarget("leftEar", PieceSmallTriangle1, Point{X: 404, Y: 60}, -math.Pi/2, false),
			NewTarget("rightEar", PieceSmallTriangle2, Point{X: 516, Y: 60}, math.Pi, false),
			NewTarget("head", PieceSquare, Point{X: 460, Y: 130}, math.Pi/4, false),
			NewTarget("chest", PieceMediumTriangle, Point{X: 420, Y: 260}, math.Pi/2, false),
			NewTarget("frontBody", PieceLargeTriangle1, Point{X: 330, Y: 350}, -math.Pi/4, false),
			NewTarget("rearBody", PieceLargeTriangle2, Point{X: 210, Y: 400}, 3*math.Pi/4, false),
			NewTarget("tail", PieceParallelogram, Point{X: 80, Y: 430}, 0, true),
		},
	}
}
