package tangram

import "time"

// MappingConfig holds tuning for the anchor mapping service and the global
// rotation/assignment optimizer. Distances are in scene units, angles in
// degrees (converted internally where the math wants radians).
type MappingConfig struct {
	TranslationWeight       float64 // Position term weight in assignment cost
	RotationWeight          float64 // Rotation term weight (degrees) in assignment cost
	RotationStepDeg         float64 // Coarse rotation grid step over the full circle
	FineStepDeg             float64 // Fine rotation grid step around the coarse best
	DisallowedCost          float64 // Sentinel cost for padded/impossible assignments
	MaxFeatureAngleDeltaDeg float64 // Single-anchor gate: max folded angle disagreement (0 disables)
	RequireEdgeContact      bool    // Single-anchor gate: anchor must touch another piece
	EdgeContactDist         float64 // Adjacency distance for the edge-contact gate
}

// DefaultMappingConfig returns the empirically tuned mapping defaults.
// Position dominates the assignment cost because rotation error is bounded
// and less visually significant than gross mispositioning (ratio 1.0 : 0.5).
func DefaultMappingConfig() MappingConfig {
	return MappingConfig{
		TranslationWeight:       1.0,
		RotationWeight:          0.5,
		RotationStepDeg:         5.0,   // coarse sweep over 360 degrees
		FineStepDeg:             0.5,   // refinement within one coarse step
		DisallowedCost:          1e9,   // large finite sentinel, keeps the solver total
		MaxFeatureAngleDeltaDeg: 0,     // disabled unless the caller opts in
		RequireEdgeContact:      false, // isolated single anchors are allowed by default
		EdgeContactDist:         120.0, // scene units; roughly one small-triangle leg
	}
}

// ValidationConfig holds per-piece tolerance and hysteresis tuning.
type ValidationConfig struct {
	PositionTolerance    float64       // Max centroid distance in target space (scene units)
	RotationToleranceDeg float64       // Max folded rotation error
	LockedPositionSlack  float64       // Multiplier applied to position tolerance while locked
	LockedRotationSlack  float64       // Multiplier applied to rotation tolerance while locked
	SettleVelocity       float64       // Below this speed a piece counts as placed (units/s)
	DwellInterval        time.Duration // Full re-validation period independent of movement
}

// DefaultValidationConfig returns validation defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		PositionTolerance:    25.0,        // scene units
		RotationToleranceDeg: 15.0,        // degrees
		LockedPositionSlack:  1.5,         // locked pieces tolerate 1.5x drift before regressing
		LockedRotationSlack:  1.5,         // same ratio for rotation drift
		SettleVelocity:       12.0,        // scene units per second
		DwellInterval:        time.Second, // full re-check cadence independent of movement
	}
}

// Tolerance is the position/rotation envelope one validation check runs
// against.
type Tolerance struct {
	Position    float64 // scene units
	RotationDeg float64 // degrees
}

// Tolerance returns the strict envelope used for unbound and candidate-bound
// pieces.
func (c ValidationConfig) Tolerance() Tolerance {
	return Tolerance{Position: c.PositionTolerance, RotationDeg: c.RotationToleranceDeg}
}

// LockedTolerance returns the loosened envelope for a locked piece. Per-lock
// slack overrides take precedence; otherwise the config multipliers apply.
func (c ValidationConfig) LockedTolerance(lock LockedValidation) Tolerance {
	t := Tolerance{
		Position:    c.PositionTolerance * c.LockedPositionSlack,
		RotationDeg: c.RotationToleranceDeg * c.LockedRotationSlack,
	}
	if lock.PositionSlack > 0 {
		t.Position = lock.PositionSlack
	}
	if lock.RotationSlackDeg > 0 {
		t.RotationDeg = lock.RotationSlackDeg
	}
	return t
}

// NudgeConfig holds corrective-hint pacing.
type NudgeConfig struct {
	MinAttempts int           // Failed attempts before a piece is nudge-eligible
	Cooldown    time.Duration // Minimum gap between nudges
}

// DefaultNudgeConfig returns nudge defaults.
func DefaultNudgeConfig() NudgeConfig {
	return NudgeConfig{
		MinAttempts: 2,
		Cooldown:    3 * time.Second,
	}
}

// PairingConfig holds tuning for the two-piece mapping seed.
type PairingConfig struct {
	MinPairSeparation float64 // Observed pairs closer than this are ill-conditioned (scene units)
	BearingWeight     float64 // Relative-bearing error weight in the pair library match
}

// DefaultPairingConfig returns pairing defaults.
func DefaultPairingConfig() PairingConfig {
	return PairingConfig{
		MinPairSeparation: 40.0,
		BearingWeight:     30.0, // one radian of bearing error equals 30 units of distance error
	}
}

// EngineConfig aggregates all engine tuning. The zero value is not usable;
// start from DefaultEngineConfig and override fields as needed.
type EngineConfig struct {
	Mapping    MappingConfig
	Validation ValidationConfig
	Nudge      NudgeConfig
	Pairing    PairingConfig
	GroupDist  float64 // Proximity clustering distance for the built-in group manager
}

// DefaultEngineConfig returns the full default tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Mapping:    DefaultMappingConfig(),
		Validation: DefaultValidationConfig(),
		Nudge:      DefaultNudgeConfig(),
		Pairing:    DefaultPairingConfig(),
		GroupDist:  150.0, // scene units; touching pieces cluster into one group
	}
}
