package tangram

import (
	"fmt"
	"math"
)

// NudgeLevelFor picks the escalation level for a persistently failing piece.
// More failed attempts escalate toward explicit help; low mapping confidence
// caps the level because the engine should not give precise directions off a
// transform it does not trust. Once the group already has validated pieces
// the player has committed to a layout, so hints escalate one step sooner.
func NudgeLevelFor(confidence float64, attempts int, groupValidated bool) NudgeLevel {
	var level NudgeLevel
	switch {
	case attempts < 4:
		level = NudgeEncourage
	case attempts < 6:
		level = NudgeDirectional
	case attempts < 8:
		level = NudgeSpecific
	default:
		level = NudgeSolution
	}

	if groupValidated && level < NudgeSolution {
		level++
	}
	if confidence < 0.4 && level > NudgeDirectional {
		level = NudgeDirectional
	}
	return level
}

// BuildNudge synthesizes the hint message for one piece at one level. The
// failure classification steers the wording; the failure itself rides along
// for UI layers that render richer feedback than text.
func BuildNudge(level NudgeLevel, pieceID, targetID string, failure *ValidationFailure) Nudge {
	n := Nudge{
		Level:    level,
		PieceID:  pieceID,
		TargetID: targetID,
		Failure:  failure,
	}
	n.Message = nudgeMessage(level, pieceID, targetID, failure)
	return n
}

func nudgeMessage(level NudgeLevel, pieceID, targetID string, failure *ValidationFailure) string {
	kind := FailureWrongPosition
	if failure != nil {
		kind = failure.Kind
	}

	switch level {
	case NudgeEncourage:
		return "Keep going, that piece is almost home."

	case NudgeDirectional:
		switch kind {
		case FailureNeedsFlip:
			return "Try flipping that piece over."
		case FailureWrongRotation:
			return "Try turning that piece a little."
		case FailureWrongPiece:
			return "That piece belongs somewhere else. Try another spot."
		default:
			return "Try sliding that piece toward its spot."
		}

	case NudgeSpecific:
		switch kind {
		case FailureNeedsFlip:
			return "Flip the parallelogram over to its mirrored side."
		case FailureWrongRotation:
			if failure != nil && failure.DegreesOff > 0 {
				return fmt.Sprintf("Rotate the piece about %d degrees.", roundToFive(failure.DegreesOff))
			}
			return "Rotate the piece a little further."
		case FailureWrongPiece:
			return "A different piece fits there. Swap them."
		default:
			if failure != nil {
				dir := offsetDirection(failure.Offset)
				if dir != "" {
					return fmt.Sprintf("Slide the piece %s a bit.", dir)
				}
			}
			return "Slide the piece closer to its outline."
		}

	default: // NudgeSolution
		if targetID != "" {
			return fmt.Sprintf("Move piece %s onto target %s.", pieceID, targetID)
		}
		return fmt.Sprintf("Piece %s has an open spot waiting. Match its shape.", pieceID)
	}
}

// roundToFive rounds degrees to the nearest 5 for friendlier phrasing.
func roundToFive(deg float64) int {
	r := int(math.Round(deg/5.0)) * 5
	if r == 0 {
		r = 5
	}
	return r
}

// offsetDirection words a correction vector. Scene coordinates follow the
// screen convention, y growing downward.
func offsetDirection(offset Point) string {
	const deadzone = 1.0
	horizontal := ""
	vertical := ""
	if offset.X > deadzone {
		horizontal = "right"
	} else if offset.X < -deadzone {
		horizontal = "left"
	}
	if offset.Y > deadzone {
		vertical = "down"
	} else if offset.Y < -deadzone {
		vertical = "up"
	}
	switch {
	case horizontal != "" && vertical != "":
		return vertical + " and to the " + horizontal
	case horizontal != "":
		return "to the " + horizontal
	case vertical != "":
		return vertical
	}
	return ""
}
