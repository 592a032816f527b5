package tangram

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"
)

// wireObservation is the flat per-piece record sensor bridges publish.
// Rotation rides in radians; vx/vy in scene units per second.
type wireObservation struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
	Flipped  bool    `json:"flipped"`
	VX       float64 `json:"vx"`
	VY       float64 `json:"vy"`
}

// wireFrame is the envelope form: observations plus optional precomputed
// groups and a millisecond timestamp.
type wireFrame struct {
	Observations []wireObservation   `json:"observations"`
	Groups       map[string][]string `json:"groups,omitempty"`
	TimestampMs  int64               `json:"timestampMs,omitempty"`
}

// DecodeFrame decodes one observation frame from the wire:
// - JSON envelope with observations, groups, and timestamp
// - bare JSON array of observations (fallback for testing)
// - zlib-compressed JSON in either shape
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	jsonBytes := data
	if data[0] != '{' && data[0] != '[' {
		inflated, err := inflateZlib(data)
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON or zlib-compressed")
		}
		jsonBytes = inflated
	}

	return parseFrameJSON(jsonBytes)
}

// parseFrameJSON parses either frame shape and validates every observation.
func parseFrameJSON(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame payload")
	}

	var wf wireFrame
	if data[0] == '[' {
		if err := json.Unmarshal(data, &wf.Observations); err != nil {
			return nil, fmt.Errorf("parsing observation array: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("parsing frame: %w", err)
		}
	}

	frame := &Frame{
		Observations: make([]PieceObservation, 0, len(wf.Observations)),
		Groups:       wf.Groups,
	}
	if wf.TimestampMs > 0 {
		frame.Timestamp = time.UnixMilli(wf.TimestampMs)
	}

	seen := make(map[string]bool, len(wf.Observations))
	for i, w := range wf.Observations {
		if w.ID == "" {
			return nil, fmt.Errorf("observation %d: id is required", i)
		}
		if seen[w.ID] {
			return nil, fmt.Errorf("observation %d: duplicate id %q", i, w.ID)
		}
		seen[w.ID] = true

		pt := PieceType(w.Type)
		if !pt.IsValid() {
			return nil, fmt.Errorf("observation %d (%s): unknown piece type %q", i, w.ID, w.Type)
		}
		for _, v := range []float64{w.X, w.Y, w.Rotation, w.VX, w.VY} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("observation %d (%s): non-finite value", i, w.ID)
			}
		}

		frame.Observations = append(frame.Observations, PieceObservation{
			ID:        w.ID,
			Type:      pt,
			Position:  Point{X: w.X, Y: w.Y},
			Rotation:  NormalizeAngle(w.Rotation),
			IsFlipped: w.Flipped,
			Velocity:  Point{X: w.VX, Y: w.VY},
			Timestamp: frame.Timestamp,
		})
	}

	// Stable order keeps downstream processing deterministic regardless of
	// publisher ordering.
	sort.Slice(frame.Observations, func(i, j int) bool {
		return frame.Observations[i].ID < frame.Observations[j].ID
	})

	return frame, nil
}

// EncodeFrame serializes a frame into the envelope wire shape.
func EncodeFrame(f *Frame) ([]byte, error) {
	wf := wireFrame{
		Observations: make([]wireObservation, 0, len(f.Observations)),
		Groups:       f.Groups,
	}
	if !f.Timestamp.IsZero() {
		wf.TimestampMs = f.Timestamp.UnixMilli()
	}
	for _, o := range f.Observations {
		wf.Observations = append(wf.Observations, wireObservation{
			ID:       o.ID,
			Type:     string(o.Type),
			X:        o.Position.X,
			Y:        o.Position.Y,
			Rotation: o.Rotation,
			Flipped:  o.IsFlipped,
			VX:       o.Velocity.X,
			VY:       o.Velocity.Y,
		})
	}
	return json.Marshal(wf)
}

// DecodeFrameFile reads and decodes a frame from a JSON file. Convenience
// for testing with recorded frames.
func DecodeFrameFile(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return DecodeFrame(data)
}

// inflateZlib decompresses zlib-compressed data.
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}
