package tangram

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/tdewolff/canvas"
)

// renderScene runs one solved frame through the engine so the renderers have
// a puzzle, a frame, and a result with a live group mapping to draw.
func renderScene(t *testing.T) (*GamePuzzleData, *Frame, *ValidationResult) {
	t.Helper()
	puzzle := CatPuzzle()
	engine := NewEngine(puzzle, DefaultEngineConfig())
	frame := frameAt(solvedObservations(puzzle), frameBase)
	result := engine.ProcessFrame(frame)
	if result == nil {
		t.Fatal("engine returned nil result")
	}
	return puzzle, &frame, result
}

func TestOverlayRenderer_RenderToSVG(t *testing.T) {
	puzzle, frame, result := renderScene(t)
	r := NewOverlayRenderer(puzzle, frame, result)

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("Failed to render to SVG: %v", err)
	}

	svgContent := buf.String()
	if len(svgContent) == 0 {
		t.Fatal("SVG output is empty")
	}

	// Basic check for SVG tags
	if !bytes.Contains(buf.Bytes(), []byte("<svg")) {
		t.Errorf("Output does not contain <svg tag")
	}
	if !bytes.Contains(buf.Bytes(), []byte("path")) {
		t.Errorf("Output does not contain path elements")
	}

	t.Logf("Generated SVG length: %d", len(svgContent))
}

func TestOverlayRenderer_RenderToPNG(t *testing.T) {
	puzzle, frame, result := renderScene(t)
	r := NewOverlayRenderer(puzzle, frame, result)
	r.Resolution = canvas.DPI(72) // Low resolution for speed

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("Failed to render to PNG: %v", err)
	}

	if buf.Len() == 0 {
		t.Fatal("PNG output is empty")
	}

	// Decode PNG to verify it's valid
	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		t.Errorf("PNG has zero dimensions: %v", bounds)
	}

	t.Logf("Generated PNG size: %d bytes, dimensions: %dx%d", buf.Len(), bounds.Dx(), bounds.Dy())
}

func TestOverlayRenderer_GridLines(t *testing.T) {
	puzzle, frame, result := renderScene(t)
	r := NewOverlayRenderer(puzzle, frame, result)
	r.GridSpacing = 100.0

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("Failed to render to SVG: %v", err)
	}

	// Grid lines render with a dashed stroke.
	if !bytes.Contains(buf.Bytes(), []byte("stroke-dasharray")) {
		t.Errorf("Output does not contain dashed grid lines")
	}

	// Disabling the grid still renders.
	r.GridSpacing = 0
	var plain bytes.Buffer
	if err := r.RenderToSVG(&plain); err != nil {
		t.Fatalf("Failed to render without grid: %v", err)
	}
	if plain.Len() == 0 {
		t.Error("SVG without grid is empty")
	}
}

func TestOverlayRenderer_EmptyScene(t *testing.T) {
	r := NewOverlayRenderer(nil, nil, nil)

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("Failed to render empty scene: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("empty scene should still produce an SVG document")
	}

	var pngBuf bytes.Buffer
	if err := r.RenderToPNG(&pngBuf); err != nil {
		t.Fatalf("Failed to render empty scene to PNG: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(pngBuf.Bytes())); err != nil {
		t.Fatalf("Failed to decode empty-scene PNG: %v", err)
	}
}

func TestOverlayRenderer_NudgeArrow(t *testing.T) {
	puzzle := CatPuzzle()
	engine := NewEngine(puzzle, DefaultEngineConfig())

	// Misplace the head so a failure (and eventually a nudge) exists, then
	// attach a primary nudge by hand so the arrow path is exercised
	// deterministically.
	obs := solvedObservations(puzzle)
	for i := range obs {
		if obs[i].ID == "piece-head" {
			obs[i].Position.X += 60
		}
	}
	frame := frameAt(obs, frameBase)
	result := engine.ProcessFrame(frame)
	result.PrimaryNudge = &Nudge{
		Level:    NudgeDirectional,
		PieceID:  "piece-head",
		TargetID: "head",
		Message:  "Try moving the square left",
	}

	r := NewOverlayRenderer(puzzle, &frame, result)

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("Failed to render with nudge: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("SVG with nudge arrow is empty")
	}
}

func TestBestGroupMapping(t *testing.T) {
	if bestGroupMapping(nil) != nil {
		t.Error("nil result should yield nil mapping")
	}

	r := NewValidationResult(frameBase)
	if bestGroupMapping(r) != nil {
		t.Error("result without mappings should yield nil")
	}

	low := &AnchorMapping{Confidence: 0.5}
	high := &AnchorMapping{Confidence: 0.9}
	r.GroupMappings["g-b"] = low
	r.GroupMappings["g-a"] = high

	if got := bestGroupMapping(r); got != high {
		t.Errorf("bestGroupMapping picked confidence %v, want the highest", got.Confidence)
	}

	// Ties break toward the smallest group id.
	r2 := NewValidationResult(frameBase)
	first := &AnchorMapping{Confidence: 0.7}
	second := &AnchorMapping{Confidence: 0.7}
	r2.GroupMappings["g-z"] = second
	r2.GroupMappings["g-a"] = first
	if got := bestGroupMapping(r2); got != first {
		t.Error("equal confidence should resolve to the lexicographically first group")
	}
}

func TestNrgbaToRGBA(t *testing.T) {
	tests := []struct {
		name string
		in   color.NRGBA
		want color.RGBA
	}{
		{
			name: "fully transparent",
			in:   color.NRGBA{R: 200, G: 100, B: 50, A: 0},
			want: color.RGBA{},
		},
		{
			name: "fully opaque",
			in:   color.NRGBA{R: 200, G: 100, B: 50, A: 255},
			want: color.RGBA{R: 200, G: 100, B: 50, A: 255},
		},
		{
			name: "half alpha premultiplies",
			in:   color.NRGBA{R: 200, G: 100, B: 50, A: 128},
			want: color.RGBA{R: 100, G: 50, B: 25, A: 128},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nrgbaToRGBA(tt.in)
			if got != tt.want {
				t.Errorf("nrgbaToRGBA(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
