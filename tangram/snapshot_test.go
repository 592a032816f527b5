package tangram

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSnapshotRenderer(t *testing.T) {
	r := NewSnapshotRenderer(nil, nil, nil)
	if r.Scale != 1.0 {
		t.Errorf("Expected default scale 1.0, got %v", r.Scale)
	}
	if r.Padding != 30 {
		t.Errorf("Expected default padding 30, got %v", r.Padding)
	}
}

func TestSnapshotRenderer_CalculateBounds(t *testing.T) {
	t.Run("empty scene falls back to fixed box", func(t *testing.T) {
		r := NewSnapshotRenderer(nil, nil, nil)
		minX, minY, maxX, maxY := r.CalculateBounds()
		if minX != 0 || minY != 0 || maxX != 100 || maxY != 100 {
			t.Errorf("Expected fallback bounds (0,0,100,100), got (%v,%v,%v,%v)", minX, minY, maxX, maxY)
		}
	})

	t.Run("puzzle outlines grow the box", func(t *testing.T) {
		puzzle := CatPuzzle()
		r := NewSnapshotRenderer(puzzle, nil, nil)
		minX, minY, maxX, maxY := r.CalculateBounds()
		if minX >= maxX || minY >= maxY {
			t.Errorf("Degenerate bounds (%v,%v,%v,%v)", minX, minY, maxX, maxY)
		}
	})

	t.Run("observations grow the box", func(t *testing.T) {
		puzzle := CatPuzzle()
		far := obsAt("far", 5000, 5000)
		frame := frameAt([]PieceObservation{far}, frameBase)

		r := NewSnapshotRenderer(puzzle, &frame, nil)
		_, _, maxX, maxY := r.CalculateBounds()
		if maxX < 5000 || maxY < 5000 {
			t.Errorf("Bounds (%v,%v) do not cover the far observation", maxX, maxY)
		}
	})
}

func TestSnapshotRenderer_Render(t *testing.T) {
	puzzle, frame, result := renderScene(t)
	r := NewSnapshotRenderer(puzzle, frame, result)

	img := r.Render()
	if img == nil {
		t.Fatal("Render returned nil image")
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		t.Fatalf("Image has invalid dimensions: %v", bounds)
	}

	// Corner pixel stays background; legend and outlines start further in.
	if got := img.RGBAAt(0, 0); got != (color.RGBA{240, 240, 240, 255}) {
		t.Errorf("Expected background pixel at origin, got %v", got)
	}

	t.Logf("Snapshot dimensions: %dx%d", bounds.Dx(), bounds.Dy())
}

func TestSnapshotRenderer_EmptySceneRenders(t *testing.T) {
	r := NewSnapshotRenderer(nil, nil, nil)
	img := r.Render()
	if img == nil {
		t.Fatal("Render returned nil image")
	}
	// Fallback bounds are 100x100 scene units plus padding.
	if img.Bounds().Dx() != 100+2*r.Padding {
		t.Errorf("Expected width %d, got %d", 100+2*r.Padding, img.Bounds().Dx())
	}
}

func TestSnapshotRenderer_LargeSceneClamped(t *testing.T) {
	frame := frameAt([]PieceObservation{
		obsAt("a", 0, 0),
		obsAt("b", 10000, 200),
	}, frameBase)

	r := NewSnapshotRenderer(nil, &frame, nil)
	img := r.Render()

	bounds := img.Bounds()
	if bounds.Dx() > 4000 || bounds.Dy() > 4000 {
		t.Errorf("Expected dimensions clamped to 4000, got %dx%d", bounds.Dx(), bounds.Dy())
	}
	if r.Scale >= 1.0 {
		t.Errorf("Expected scale reduced below 1.0 after clamping, got %v", r.Scale)
	}
}

func TestSnapshotRenderer_SavePNG(t *testing.T) {
	puzzle, frame, result := renderScene(t)
	r := NewSnapshotRenderer(puzzle, frame, result)

	path := filepath.Join(t.TempDir(), "snapshot.png")
	if err := r.SavePNG(path); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved PNG: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Saved PNG is empty")
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Saved file is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() <= 0 {
		t.Error("Decoded PNG has zero width")
	}
}

func TestSnapshotRenderer_SavePNG_BadPath(t *testing.T) {
	r := NewSnapshotRenderer(nil, nil, nil)
	err := r.SavePNG(filepath.Join(t.TempDir(), "missing", "out.png"))
	if err == nil {
		t.Error("Expected error saving to a nonexistent directory")
	}
}
