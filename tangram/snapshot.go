package tangram

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SnapshotRenderer produces a quick raster debug image of one frame: target
// outlines, observed pieces, and a text legend of per-piece verdicts. It is
// the diagnostic counterpart to OverlayRenderer, trading output quality for
// zero vector dependencies in the draw path.
type SnapshotRenderer struct {
	Puzzle  *GamePuzzleData
	Frame   *Frame
	Result  *ValidationResult
	Scale   float64 // Pixels per scene unit
	Padding int     // Padding in pixels
}

// NewSnapshotRenderer creates a snapshot renderer with default settings.
func NewSnapshotRenderer(puzzle *GamePuzzleData, frame *Frame, result *ValidationResult) *SnapshotRenderer {
	return &SnapshotRenderer{
		Puzzle:  puzzle,
		Frame:   frame,
		Result:  result,
		Scale:   1.0,
		Padding: 30,
	}
}

// CalculateBounds computes the scene-space bounding box of everything drawn.
func (r *SnapshotRenderer) CalculateBounds() (minX, minY, maxX, maxY float64) {
	m := bestGroupMapping(r.Result)

	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64

	grow := func(p Point) {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}

	if r.Puzzle != nil {
		for _, t := range r.Puzzle.Targets {
			for _, pt := range OutlineForTarget(t) {
				grow(InverseMapTargetToPhysical(m, fromOrbPoint(pt)))
			}
		}
	}
	if r.Frame != nil {
		for _, o := range r.Frame.Observations {
			for _, pt := range ObservedOutline(o) {
				grow(fromOrbPoint(pt))
			}
		}
	}

	if minX > maxX {
		return 0, 0, 100, 100
	}
	return minX, minY, maxX, maxY
}

// Render creates the snapshot image.
func (r *SnapshotRenderer) Render() *image.RGBA {
	minX, minY, maxX, maxY := r.CalculateBounds()
	m := bestGroupMapping(r.Result)

	width := int((maxX-minX)*r.Scale) + 2*r.Padding
	height := int((maxY-minY)*r.Scale) + 2*r.Padding

	if width > 4000 {
		r.Scale *= float64(4000) / float64(width)
		width = 4000
		height = int((maxY-minY)*r.Scale) + 2*r.Padding
	}
	if height > 4000 {
		r.Scale *= float64(4000) / float64(height)
		height = 4000
		width = int((maxX-minX)*r.Scale) + 2*r.Padding
	}
	if width <= 0 || height <= 0 {
		minSize := 2*r.Padding + 1
		if width <= 0 {
			width = minSize
		}
		if height <= 0 {
			height = minSize
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{240, 240, 240, 255})
		}
	}

	toImage := func(p Point) (int, int) {
		x := int((p.X-minX)*r.Scale) + r.Padding
		y := int((p.Y-minY)*r.Scale) + r.Padding
		return x, y
	}

	// Target outlines first so observed pieces draw over them.
	targetColor := color.RGBA{120, 120, 120, 255}
	validTargetColor := color.RGBA{0, 100, 0, 255}
	if r.Puzzle != nil {
		for _, t := range r.Puzzle.Targets {
			col := targetColor
			if r.Result != nil && r.Result.ValidatedTargets[t.ID] {
				col = validTargetColor
			}
			r.drawRing(img, OutlineForTarget(t), m, toImage, col)

			pos := InverseMapTargetToPhysical(m, t.Position())
			ix, iy := toImage(pos)
			drawLabel(img, ix+4, iy, t.ID, color.RGBA{90, 90, 90, 255})
		}
	}

	// Observed pieces.
	if r.Frame != nil {
		for _, o := range r.Frame.Observations {
			col := color.RGBA{70, 90, 110, 255}
			if r.Result != nil {
				if state, ok := r.Result.PieceStates[o.ID]; ok && state.Valid {
					col = color.RGBA{0, 160, 0, 255}
				} else if _, failed := r.Result.Failures[o.ID]; failed {
					col = color.RGBA{200, 30, 30, 255}
				}
			}

			r.drawRing(img, ObservedOutline(o), nil, toImage, col)

			ix, iy := toImage(o.Position)
			drawDot(img, ix, iy, 3, col)
			drawLabel(img, ix+6, iy-6, o.ID, color.RGBA{0, 0, 0, 255})
		}
	}

	r.drawLegend(img)
	return img
}

// drawRing draws a closed polyline. When m is non-nil the ring is pulled
// back from target space into scene space first.
func (r *SnapshotRenderer) drawRing(img *image.RGBA, ring orb.Ring, m *AnchorMapping, toImage func(Point) (int, int), col color.RGBA) {
	if len(ring) < 2 {
		return
	}
	points := make([]Point, len(ring))
	for i, pt := range ring {
		p := fromOrbPoint(pt)
		if m != nil {
			p = InverseMapTargetToPhysical(m, p)
		}
		points[i] = p
	}
	for i := range points {
		a := points[i]
		b := points[(i+1)%len(points)]
		x1, y1 := toImage(a)
		x2, y2 := toImage(b)
		drawSegment(img, x1, y1, x2, y2, col)
	}
}

// SavePNG saves the snapshot image to a file.
func (r *SnapshotRenderer) SavePNG(path string) error {
	img := r.Render()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

// drawLegend lists per-piece verdicts in the top-left corner.
func (r *SnapshotRenderer) drawLegend(img *image.RGBA) {
	if r.Result == nil {
		return
	}

	ids := make([]string, 0, len(r.Result.PieceStates))
	for id := range r.Result.PieceStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	y := 15
	for _, id := range ids {
		state := r.Result.PieceStates[id]

		// basicfont only carries ASCII glyphs, so the verdict is spelled out.
		swatch := color.RGBA{200, 30, 30, 255}
		label := id + " invalid"
		if state.Valid {
			swatch = color.RGBA{0, 160, 0, 255}
			label = id + " ok -> " + state.TargetID
		} else if failure, ok := r.Result.Failures[id]; ok {
			label = id + " " + string(failure.Kind)
		}

		for dy := 0; dy < 10; dy++ {
			for dx := 0; dx < 10; dx++ {
				img.Set(10+dx, y+dy-5, swatch)
			}
		}
		drawLabel(img, 26, y+4, label, color.RGBA{0, 0, 0, 255})

		y += 16
	}
}

// drawDot draws a filled circle.
func drawDot(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawSegment draws a line with integer stepping.
func drawSegment(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := x2 - x1
	dy := y2 - y1
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		if x1 >= 0 && x1 < img.Bounds().Max.X && y1 >= 0 && y1 < img.Bounds().Max.Y {
			img.Set(x1, y1, c)
		}
		return
	}
	for i := 0; i <= steps; i++ {
		x := x1 + dx*i/steps
		y := y1 + dy*i/steps
		if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
			img.Set(x, y, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawLabel renders text onto an image at the specified position.
func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
