package tangram

import (
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha.
// The canvas library expects premultiplied RGBA.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// StateColors groups the fill and stroke used for one piece state.
type StateColors struct {
	Fill   color.NRGBA
	Stroke color.NRGBA
}

var (
	colorValid    = StateColors{Fill: color.NRGBA{144, 238, 144, 150}, Stroke: color.NRGBA{0, 100, 0, 255}}
	colorInvalid  = StateColors{Fill: color.NRGBA{255, 99, 71, 120}, Stroke: color.NRGBA{139, 0, 0, 255}}
	colorNeutral  = StateColors{Fill: color.NRGBA{176, 196, 222, 120}, Stroke: color.NRGBA{70, 90, 110, 255}}
	colorTarget   = color.NRGBA{120, 120, 120, 255}
	colorOriented = color.NRGBA{184, 134, 11, 255}
)

// OverlayRenderer draws the scene as vector graphics: target outlines pulled
// back into scene space through the group mapping, observed pieces colored
// by validation state, anchor markers, and a hint arrow for the primary
// nudge.
type OverlayRenderer struct {
	Puzzle      *GamePuzzleData
	Frame       *Frame
	Result      *ValidationResult
	Padding     float64           // Padding in scene units
	Resolution  canvas.Resolution // Resolution for PNG output
	GridSpacing float64           // Grid line spacing in scene units; 0 disables
}

// NewOverlayRenderer creates an overlay renderer with default settings.
func NewOverlayRenderer(puzzle *GamePuzzleData, frame *Frame, result *ValidationResult) *OverlayRenderer {
	return &OverlayRenderer{
		Puzzle:      puzzle,
		Frame:       frame,
		Result:      result,
		Padding:     40.0,
		Resolution:  canvas.DPI(150),
		GridSpacing: 100.0,
	}
}

// canvasRenderer is the interface both svg and rasterizer renderers implement.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the overlay as an SVG to the provided writer.
func (r *OverlayRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, maxX, maxY := r.calculateSceneBounds()

	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, maxX, maxY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the overlay as a PNG to the provided writer.
func (r *OverlayRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, maxX, maxY := r.calculateSceneBounds()

	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, maxX, maxY, width, height)
	return png.Encode(w, rast)
}

// bestGroupMapping picks the mapping drawn for target outlines: the highest
// confidence among live group mappings, ties broken by group id.
func bestGroupMapping(result *ValidationResult) *AnchorMapping {
	if result == nil {
		return nil
	}
	ids := make([]string, 0, len(result.GroupMappings))
	for id := range result.GroupMappings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var best *AnchorMapping
	for _, id := range ids {
		m := result.GroupMappings[id]
		if m == nil {
			continue
		}
		if best == nil || m.Confidence > best.Confidence {
			best = m
		}
	}
	return best
}

// targetOutlineScene returns a target's outline pulled back into scene space.
func (r *OverlayRenderer) targetOutlineScene(t TargetPiece, m *AnchorMapping) orb.Ring {
	ring := OutlineForTarget(t)
	if m == nil {
		return ring
	}
	out := make(orb.Ring, len(ring))
	for i, p := range ring {
		sp := InverseMapTargetToPhysical(m, fromOrbPoint(p))
		out[i] = toOrbPoint(sp)
	}
	return out
}

// calculateSceneBounds unions the outlines of every target (scene space) and
// every observed piece.
func (r *OverlayRenderer) calculateSceneBounds() (minX, minY, maxX, maxY float64) {
	m := bestGroupMapping(r.Result)

	var rings []orb.Ring
	if r.Puzzle != nil {
		for _, t := range r.Puzzle.Targets {
			rings = append(rings, r.targetOutlineScene(t, m))
		}
	}
	if r.Frame != nil {
		for _, o := range r.Frame.Observations {
			rings = append(rings, ObservedOutline(o))
		}
	}

	if len(rings) == 0 {
		return 0, 0, 100, 100
	}
	bound := RingBound(rings)
	return bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]
}

// renderToCanvas draws the overlay (shared logic for SVG and PNG).
func (r *OverlayRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, maxX, maxY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p Point) (float64, float64) {
		tx := (p.X - minX) + r.Padding
		ty := (p.Y - minY) + r.Padding
		return tx, ty
	}

	ringPath := func(ring orb.Ring) *canvas.Path {
		cp := &canvas.Path{}
		for i, pt := range ring {
			cx, cy := toCanvas(fromOrbPoint(pt))
			if i == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		cp.Close()
		return cp
	}

	// Grid lines under everything else.
	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.5
		gridStyle.Dashes = []float64{4.0, 4.0}

		for x := math.Floor(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(Point{X: x, Y: minY})
			x2, y2 := toCanvas(Point{X: x, Y: maxY})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Floor(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(Point{X: minX, Y: y})
			x2, y2 := toCanvas(Point{X: maxX, Y: y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	m := bestGroupMapping(r.Result)

	// Target outlines: solid when validated, amber when oriented-only,
	// dashed grey while open.
	if r.Puzzle != nil {
		for _, t := range r.Puzzle.Targets {
			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: canvas.Transparent}
			style.StrokeWidth = 2.0

			switch {
			case r.Result != nil && r.Result.ValidatedTargets[t.ID]:
				style.Stroke = canvas.Paint{Color: nrgbaToRGBA(colorValid.Stroke)}
			case r.Result != nil && r.Result.OrientedOnlyTargets[t.ID]:
				style.Stroke = canvas.Paint{Color: nrgbaToRGBA(colorOriented)}
				style.Dashes = []float64{6.0, 3.0}
			default:
				style.Stroke = canvas.Paint{Color: nrgbaToRGBA(colorTarget)}
				style.Dashes = []float64{6.0, 6.0}
			}

			renderer.RenderPath(ringPath(r.targetOutlineScene(t, m)), style, canvas.Identity)
		}
	}

	// Observed pieces, filled by state.
	if r.Frame != nil {
		for _, o := range r.Frame.Observations {
			sc := colorNeutral
			if r.Result != nil {
				if state, ok := r.Result.PieceStates[o.ID]; ok {
					if state.Valid {
						sc = colorValid
					} else if _, failed := r.Result.Failures[o.ID]; failed {
						sc = colorInvalid
					}
				}
			}

			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: nrgbaToRGBA(sc.Fill)}
			style.Stroke = canvas.Paint{Color: nrgbaToRGBA(sc.Stroke)}
			style.StrokeWidth = 1.5

			renderer.RenderPath(ringPath(ObservedOutline(o)), style, canvas.Identity)

			// Anchor marker: small ring at the anchor piece's centroid.
			if r.Result != nil && r.Result.AnchorPieceIDs[o.ID] {
				cx, cy := toCanvas(o.Position)
				anchorStyle := canvas.DefaultStyle
				anchorStyle.Fill = canvas.Paint{Color: canvas.Transparent}
				anchorStyle.Stroke = canvas.Paint{Color: canvas.Black}
				anchorStyle.StrokeWidth = 1.5

				anchorPath := canvas.Circle(8.0)
				anchorPath = anchorPath.Translate(cx, cy)
				renderer.RenderPath(anchorPath, anchorStyle, canvas.Identity)
			}
		}
	}

	// Hint arrow for the primary nudge: from the piece toward its target's
	// scene position.
	if r.Result != nil && r.Result.PrimaryNudge != nil && r.Frame != nil && r.Puzzle != nil {
		n := r.Result.PrimaryNudge
		o := r.Frame.ObservationByID(n.PieceID)
		t := r.Puzzle.TargetByID(n.TargetID)
		if o != nil && t != nil {
			from := o.Position
			to := InverseMapTargetToPhysical(m, t.Position())

			arrowStyle := canvas.DefaultStyle
			arrowStyle.Fill = canvas.Paint{Color: canvas.Transparent}
			arrowStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(colorOriented)}
			arrowStyle.StrokeWidth = 2.5
			arrowStyle.Dashes = []float64{8.0, 4.0}

			x1, y1 := toCanvas(from)
			x2, y2 := toCanvas(to)
			arrowPath := &canvas.Path{}
			arrowPath.MoveTo(x1, y1)
			arrowPath.LineTo(x2, y2)
			renderer.RenderPath(arrowPath, arrowStyle, canvas.Identity)

			headStyle := canvas.DefaultStyle
			headStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(colorOriented)}
			headStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

			headPath := canvas.Circle(4.0)
			headPath = headPath.Translate(x2, y2)
			renderer.RenderPath(headPath, headStyle, canvas.Identity)
		}
	}
}
