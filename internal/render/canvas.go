package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/selection"
)

// Canvas renders src at the display size of v and overlays the selection
// state: every candidate in auto mode (the selected one highlighted), or the
// manual quadrilateral with its corner handles.
func Canvas(src image.Image, v selection.View, st Style) *image.RGBA {
	w := int(math.Round(v.Display.Width))
	h := int(math.Round(v.Display.Height))
	if src == nil || w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	scaled := imaging.Resize(src, w, h, imaging.Linear)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), scaled, scaled.Bounds().Min, draw.Src)

	switch v.Mode {
	case selection.ModeManual:
		if v.Corners != nil {
			pts := v.Corners.Points()
			fillPolygon(dst, pts, st.Manual, st.FillAlpha)
			drawPolygon(dst, pts, st.Manual, st.LineWidth)
			for i, c := range pts {
				col := st.Handle
				if v.Dragging && i == v.DraggedCorner {
					col = st.Selected
				}
				fillCircle(dst, c, st.HandleRadius, col)
			}
		}
	default:
		for i, q := range v.DisplayCandidates {
			col := st.Candidate
			if i == v.Selected {
				col = st.Selected
			}
			pts := q.Points()
			fillPolygon(dst, pts, col, st.FillAlpha)
			drawPolygon(dst, pts, col, st.LineWidth)
		}
	}
	return dst
}

// blend mixes col over the pixel at (x, y) with the given opacity.
func blend(dst *image.RGBA, x, y int, col colorful.Color, alpha float64) {
	if alpha >= 1 {
		dst.Set(x, y, col)
		return
	}
	under, ok := colorful.MakeColor(dst.RGBAAt(x, y))
	if !ok {
		dst.Set(x, y, col)
		return
	}
	r, g, b := under.BlendRgb(col, alpha).Clamped().RGB255()
	dst.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
}

// fillPolygon shades every pixel whose centre lies inside the polygon.
func fillPolygon(dst *image.RGBA, pts []geometry.DisplayPoint, col colorful.Color, alpha float64) {
	if len(pts) < 3 || alpha <= 0 {
		return
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	box := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1).
		Intersect(dst.Bounds())
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			centre := geometry.DisplayPoint{X: float64(x) + 0.5, Y: float64(y) + 0.5}
			if geometry.Contains(centre, pts) {
				blend(dst, x, y, col, alpha)
			}
		}
	}
}

// drawPolygon draws connected line segments and closes the polygon. Segments
// are clipped to the canvas first so far off-canvas vertices cost nothing.
func drawPolygon(dst *image.RGBA, pts []geometry.DisplayPoint, col color.Color, thickness int) {
	if len(pts) < 2 {
		return
	}
	b := dst.Bounds()
	margin := float64(thickness)
	minX, minY := float64(b.Min.X)-margin, float64(b.Min.Y)-margin
	maxX, maxY := float64(b.Max.X)+margin, float64(b.Max.Y)+margin
	for i := range pts {
		a, c, ok := clipSegment(pts[i], pts[(i+1)%len(pts)], minX, minY, maxX, maxY)
		if !ok {
			continue
		}
		drawLine(dst, image.Pt(int(math.Round(a.X)), int(math.Round(a.Y))),
			image.Pt(int(math.Round(c.X)), int(math.Round(c.Y))), col, thickness)
	}
}

// clipSegment clips a-b to the rectangle (Liang-Barsky). ok is false when
// nothing of the segment lies inside.
func clipSegment(a, b geometry.DisplayPoint, minX, minY, maxX, maxY float64) (geometry.DisplayPoint, geometry.DisplayPoint, bool) {
	if math.IsNaN(a.X) || math.IsNaN(a.Y) || math.IsNaN(b.X) || math.IsNaN(b.Y) {
		return a, b, false
	}
	dx, dy := b.X-a.X, b.Y-a.Y
	t0, t1 := 0.0, 1.0
	edges := [4][2]float64{
		{-dx, a.X - minX},
		{dx, maxX - a.X},
		{-dy, a.Y - minY},
		{dy, maxY - a.Y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			t0 = math.Max(t0, r)
		} else {
			t1 = math.Min(t1, r)
		}
		if t0 > t1 {
			return a, b, false
		}
	}
	return geometry.DisplayPoint{X: a.X + t0*dx, Y: a.Y + t0*dy},
		geometry.DisplayPoint{X: a.X + t1*dx, Y: a.Y + t1*dy}, true
}

// drawLine draws a line between two points using a simple Bresenham variant.
func drawLine(dst *image.RGBA, a, b image.Point, col color.Color, thickness int) {
	x0, y0 := a.X, a.Y
	x1, y1 := b.X, b.Y
	dx := abs(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -abs(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		drawThickPoint(dst, x0, y0, col, thickness)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawThickPoint(dst *image.RGBA, x, y int, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r := (thickness - 1) / 2
	for yy := y - r; yy <= y+r; yy++ {
		for xx := x - r; xx <= x+r; xx++ {
			if image.Pt(xx, yy).In(dst.Bounds()) {
				dst.Set(xx, yy, col)
			}
		}
	}
}

func fillCircle(dst *image.RGBA, c geometry.DisplayPoint, radius int, col color.Color) {
	cx, cy := int(math.Round(c.X)), int(math.Round(c.Y))
	r2 := radius * radius
	for yy := cy - radius; yy <= cy+radius; yy++ {
		for xx := cx - radius; xx <= cx+radius; xx++ {
			ddx, ddy := xx-cx, yy-cy
			if ddx*ddx+ddy*ddy <= r2 && image.Pt(xx, yy).In(dst.Bounds()) {
				dst.Set(xx, yy, col)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
