package geometry

// ImageQuad is an ordered quadrilateral in image space. Winding order is kept
// as received; rendering always connects 0→1→2→3→0.
type ImageQuad [4]ImagePoint

// DisplayQuad is an ordered quadrilateral in display space.
type DisplayQuad [4]DisplayPoint

// Points returns the corners as a slice suitable for Contains.
func (q ImageQuad) Points() []ImagePoint { return q[:] }

// Points returns the corners as a slice suitable for Contains.
func (q DisplayQuad) Points() []DisplayPoint { return q[:] }

// DefaultQuad returns an axis-aligned rectangle inset by the given fraction of
// the display extents, e.g. inset 0.2 gives corners at 20% and 80%. Corners are
// ordered top-left, top-right, bottom-right, bottom-left.
func DefaultQuad(display Dimensions, inset float64) DisplayQuad {
	x0, x1 := display.Width*inset, display.Width*(1-inset)
	y0, y1 := display.Height*inset, display.Height*(1-inset)
	return DisplayQuad{
		{X: x0, Y: y0},
		{X: x1, Y: y0},
		{X: x1, Y: y1},
		{X: x0, Y: y1},
	}
}
