package geometry

// Contains reports whether p lies inside polygon using even-odd ray casting.
// A horizontal ray is cast towards +X; an edge is crossed when exactly one of
// its endpoints lies above p (one endpoint inclusive, the other exclusive), so
// shared vertices are counted once. Points exactly on an edge may report either
// result, but the answer is deterministic for identical input.
// Polygons with fewer than 3 vertices contain nothing.
func Contains[P Coord](p P, polygon []P) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	pt := Point(p)
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := Point(polygon[i]), Point(polygon[j])
		if (vi.Y > pt.Y) != (vj.Y > pt.Y) &&
			pt.X < (vj.X-vi.X)*(pt.Y-vi.Y)/(vj.Y-vi.Y)+vi.X {
			inside = !inside
		}
	}
	return inside
}

// IsConvex reports whether the vertices form a convex polygon in either
// winding order. Collinear runs are tolerated; fully degenerate input is not convex.
func IsConvex[P Coord](polygon []P) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	sign := 0
	for i := range n {
		c := cross(Point(polygon[i]), Point(polygon[(i+1)%n]), Point(polygon[(i+2)%n]))
		if c == 0 {
			continue
		}
		s := 1
		if c < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return sign != 0
}

// Centroid returns the vertex average.
func Centroid[P Coord](polygon []P) P {
	if len(polygon) == 0 {
		var zero P
		return zero
	}
	var cx, cy float64
	for _, v := range polygon {
		q := Point(v)
		cx += q.X
		cy += q.Y
	}
	n := float64(len(polygon))
	return P(Point{X: cx / n, Y: cy / n})
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
