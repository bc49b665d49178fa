// Package geometry converts points between the source image's pixel grid and
// the display surface, and answers point-in-polygon queries.
//
// Image space and display space use distinct point types. The only legal
// crossing between them is a Mapper.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is an untagged 2D coordinate. It is the common underlying type of
// ImagePoint and DisplayPoint and is used internally by space-agnostic math.
type Point struct {
	X float64
	Y float64
}

// ImagePoint is a coordinate in the original, unscaled image (origin top-left).
type ImagePoint Point

// DisplayPoint is a coordinate on the rendering surface.
type DisplayPoint Point

// Coord is satisfied by both coordinate spaces. Functions generic over Coord
// accept either space but never a mix of the two.
type Coord interface {
	ImagePoint | DisplayPoint
}

// Distance returns the euclidean distance between two points of the same space.
func Distance[P Coord](a, b P) float64 {
	pa, pb := Point(a), Point(b)
	return math.Hypot(pb.X-pa.X, pb.Y-pa.Y)
}

// Clamp bounds p component-wise to [0, bounds.Width] x [0, bounds.Height].
func Clamp(p DisplayPoint, bounds Dimensions) DisplayPoint {
	return DisplayPoint{
		X: clampFloat(p.X, 0, bounds.Width),
		Y: clampFloat(p.Y, 0, bounds.Height),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MarshalJSON encodes the point as an [x, y] pair, the form used on the wire.
func (p ImagePoint) MarshalJSON() ([]byte, error) { return marshalPair(Point(p)) }

// UnmarshalJSON decodes an [x, y] pair.
func (p *ImagePoint) UnmarshalJSON(data []byte) error {
	q, err := unmarshalPair(data)
	if err != nil {
		return err
	}
	*p = ImagePoint(q)
	return nil
}

// MarshalJSON encodes the point as an [x, y] pair.
func (p DisplayPoint) MarshalJSON() ([]byte, error) { return marshalPair(Point(p)) }

// UnmarshalJSON decodes an [x, y] pair.
func (p *DisplayPoint) UnmarshalJSON(data []byte) error {
	q, err := unmarshalPair(data)
	if err != nil {
		return err
	}
	*p = DisplayPoint(q)
	return nil
}

func marshalPair(p Point) ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func unmarshalPair(data []byte) (Point, error) {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return Point{}, err
	}
	if len(pair) != 2 {
		return Point{}, fmt.Errorf("point must have exactly 2 coordinates, got %d", len(pair))
	}
	return Point{X: pair[0], Y: pair[1]}, nil
}
