package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDimensions is returned when an extent is zero, negative or not finite.
var ErrInvalidDimensions = errors.New("invalid dimensions")

// DimensionError describes which surface had unusable extents.
type DimensionError struct {
	Surface string
	Width   float64
	Height  float64
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s dimensions %gx%g: %v", e.Surface, e.Width, e.Height, ErrInvalidDimensions)
}

func (e *DimensionError) Unwrap() error { return ErrInvalidDimensions }

// Dimensions is the extent of a surface in its own pixel units.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate reports a *DimensionError if either extent is unusable.
func (d Dimensions) Validate(surface string) error {
	if !positiveFinite(d.Width) || !positiveFinite(d.Height) {
		return &DimensionError{Surface: surface, Width: d.Width, Height: d.Height}
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// DisplaySize derives the display surface for an image rendered at a fixed
// width, preserving the aspect ratio exactly.
func DisplaySize(img Dimensions, maxWidth float64) (Dimensions, error) {
	if err := img.Validate("image"); err != nil {
		return Dimensions{}, err
	}
	if !positiveFinite(maxWidth) {
		return Dimensions{}, &DimensionError{Surface: "display", Width: maxWidth, Height: 0}
	}
	return Dimensions{
		Width:  maxWidth,
		Height: img.Height * (maxWidth / img.Width),
	}, nil
}

// Mapper converts between image space and display space. Scale factors are
// independent per axis because decoded-image and canvas extents may come from
// separate sources.
type Mapper struct {
	Image   Dimensions
	Display Dimensions
	ScaleX  float64
	ScaleY  float64
}

// NewMapper validates both surfaces and computes the per-axis scale.
func NewMapper(img, display Dimensions) (Mapper, error) {
	if err := img.Validate("image"); err != nil {
		return Mapper{}, err
	}
	if err := display.Validate("display"); err != nil {
		return Mapper{}, err
	}
	return Mapper{
		Image:   img,
		Display: display,
		ScaleX:  display.Width / img.Width,
		ScaleY:  display.Height / img.Height,
	}, nil
}

// ToDisplay maps an image-space point onto the display surface.
func (m Mapper) ToDisplay(p ImagePoint) DisplayPoint {
	return DisplayPoint{X: p.X * m.ScaleX, Y: p.Y * m.ScaleY}
}

// ToImage maps a display-space point back to image pixels.
func (m Mapper) ToImage(p DisplayPoint) ImagePoint {
	return ImagePoint{X: p.X / m.ScaleX, Y: p.Y / m.ScaleY}
}

// QuadToDisplay maps every corner of q to display space.
func (m Mapper) QuadToDisplay(q ImageQuad) DisplayQuad {
	var out DisplayQuad
	for i, p := range q {
		out[i] = m.ToDisplay(p)
	}
	return out
}

// QuadToImage maps every corner of q to image space.
func (m Mapper) QuadToImage(q DisplayQuad) ImageQuad {
	var out ImageQuad
	for i, p := range q {
		out[i] = m.ToImage(p)
	}
	return out
}

// ToDisplay is the one-shot form of Mapper.ToDisplay.
func ToDisplay(p ImagePoint, img, display Dimensions) (DisplayPoint, error) {
	m, err := NewMapper(img, display)
	if err != nil {
		return DisplayPoint{}, err
	}
	return m.ToDisplay(p), nil
}

// ToImage is the one-shot form of Mapper.ToImage.
func ToImage(p DisplayPoint, img, display Dimensions) (ImagePoint, error) {
	m, err := NewMapper(img, display)
	if err != nil {
		return ImagePoint{}, err
	}
	return m.ToImage(p), nil
}
