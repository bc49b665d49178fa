// Package service is the HTTP client for the external detection and warp
// service.
package service

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
)

// Action names the operation requested from the service.
type Action string

const (
	ActionDetect Action = "detect"
	ActionWarp   Action = "warp"
)

// Parameter ranges accepted by the detection backend.
const (
	MinThreshold   = 0
	MaxThreshold   = 255
	MinMorphKernel = 1
	MaxMorphKernel = 21
	MinResizeWidth = 300
	MaxResizeWidth = 1000
)

// Params are the edge detection tuning values sent with every detect call.
type Params struct {
	Threshold1  int `mapstructure:"threshold1" yaml:"threshold1" json:"threshold1"`
	Threshold2  int `mapstructure:"threshold2" yaml:"threshold2" json:"threshold2"`
	MorphKernel int `mapstructure:"morph_kernel" yaml:"morph_kernel" json:"morph_kernel"`
	ResizeWidth int `mapstructure:"resize_width" yaml:"resize_width" json:"resize_width"`
}

// DefaultParams returns the slider defaults of the web front-end.
func DefaultParams() Params {
	return Params{
		Threshold1:  75,
		Threshold2:  200,
		MorphKernel: 5,
		ResizeWidth: 650,
	}
}

// Normalize bumps an even morphology kernel to the next odd size, which is
// what the backend does before building the structuring element.
func (p Params) Normalize() Params {
	if p.MorphKernel%2 == 0 {
		p.MorphKernel++
	}
	return p
}

// Validate checks every field against its range. Threshold1 may exceed
// Threshold2.
func (p Params) Validate() error {
	check := func(name string, v, lo, hi int) error {
		if v < lo || v > hi {
			return fmt.Errorf("%w: %s %d out of range [%d, %d]", ErrInvalidParams, name, v, lo, hi)
		}
		return nil
	}
	if err := check("threshold1", p.Threshold1, MinThreshold, MaxThreshold); err != nil {
		return err
	}
	if err := check("threshold2", p.Threshold2, MinThreshold, MaxThreshold); err != nil {
		return err
	}
	if err := check("morph_kernel", p.MorphKernel, MinMorphKernel, MaxMorphKernel); err != nil {
		return err
	}
	return check("resize_width", p.ResizeWidth, MinResizeWidth, MaxResizeWidth)
}

// Image is an encoded raster with its MIME type.
type Image struct {
	Data []byte
	MIME string
}

// DataURL renders the image as a base64 data URL.
func (i Image) DataURL() string {
	mime := i.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURL decodes a "data:<mime>;base64,<payload>" string.
func ParseDataURL(s string) (Image, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURL)
	}
	mime, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return Image{}, fmt.Errorf("%w: payload is not base64", ErrInvalidDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrInvalidDataURL, err)
	}
	return Image{Data: data, MIME: mime}, nil
}

// RawQuad is a candidate polygon as the service returned it. Anything other
// than four points is malformed and dropped by callers.
type RawQuad []geometry.ImagePoint

// Quad converts a well-formed candidate.
func (r RawQuad) Quad() (geometry.ImageQuad, bool) {
	var q geometry.ImageQuad
	if len(r) != len(q) {
		return q, false
	}
	copy(q[:], r)
	return q, true
}

// DetectResult is a successful detection.
type DetectResult struct {
	Candidates []RawQuad
	// EdgePreview is the binary edge map, absent when the service sent none.
	EdgePreview *Image
}

// Orientation is the optional pose estimate returned with a warp, in degrees.
type Orientation struct {
	Roll  float64 `json:"roll" yaml:"roll"`
	Pitch float64 `json:"pitch" yaml:"pitch"`
	Yaw   float64 `json:"yaw" yaml:"yaw"`
}

// WarpResult is a successful rectification.
type WarpResult struct {
	Image       Image
	Orientation *Orientation
}

// processRequest flattens Params into the body for detect calls only.
type processRequest struct {
	Image  string                `json:"image"`
	Action Action                `json:"action"`
	Points []geometry.ImagePoint `json:"points,omitempty"`
	*Params
}

type processResponse struct {
	Candidates     [][][]float64 `json:"candidates"`
	EdgeImage      string        `json:"edge_image"`
	ProcessedImage string        `json:"processed_image"`
	Orientation    *Orientation  `json:"orientation"`
	Error          *string       `json:"error"`
}

func toRawQuads(in [][][]float64) []RawQuad {
	out := make([]RawQuad, 0, len(in))
	for _, poly := range in {
		q := make(RawQuad, 0, len(poly))
		for _, pt := range poly {
			if len(pt) != 2 {
				q = nil
				break
			}
			q = append(q, geometry.ImagePoint{X: pt[0], Y: pt[1]})
		}
		out = append(out, q)
	}
	return out
}
