// Package render draws the display surface: the source image scaled to the
// display size with candidates or manual corners on top.
package render

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// Colors holds hex colour strings as they appear in configuration.
type Colors struct {
	Candidate string `mapstructure:"candidate" yaml:"candidate" json:"candidate"`
	Selected  string `mapstructure:"selected" yaml:"selected" json:"selected"`
	Manual    string `mapstructure:"manual" yaml:"manual" json:"manual"`
	Handle    string `mapstructure:"handle" yaml:"handle" json:"handle"`
}

// DefaultColors uses the green of the web front-end for candidates.
func DefaultColors() Colors {
	return Colors{
		Candidate: "#2ecc71",
		Selected:  "#e67e22",
		Manual:    "#3498db",
		Handle:    "#e74c3c",
	}
}

// Style is a parsed drawing style.
type Style struct {
	Candidate colorful.Color
	Selected  colorful.Color
	Manual    colorful.Color
	Handle    colorful.Color
	// FillAlpha is the opacity of polygon fills.
	FillAlpha float64
	// LineWidth is the outline thickness in pixels.
	LineWidth int
	// HandleRadius should match the corner grab radius so handles show the
	// area that starts a drag.
	HandleRadius int
}

// ParseStyle parses hex colours into a Style.
func ParseStyle(c Colors, handleRadius int) (Style, error) {
	parse := func(name, hex string) (colorful.Color, error) {
		col, err := colorful.Hex(hex)
		if err != nil {
			return colorful.Color{}, fmt.Errorf("invalid %s colour %q: %w", name, hex, err)
		}
		return col, nil
	}
	var (
		st  = Style{FillAlpha: 0.2, LineWidth: 3, HandleRadius: handleRadius}
		err error
	)
	if st.Candidate, err = parse("candidate", c.Candidate); err != nil {
		return Style{}, err
	}
	if st.Selected, err = parse("selected", c.Selected); err != nil {
		return Style{}, err
	}
	if st.Manual, err = parse("manual", c.Manual); err != nil {
		return Style{}, err
	}
	if st.Handle, err = parse("handle", c.Handle); err != nil {
		return Style{}, err
	}
	if st.HandleRadius <= 0 {
		st.HandleRadius = 8
	}
	return st, nil
}

// DefaultStyle returns the parsed default colours.
func DefaultStyle() Style {
	st, err := ParseStyle(DefaultColors(), 8)
	if err != nil {
		panic(err)
	}
	return st
}
