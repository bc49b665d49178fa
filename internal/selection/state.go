// Package selection holds the interactive polygon selection state machine:
// picking a detected candidate in auto mode and dragging four corners in
// manual mode.
package selection

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
)

// Mode selects how the user chooses a quadrilateral.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// ErrUnknownMode is returned by ParseMode for anything but auto and manual.
var ErrUnknownMode = errors.New("unknown mode")

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeManual:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w %q (must be %q or %q)", ErrUnknownMode, s, ModeAuto, ModeManual)
	}
}

// Phase is the observable state of the machine.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAutoBrowsing  Phase = "auto_browsing"
	PhaseAutoSelected  Phase = "auto_selected"
	PhaseManualEditing Phase = "manual_editing"
)

// NoCorner marks the absence of a dragged corner.
const NoCorner = -1

// ErrNonConvexQuad is returned by Execute when convexity validation is on and
// the manual corners do not form a convex quadrilateral.
var ErrNonConvexQuad = errors.New("manual quadrilateral is not convex")

// CandidateSet is the detector's proposals in image space. Each detection
// fully replaces the previous set.
type CandidateSet []geometry.ImageQuad

// ManualEdit is the manual-mode corner state in display space.
type ManualEdit struct {
	Corners       geometry.DisplayQuad
	DraggedCorner int
	Dragging      bool
}

// Source records how a finalized selection was produced.
type Source string

const (
	SourceCandidate Source = "candidate"
	SourceManual    Source = "manual"
)

// Finalized is the four image-space corners chosen by the user, ready for the
// warp service.
type Finalized struct {
	Quad           geometry.ImageQuad `json:"points"`
	Source         Source             `json:"source"`
	CandidateIndex int                `json:"candidate_index"`
}

// Config tunes the controller.
type Config struct {
	// DisplayWidth is the fixed width of the rendering surface.
	DisplayWidth float64
	// DragHitRadius is the grab distance around a manual corner, in display units.
	DragHitRadius float64
	// DefaultInset positions the initial manual rectangle (0.2 → 20%/80%).
	DefaultInset float64
	// InitialMode is the mode a new controller starts in.
	InitialMode Mode
	// RequireConvex rejects non-convex manual quads at Execute time.
	RequireConvex bool
}

// DefaultConfig mirrors the original front-end: an 800 wide canvas and a 25
// unit corner grab radius.
func DefaultConfig() Config {
	return Config{
		DisplayWidth:  800,
		DragHitRadius: 25,
		DefaultInset:  0.2,
		InitialMode:   ModeAuto,
	}
}

// View is a copy of the controller state for rendering and serialization.
type View struct {
	Mode              Mode                   `json:"mode"`
	Phase             Phase                  `json:"phase"`
	Image             geometry.Dimensions    `json:"image"`
	Display           geometry.Dimensions    `json:"display"`
	Candidates        CandidateSet           `json:"candidates"`
	DisplayCandidates []geometry.DisplayQuad `json:"display_candidates"`
	CandidateCount    int                    `json:"candidate_count"`
	Selected          int                    `json:"selected"`
	Corners           *geometry.DisplayQuad  `json:"corners,omitempty"`
	Dragging          bool                   `json:"dragging"`
	DraggedCorner     int                    `json:"dragged_corner"`
}
