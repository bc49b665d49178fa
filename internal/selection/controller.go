package selection

import (
	"github.com/MeKo-Tech/quadpick/internal/geometry"
)

// Controller drives pointer input into selection state. It is not safe for
// concurrent use; a single owner (the session loop) calls every method.
//
// Preconditions that do not hold (no image, no candidates, no corner under the
// pointer) turn the call into a no-op rather than an error.
type Controller struct {
	cfg Config

	mode    Mode
	loaded  bool
	mapper  geometry.Mapper
	cands   CandidateSet
	display []geometry.DisplayQuad

	selected int
	manual   *ManualEdit
}

// NewController returns a controller with no image loaded.
func NewController(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.DisplayWidth <= 0 {
		cfg.DisplayWidth = def.DisplayWidth
	}
	if cfg.DragHitRadius <= 0 {
		cfg.DragHitRadius = def.DragHitRadius
	}
	if cfg.DefaultInset <= 0 || cfg.DefaultInset >= 0.5 {
		cfg.DefaultInset = def.DefaultInset
	}
	if cfg.InitialMode == "" {
		cfg.InitialMode = def.InitialMode
	}
	return &Controller{cfg: cfg, mode: cfg.InitialMode, selected: -1}
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode { return c.mode }

// Loaded reports whether an image is loaded.
func (c *Controller) Loaded() bool { return c.loaded }

// Mapper returns the active image/display mapping. Only meaningful once loaded.
func (c *Controller) Mapper() geometry.Mapper { return c.mapper }

// Candidates returns the current candidate set (image space).
func (c *Controller) Candidates() CandidateSet { return c.cands }

// Phase derives the observable machine state.
func (c *Controller) Phase() Phase {
	switch {
	case !c.loaded:
		return PhaseIdle
	case c.mode == ModeManual:
		return PhaseManualEditing
	case c.selected >= 0:
		return PhaseAutoSelected
	default:
		return PhaseAutoBrowsing
	}
}

// LoadImage resets all per-image state for a new source image. In manual mode
// the default rectangle is initialized immediately.
func (c *Controller) LoadImage(img geometry.Dimensions) error {
	disp, err := geometry.DisplaySize(img, c.cfg.DisplayWidth)
	if err != nil {
		return err
	}
	return c.LoadImageWithDisplay(img, disp)
}

// LoadImageWithDisplay is LoadImage for callers whose rendering surface was
// sized independently of the image, e.g. a canvas read from a separate decode.
func (c *Controller) LoadImageWithDisplay(img, display geometry.Dimensions) error {
	m, err := geometry.NewMapper(img, display)
	if err != nil {
		return err
	}
	c.mapper = m
	c.loaded = true
	c.cands = nil
	c.display = nil
	c.selected = -1
	c.manual = nil
	if c.mode == ModeManual {
		c.initManual()
	}
	return nil
}

// SetMode switches modes and reports whether the caller should request a
// fresh detection: only when entering auto mode with an empty candidate set.
func (c *Controller) SetMode(m Mode) bool {
	if m == c.mode {
		return false
	}
	c.mode = m
	c.selected = -1
	if c.manual != nil {
		c.manual.Dragging = false
		c.manual.DraggedCorner = NoCorner
	}
	switch m {
	case ModeManual:
		if c.loaded && c.manual == nil {
			c.initManual()
		}
		return false
	default:
		return c.loaded && len(c.cands) == 0
	}
}

func (c *Controller) initManual() {
	c.manual = &ManualEdit{
		Corners:       geometry.DefaultQuad(c.mapper.Display, c.cfg.DefaultInset),
		DraggedCorner: NoCorner,
	}
}

// ReplaceCandidates installs a fresh detection result. It never touches
// manual corner or drag fields.
func (c *Controller) ReplaceCandidates(set CandidateSet) {
	if !c.loaded {
		return
	}
	c.cands = append(CandidateSet(nil), set...)
	c.display = make([]geometry.DisplayQuad, len(c.cands))
	for i, q := range c.cands {
		c.display[i] = c.mapper.QuadToDisplay(q)
	}
	c.selected = -1
}

// PointerDown handles a press at p (display space). In auto mode the first
// candidate, in array order, whose display polygon contains p is selected and
// returned as a finalized selection. In manual mode the first corner within
// the grab radius starts a drag; nothing is finalized.
func (c *Controller) PointerDown(p geometry.DisplayPoint) *Finalized {
	if !c.loaded {
		return nil
	}
	if c.mode == ModeManual {
		c.grabCorner(p)
		return nil
	}
	for i, dq := range c.display {
		if geometry.Contains(p, dq.Points()) {
			c.selected = i
			return &Finalized{Quad: c.cands[i], Source: SourceCandidate, CandidateIndex: i}
		}
	}
	return nil
}

func (c *Controller) grabCorner(p geometry.DisplayPoint) {
	if c.manual == nil {
		return
	}
	for i, corner := range c.manual.Corners {
		if geometry.Distance(p, corner) < c.cfg.DragHitRadius {
			c.manual.DraggedCorner = i
			c.manual.Dragging = true
			return
		}
	}
}

// PointerMove moves the dragged corner to p clamped to the display surface.
// Other corners never move.
func (c *Controller) PointerMove(p geometry.DisplayPoint) {
	if c.mode != ModeManual || c.manual == nil || !c.manual.Dragging {
		return
	}
	i := c.manual.DraggedCorner
	if i < 0 || i >= len(c.manual.Corners) {
		return
	}
	c.manual.Corners[i] = geometry.Clamp(p, c.mapper.Display)
}

// PointerUp ends any drag in progress. It never finalizes.
func (c *Controller) PointerUp() {
	if c.manual == nil {
		return
	}
	c.manual.Dragging = false
	c.manual.DraggedCorner = NoCorner
}

// Execute finalizes the manual corners, mapped to image space. Outside manual
// mode it is a no-op.
func (c *Controller) Execute() (*Finalized, error) {
	if !c.loaded || c.mode != ModeManual || c.manual == nil {
		return nil, nil
	}
	if c.cfg.RequireConvex && !geometry.IsConvex(c.manual.Corners.Points()) {
		return nil, ErrNonConvexQuad
	}
	return &Finalized{
		Quad:           c.mapper.QuadToImage(c.manual.Corners),
		Source:         SourceManual,
		CandidateIndex: -1,
	}, nil
}

// Snapshot returns a deep copy of the state.
func (c *Controller) Snapshot() View {
	v := View{
		Mode:              c.mode,
		Phase:             c.Phase(),
		Candidates:        append(CandidateSet{}, c.cands...),
		DisplayCandidates: append([]geometry.DisplayQuad{}, c.display...),
		CandidateCount:    len(c.cands),
		Selected:          c.selected,
		DraggedCorner:     NoCorner,
	}
	if c.loaded {
		v.Image = c.mapper.Image
		v.Display = c.mapper.Display
	}
	if c.manual != nil {
		corners := c.manual.Corners
		v.Corners = &corners
		v.Dragging = c.manual.Dragging
		v.DraggedCorner = c.manual.DraggedCorner
	}
	return v
}
