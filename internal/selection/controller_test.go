package selection

import (
	"testing"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoaded(t *testing.T, cfg Config, img geometry.Dimensions) *Controller {
	t.Helper()
	c := NewController(cfg)
	require.NoError(t, c.LoadImage(img))
	return c
}

func testConfig(width float64) Config {
	cfg := DefaultConfig()
	cfg.DisplayWidth = width
	return cfg
}

func TestController_InitialState(t *testing.T) {
	c := NewController(Config{})
	assert.Equal(t, ModeAuto, c.Mode())
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.False(t, c.Loaded())

	// Everything is a no-op before an image is loaded.
	assert.Nil(t, c.PointerDown(geometry.DisplayPoint{X: 1, Y: 1}))
	c.PointerMove(geometry.DisplayPoint{X: 1, Y: 1})
	c.PointerUp()
	fin, err := c.Execute()
	assert.NoError(t, err)
	assert.Nil(t, fin)
	c.ReplaceCandidates(CandidateSet{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}})
	assert.Empty(t, c.Candidates())
}

func TestController_LoadImageInvalid(t *testing.T) {
	c := NewController(DefaultConfig())
	err := c.LoadImage(geometry.Dimensions{Width: 0, Height: 100})
	require.ErrorIs(t, err, geometry.ErrInvalidDimensions)
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestController_AutoSelectEndToEnd(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 800, Height: 1000})
	assert.Equal(t, PhaseAutoBrowsing, c.Phase())

	cand := geometry.ImageQuad{{100, 100}, {700, 100}, {700, 900}, {100, 900}}
	c.ReplaceCandidates(CandidateSet{cand})

	v := c.Snapshot()
	assert.Equal(t, geometry.Dimensions{Width: 600, Height: 750}, v.Display)
	require.Len(t, v.DisplayCandidates, 1)
	assert.Equal(t, geometry.DisplayQuad{{75, 75}, {525, 75}, {525, 675}, {75, 675}}, v.DisplayCandidates[0])

	fin := c.PointerDown(geometry.DisplayPoint{X: 300, Y: 300})
	require.NotNil(t, fin)
	assert.Equal(t, cand, fin.Quad)
	assert.Equal(t, SourceCandidate, fin.Source)
	assert.Equal(t, 0, fin.CandidateIndex)
	assert.Equal(t, PhaseAutoSelected, c.Phase())
}

func TestController_AutoNoMatchIsNoOp(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 800, Height: 1000})
	c.ReplaceCandidates(CandidateSet{{{100, 100}, {700, 100}, {700, 900}, {100, 900}}})

	assert.Nil(t, c.PointerDown(geometry.DisplayPoint{X: 10, Y: 10}))
	assert.Equal(t, PhaseAutoBrowsing, c.Phase())
	assert.Equal(t, -1, c.Snapshot().Selected)
}

func TestController_AutoNoCandidates(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 800, Height: 1000})
	assert.Nil(t, c.PointerDown(geometry.DisplayPoint{X: 300, Y: 300}))
	assert.Equal(t, PhaseAutoBrowsing, c.Phase())
}

func TestController_OverlapTieBreakIsArrayOrder(t *testing.T) {
	c := newLoaded(t, testConfig(800), geometry.Dimensions{Width: 800, Height: 800})
	a := geometry.ImageQuad{{0, 0}, {500, 0}, {500, 500}, {0, 500}}
	b := geometry.ImageQuad{{100, 100}, {300, 100}, {300, 300}, {100, 300}}
	c.ReplaceCandidates(CandidateSet{a, b})

	fin := c.PointerDown(geometry.DisplayPoint{X: 200, Y: 200})
	require.NotNil(t, fin)
	assert.Equal(t, a, fin.Quad)
	assert.Equal(t, 0, fin.CandidateIndex)

	// Outside A but inside nothing else.
	assert.Nil(t, c.PointerDown(geometry.DisplayPoint{X: 600, Y: 600}))
}

func TestController_ReplaceCandidatesIsFullReplacement(t *testing.T) {
	c := newLoaded(t, testConfig(800), geometry.Dimensions{Width: 800, Height: 800})
	first := geometry.ImageQuad{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	second := geometry.ImageQuad{{20, 20}, {30, 20}, {30, 30}, {20, 30}}

	c.ReplaceCandidates(CandidateSet{first})
	require.NotNil(t, c.PointerDown(geometry.DisplayPoint{X: 5, Y: 5}))

	c.ReplaceCandidates(CandidateSet{second})
	assert.Equal(t, CandidateSet{second}, c.Candidates())
	assert.Equal(t, PhaseAutoBrowsing, c.Phase(), "new set clears the selection")
	assert.Nil(t, c.PointerDown(geometry.DisplayPoint{X: 5, Y: 5}))
}

func TestController_ManualDefaultRectangle(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 600, Height: 800})
	assert.False(t, c.SetMode(ModeManual))
	assert.Equal(t, PhaseManualEditing, c.Phase())

	v := c.Snapshot()
	require.NotNil(t, v.Corners)
	assert.Equal(t, geometry.DisplayQuad{{120, 160}, {480, 160}, {480, 640}, {120, 640}}, *v.Corners)
	assert.False(t, v.Dragging)
	assert.Equal(t, NoCorner, v.DraggedCorner)
}

func TestController_ManualDragClamps(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 600, Height: 800})
	c.SetMode(ModeManual)

	// Grab corner 0 at (120,160).
	assert.Nil(t, c.PointerDown(geometry.DisplayPoint{X: 125, Y: 165}))
	v := c.Snapshot()
	require.True(t, v.Dragging)
	assert.Equal(t, 0, v.DraggedCorner)

	c.PointerMove(geometry.DisplayPoint{X: -50, Y: -50})
	assert.Equal(t, geometry.DisplayPoint{X: 0, Y: 0}, c.Snapshot().Corners[0])

	c.PointerMove(geometry.DisplayPoint{X: 10000, Y: 10000})
	v = c.Snapshot()
	assert.Equal(t, geometry.DisplayPoint{X: 600, Y: 800}, v.Corners[0])
	// Other corners never move.
	assert.Equal(t, geometry.DisplayPoint{X: 480, Y: 160}, v.Corners[1])
	assert.Equal(t, geometry.DisplayPoint{X: 480, Y: 640}, v.Corners[2])
	assert.Equal(t, geometry.DisplayPoint{X: 120, Y: 640}, v.Corners[3])

	c.PointerUp()
	v = c.Snapshot()
	assert.False(t, v.Dragging)
	assert.Equal(t, NoCorner, v.DraggedCorner)

	// Moves after release do nothing.
	c.PointerMove(geometry.DisplayPoint{X: 1, Y: 1})
	assert.Equal(t, geometry.DisplayPoint{X: 600, Y: 800}, c.Snapshot().Corners[0])
}

func TestController_ManualGrabRadiusAndOrder(t *testing.T) {
	cfg := testConfig(100)
	cfg.DragHitRadius = 25
	c := newLoaded(t, cfg, geometry.Dimensions{Width: 100, Height: 100})
	c.SetMode(ModeManual)
	// Corners at (20,20), (80,20), (80,80), (20,80).

	// Exactly at the radius is not a hit.
	c.PointerDown(geometry.DisplayPoint{X: 45, Y: 20})
	assert.False(t, c.Snapshot().Dragging)

	c.PointerDown(geometry.DisplayPoint{X: 50, Y: 20})
	assert.False(t, c.Snapshot().Dragging, "30 units from both corners")

	// Within reach of corners 0 and 1: the lower index wins.

	cfg.DragHitRadius = 40
	c = newLoaded(t, cfg, geometry.Dimensions{Width: 100, Height: 100})
	c.SetMode(ModeManual)
	c.PointerDown(geometry.DisplayPoint{X: 50, Y: 20})
	v := c.Snapshot()
	assert.True(t, v.Dragging)
	assert.Equal(t, 0, v.DraggedCorner)
}

func TestController_ManualExecute(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 800, Height: 1000})
	c.SetMode(ModeManual)

	// Pointer up alone never finalizes.
	c.PointerDown(geometry.DisplayPoint{X: 120, Y: 150})
	c.PointerMove(geometry.DisplayPoint{X: 75, Y: 75})
	c.PointerUp()

	fin, err := c.Execute()
	require.NoError(t, err)
	require.NotNil(t, fin)
	assert.Equal(t, SourceManual, fin.Source)
	assert.Equal(t, -1, fin.CandidateIndex)

	// Display 600x750, scale 0.75. Default corners at 20%/80%.
	want := geometry.ImageQuad{{100, 100}, {640, 200}, {640, 800}, {160, 800}}
	for i := range want {
		assert.InDelta(t, want[i].X, fin.Quad[i].X, 1e-9, "corner %d", i)
		assert.InDelta(t, want[i].Y, fin.Quad[i].Y, 1e-9, "corner %d", i)
	}
}

func TestController_ExecuteOutsideManualIsNoOp(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 800, Height: 1000})
	fin, err := c.Execute()
	assert.NoError(t, err)
	assert.Nil(t, fin)
}

func TestController_ExecuteRequireConvex(t *testing.T) {
	cfg := testConfig(100)
	cfg.RequireConvex = true
	c := newLoaded(t, cfg, geometry.Dimensions{Width: 100, Height: 100})
	c.SetMode(ModeManual)

	fin, err := c.Execute()
	require.NoError(t, err)
	require.NotNil(t, fin)

	// Drag corner 0 past corner 2 to form a bow tie.
	c.PointerDown(geometry.DisplayPoint{X: 20, Y: 20})
	c.PointerMove(geometry.DisplayPoint{X: 90, Y: 90})
	c.PointerUp()

	fin, err = c.Execute()
	assert.ErrorIs(t, err, ErrNonConvexQuad)
	assert.Nil(t, fin)
}

func TestController_ModeSwitchIdempotence(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 800, Height: 1000})
	set := CandidateSet{{{100, 100}, {700, 100}, {700, 900}, {100, 900}}}
	c.ReplaceCandidates(set)

	assert.False(t, c.SetMode(ModeManual))
	assert.False(t, c.SetMode(ModeAuto), "non-empty set must not be re-fetched")
	assert.Equal(t, set, c.Candidates())
	assert.Equal(t, PhaseAutoBrowsing, c.Phase())

	// Setting the current mode again is a no-op.
	assert.False(t, c.SetMode(ModeAuto))
}

func TestController_ModeSwitchEmptySetRequestsDetection(t *testing.T) {
	cfg := testConfig(600)
	cfg.InitialMode = ModeManual
	c := newLoaded(t, cfg, geometry.Dimensions{Width: 800, Height: 1000})
	assert.Equal(t, PhaseManualEditing, c.Phase())
	require.NotNil(t, c.Snapshot().Corners, "manual load initializes corners immediately")

	assert.True(t, c.SetMode(ModeAuto))
}

func TestController_ManualCornersSurviveModeRoundTrip(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 600, Height: 800})
	c.SetMode(ModeManual)
	c.PointerDown(geometry.DisplayPoint{X: 120, Y: 160})
	c.PointerMove(geometry.DisplayPoint{X: 10, Y: 10})
	c.SetMode(ModeAuto)
	c.SetMode(ModeManual)

	v := c.Snapshot()
	assert.Equal(t, geometry.DisplayPoint{X: 10, Y: 10}, v.Corners[0])
	assert.False(t, v.Dragging, "a mode switch ends the drag")
}

func TestController_LoadImageResets(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 800, Height: 1000})
	c.ReplaceCandidates(CandidateSet{{{100, 100}, {700, 100}, {700, 900}, {100, 900}}})
	c.PointerDown(geometry.DisplayPoint{X: 300, Y: 300})
	c.SetMode(ModeManual)
	c.PointerDown(geometry.DisplayPoint{X: 120, Y: 150})
	c.PointerMove(geometry.DisplayPoint{X: 0, Y: 0})

	require.NoError(t, c.LoadImage(geometry.Dimensions{Width: 300, Height: 300}))
	v := c.Snapshot()
	assert.Empty(t, v.Candidates)
	assert.Equal(t, -1, v.Selected)
	assert.Equal(t, geometry.Dimensions{Width: 600, Height: 600}, v.Display)
	require.NotNil(t, v.Corners)
	assert.Equal(t, geometry.DefaultQuad(v.Display, 0.2), *v.Corners)
	assert.False(t, v.Dragging)
}

func TestController_DragUnaffectedByCandidateReplacement(t *testing.T) {
	c := newLoaded(t, testConfig(600), geometry.Dimensions{Width: 600, Height: 800})
	c.SetMode(ModeManual)
	c.PointerDown(geometry.DisplayPoint{X: 120, Y: 160})
	c.PointerMove(geometry.DisplayPoint{X: 50, Y: 60})

	c.ReplaceCandidates(CandidateSet{{{1, 1}, {2, 1}, {2, 2}, {1, 2}}})

	v := c.Snapshot()
	assert.True(t, v.Dragging)
	assert.Equal(t, 0, v.DraggedCorner)
	assert.Equal(t, geometry.DisplayPoint{X: 50, Y: 60}, v.Corners[0])
	c.PointerMove(geometry.DisplayPoint{X: 55, Y: 65})
	assert.Equal(t, geometry.DisplayPoint{X: 55, Y: 65}, c.Snapshot().Corners[0])
}

func TestController_LoadImageWithDisplay(t *testing.T) {
	c := NewController(DefaultConfig())
	require.NoError(t, c.LoadImageWithDisplay(
		geometry.Dimensions{Width: 1000, Height: 500},
		geometry.Dimensions{Width: 500, Height: 500},
	))
	c.ReplaceCandidates(CandidateSet{{{0, 0}, {400, 0}, {400, 400}, {0, 400}}})
	v := c.Snapshot()
	assert.Equal(t, geometry.DisplayQuad{{0, 0}, {200, 0}, {200, 400}, {0, 400}}, v.DisplayCandidates[0])
	require.NotNil(t, c.PointerDown(geometry.DisplayPoint{X: 100, Y: 300}))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("manual")
	require.NoError(t, err)
	assert.Equal(t, ModeManual, m)
	_, err = ParseMode("topmost")
	assert.Error(t, err)
}
