package selection

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
)

// genPointerPath generates pointer positions, many of them off the surface.
func genPointerPath(n int) gopter.Gen {
	return gen.SliceOfN(n, gopter.CombineGens(
		gen.Float64Range(-2000, 2000),
		gen.Float64Range(-2000, 2000),
	).Map(func(vals []interface{}) geometry.DisplayPoint {
		return geometry.DisplayPoint{X: vals[0].(float64), Y: vals[1].(float64)}
	}))
}

// TestController_DragProperty verifies a drag only ever moves the grabbed
// corner and keeps it on the display surface.
func TestController_DragProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("drag moves only the grabbed corner", prop.ForAll(
		func(corner int, path []geometry.DisplayPoint) bool {
			cfg := DefaultConfig()
			cfg.DisplayWidth = 600
			cfg.InitialMode = ModeManual
			c := NewController(cfg)
			if err := c.LoadImage(geometry.Dimensions{Width: 800, Height: 1000}); err != nil {
				return false
			}
			before := *c.Snapshot().Corners
			display := c.Snapshot().Display

			c.PointerDown(before[corner])
			for _, p := range path {
				c.PointerMove(p)
				after := *c.Snapshot().Corners
				for i := range after {
					if i != corner && after[i] != before[i] {
						return false
					}
				}
				got := after[corner]
				if got != geometry.Clamp(p, display) {
					return false
				}
				if got.X < 0 || got.X > display.Width || got.Y < 0 || got.Y > display.Height {
					return false
				}
			}
			c.PointerUp()
			return !c.Snapshot().Dragging
		},
		gen.IntRange(0, 3),
		genPointerPath(6),
	))

	properties.TestingRun(t)
}
