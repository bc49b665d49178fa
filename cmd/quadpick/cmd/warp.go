package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/quadpick/internal/config"
	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/imageio"
	"github.com/MeKo-Tech/quadpick/internal/orchestrator"
	"github.com/MeKo-Tech/quadpick/internal/selection"
)

// warpCmd represents the warp command.
var warpCmd = &cobra.Command{
	Use:   "warp <image>",
	Short: "Rectify a document given its four corners",
	Long: `Send an image and four corner points to the warp service and save the
rectified document.

Corners are given in image pixels, or in display coordinates with --display.
Instead of corners, --candidate picks a quadrilateral from a fresh detection.

Examples:
  quadpick warp receipt.jpg --points "100,100;640,200;640,800;160,800"
  quadpick warp receipt.jpg --display --points "75,75;480,150;480,600;120,600"
  quadpick warp receipt.jpg --candidate 0 -o receipt_flat.png`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		pointsArg, _ := cmd.Flags().GetString("points")
		displaySpace, _ := cmd.Flags().GetBool("display")
		candidate, _ := cmd.Flags().GetInt("candidate")

		if (pointsArg == "") == (candidate < 0) {
			return errors.New("exactly one of --points or --candidate is required")
		}

		up, err := loadUpload(args[0], cfg)
		if err != nil {
			return err
		}
		src := orchestrator.Source{Image: up.Image, Dims: up.Dims()}
		orch := orchestrator.New(newServiceClient(cfg), cfg.ToOrchestratorConfig(), cfg.Detection, slog.Default())
		ctx := commandContext(cmd)

		var quad geometry.ImageQuad
		if pointsArg != "" {
			quad, err = pointsToImage(pointsArg, displaySpace, src.Dims, cfg)
			if err != nil {
				return err
			}
			if cfg.Selection.RequireConvex && !geometry.IsConvex(quad.Points()) {
				return selection.ErrNonConvexQuad
			}
		} else {
			det, err := orch.Detect(ctx, src, cfg.Detection)
			if err != nil {
				return fmt.Errorf("detection failed: %w", err)
			}
			if candidate >= len(det.Candidates) {
				return fmt.Errorf("candidate %d out of range: found %d documents", candidate, len(det.Candidates))
			}
			quad = det.Candidates[candidate]
		}

		res, err := orch.Warp(ctx, src, quad)
		if err != nil {
			return fmt.Errorf("warp failed: %w", err)
		}

		output := cfg.Output.ResultFile
		if output == "" {
			output = config.DefaultConfig().Output.ResultFile
		}
		if err := imageio.Save(output, res.Image.Data, res.Image.MIME); err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}

		w := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(w, "Corners: %s\n", formatPairs(imagePairs(quad)))
		if o := res.Orientation; o != nil {
			_, _ = fmt.Fprintf(w, "Orientation: roll=%.1f pitch=%.1f yaw=%.1f\n", o.Roll, o.Pitch, o.Yaw)
		}
		_, _ = fmt.Fprintf(w, "Saved rectified image to %s\n", output)
		return nil
	},
}

// pointsToImage parses four "x,y" pairs separated by ";" and maps them to
// image space when they are display coordinates.
func pointsToImage(s string, displaySpace bool, dims geometry.Dimensions, cfg *config.Config) (geometry.ImageQuad, error) {
	pts, err := parsePoints(s)
	if err != nil {
		return geometry.ImageQuad{}, err
	}
	if !displaySpace {
		var q geometry.ImageQuad
		for i, p := range pts {
			q[i] = geometry.ImagePoint(p)
		}
		return q, nil
	}

	display, err := geometry.DisplaySize(dims, cfg.Display.MaxWidth)
	if err != nil {
		return geometry.ImageQuad{}, err
	}
	m, err := geometry.NewMapper(dims, display)
	if err != nil {
		return geometry.ImageQuad{}, err
	}
	var dq geometry.DisplayQuad
	for i, p := range pts {
		dq[i] = geometry.Clamp(geometry.DisplayPoint(p), display)
	}
	return m.QuadToImage(dq), nil
}

func parsePoints(s string) ([4]geometry.Point, error) {
	var out [4]geometry.Point
	pairs := strings.Split(strings.TrimSpace(s), ";")
	if len(pairs) != len(out) {
		return out, fmt.Errorf("invalid points %q: want 4 x,y pairs separated by ';', got %d", s, len(pairs))
	}
	for i, pair := range pairs {
		xs, ys, ok := strings.Cut(pair, ",")
		if !ok {
			return out, fmt.Errorf("invalid point %q: want x,y", pair)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return out, fmt.Errorf("invalid x in %q: %w", pair, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return out, fmt.Errorf("invalid y in %q: %w", pair, err)
		}
		out[i] = geometry.Point{X: x, Y: y}
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(warpCmd)

	d := config.DefaultConfig()
	warpCmd.Flags().String("points", "", `four corners as "x,y;x,y;x,y;x,y" (top-left, top-right, bottom-right, bottom-left)`)
	warpCmd.Flags().Bool("display", false, "points are display coordinates instead of image pixels")
	warpCmd.Flags().Int("candidate", -1, "warp this detected candidate instead of explicit points")
	warpCmd.Flags().StringP("output", "o", d.Output.ResultFile, "output image path (format from extension)")
	warpCmd.Flags().Bool("require-convex", d.Selection.RequireConvex, "reject non-convex corner sets")

	flagBindings := []struct {
		key  string
		flag string
	}{
		{"output.result_file", "output"},
		{"selection.require_convex", "require-convex"},
	}
	for _, binding := range flagBindings {
		if err := viper.BindPFlag(binding.key, warpCmd.Flags().Lookup(binding.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", binding.flag, err))
		}
	}
}

// GetWarpCommand returns the warp command for testing purposes.
func GetWarpCommand() *cobra.Command {
	return warpCmd
}
