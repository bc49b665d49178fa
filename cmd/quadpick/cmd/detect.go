package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/quadpick/internal/config"
	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/imageio"
	"github.com/MeKo-Tech/quadpick/internal/orchestrator"
	"github.com/MeKo-Tech/quadpick/internal/service"
	"github.com/MeKo-Tech/quadpick/internal/session"
)

// DetectOutput is the machine-readable result of the detect command.
type DetectOutput struct {
	File       string              `json:"file" yaml:"file"`
	Image      geometry.Dimensions `json:"image" yaml:"image"`
	Display    geometry.Dimensions `json:"display" yaml:"display"`
	Params     service.Params      `json:"params" yaml:"params"`
	Candidates []CandidateOutput   `json:"candidates" yaml:"candidates"`
	Dropped    int                 `json:"dropped" yaml:"dropped"`
	Preview    string              `json:"preview,omitempty" yaml:"preview,omitempty"`
}

// CandidateOutput lists one candidate in both coordinate spaces.
type CandidateOutput struct {
	Index   int          `json:"index" yaml:"index"`
	Image   [][2]float64 `json:"image" yaml:"image,flow"`
	Display [][2]float64 `json:"display" yaml:"display,flow"`
}

// detectCmd represents the detect command.
var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect document quadrilaterals in an image",
	Long: `Send an image to the detection service once and list the proposed
quadrilaterals in image pixels and in display coordinates.

Examples:
  quadpick detect receipt.jpg
  quadpick detect receipt.jpg --format json
  quadpick detect receipt.jpg --threshold1 40 --morph-kernel 7 --preview edges.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		format := cfg.Output.Format
		if format == "" {
			format = "text"
		}
		if format != "text" && format != "json" && format != "yaml" {
			return fmt.Errorf("invalid output format: %s (must be text, json or yaml)", format)
		}

		up, err := loadUpload(args[0], cfg)
		if err != nil {
			return err
		}

		orch := orchestrator.New(newServiceClient(cfg), cfg.ToOrchestratorConfig(), cfg.Detection, slog.Default())
		src := orchestrator.Source{Image: up.Image, Dims: up.Dims()}
		det, err := orch.Detect(commandContext(cmd), src, cfg.Detection)
		if err != nil {
			return fmt.Errorf("detection failed: %w", err)
		}

		out, err := buildDetectOutput(args[0], src.Dims, cfg, det)
		if err != nil {
			return err
		}

		previewPath, _ := cmd.Flags().GetString("preview")
		if previewPath != "" {
			if det.EdgePreview == nil {
				slog.Warn("Service returned no edge preview", "file", args[0])
			} else {
				if err := imageio.Save(previewPath, det.EdgePreview.Data, det.EdgePreview.MIME); err != nil {
					return fmt.Errorf("failed to write edge preview: %w", err)
				}
				out.Preview = previewPath
			}
		}

		return writeDetectOutput(cmd.OutOrStdout(), out, format)
	},
}

// loadUpload reads an image file the way the server reads an upload.
func loadUpload(path string, cfg *config.Config) (session.Upload, error) {
	data, _, _, err := imageio.Load(path)
	if err != nil {
		return session.Upload{}, fmt.Errorf("failed to load image: %w", err)
	}
	up, err := session.NewUpload(data, cfg.Service.ImageMIME)
	if err != nil {
		return session.Upload{}, fmt.Errorf("failed to prepare image: %w", err)
	}
	return up, nil
}

func newServiceClient(cfg *config.Config) *service.Client {
	return service.NewClient(cfg.Service.URL, cfg.ServiceTimeout(), service.WithLogger(slog.Default()))
}

func buildDetectOutput(file string, dims geometry.Dimensions, cfg *config.Config, det *orchestrator.Detection) (DetectOutput, error) {
	display, err := geometry.DisplaySize(dims, cfg.Display.MaxWidth)
	if err != nil {
		return DetectOutput{}, err
	}
	m, err := geometry.NewMapper(dims, display)
	if err != nil {
		return DetectOutput{}, err
	}
	out := DetectOutput{
		File:       file,
		Image:      dims,
		Display:    display,
		Params:     cfg.Detection.Normalize(),
		Candidates: make([]CandidateOutput, 0, len(det.Candidates)),
		Dropped:    det.Dropped,
	}
	for i, q := range det.Candidates {
		out.Candidates = append(out.Candidates, CandidateOutput{
			Index:   i,
			Image:   imagePairs(q),
			Display: displayPairs(m.QuadToDisplay(q)),
		})
	}
	return out, nil
}

func imagePairs(q geometry.ImageQuad) [][2]float64 {
	out := make([][2]float64, len(q))
	for i, p := range q {
		out[i] = [2]float64{p.X, p.Y}
	}
	return out
}

func displayPairs(q geometry.DisplayQuad) [][2]float64 {
	out := make([][2]float64, len(q))
	for i, p := range q {
		out[i] = [2]float64{p.X, p.Y}
	}
	return out
}

func writeDetectOutput(w io.Writer, out DetectOutput, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(out)
	default:
		_, err := io.WriteString(w, formatDetectText(out))
		return err
	}
}

func formatDetectText(out DetectOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", out.File)
	fmt.Fprintf(&b, "Image: %gx%g  Display: %gx%g\n", out.Image.Width, out.Image.Height, out.Display.Width, out.Display.Height)
	fmt.Fprintf(&b, "Params: threshold1=%d threshold2=%d morph_kernel=%d resize_width=%d\n",
		out.Params.Threshold1, out.Params.Threshold2, out.Params.MorphKernel, out.Params.ResizeWidth)
	fmt.Fprintf(&b, "Found %d documents\n", len(out.Candidates))
	for _, c := range out.Candidates {
		fmt.Fprintf(&b, "  [%d] image:   %s\n", c.Index, formatPairs(c.Image))
		fmt.Fprintf(&b, "      display: %s\n", formatPairs(c.Display))
	}
	if out.Dropped > 0 {
		fmt.Fprintf(&b, "Dropped %d malformed candidates\n", out.Dropped)
	}
	if out.Preview != "" {
		fmt.Fprintf(&b, "Edge preview: %s\n", out.Preview)
	}
	return b.String()
}

func formatPairs(pts [][2]float64) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = fmt.Sprintf("(%.1f, %.1f)", p[0], p[1])
	}
	return strings.Join(parts, " ")
}

func addDetectFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	cmd.Flags().StringP("format", "f", d.Output.Format, "output format: text, json or yaml")
	cmd.Flags().Int("threshold1", d.Detection.Threshold1, "lower Canny threshold (0-255)")
	cmd.Flags().Int("threshold2", d.Detection.Threshold2, "upper Canny threshold (0-255)")
	cmd.Flags().Int("morph-kernel", d.Detection.MorphKernel, "morphology kernel size (1-21, even values are bumped to odd)")
	cmd.Flags().Int("resize-width", d.Detection.ResizeWidth, "working width of the detector (300-1000)")
	cmd.Flags().String("candidate-space", d.Service.CandidateSpace, "coordinate space of returned candidates: original or resized")
	cmd.Flags().String("preview", "", "write the edge preview image to this file")
}

func bindDetectFlags(cmd *cobra.Command) {
	flagBindings := []struct {
		key  string
		flag string
	}{
		{"output.format", "format"},
		{"detection.threshold1", "threshold1"},
		{"detection.threshold2", "threshold2"},
		{"detection.morph_kernel", "morph-kernel"},
		{"detection.resize_width", "resize-width"},
		{"service.candidate_space", "candidate-space"},
	}

	for _, binding := range flagBindings {
		if err := viper.BindPFlag(binding.key, cmd.Flags().Lookup(binding.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", binding.flag, err))
		}
	}
}

func init() {
	rootCmd.AddCommand(detectCmd)

	addDetectFlags(detectCmd)
	bindDetectFlags(detectCmd)

	detectCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintln(out, cmd.Short); err != nil {
			return
		}
		_, _ = fmt.Fprintln(out, "Usage:")
		_, _ = fmt.Fprintln(out, cmd.UseLine())
		_, _ = fmt.Fprintln(out, "Flags:")
		_, _ = fmt.Fprintln(out, cmd.Flags().FlagUsages())
	})
}

// GetDetectCommand returns the detect command for testing purposes.
func GetDetectCommand() *cobra.Command {
	return detectCmd
}
