package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/orchestrator"
	"github.com/MeKo-Tech/quadpick/internal/service"
)

func TestDetectCommand(t *testing.T) {
	assert.NotNil(t, detectCmd)
	assert.True(t, strings.HasPrefix(detectCmd.Use, "detect"))
	assert.NotEmpty(t, detectCmd.Short)
	assert.Same(t, detectCmd, GetDetectCommand())

	for _, name := range []string{"format", "threshold1", "threshold2", "morph-kernel", "resize-width", "candidate-space", "preview"} {
		assert.NotNil(t, detectCmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestDetectCommandHelp(t *testing.T) {
	out, _, err := executeCommand(t, "detect", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Detect document quadrilaterals")
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "Flags:")
}

func TestDetectJSON(t *testing.T) {
	backend := newBackend(t)
	img := writeTestImage(t)

	out, _, err := executeCommand(t, "detect", img,
		"--service-url", backend.URL(), "--display-width", "600", "-f", "json")
	require.NoError(t, err)

	var got DetectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, img, got.File)
	assert.Equal(t, geometry.Dimensions{Width: 800, Height: 1000}, got.Image)
	assert.Equal(t, geometry.Dimensions{Width: 600, Height: 750}, got.Display)
	assert.Equal(t, service.DefaultParams(), got.Params)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, [][2]float64{{100, 100}, {700, 100}, {700, 900}, {100, 900}}, got.Candidates[0].Image)
	want := [][2]float64{{75, 75}, {525, 75}, {525, 675}, {75, 675}}
	for i, p := range got.Candidates[0].Display {
		assert.InDelta(t, want[i][0], p[0], 1e-9)
		assert.InDelta(t, want[i][1], p[1], 1e-9)
	}

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "detect", reqs[0].Action)
	assert.Equal(t, 75, reqs[0].Threshold1)
	assert.Equal(t, 650, reqs[0].ResizeWidth)
	assert.True(t, strings.HasPrefix(reqs[0].Image, "data:image/png;base64,"))
}

func TestDetectParamsFlags(t *testing.T) {
	backend := newBackend(t)
	img := writeTestImage(t)

	out, _, err := executeCommand(t, "detect", img,
		"--service-url", backend.URL(),
		"--threshold1", "40", "--threshold2", "180", "--morph-kernel", "6", "--resize-width", "700")
	require.NoError(t, err)
	assert.Contains(t, out, "morph_kernel=7")
	assert.Contains(t, out, "Found 1 documents")

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 40, reqs[0].Threshold1)
	assert.Equal(t, 180, reqs[0].Threshold2)
	assert.Equal(t, 7, reqs[0].MorphKernel)
	assert.Equal(t, 700, reqs[0].ResizeWidth)
}

func TestDetectResizedCandidateSpace(t *testing.T) {
	backend := newBackend(t)
	// 650-wide working image of an 800-wide source
	backend.SetCandidates([][][]float64{{{65, 65}, {585, 65}, {585, 650}, {65, 650}}})
	img := writeTestImage(t)

	out, _, err := executeCommand(t, "detect", img,
		"--service-url", backend.URL(), "--candidate-space", string(orchestrator.SpaceResized), "-f", "json")
	require.NoError(t, err)

	var got DetectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Candidates, 1)
	assert.InDelta(t, 80.0, got.Candidates[0].Image[0][0], 1e-9)
	assert.InDelta(t, 720.0, got.Candidates[0].Image[1][0], 1e-9)
	assert.InDelta(t, 800.0, got.Candidates[0].Image[2][1], 1e-9)
}

func TestDetectYAML(t *testing.T) {
	backend := newBackend(t)
	backend.SetCandidates([][][]float64{pageQuad, {{1, 2}, {3, 4}}})
	img := writeTestImage(t)

	out, _, err := executeCommand(t, "detect", img, "--service-url", backend.URL(), "--format", "yaml")
	require.NoError(t, err)

	var got DetectOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &got), out)
	assert.Len(t, got.Candidates, 1)
	assert.Equal(t, 1, got.Dropped)
	assert.InDelta(t, 800.0, got.Image.Width, 1e-9)
}

func TestDetectTextNoCandidates(t *testing.T) {
	backend := newBackend(t)
	backend.SetCandidates(nil)
	img := writeTestImage(t)

	out, _, err := executeCommand(t, "detect", img, "--service-url", backend.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "Found 0 documents")
	assert.Contains(t, out, "Image: 800x1000")
}

func TestDetectPreview(t *testing.T) {
	backend := newBackend(t)
	img := writeTestImage(t)
	preview := filepath.Join(t.TempDir(), "edges.jpg")

	out, _, err := executeCommand(t, "detect", img, "--service-url", backend.URL(), "--preview", preview)
	require.NoError(t, err)
	assert.Contains(t, out, "Edge preview: "+preview)

	data, err := os.ReadFile(preview)
	require.NoError(t, err)
	assert.Equal(t, []byte("edge"), data)
}

func TestDetectErrors(t *testing.T) {
	t.Run("service error", func(t *testing.T) {
		backend := newBackend(t)
		backend.SetErrors("no contours found", "")
		_, _, err := executeCommand(t, "detect", writeTestImage(t), "--service-url", backend.URL())
		require.Error(t, err)
		assert.ErrorIs(t, err, service.ErrServiceReported)
		assert.Contains(t, err.Error(), "no contours found")
	})

	t.Run("invalid params", func(t *testing.T) {
		backend := newBackend(t)
		_, _, err := executeCommand(t, "detect", writeTestImage(t), "--service-url", backend.URL(), "--resize-width", "100")
		require.Error(t, err)
		assert.ErrorIs(t, err, service.ErrInvalidParams)
		assert.Zero(t, backend.Count("detect"))
	})

	t.Run("invalid format", func(t *testing.T) {
		backend := newBackend(t)
		_, _, err := executeCommand(t, "detect", writeTestImage(t), "--service-url", backend.URL(), "-f", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid output format")
	})

	t.Run("missing file", func(t *testing.T) {
		err := detectCmd.RunE(detectCmd, []string{"/non/existent/file.jpg"})
		assert.Error(t, err)
	})

	t.Run("no args", func(t *testing.T) {
		_, _, err := executeCommand(t, "detect")
		assert.Error(t, err)
	})
}
