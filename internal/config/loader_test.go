package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	// Keep the search paths away from any real quadpick.yaml.
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	return NewLoaderWithViper(viper.New())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// TestNewLoader tests loader creation.
func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil || loader.v == nil {
		t.Fatal("NewLoader() returned an unusable loader")
	}
	if loader.GetViper() != viper.GetViper() {
		t.Error("NewLoader() should use the global viper instance")
	}
}

// TestLoadWithNoConfigFile tests loading with no config file present.
func TestLoadWithNoConfigFile(t *testing.T) {
	cfg, err := newTestLoader(t).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.Detection.ResizeWidth != 650 {
		t.Errorf("Expected default resize width 650, got %d", cfg.Detection.ResizeWidth)
	}
	if cfg.Display.Colors.Candidate != "#2ecc71" {
		t.Errorf("Expected default candidate colour, got %s", cfg.Display.Colors.Candidate)
	}
}

// TestLoadWithValidYAMLFile tests loading from a valid YAML file.
func TestLoadWithValidYAMLFile(t *testing.T) {
	loader := newTestLoader(t)
	path := writeFile(t, "quadpick.yaml", `
log_level: debug
service:
  url: http://detector:9000
  candidate_space: resized
  discard_stale: true
display:
  max_width: 600
detection:
  threshold1: 50
  morph_kernel: 7
selection:
  default_mode: manual
server:
  port: 9090
  rate_limit:
    enabled: true
    requests_per_minute: 5
`)

	cfg, err := loader.LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.Service.URL != "http://detector:9000" || cfg.Service.CandidateSpace != "resized" || !cfg.Service.DiscardStale {
		t.Errorf("Unexpected service config: %+v", cfg.Service)
	}
	if cfg.Display.MaxWidth != 600 {
		t.Errorf("Expected max width 600, got %v", cfg.Display.MaxWidth)
	}
	if cfg.Display.DragHitRadius != 25 {
		t.Errorf("Unset keys should keep defaults, got radius %v", cfg.Display.DragHitRadius)
	}
	if cfg.Detection.Threshold1 != 50 || cfg.Detection.Threshold2 != 200 || cfg.Detection.MorphKernel != 7 {
		t.Errorf("Unexpected detection config: %+v", cfg.Detection)
	}
	if cfg.Selection.DefaultMode != "manual" {
		t.Errorf("Expected manual mode, got %s", cfg.Selection.DefaultMode)
	}
	if cfg.Server.Port != 9090 || !cfg.Server.RateLimit.Enabled || cfg.Server.RateLimit.RequestsPerMinute != 5 {
		t.Errorf("Unexpected server config: %+v", cfg.Server)
	}
	if loader.GetConfigFileUsed() != path {
		t.Errorf("Expected config file %s, got %s", path, loader.GetConfigFileUsed())
	}
}

// TestLoadFromSearchPath finds quadpick.yaml in the working directory.
func TestLoadFromSearchPath(t *testing.T) {
	loader := newTestLoader(t)
	if err := os.WriteFile("quadpick.yaml", []byte("log_level: warn\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected log level 'warn', got %s", cfg.LogLevel)
	}
}

// TestLoadWithInvalidYAMLFile tests loading a malformed file.
func TestLoadWithInvalidYAMLFile(t *testing.T) {
	path := writeFile(t, "bad.yaml", "service: [unterminated\n")
	if _, err := newTestLoader(t).LoadWithFile(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

// TestLoadWithNonExistentFile tests loading a missing file.
func TestLoadWithNonExistentFile(t *testing.T) {
	_, err := newTestLoader(t).LoadWithFile("/nonexistent/quadpick.yaml")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected 'does not exist' error, got %v", err)
	}
}

// TestLoadValidation tests validation on and off.
func TestLoadValidation(t *testing.T) {
	path := writeFile(t, "invalid.yaml", "service:\n  candidate_space: sideways\n")

	if _, err := newTestLoader(t).LoadWithFile(path); err == nil {
		t.Error("Expected validation error")
	}

	cfg, err := newTestLoader(t).LoadWithFileWithoutValidation(path)
	if err != nil {
		t.Fatalf("LoadWithFileWithoutValidation() unexpected error: %v", err)
	}
	if cfg.Service.CandidateSpace != "sideways" {
		t.Errorf("Expected raw value 'sideways', got %s", cfg.Service.CandidateSpace)
	}

	if _, err := newTestLoader(t).LoadWithoutValidation(); err != nil {
		t.Errorf("LoadWithoutValidation() unexpected error: %v", err)
	}
}

// TestEnvironmentVariableOverride tests QUADPICK_ variables.
func TestEnvironmentVariableOverride(t *testing.T) {
	loader := newTestLoader(t)
	t.Setenv("QUADPICK_LOG_LEVEL", "error")
	t.Setenv("QUADPICK_SERVICE_URL", "http://env-service:1234")
	t.Setenv("QUADPICK_DETECTION_RESIZE_WIDTH", "900")
	t.Setenv("QUADPICK_SERVICE_DISCARD_STALE", "true")
	t.Setenv("QUADPICK_DISPLAY_MAX_WIDTH", "640")

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("Expected log level 'error' from env, got %s", cfg.LogLevel)
	}
	if cfg.Service.URL != "http://env-service:1234" {
		t.Errorf("Expected service url from env, got %s", cfg.Service.URL)
	}
	if cfg.Detection.ResizeWidth != 900 {
		t.Errorf("Expected resize width 900 from env, got %d", cfg.Detection.ResizeWidth)
	}
	if !cfg.Service.DiscardStale {
		t.Error("Expected discard_stale true from env")
	}
	if cfg.Display.MaxWidth != 640 {
		t.Errorf("Expected max width 640 from env, got %v", cfg.Display.MaxWidth)
	}
}

// TestEnvironmentOverridesFile tests source precedence.
func TestEnvironmentOverridesFile(t *testing.T) {
	loader := newTestLoader(t)
	path := writeFile(t, "quadpick.yaml", "server:\n  port: 7000\n  host: 0.0.0.0\n")
	t.Setenv("QUADPICK_SERVER_PORT", "7001")

	cfg, err := loader.LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("Expected env port 7001, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected file host 0.0.0.0, got %s", cfg.Server.Host)
	}
}

// TestGetSetConfigValues tests direct key access.
func TestGetSetConfigValues(t *testing.T) {
	loader := newTestLoader(t)
	loader.Set("service.url", "http://set:1")
	if got := loader.GetString("service.url"); got != "http://set:1" {
		t.Errorf("Expected 'http://set:1', got %s", got)
	}
	if loader.Get("missing.key") != nil {
		t.Error("Expected nil for a missing key")
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Service.URL != "http://set:1" {
		t.Errorf("Set value should win, got %s", cfg.Service.URL)
	}
	if _, ok := loader.GetResolvedConfig()["service"]; !ok {
		t.Error("Resolved config should contain the service section")
	}
}

// TestGenerateDefaultConfigFile tests writing and re-reading the defaults.
func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generated.yaml")
	if err := GenerateDefaultConfigFile(path); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() unexpected error: %v", err)
	}

	cfg, err := newTestLoader(t).LoadWithFile(path)
	if err != nil {
		t.Fatalf("Loading generated file failed: %v", err)
	}
	want := DefaultConfig()
	if *cfg != want {
		t.Errorf("Generated file does not round-trip:\n got %+v\nwant %+v", *cfg, want)
	}
}

// TestGenerateDefaultConfigFileWithEmptyFilename writes quadpick.yaml.
func TestGenerateDefaultConfigFileWithEmptyFilename(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := GenerateDefaultConfigFile(""); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() unexpected error: %v", err)
	}
	if _, err := os.Stat("quadpick.yaml"); err != nil {
		t.Errorf("Expected quadpick.yaml to exist: %v", err)
	}
}

// TestWriteConfigToFile tests viper's writer.
func TestWriteConfigToFile(t *testing.T) {
	loader := newTestLoader(t)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := loader.WriteConfigToFile(path); err != nil {
		t.Fatalf("WriteConfigToFile() unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read written config: %v", err)
	}
	if !strings.Contains(string(data), "candidate_space") {
		t.Error("Written config should contain candidate_space")
	}
}

// TestGetConfigSearchPaths tests the search path list.
func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	if paths[0] != "." {
		t.Errorf("Expected current directory first, got %s", paths[0])
	}
	joined := strings.Join(paths, ":")
	for _, want := range []string{"/xdg/quadpick", "/etc/quadpick"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected search paths to contain %s, got %v", want, paths)
		}
	}
}

// TestPrintConfigInfo tests the debug output.
func TestPrintConfigInfo(t *testing.T) {
	var buf bytes.Buffer
	newTestLoader(t).PrintConfigInfo(&buf)
	if !strings.Contains(buf.String(), "Environment prefix: QUADPICK") {
		t.Errorf("Unexpected output: %s", buf.String())
	}
}

// TestMarshalYAML tests the YAML rendering used by config show.
func TestMarshalYAML(t *testing.T) {
	cfg := DefaultConfig()
	data, err := MarshalYAML(&cfg)
	if err != nil {
		t.Fatalf("MarshalYAML() unexpected error: %v", err)
	}
	for _, want := range []string{"resize_width: 650", "candidate_space: original", "default_mode: auto"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected YAML to contain %q", want)
		}
	}
}
