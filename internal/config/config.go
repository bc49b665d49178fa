// Package config defines the quadpick configuration and loads it from files,
// environment variables and command-line flags.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MeKo-Tech/quadpick/internal/orchestrator"
	"github.com/MeKo-Tech/quadpick/internal/render"
	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/service"
	"github.com/MeKo-Tech/quadpick/internal/session"
)

// Config represents the complete configuration for quadpick. It covers every
// command (serve, detect, warp) and is loaded from configuration files,
// environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Detection/warp service
	Service ServiceConfig `mapstructure:"service" yaml:"service" json:"service"`

	// Display surface
	Display DisplayConfig `mapstructure:"display" yaml:"display" json:"display"`

	// Detection parameters sent with every detect call
	Detection service.Params `mapstructure:"detection" yaml:"detection" json:"detection"`

	// Interaction behaviour
	Selection SelectionConfig `mapstructure:"selection" yaml:"selection" json:"selection"`

	// CLI output
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// ServiceConfig locates the external detection/warp service.
type ServiceConfig struct {
	URL            string `mapstructure:"url" yaml:"url" json:"url"`
	TimeoutSec     int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	CandidateSpace string `mapstructure:"candidate_space" yaml:"candidate_space" json:"candidate_space"`
	DiscardStale   bool   `mapstructure:"discard_stale" yaml:"discard_stale" json:"discard_stale"`
	// ImageMIME re-encodes uploads before sending; empty sends them as received.
	ImageMIME string `mapstructure:"image_mime" yaml:"image_mime" json:"image_mime"`
}

// DisplayConfig sizes the display surface and styles overlays.
type DisplayConfig struct {
	MaxWidth      float64       `mapstructure:"max_width" yaml:"max_width" json:"max_width"`
	DragHitRadius float64       `mapstructure:"drag_hit_radius" yaml:"drag_hit_radius" json:"drag_hit_radius"`
	DefaultInset  float64       `mapstructure:"default_inset" yaml:"default_inset" json:"default_inset"`
	Colors        render.Colors `mapstructure:"colors" yaml:"colors" json:"colors"`
}

// SelectionConfig holds interaction settings.
type SelectionConfig struct {
	DefaultMode   string `mapstructure:"default_mode" yaml:"default_mode" json:"default_mode"`
	RequireConvex bool   `mapstructure:"require_convex" yaml:"require_convex" json:"require_convex"`
}

// OutputConfig controls CLI output.
type OutputConfig struct {
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	ResultFile string `mapstructure:"result_file" yaml:"result_file" json:"result_file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	SessionTTLSec   int             `mapstructure:"session_ttl_sec" yaml:"session_ttl_sec" json:"session_ttl_sec"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig configures per-client limits; zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	sel := selection.DefaultConfig()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Service: ServiceConfig{
			URL:            "http://127.0.0.1:8000",
			TimeoutSec:     30,
			CandidateSpace: string(orchestrator.SpaceOriginal),
			DiscardStale:   false,
		},
		Display: DisplayConfig{
			MaxWidth:      sel.DisplayWidth,
			DragHitRadius: sel.DragHitRadius,
			DefaultInset:  sel.DefaultInset,
			Colors:        render.DefaultColors(),
		},
		Detection: service.DefaultParams(),
		Selection: SelectionConfig{
			DefaultMode:   string(sel.InitialMode),
			RequireConvex: false,
		},
		Output: OutputConfig{
			Format:     "text",
			ResultFile: "scanned_doc.jpg",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			SessionTTLSec:   1800,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 600,
				RequestsPerHour:   10000,
			},
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	// Service
	u, err := url.Parse(c.Service.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid service url: %q (must be an absolute http(s) URL)", c.Service.URL)
	}
	if c.Service.TimeoutSec <= 0 {
		return fmt.Errorf("invalid service timeout: %d (must be positive)", c.Service.TimeoutSec)
	}
	validSpaces := []string{string(orchestrator.SpaceOriginal), string(orchestrator.SpaceResized)}
	if !contains(validSpaces, c.Service.CandidateSpace) {
		return fmt.Errorf("invalid candidate space: %s (must be one of: %s)", c.Service.CandidateSpace, strings.Join(validSpaces, ", "))
	}
	validMIMEs := []string{"", "image/jpeg", "image/png"}
	if !contains(validMIMEs, c.Service.ImageMIME) {
		return fmt.Errorf("invalid service image mime: %s (must be empty, image/jpeg or image/png)", c.Service.ImageMIME)
	}

	// Display
	if c.Display.MaxWidth <= 0 {
		return fmt.Errorf("invalid display max width: %v (must be positive)", c.Display.MaxWidth)
	}
	if c.Display.DragHitRadius <= 0 {
		return fmt.Errorf("invalid drag hit radius: %v (must be positive)", c.Display.DragHitRadius)
	}
	if c.Display.DefaultInset <= 0 || c.Display.DefaultInset >= 0.5 {
		return fmt.Errorf("invalid default inset: %v (must be between 0 and 0.5)", c.Display.DefaultInset)
	}
	if _, err := render.ParseStyle(c.Display.Colors, int(c.Display.DragHitRadius)); err != nil {
		return err
	}

	if err := c.Detection.Validate(); err != nil {
		return err
	}

	if _, err := selection.ParseMode(c.Selection.DefaultMode); err != nil {
		return fmt.Errorf("invalid default mode: %w", err)
	}

	validFormats := []string{"text", "json", "yaml"}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.SessionTTLSec < 0 {
		return fmt.Errorf("invalid session ttl: %d (must not be negative)", c.Server.SessionTTLSec)
	}
	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 || rl.MaxRequestsPerDay < 0 || rl.MaxDataPerDayMB < 0 {
		return fmt.Errorf("invalid rate limit: limits must not be negative")
	}

	return nil
}

// ToSelectionConfig converts the display and selection sections.
func (c *Config) ToSelectionConfig() selection.Config {
	return selection.Config{
		DisplayWidth:  c.Display.MaxWidth,
		DragHitRadius: c.Display.DragHitRadius,
		DefaultInset:  c.Display.DefaultInset,
		InitialMode:   selection.Mode(c.Selection.DefaultMode),
		RequireConvex: c.Selection.RequireConvex,
	}
}

// ToOrchestratorConfig converts the service section.
func (c *Config) ToOrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		CandidateSpace: orchestrator.CandidateSpace(c.Service.CandidateSpace),
		DiscardStale:   c.Service.DiscardStale,
		Timeout:        c.ServiceTimeout(),
	}
}

// ToSessionConfig assembles the per-session configuration.
func (c *Config) ToSessionConfig() session.Config {
	return session.Config{
		Selection:    c.ToSelectionConfig(),
		Orchestrator: c.ToOrchestratorConfig(),
		Params:       c.Detection,
	}
}

// ServiceTimeout returns the per-call service timeout.
func (c *Config) ServiceTimeout() time.Duration {
	return time.Duration(c.Service.TimeoutSec) * time.Second
}

// Style parses the overlay colours.
func (c *Config) Style() (render.Style, error) {
	return render.ParseStyle(c.Display.Colors, int(c.Display.DragHitRadius))
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
