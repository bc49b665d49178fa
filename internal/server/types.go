package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/render"
	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/session"
)

// sessionStore is what the server needs from the session manager.
type sessionStore interface {
	Create(up session.Upload, cfg *session.Config) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Delete(id string) error
	Config() session.Config
	Len() int
	Close()
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	sessions    sessionStore
	style       render.Style
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	imageMIME   string
	resultFile  string
	version     string
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// ImageMIME re-encodes uploads before they reach the service; empty keeps
	// the uploaded bytes.
	ImageMIME  string
	ResultFile string
	Version    string
	Style      render.Style
	RateLimit  RateLimitConfig
}

// RateLimitConfig holds per-client limits; zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Time     string `json:"time"`
	Sessions int    `json:"sessions"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SessionResponse is returned when a session is created or its image replaced.
type SessionResponse struct {
	Success bool                `json:"success"`
	ID      string              `json:"id"`
	Image   geometry.Dimensions `json:"image"`
	Display geometry.Dimensions `json:"display"`
	View    session.View        `json:"view"`
}

// NewServer creates a server on top of a session store.
func NewServer(config Config, sessions sessionStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ResultFile == "" {
		config.ResultFile = "scanned_doc.jpg"
	}
	if config.Style == (render.Style{}) {
		config.Style = render.DefaultStyle()
	}
	s := &Server{
		sessions:    sessions,
		style:       config.Style,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		imageMIME:   config.ImageMIME,
		resultFile:  config.ResultFile,
		version:     config.Version,
		logger:      logger,
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(
			config.RateLimit.RequestsPerMinute,
			config.RateLimit.RequestsPerHour,
			config.RateLimit.MaxRequestsPerDay,
			config.RateLimit.MaxDataPerDay,
		)
	}
	return s
}

// Close closes every open session.
func (s *Server) Close() error {
	if s.sessions != nil {
		s.sessions.Close()
	}
	return nil
}

// Run prunes clients the rate limiter has not seen for an hour until ctx is
// done.
func (s *Server) Run(ctx context.Context) {
	if s.rateLimiter == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.rateLimiter.Prune(now.Add(-time.Hour)); n > 0 {
				s.log().Debug("Pruned rate limiter clients", "count", n)
			}
		}
	}
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/sessions", s.corsMiddleware(s.rateLimitMiddleware(s.createSessionHandler)))
	mux.HandleFunc("/sessions/{id}", s.corsMiddleware(s.rateLimitMiddleware(s.sessionHandler)))
	mux.HandleFunc("/sessions/{id}/image", s.corsMiddleware(s.rateLimitMiddleware(s.replaceImageHandler)))
	mux.HandleFunc("/sessions/{id}/events", s.corsMiddleware(s.rateLimitMiddleware(s.eventHandler)))
	mux.HandleFunc("/sessions/{id}/canvas.png", s.corsMiddleware(s.rateLimitMiddleware(s.canvasHandler)))
	mux.HandleFunc("/sessions/{id}/preview", s.corsMiddleware(s.rateLimitMiddleware(s.previewHandler)))
	mux.HandleFunc("/sessions/{id}/result", s.corsMiddleware(s.rateLimitMiddleware(s.resultHandler)))
	// The websocket handler hijacks the connection, so it bypasses the
	// status-capturing CORS wrapper.
	mux.HandleFunc("/sessions/{id}/ws", s.rateLimitMiddleware(s.sessionWebSocketHandler))
}

// sessionConfig applies a per-request mode override to the store defaults.
func (s *Server) sessionConfig(mode string) (*session.Config, error) {
	if mode == "" {
		return nil, nil
	}
	m, err := selection.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	cfg := s.sessions.Config()
	cfg.Selection.InitialMode = m
	return &cfg, nil
}
