package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/quadpick/internal/server"
	"github.com/MeKo-Tech/quadpick/internal/service"
	"github.com/MeKo-Tech/quadpick/internal/session"
	"github.com/MeKo-Tech/quadpick/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for interactive selection sessions",
	Long: `Start an HTTP server that hosts interactive selection sessions.

The server provides the following endpoints:
  POST   /sessions                  - Upload an image and open a session
  GET    /sessions/{id}             - Current session view
  DELETE /sessions/{id}             - Close a session
  PUT    /sessions/{id}/image       - Replace the session image
  POST   /sessions/{id}/events      - Dispatch a pointer, mode, parameter or execute event
  GET    /sessions/{id}/canvas.png  - Rendered display surface
  GET    /sessions/{id}/preview     - Edge preview of the last detection
  GET    /sessions/{id}/result      - Download the rectified image
  GET    /sessions/{id}/ws          - WebSocket stream of views and events
  GET    /health                    - Health check endpoint
  GET    /metrics                   - Prometheus metrics

Examples:
  quadpick serve
  quadpick serve --port 8080
  quadpick serve --host 0.0.0.0 --port 3000 --service-url http://scanner:8000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}

		maxUploadSize := cfg.Server.MaxUploadMB
		if cmd.Flags().Changed("max-upload-size") {
			maxUploadSize, _ = cmd.Flags().GetInt("max-upload-size")
		}

		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		sessionTTL := cfg.Server.SessionTTLSec
		if cmd.Flags().Changed("session-ttl") {
			sessionTTL, _ = cmd.Flags().GetInt("session-ttl")
		}

		rateLimitEnabled := cfg.Server.RateLimit.Enabled
		if cmd.Flags().Changed("rate-limit-enabled") {
			rateLimitEnabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
		}

		requestsPerMinute := cfg.Server.RateLimit.RequestsPerMinute
		if cmd.Flags().Changed("requests-per-minute") {
			requestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
		}

		requestsPerHour := cfg.Server.RateLimit.RequestsPerHour
		if cmd.Flags().Changed("requests-per-hour") {
			requestsPerHour, _ = cmd.Flags().GetInt("requests-per-hour")
		}

		maxRequestsPerDay := cfg.Server.RateLimit.MaxRequestsPerDay
		if cmd.Flags().Changed("max-requests-per-day") {
			maxRequestsPerDay, _ = cmd.Flags().GetInt("max-requests-per-day")
		}

		maxDataPerDayMB := cfg.Server.RateLimit.MaxDataPerDayMB
		if cmd.Flags().Changed("max-data-per-day") {
			maxDataPerDayMB, _ = cmd.Flags().GetInt64("max-data-per-day")
		}

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}
		style, err := cfg.Style()
		if err != nil {
			return fmt.Errorf("invalid display colors: %w", err)
		}

		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()

		logger := slog.Default()
		client := service.NewClient(cfg.Service.URL, cfg.ServiceTimeout(), service.WithLogger(logger))
		manager := session.NewManager(client, cfg.ToSessionConfig(), time.Duration(sessionTTL)*time.Second, logger)
		go manager.Run(ctx)

		srv := server.NewServer(server.Config{
			Host:        host,
			Port:        port,
			CORSOrigin:  corsOrigin,
			MaxUploadMB: int64(maxUploadSize),
			TimeoutSec:  timeout,
			ImageMIME:   cfg.Service.ImageMIME,
			ResultFile:  cfg.Output.ResultFile,
			Version:     version.Version,
			Style:       style,
			RateLimit: server.RateLimitConfig{
				Enabled:           rateLimitEnabled,
				RequestsPerMinute: requestsPerMinute,
				RequestsPerHour:   requestsPerHour,
				MaxRequestsPerDay: maxRequestsPerDay,
				MaxDataPerDay:     maxDataPerDayMB * 1024 * 1024,
			},
		}, manager, logger)
		defer func() { _ = srv.Close() }()
		go srv.Run(ctx)

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		// No write timeout: websocket connections are long-lived and event
		// handlers bound themselves with the request timeout.
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
		}

		go func() {
			slog.Info("Starting quadpick server", "host", host, "port", port, "service", cfg.Service.URL)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		slog.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		slog.Info("Closing sessions", "count", manager.Len())
		if err := srv.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("session-ttl", 1800, "close sessions idle for this many seconds (0 keeps them)")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 600, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 10000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client (0 = unlimited)")
	serveCmd.Flags().Int64("max-data-per-day", 0, "maximum upload data per day per client in MB (0 = unlimited)")
}

// GetServeCommand returns the serve command for testing purposes.
func GetServeCommand() *cobra.Command {
	return serveCmd
}
