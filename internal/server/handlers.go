package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/render"
	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/service"
	"github.com/MeKo-Tech/quadpick/internal/session"
)

// maxEventBytes bounds a single JSON event body.
const maxEventBytes = 64 * 1024

// EventResponse is returned by the events endpoint. A rejected event still
// carries the view as it stands after the rejection.
type EventResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	View    session.View `json:"view"`
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.sessions != nil {
		response.Sessions = s.sessions.Len()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// createSessionHandler opens a session for a multipart image upload.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	up, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	cfg, err := s.sessionConfig(r.FormValue("mode"))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Create(up, cfg)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Failed to create session: %v", err), statusFor(err))
		return
	}
	v := sess.View()
	s.writeJSON(w, http.StatusCreated, SessionResponse{
		Success: true,
		ID:      sess.ID(),
		Image:   v.Image,
		Display: v.Display,
		View:    v,
	})
}

// sessionHandler returns or deletes a session.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sess, ok := s.lookup(w, r)
		if !ok {
			return
		}
		s.writeJSON(w, http.StatusOK, sess.View())
	case http.MethodDelete:
		if err := s.sessions.Delete(r.PathValue("id")); err != nil {
			s.writeErrorResponse(w, "Session not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// replaceImageHandler loads a new source image into an existing session.
func (s *Server) replaceImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	up, ok := s.parseUpload(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	v, err := sess.LoadImage(ctx, up)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Failed to load image: %v", err), statusFor(err))
		return
	}
	s.writeJSON(w, http.StatusOK, SessionResponse{
		Success: true,
		ID:      sess.ID(),
		Image:   v.Image,
		Display: v.Display,
		View:    v,
	})
}

// eventHandler dispatches one JSON event to a session.
func (s *Server) eventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var ev session.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Invalid event: %v", err), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	v, err := sess.Dispatch(ctx, ev)
	if err != nil {
		code := statusFor(err)
		if errors.Is(err, session.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
			s.writeErrorResponse(w, err.Error(), code)
			return
		}
		s.writeJSON(w, code, EventResponse{Success: false, Error: err.Error(), View: v})
		return
	}
	s.writeJSON(w, http.StatusOK, EventResponse{Success: true, View: v})
}

// canvasHandler renders the display surface as PNG.
func (s *Server) canvasHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	src, v := sess.Canvas()
	if src == nil {
		s.writeErrorResponse(w, "No image loaded", http.StatusNotFound)
		return
	}

	img := render.Canvas(src, v.View, s.style)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		s.log().Error("Failed to encode canvas", "session", sess.ID(), "error", err)
	}
}

// previewHandler serves the edge preview of the last detection.
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	p := sess.Preview()
	if p == nil {
		s.writeErrorResponse(w, "No edge preview available", http.StatusNotFound)
		return
	}
	s.writeImage(w, *p, "")
}

// resultHandler serves the rectified image as a download.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	res := sess.Result()
	if res == nil {
		s.writeErrorResponse(w, "No result available", http.StatusNotFound)
		return
	}
	s.writeImage(w, res.Image, s.resultFile)
}

// parseUpload reads the multipart "image" field. On failure the error
// response has been written.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (session.Upload, bool) {
	limit := s.maxUploadMB * 1024 * 1024
	if limit <= 0 {
		limit = 50 * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return session.Upload{}, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return session.Upload{}, false
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return session.Upload{}, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return session.Upload{}, false
	}
	uploadSizeBytes.Observe(float64(len(data)))

	up, err := session.NewUpload(data, s.imageMIME)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return session.Upload{}, false
	}
	return up, true
}

// lookup resolves the {id} path value. On failure a 404 has been written.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeErrorResponse(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeoutSec <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrUnknownEvent),
		errors.Is(err, service.ErrInvalidParams),
		errors.Is(err, selection.ErrUnknownMode),
		errors.Is(err, geometry.ErrInvalidDimensions):
		return http.StatusBadRequest
	case errors.Is(err, selection.ErrNonConvexQuad):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeImage writes encoded image bytes, as an attachment when filename is set.
func (s *Server) writeImage(w http.ResponseWriter, img service.Image, filename string) {
	mime := img.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	if filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	if _, err := w.Write(img.Data); err != nil {
		s.log().Error("Failed to write image response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
