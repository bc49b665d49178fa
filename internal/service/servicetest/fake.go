// Package servicetest provides an in-process stand-in for the detection and
// warp service, for tests across packages.
package servicetest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Request is a decoded /process call as received by the fake.
type Request struct {
	Image       string      `json:"image"`
	Action      string      `json:"action"`
	Points      [][]float64 `json:"points"`
	Threshold1  int         `json:"threshold1"`
	Threshold2  int         `json:"threshold2"`
	MorphKernel int         `json:"morph_kernel"`
	ResizeWidth int         `json:"resize_width"`
}

// Backend scripts the responses of a fake service. Fields may be changed
// between calls through the setters.
type Backend struct {
	mu sync.Mutex

	candidates  [][][]float64
	edgeImage   []byte
	processed   []byte
	orientation map[string]float64
	detectErr   string
	warpErr     string
	status      int
	delay       time.Duration
	requests    []Request

	Server *httptest.Server
}

// NewBackend starts a fake service. Callers stop it with Close.
func NewBackend() *Backend {
	b := &Backend{
		edgeImage: []byte("edge"),
		processed: []byte("rectified"),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

// URL is the service root.
func (b *Backend) URL() string { return b.Server.URL }

// Close stops the server.
func (b *Backend) Close() { b.Server.Close() }

// SetCandidates scripts the detect response.
func (b *Backend) SetCandidates(c [][][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candidates = c
}

// SetProcessed scripts the rectified image bytes.
func (b *Backend) SetProcessed(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processed = data
}

// SetOrientation scripts the optional warp orientation; nil omits it.
func (b *Backend) SetOrientation(o map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orientation = o
}

// SetErrors makes the next responses carry an error field.
func (b *Backend) SetErrors(detect, warp string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detectErr, b.warpErr = detect, warp
}

// SetStatus forces a non-2xx status; zero restores 200.
func (b *Backend) SetStatus(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = code
}

// SetDelay delays every response.
func (b *Backend) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// Requests returns a copy of every request received so far.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Count returns the number of requests received for action.
func (b *Backend) Count(action string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Action == action {
			n++
		}
	}
	return n
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/process" {
		http.NotFound(w, r)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	b.mu.Lock()
	b.requests = append(b.requests, req)
	status, delay := b.status, b.delay
	candidates, edge := b.candidates, b.edgeImage
	processed, orientation := b.processed, b.orientation
	detectErr, warpErr := b.detectErr, b.warpErr
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	var body any
	switch req.Action {
	case "detect":
		if detectErr != "" {
			body = map[string]string{"error": detectErr}
			break
		}
		if candidates == nil {
			candidates = [][][]float64{}
		}
		body = map[string]any{
			"candidates": candidates,
			"edge_image": jpegURL(edge),
		}
	case "warp":
		if warpErr != "" {
			body = map[string]string{"error": warpErr}
			break
		}
		resp := map[string]any{"processed_image": jpegURL(processed)}
		if orientation != nil {
			resp["orientation"] = orientation
		}
		body = resp
	default:
		body = nil
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func jpegURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}
