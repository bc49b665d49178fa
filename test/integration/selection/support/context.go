// Package support holds the step definitions of the selection feature suite.
package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/server"
	"github.com/MeKo-Tech/quadpick/internal/service"
	"github.com/MeKo-Tech/quadpick/internal/service/servicetest"
	"github.com/MeKo-Tech/quadpick/internal/session"
)

// waitTimeout bounds every poll for asynchronous service outcomes.
const waitTimeout = 5 * time.Second

// TestContext holds the state of one scenario.
type TestContext struct {
	Backend    *servicetest.Backend
	Manager    *session.Manager
	Server     *server.Server
	HTTPServer *httptest.Server

	SessionID string

	// Last HTTP exchange
	LastStatus int
	LastBody   []byte
	LastView   session.View

	// warpsSeen is the warp request count before the last pointer or
	// execute event.
	warpsSeen int
}

// NewTestContext creates an empty scenario context.
func NewTestContext() *TestContext {
	return &TestContext{}
}

// Cleanup stops the server and the fake service.
func (tc *TestContext) Cleanup() {
	if tc.HTTPServer != nil {
		tc.HTTPServer.Close()
	}
	if tc.Server != nil {
		_ = tc.Server.Close()
	}
	if tc.Backend != nil {
		tc.Backend.Close()
	}
}

func (tc *TestContext) startServer(displayWidth float64, mode selection.Mode) error {
	if tc.Backend == nil {
		return fmt.Errorf("no detection service configured")
	}
	sel := selection.DefaultConfig()
	sel.DisplayWidth = displayWidth
	sel.InitialMode = mode
	tc.Manager = session.NewManager(
		service.NewClient(tc.Backend.URL(), waitTimeout),
		session.Config{Selection: sel, Params: service.DefaultParams()},
		0, nil,
	)
	tc.Server = server.NewServer(server.Config{CORSOrigin: "*", MaxUploadMB: 10, TimeoutSec: 5}, tc.Manager, nil)
	mux := http.NewServeMux()
	tc.Server.SetupRoutes(mux)
	tc.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (tc *TestContext) url(path string) string {
	return tc.HTTPServer.URL + path
}

// do sends a request and records status and body.
func (tc *TestContext) do(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	tc.LastStatus = resp.StatusCode
	tc.LastBody, err = io.ReadAll(resp.Body)
	return err
}

// upload opens a session for a generated image.
func (tc *TestContext) upload(width, height int, fields map[string]string) error {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{byte(x % 256), byte(y % 256), 200, 255})
		}
	}
	var data bytes.Buffer
	if err := png.Encode(&data, img); err != nil {
		return err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "page.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(data.Bytes()); err != nil {
		return err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, tc.url("/sessions"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := tc.do(req); err != nil {
		return err
	}
	if tc.LastStatus != http.StatusCreated {
		return fmt.Errorf("upload failed with status %d: %s", tc.LastStatus, tc.LastBody)
	}
	var resp server.SessionResponse
	if err := json.Unmarshal(tc.LastBody, &resp); err != nil {
		return err
	}
	tc.SessionID = resp.ID
	tc.LastView = resp.View
	return nil
}

// send dispatches one event and records the returned view.
func (tc *TestContext) send(ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.url("/sessions/"+tc.SessionID+"/events"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := tc.do(req); err != nil {
		return err
	}
	var resp server.EventResponse
	if err := json.Unmarshal(tc.LastBody, &resp); err != nil {
		return fmt.Errorf("decoding event response %q: %w", tc.LastBody, err)
	}
	tc.LastView = resp.View
	return nil
}

// fetchView reads the current session view.
func (tc *TestContext) fetchView() (session.View, error) {
	req, err := http.NewRequest(http.MethodGet, tc.url("/sessions/"+tc.SessionID), nil)
	if err != nil {
		return session.View{}, err
	}
	if err := tc.do(req); err != nil {
		return session.View{}, err
	}
	if tc.LastStatus != http.StatusOK {
		return session.View{}, fmt.Errorf("session lookup failed with status %d", tc.LastStatus)
	}
	var v session.View
	if err := json.Unmarshal(tc.LastBody, &v); err != nil {
		return session.View{}, err
	}
	tc.LastView = v
	return v, nil
}

// waitView polls the session until cond holds.
func (tc *TestContext) waitView(what string, cond func(session.View) bool) (session.View, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		v, err := tc.fetchView()
		if err != nil {
			return v, err
		}
		if cond(v) {
			return v, nil
		}
		if time.Now().After(deadline) {
			return v, fmt.Errorf("timed out waiting for %s (status %q, candidates %d)", what, v.Status, v.CandidateCount)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitRequests polls the fake service until it has seen n requests of action.
func (tc *TestContext) waitRequests(action string, n int) error {
	deadline := time.Now().Add(waitTimeout)
	for tc.Backend.Count(action) < n {
		if time.Now().After(deadline) {
			return fmt.Errorf("expected %d %s requests, got %d", n, action, tc.Backend.Count(action))
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// lastRequest returns the most recent request for action.
func (tc *TestContext) lastRequest(action string) (servicetest.Request, error) {
	reqs := tc.Backend.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Action == action {
			return reqs[i], nil
		}
	}
	return servicetest.Request{}, fmt.Errorf("no %s request received", action)
}
