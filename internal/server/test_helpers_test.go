package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/service"
	"github.com/MeKo-Tech/quadpick/internal/service/servicetest"
	"github.com/MeKo-Tech/quadpick/internal/session"
)

// pageQuad is a detected page in an 800x1000 source. At display width 600 it
// maps to (75,75)-(525,675).
var pageQuad = [][]float64{{100, 100}, {700, 100}, {700, 900}, {100, 900}}

// testEnv is a server wired to a fake detection/warp service.
type testEnv struct {
	server   *Server
	manager  *session.Manager
	backend  *servicetest.Backend
	mux      *http.ServeMux
	httpTest *httptest.Server
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	backend := servicetest.NewBackend()
	t.Cleanup(backend.Close)
	backend.SetCandidates([][][]float64{pageQuad})

	sel := selection.DefaultConfig()
	sel.DisplayWidth = 600
	mgr := session.NewManager(
		service.NewClient(backend.URL(), 5*time.Second),
		session.Config{Selection: sel, Params: service.DefaultParams()},
		0, nil,
	)

	cfg := Config{CORSOrigin: "*", MaxUploadMB: 5, TimeoutSec: 5}
	for _, m := range mutate {
		m(&cfg)
	}
	srv := NewServer(cfg, mgr, nil)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return &testEnv{server: srv, manager: mgr, backend: backend, mux: mux, httpTest: ts}
}

// createTestImage creates a simple gradient image for testing.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{byte(x % 256), byte(y % 256), 0, 255})
		}
	}
	return img
}

// encodeImageToPNG encodes an image to PNG bytes.
func encodeImageToPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartBody builds a multipart form with an image and extra fields.
func multipartBody(t *testing.T, imageData []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if imageData != nil {
		part, err := writer.CreateFormFile("image", "page.png")
		require.NoError(t, err)
		_, err = part.Write(imageData)
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

// serve runs a request through the mux and returns the recorder.
func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

// createSession uploads an 800x1000 page and returns the response.
func (e *testEnv) createSession(t *testing.T, fields map[string]string) SessionResponse {
	t.Helper()
	body, ctype := multipartBody(t, encodeImageToPNG(t, createTestImage(800, 1000)), fields)
	req := httptest.NewRequest(http.MethodPost, "/sessions", body)
	req.Header.Set("Content-Type", ctype)
	w := e.serve(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// postEvent sends one event and decodes the reply.
func (e *testEnv) postEvent(t *testing.T, id string, ev session.Event) (int, EventResponse) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/events", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := e.serve(req)

	var resp EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

// waitView polls a session until cond holds.
func (e *testEnv) waitView(t *testing.T, id string, cond func(session.View) bool) session.View {
	t.Helper()
	sess, err := e.manager.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return cond(sess.View()) }, 3*time.Second, 5*time.Millisecond)
	return sess.View()
}

func detected(v session.View) bool { return !v.PendingDetect && v.CandidateCount > 0 }
