package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testImage = Image{Data: []byte{0xff, 0xd8, 0xff}, MIME: "image/jpeg"}

func newTestClient(t *testing.T) (*Client, *servicetest.Backend) {
	t.Helper()
	b := servicetest.NewBackend()
	t.Cleanup(b.Close)
	return NewClient(b.URL(), 5*time.Second), b
}

func TestClient_Detect(t *testing.T) {
	c, b := newTestClient(t)
	b.SetCandidates([][][]float64{
		{{100, 100}, {700, 100}, {700, 900}, {100, 900}},
		{{1, 1}, {2, 2}, {3, 3}},
	})

	params := DefaultParams()
	params.MorphKernel = 4
	res, err := c.Detect(context.Background(), testImage, params)
	require.NoError(t, err)

	require.Len(t, res.Candidates, 2)
	q, ok := res.Candidates[0].Quad()
	require.True(t, ok)
	assert.Equal(t, geometry.ImageQuad{{100, 100}, {700, 100}, {700, 900}, {100, 900}}, q)
	_, ok = res.Candidates[1].Quad()
	assert.False(t, ok, "three-point candidate is malformed")

	require.NotNil(t, res.EdgePreview)
	assert.Equal(t, "image/jpeg", res.EdgePreview.MIME)
	assert.Equal(t, []byte("edge"), res.EdgePreview.Data)

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "detect", reqs[0].Action)
	assert.Equal(t, testImage.DataURL(), reqs[0].Image)
	assert.Equal(t, 75, reqs[0].Threshold1)
	assert.Equal(t, 200, reqs[0].Threshold2)
	assert.Equal(t, 5, reqs[0].MorphKernel, "even kernel is bumped")
	assert.Equal(t, 650, reqs[0].ResizeWidth)
	assert.Empty(t, reqs[0].Points)
}

func TestClient_DetectZeroThresholdIsSent(t *testing.T) {
	c, b := newTestClient(t)
	params := DefaultParams()
	params.Threshold1 = 0
	_, err := c.Detect(context.Background(), testImage, params)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Requests()[0].Threshold1)
}

func TestClient_DetectInvalidParams(t *testing.T) {
	c, b := newTestClient(t)
	params := DefaultParams()
	params.ResizeWidth = 50
	_, err := c.Detect(context.Background(), testImage, params)
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Empty(t, b.Requests(), "nothing is sent")
}

func TestClient_Warp(t *testing.T) {
	c, b := newTestClient(t)
	b.SetOrientation(map[string]float64{"roll": 1.5, "pitch": -2, "yaw": 0.25})

	quad := geometry.ImageQuad{{100, 100}, {700, 100}, {700, 900}, {100, 900}}
	res, err := c.Warp(context.Background(), testImage, quad)
	require.NoError(t, err)
	assert.Equal(t, []byte("rectified"), res.Image.Data)
	require.NotNil(t, res.Orientation)
	assert.Equal(t, Orientation{Roll: 1.5, Pitch: -2, Yaw: 0.25}, *res.Orientation)

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "warp", reqs[0].Action)
	assert.Equal(t, [][]float64{{100, 100}, {700, 100}, {700, 900}, {100, 900}}, reqs[0].Points)
	assert.Zero(t, reqs[0].ResizeWidth, "warp carries no detection params")
}

func TestClient_WarpWithoutOrientation(t *testing.T) {
	c, _ := newTestClient(t)
	res, err := c.Warp(context.Background(), testImage, geometry.ImageQuad{})
	require.NoError(t, err)
	assert.Nil(t, res.Orientation)
}

func TestClient_ServiceReportedError(t *testing.T) {
	c, b := newTestClient(t)
	b.SetErrors("bad detect", "cannot warp")

	_, err := c.Detect(context.Background(), testImage, DefaultParams())
	require.ErrorIs(t, err, ErrServiceReported)

	_, err = c.Warp(context.Background(), testImage, geometry.ImageQuad{})
	require.ErrorIs(t, err, ErrServiceReported)
	assert.NotErrorIs(t, err, ErrTransport)

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ActionWarp, se.Action)
	assert.Equal(t, "cannot warp", se.Message)
}

func TestClient_TransportErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		c, b := newTestClient(t)
		b.SetStatus(http.StatusBadGateway)
		_, err := c.Detect(context.Background(), testImage, DefaultParams())
		require.ErrorIs(t, err, ErrTransport)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		c := NewClient(url, time.Second)
		_, err := c.Warp(context.Background(), testImage, geometry.ImageQuad{})
		require.ErrorIs(t, err, ErrTransport)
		assert.NotErrorIs(t, err, ErrServiceReported)
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		t.Cleanup(srv.Close)
		_, err := NewClient(srv.URL, time.Second).Detect(context.Background(), testImage, DefaultParams())
		require.ErrorIs(t, err, ErrTransport)
	})

	t.Run("context canceled", func(t *testing.T) {
		c, b := newTestClient(t)
		b.SetDelay(time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Detect(ctx, testImage, DefaultParams())
		require.ErrorIs(t, err, ErrTransport)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestClient_NullResponseIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("null"))
	}))
	t.Cleanup(srv.Close)
	_, err := NewClient(srv.URL+"/", time.Second).Warp(context.Background(), testImage, geometry.ImageQuad{})
	require.ErrorIs(t, err, ErrServiceReported)
}

func TestClient_WarpMissingImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"processed_image": ""}`))
	}))
	t.Cleanup(srv.Close)
	_, err := NewClient(srv.URL, time.Second).Warp(context.Background(), testImage, geometry.ImageQuad{})
	require.ErrorIs(t, err, ErrServiceReported)
}
