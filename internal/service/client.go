package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
)

const (
	processPath = "/process"
	// maxResponseBytes bounds the decoded response body; rectified images are
	// returned inline as base64.
	maxResponseBytes = 64 << 20
)

// Client talks to the detection/warp service over JSON POST requests.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the service rooted at baseURL. A zero
// timeout leaves requests bounded only by their context.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root the client posts to.
func (c *Client) BaseURL() string { return c.baseURL }

// Detect asks the service for candidate quadrilaterals. Params are normalized
// and validated before anything is sent.
func (c *Client) Detect(ctx context.Context, img Image, p Params) (*DetectResult, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	resp, err := c.process(ctx, processRequest{
		Image:  img.DataURL(),
		Action: ActionDetect,
		Params: &p,
	})
	if err != nil {
		return nil, err
	}

	res := &DetectResult{Candidates: toRawQuads(resp.Candidates)}
	if resp.EdgeImage != "" {
		edge, err := ParseDataURL(resp.EdgeImage)
		if err != nil {
			return nil, &TransportError{Action: ActionDetect, Err: fmt.Errorf("decode edge image: %w", err)}
		}
		res.EdgePreview = &edge
	}
	c.logger.Debug("detect completed", "candidates", len(res.Candidates), "edge_preview", res.EdgePreview != nil)
	return res, nil
}

// Warp sends four image-space corners and returns the rectified image.
func (c *Client) Warp(ctx context.Context, img Image, quad geometry.ImageQuad) (*WarpResult, error) {
	resp, err := c.process(ctx, processRequest{
		Image:  img.DataURL(),
		Action: ActionWarp,
		Points: quad.Points(),
	})
	if err != nil {
		return nil, err
	}
	if resp.ProcessedImage == "" {
		return nil, &ServiceError{Action: ActionWarp, Message: "response carries no processed image"}
	}
	out, err := ParseDataURL(resp.ProcessedImage)
	if err != nil {
		return nil, &TransportError{Action: ActionWarp, Err: fmt.Errorf("decode processed image: %w", err)}
	}
	c.logger.Debug("warp completed", "bytes", len(out.Data), "mime", out.MIME, "orientation", resp.Orientation != nil)
	return &WarpResult{Image: out, Orientation: resp.Orientation}, nil
}

func (c *Client) process(ctx context.Context, body processRequest) (*processResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", body.Action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+processPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Action: body.Action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Action: body.Action, Err: err}
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Action: body.Action, StatusCode: httpResp.StatusCode, Err: err}
	}
	c.logger.Debug("service responded",
		"action", body.Action,
		"status", httpResp.StatusCode,
		"bytes", len(raw),
		"duration", time.Since(start))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(truncate(raw, 256)))
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return nil, &TransportError{Action: body.Action, StatusCode: httpResp.StatusCode, Err: errors.New(msg)}
	}

	var resp *processResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Action: body.Action, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp == nil {
		return nil, &ServiceError{Action: body.Action, Message: "empty response"}
	}
	if resp.Error != nil {
		return nil, &ServiceError{Action: body.Action, Message: *resp.Error}
	}
	return resp, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
