// Package orchestrator issues detection and warp calls on behalf of one
// selection session and classifies their outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/service"
)

// Service is the remote detection/warp collaborator. *service.Client
// implements it.
type Service interface {
	Detect(ctx context.Context, img service.Image, p service.Params) (*service.DetectResult, error)
	Warp(ctx context.Context, img service.Image, quad geometry.ImageQuad) (*service.WarpResult, error)
}

// CandidateSpace names the coordinate space the service reports candidates in.
type CandidateSpace string

const (
	// SpaceOriginal means candidates are already in source-image pixels.
	SpaceOriginal CandidateSpace = "original"
	// SpaceResized means candidates are in the service's resized working
	// image and must be scaled by imageWidth / resize_width.
	SpaceResized CandidateSpace = "resized"
)

// Config tunes an Orchestrator.
type Config struct {
	CandidateSpace CandidateSpace
	// DiscardStale drops responses overtaken by a newer request of the same
	// kind. Off by default: the last response to land wins.
	DiscardStale bool
	// Timeout bounds each call; zero relies on the parent context.
	Timeout time.Duration
}

// Source is the image a session works on.
type Source struct {
	Image service.Image
	Dims  geometry.Dimensions
}

// Detection is a classified detection result.
type Detection struct {
	Candidates  selection.CandidateSet
	EdgePreview *service.Image
	Dropped     int
}

// DetectionOutcome is delivered to StartDetection callbacks.
type DetectionOutcome struct {
	Generation uint64
	Params     service.Params
	// Stale is set when a newer detection was issued before this one completed.
	Stale bool
	// Discard tells the receiver to ignore the outcome.
	Discard   bool
	Detection *Detection
	Err       error
	// Message is a user-visible failure text; empty for transport failures.
	Message string
}

// WarpOutcome is delivered to StartWarp callbacks.
type WarpOutcome struct {
	Generation uint64
	Selection  selection.Finalized
	Stale      bool
	Discard    bool
	Result     *service.WarpResult
	Err        error
	Message    string
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	svc    Service
	cfg    Config
	logger *slog.Logger

	detectGen     atomic.Uint64
	warpGen       atomic.Uint64
	pendingDetect atomic.Int32
	pendingWarp   atomic.Int32

	mu            sync.Mutex
	draft         service.Params
	lastCommitted *service.Params
}

// New creates an orchestrator starting from the given detection parameters.
func New(svc Service, cfg Config, params service.Params, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CandidateSpace == "" {
		cfg.CandidateSpace = SpaceOriginal
	}
	return &Orchestrator{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		draft:  params.Normalize(),
	}
}

// Pending reports the number of detection and warp calls in flight.
func (o *Orchestrator) Pending() (detect, warp int) {
	return int(o.pendingDetect.Load()), int(o.pendingWarp.Load())
}

// Params returns the current draft parameters.
func (o *Orchestrator) Params() service.Params {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draft
}

// DraftParams records slider movement. It never issues a request.
func (o *Orchestrator) DraftParams(p service.Params) error {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	o.draft = p
	o.mu.Unlock()
	return nil
}

// CommitParams marks the end of a slider interaction. It returns the params
// to detect with and whether a detection is due: a commit repeating the params
// of the last successful detection is skipped.
func (o *Orchestrator) CommitParams() (service.Params, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastCommitted != nil && *o.lastCommitted == o.draft {
		return o.draft, false
	}
	return o.draft, true
}

// ResetParamsHistory forgets the last successful params, e.g. for a new image.
func (o *Orchestrator) ResetParamsHistory() {
	o.mu.Lock()
	o.lastCommitted = nil
	o.mu.Unlock()
}

func (o *Orchestrator) recordSuccess(p service.Params) {
	o.mu.Lock()
	o.lastCommitted = &p
	o.mu.Unlock()
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, o.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// Detect runs one detection synchronously. Malformed candidates are dropped
// and, in resized candidate space, the rest are scaled to image pixels.
func (o *Orchestrator) Detect(ctx context.Context, src Source, p service.Params) (*Detection, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := src.Dims.Validate("image"); err != nil {
		return nil, err
	}

	o.pendingDetect.Add(1)
	servicePending.WithLabelValues(string(service.ActionDetect)).Inc()
	defer func() {
		o.pendingDetect.Add(-1)
		servicePending.WithLabelValues(string(service.ActionDetect)).Dec()
	}()

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := o.svc.Detect(ctx, src.Image, p)
	serviceRequestDuration.WithLabelValues(string(service.ActionDetect)).Observe(time.Since(start).Seconds())
	if err != nil {
		serviceRequestsTotal.WithLabelValues(string(service.ActionDetect), outcomeLabel(err)).Inc()
		return nil, err
	}
	serviceRequestsTotal.WithLabelValues(string(service.ActionDetect), "success").Inc()

	scale := 1.0
	if o.cfg.CandidateSpace == SpaceResized {
		scale = src.Dims.Width / float64(p.ResizeWidth)
	}

	det := &Detection{
		Candidates:  make(selection.CandidateSet, 0, len(res.Candidates)),
		EdgePreview: res.EdgePreview,
	}
	for i, raw := range res.Candidates {
		q, ok := raw.Quad()
		if !ok {
			det.Dropped++
			o.logger.Warn("dropping malformed candidate", "index", i, "points", len(raw))
			continue
		}
		for j := range q {
			q[j] = geometry.ImagePoint{X: q[j].X * scale, Y: q[j].Y * scale}
		}
		det.Candidates = append(det.Candidates, q)
	}
	candidatesDetected.Observe(float64(len(det.Candidates)))
	candidatesDropped.Add(float64(det.Dropped))
	o.recordSuccess(p)
	o.logger.Debug("detection finished", "candidates", len(det.Candidates), "dropped", det.Dropped)
	return det, nil
}

// Warp runs one warp synchronously.
func (o *Orchestrator) Warp(ctx context.Context, src Source, quad geometry.ImageQuad) (*service.WarpResult, error) {
	o.pendingWarp.Add(1)
	servicePending.WithLabelValues(string(service.ActionWarp)).Inc()
	defer func() {
		o.pendingWarp.Add(-1)
		servicePending.WithLabelValues(string(service.ActionWarp)).Dec()
	}()

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := o.svc.Warp(ctx, src.Image, quad)
	serviceRequestDuration.WithLabelValues(string(service.ActionWarp)).Observe(time.Since(start).Seconds())
	if err != nil {
		serviceRequestsTotal.WithLabelValues(string(service.ActionWarp), outcomeLabel(err)).Inc()
		return nil, err
	}
	serviceRequestsTotal.WithLabelValues(string(service.ActionWarp), "success").Inc()
	return res, nil
}

// StartDetection issues a detection on its own goroutine and hands the
// outcome to done. It returns the generation of the new request.
func (o *Orchestrator) StartDetection(ctx context.Context, src Source, p service.Params, done func(DetectionOutcome)) uint64 {
	gen := o.detectGen.Add(1)
	go func() {
		det, err := o.Detect(ctx, src, p)
		out := DetectionOutcome{Generation: gen, Params: p.Normalize(), Detection: det, Err: err}
		out.Stale, out.Discard = o.staleness(service.ActionDetect, gen, o.detectGen.Load())
		out.Message = o.classify(service.ActionDetect, gen, err)
		done(out)
	}()
	return gen
}

// StartWarp issues a warp for a finalized selection on its own goroutine.
// Warps are never deduplicated: every call issues a request.
func (o *Orchestrator) StartWarp(ctx context.Context, src Source, fin selection.Finalized, done func(WarpOutcome)) uint64 {
	gen := o.warpGen.Add(1)
	go func() {
		res, err := o.Warp(ctx, src, fin.Quad)
		out := WarpOutcome{Generation: gen, Selection: fin, Result: res, Err: err}
		out.Stale, out.Discard = o.staleness(service.ActionWarp, gen, o.warpGen.Load())
		out.Message = o.classify(service.ActionWarp, gen, err)
		done(out)
	}()
	return gen
}

func (o *Orchestrator) staleness(action service.Action, gen, latest uint64) (stale, discard bool) {
	if gen >= latest {
		return false, false
	}
	discard = o.cfg.DiscardStale
	staleResponsesTotal.WithLabelValues(string(action), fmt.Sprint(discard)).Inc()
	o.logger.Debug("stale response", "action", action, "generation", gen, "latest", latest, "discarded", discard)
	return true, discard
}

// classify logs a failure and returns the message to show the user, if any.
func (o *Orchestrator) classify(action service.Action, gen uint64, err error) string {
	if err == nil {
		return ""
	}
	var se *service.ServiceError
	switch {
	case errors.As(err, &se):
		o.logger.Warn("service reported an error", "action", action, "generation", gen, "message", se.Message)
		return se.Message
	case errors.Is(err, service.ErrTransport):
		o.logger.Error("service call failed", "action", action, "generation", gen, "error", err)
		return ""
	default:
		o.logger.Warn("service call rejected", "action", action, "generation", gen, "error", err)
		return err.Error()
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, service.ErrServiceReported):
		return "service_error"
	case errors.Is(err, service.ErrTransport):
		return "transport_error"
	default:
		return "invalid"
	}
}
