// Package session runs one selection session per uploaded image. Each session
// owns a goroutine that is the only writer of its selection controller; user
// input and service responses reach it as events processed in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/orchestrator"
	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/service"
)

// ErrClosed is returned when dispatching to a closed session.
var ErrClosed = errors.New("session closed")

// Config tunes new sessions.
type Config struct {
	Selection    selection.Config
	Orchestrator orchestrator.Config
	Params       service.Params
	// QueueSize is the event buffer per session.
	QueueSize int
}

// Upload is a source image in both encoded and decoded form.
type Upload struct {
	Image   service.Image
	Decoded image.Image
}

// Dims returns the natural dimensions of the decoded image.
func (u Upload) Dims() geometry.Dimensions {
	b := u.Decoded.Bounds()
	return geometry.Dimensions{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// Result is the last successful warp.
type Result struct {
	Generation  uint64
	Selection   selection.Finalized
	Image       service.Image
	Orientation *service.Orientation
}

// ResultInfo summarizes a Result for JSON views.
type ResultInfo struct {
	Points         geometry.ImageQuad   `json:"points"`
	Source         selection.Source     `json:"source"`
	CandidateIndex int                  `json:"candidate_index"`
	Orientation    *service.Orientation `json:"orientation,omitempty"`
	MIME           string               `json:"mime"`
	Size           int                  `json:"size"`
}

// View is what listeners and HTTP callers see after each processed event.
type View struct {
	ID string `json:"id"`
	selection.View
	Params        service.Params `json:"params"`
	PendingDetect bool           `json:"pending_detect"`
	PendingWarp   bool           `json:"pending_warp"`
	Status        string         `json:"status"`
	Message       string         `json:"message,omitempty"`
	HasPreview    bool           `json:"has_preview"`
	Result        *ResultInfo    `json:"result,omitempty"`
}

// snapshot is the immutable published state readable from any goroutine.
type snapshot struct {
	view    View
	decoded image.Image
	preview *service.Image
	result  *Result
}

type envelope struct {
	msg   any
	reply chan reply
}

type reply struct {
	view View
	err  error
}

// Session is one image being worked on.
type Session struct {
	id     string
	logger *slog.Logger
	orch   *orchestrator.Orchestrator

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan envelope
	done   chan struct{}

	// Owned by the loop goroutine.
	ctrl          *selection.Controller
	src           orchestrator.Source
	epoch         uint64
	decoded       image.Image
	preview       *service.Image
	result        *Result
	message       string
	pendingDetect int
	pendingWarp   int

	published  atomic.Pointer[snapshot]
	lastActive atomic.Int64

	listenersMu sync.Mutex
	listeners   map[int]chan View
	nextID      int
}

// New loads the upload into a fresh controller and starts the session loop.
// In auto mode a detection is issued right away.
func New(ctx context.Context, id string, up Upload, svc orchestrator.Service, cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Params == (service.Params{}) {
		cfg.Params = service.DefaultParams()
	}

	s := &Session{
		id:        id,
		logger:    logger.With("session", id),
		ctrl:      selection.NewController(cfg.Selection),
		inbox:     make(chan envelope, cfg.QueueSize),
		done:      make(chan struct{}),
		listeners: make(map[int]chan View),
	}
	s.orch = orchestrator.New(svc, cfg.Orchestrator, cfg.Params, s.logger)
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.load(up); err != nil {
		s.cancel()
		return nil, err
	}
	s.touch()
	s.publish()

	go s.run()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// View returns the last published view.
func (s *Session) View() View { return s.published.Load().view }

// Canvas returns the decoded source image together with the view it belongs to.
func (s *Session) Canvas() (image.Image, View) {
	snap := s.published.Load()
	return snap.decoded, snap.view
}

// Preview returns the edge preview of the last detection, if any.
func (s *Session) Preview() *service.Image { return s.published.Load().preview }

// Result returns the last successful warp, if any.
func (s *Session) Result() *Result { return s.published.Load().result }

// LastActive reports when the session last received an event.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dispatch posts a user event and waits until it has been processed.
func (s *Session) Dispatch(ctx context.Context, ev Event) (View, error) {
	sessionEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	return s.post(ctx, ev)
}

// LoadImage replaces the source image. Candidates, preview, result and manual
// corners are reset.
func (s *Session) LoadImage(ctx context.Context, up Upload) (View, error) {
	return s.post(ctx, loadImage(up))
}

func (s *Session) post(ctx context.Context, msg any) (View, error) {
	s.touch()
	env := envelope{msg: msg, reply: make(chan reply, 1)}
	select {
	case s.inbox <- env:
	case <-s.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case r := <-env.reply:
		return r.view, r.err
	case <-s.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// postInternal delivers a service response; it is dropped once the session
// has closed.
func (s *Session) postInternal(msg any) {
	select {
	case s.inbox <- envelope{msg: msg}:
	case <-s.done:
	}
}

// Subscribe registers a listener that receives the view after each processed
// event. Slow listeners only see the latest view.
func (s *Session) Subscribe() (<-chan View, func()) {
	s.touch()
	ch := make(chan View, 1)
	s.listenersMu.Lock()
	ch <- s.View()
	id := s.nextID
	s.nextID++
	s.listeners[id] = ch
	s.listenersMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
			s.touch()
		})
	}
}

// Watched reports whether any listener is subscribed.
func (s *Session) Watched() bool {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	return len(s.listeners) > 0
}

// Close stops the loop and cancels in-flight service calls.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	s.logger.Debug("session loop started")
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("session loop stopped")
			return
		case env := <-s.inbox:
			err := s.handle(env.msg)
			if err != nil {
				s.logger.Debug("event rejected", "error", err)
			}
			view := s.publish()
			if env.reply != nil {
				env.reply <- reply{view: view, err: err}
			}
		}
	}
}

func (s *Session) handle(msg any) error {
	switch m := msg.(type) {
	case Event:
		return s.apply(m)
	case detectionDone:
		s.onDetection(m.epoch, m.out)
	case warpDone:
		s.onWarp(m.epoch, m.out)
	case loadImage:
		return s.load(Upload(m))
	default:
		return fmt.Errorf("unexpected message %T", msg)
	}
	return nil
}

func (s *Session) load(up Upload) error {
	if up.Decoded == nil {
		return fmt.Errorf("%w: no decoded image", geometry.ErrInvalidDimensions)
	}
	dims := up.Dims()
	if err := s.ctrl.LoadImage(dims); err != nil {
		return err
	}
	// Responses still in flight belong to the previous image.
	s.epoch++
	s.pendingDetect = 0
	s.pendingWarp = 0
	s.src = orchestrator.Source{Image: up.Image, Dims: dims}
	s.decoded = up.Decoded
	s.preview = nil
	s.result = nil
	s.message = ""
	s.orch.ResetParamsHistory()
	s.logger.Info("image loaded", "width", dims.Width, "height", dims.Height, "mode", s.ctrl.Mode())

	if s.ctrl.Mode() == selection.ModeAuto {
		s.startDetection(s.orch.Params())
	}
	return nil
}

func (s *Session) startDetection(p service.Params) {
	s.pendingDetect++
	epoch := s.epoch
	s.orch.StartDetection(s.ctx, s.src, p, func(out orchestrator.DetectionOutcome) {
		s.postInternal(detectionDone{epoch: epoch, out: out})
	})
}

func (s *Session) startWarp(fin selection.Finalized) {
	s.pendingWarp++
	epoch := s.epoch
	s.orch.StartWarp(s.ctx, s.src, fin, func(out orchestrator.WarpOutcome) {
		s.postInternal(warpDone{epoch: epoch, out: out})
	})
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

// publish stores a snapshot of loop-owned state and fans the view out.
func (s *Session) publish() View {
	v := View{
		ID:            s.id,
		View:          s.ctrl.Snapshot(),
		Params:        s.orch.Params(),
		PendingDetect: s.pendingDetect > 0,
		PendingWarp:   s.pendingWarp > 0,
		Message:       s.message,
		HasPreview:    s.preview != nil,
	}
	v.Status = status(v)
	if s.result != nil {
		v.Result = &ResultInfo{
			Points:         s.result.Selection.Quad,
			Source:         s.result.Selection.Source,
			CandidateIndex: s.result.Selection.CandidateIndex,
			Orientation:    s.result.Orientation,
			MIME:           s.result.Image.MIME,
			Size:           len(s.result.Image.Data),
		}
	}
	s.published.Store(&snapshot{view: v, decoded: s.decoded, preview: s.preview, result: s.result})

	s.listenersMu.Lock()
	for _, ch := range s.listeners {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
	s.listenersMu.Unlock()
	return v
}

func status(v View) string {
	switch {
	case v.Phase == selection.PhaseIdle:
		return "No image loaded"
	case v.PendingDetect:
		return "Detecting documents..."
	case v.Mode == selection.ModeManual:
		return "Drag the corners, then execute"
	default:
		return fmt.Sprintf("Found %d documents", v.CandidateCount)
	}
}
