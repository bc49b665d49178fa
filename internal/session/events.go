package session

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/quadpick/internal/geometry"
	"github.com/MeKo-Tech/quadpick/internal/orchestrator"
	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/service"
)

// EventType names a user event.
type EventType string

const (
	EventPointerDown EventType = "pointer_down"
	EventPointerMove EventType = "pointer_move"
	EventPointerUp   EventType = "pointer_up"
	EventExecute     EventType = "execute"
	EventMode        EventType = "mode"
	EventParams      EventType = "params"
	EventCommit      EventType = "commit"
)

// ErrUnknownEvent is returned for an event type the session does not handle.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is a user input. X and Y are display-space coordinates for pointer
// events; Mode and Params carry the payload of mode and params events.
type Event struct {
	Type   EventType       `json:"type"`
	X      float64         `json:"x,omitempty"`
	Y      float64         `json:"y,omitempty"`
	Mode   selection.Mode  `json:"mode,omitempty"`
	Params *service.Params `json:"params,omitempty"`
}

func (e Event) point() geometry.DisplayPoint {
	return geometry.DisplayPoint{X: e.X, Y: e.Y}
}

// Internal events posted back by service goroutines. epoch is the image the
// request was issued for.
type (
	detectionDone struct {
		epoch uint64
		out   orchestrator.DetectionOutcome
	}
	warpDone struct {
		epoch uint64
		out   orchestrator.WarpOutcome
	}
	loadImage Upload
)

// apply runs one user event against the controller. Only the loop goroutine
// calls it.
func (s *Session) apply(ev Event) error {
	switch ev.Type {
	case EventPointerDown:
		if fin := s.ctrl.PointerDown(ev.point()); fin != nil {
			s.startWarp(*fin)
		}
	case EventPointerMove:
		s.ctrl.PointerMove(ev.point())
	case EventPointerUp:
		s.ctrl.PointerUp()
	case EventExecute:
		fin, err := s.ctrl.Execute()
		if err != nil {
			s.message = err.Error()
			return err
		}
		if fin != nil {
			s.startWarp(*fin)
		}
	case EventMode:
		mode, err := selection.ParseMode(string(ev.Mode))
		if err != nil {
			return err
		}
		if s.ctrl.SetMode(mode) {
			s.startDetection(s.orch.Params())
		}
	case EventParams:
		if ev.Params == nil {
			return fmt.Errorf("%w: params event without params", service.ErrInvalidParams)
		}
		return s.orch.DraftParams(*ev.Params)
	case EventCommit:
		if ev.Params != nil {
			if err := s.orch.DraftParams(*ev.Params); err != nil {
				return err
			}
		}
		if p, due := s.orch.CommitParams(); due && s.ctrl.Loaded() {
			s.startDetection(p)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return nil
}

func (s *Session) onDetection(epoch uint64, out orchestrator.DetectionOutcome) {
	if epoch != s.epoch {
		s.logger.Debug("dropping detection for replaced image", "generation", out.Generation)
		return
	}
	s.pendingDetect--
	if out.Discard {
		return
	}
	if out.Err != nil {
		if out.Message != "" {
			s.message = out.Message
		}
		return
	}
	// Candidate replacement never touches drag fields.
	s.ctrl.ReplaceCandidates(out.Detection.Candidates)
	if out.Detection.EdgePreview != nil {
		s.preview = out.Detection.EdgePreview
	}
	s.message = ""
}

func (s *Session) onWarp(epoch uint64, out orchestrator.WarpOutcome) {
	if epoch != s.epoch {
		s.logger.Debug("dropping warp for replaced image", "generation", out.Generation)
		return
	}
	s.pendingWarp--
	if out.Discard {
		return
	}
	if out.Err != nil {
		if out.Message != "" {
			s.message = out.Message
		}
		return
	}
	s.result = &Result{
		Generation:  out.Generation,
		Selection:   out.Selection,
		Image:       out.Result.Image,
		Orientation: out.Result.Orientation,
	}
	s.message = ""
}
