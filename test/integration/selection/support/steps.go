package support

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/quadpick/internal/selection"
	"github.com/MeKo-Tech/quadpick/internal/service/servicetest"
	"github.com/MeKo-Tech/quadpick/internal/session"
)

const epsilon = 1e-6

// parseQuad reads a JSON list of [x,y] pairs.
func parseQuad(s string) ([][]float64, error) {
	var q [][]float64
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return nil, fmt.Errorf("invalid quad %q: %w", s, err)
	}
	return q, nil
}

func samePoints(want, got [][]float64) error {
	if len(want) != len(got) {
		return fmt.Errorf("expected %d points, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if len(got[i]) != 2 || math.Abs(want[i][0]-got[i][0]) > epsilon || math.Abs(want[i][1]-got[i][1]) > epsilon {
			return fmt.Errorf("point %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	return nil
}

// pairs flattens points that marshal as [x,y].
func pairs(v any) ([][]float64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out [][]float64
	return out, json.Unmarshal(data, &out)
}

// RegisterServiceSteps registers steps scripting and inspecting the fake
// detection and warp service.
func (tc *TestContext) RegisterServiceSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a detection service that finds the page "([^"]*)"$`, func(quad string) error {
		q, err := parseQuad(quad)
		if err != nil {
			return err
		}
		tc.Backend = servicetest.NewBackend()
		tc.Backend.SetCandidates([][][]float64{q})
		return nil
	})
	sc.Step(`^a detection service that finds nothing$`, func() error {
		tc.Backend = servicetest.NewBackend()
		return nil
	})
	sc.Step(`^the detection service reports "([^"]*)"$`, func(msg string) error {
		tc.Backend.SetErrors(msg, "")
		return nil
	})
	sc.Step(`^the warp service reports "([^"]*)"$`, func(msg string) error {
		tc.Backend.SetErrors("", msg)
		return nil
	})
	sc.Step(`^the service should have received (\d+) detect requests?$`, func(n int) error {
		if err := tc.waitRequests("detect", n); err != nil {
			return err
		}
		// Give a stray extra request the chance to show up.
		time.Sleep(50 * time.Millisecond)
		if got := tc.Backend.Count("detect"); got != n {
			return fmt.Errorf("expected %d detect requests, got %d", n, got)
		}
		return nil
	})
	sc.Step(`^the warp service should receive "([^"]*)"$`, func(quad string) error {
		want, err := parseQuad(quad)
		if err != nil {
			return err
		}
		if err := tc.waitRequests("warp", tc.warpsSeen+1); err != nil {
			return err
		}
		req, err := tc.lastRequest("warp")
		if err != nil {
			return err
		}
		return samePoints(want, req.Points)
	})
	sc.Step(`^no warp request should be sent$`, func() error {
		time.Sleep(100 * time.Millisecond)
		if got := tc.Backend.Count("warp"); got != tc.warpsSeen {
			return fmt.Errorf("expected no new warp request, got %d", got-tc.warpsSeen)
		}
		return nil
	})
	sc.Step(`^the last detect request should use threshold1 (\d+), threshold2 (\d+), morph kernel (\d+) and resize width (\d+)$`,
		func(t1, t2, kernel, width int) error {
			req, err := tc.lastRequest("detect")
			if err != nil {
				return err
			}
			if req.Threshold1 != t1 || req.Threshold2 != t2 || req.MorphKernel != kernel || req.ResizeWidth != width {
				return fmt.Errorf("unexpected detect params %d/%d/%d/%d", req.Threshold1, req.Threshold2, req.MorphKernel, req.ResizeWidth)
			}
			return nil
		})
}

// RegisterSessionSteps registers server, upload and view steps.
func (tc *TestContext) RegisterSessionSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a selection server with display width (\d+)$`, func(width int) error {
		return tc.startServer(float64(width), selection.ModeAuto)
	})
	sc.Step(`^I upload an? (\d+)x(\d+) image$`, func(w, h int) error {
		return tc.upload(w, h, nil)
	})
	sc.Step(`^I upload an? (\d+)x(\d+) image in (auto|manual) mode$`, func(w, h int, mode string) error {
		return tc.upload(w, h, map[string]string{"mode": mode})
	})
	sc.Step(`^the display should be (\d+)x(\d+)$`, func(w, h int) error {
		d := tc.LastView.Display
		if math.Abs(d.Width-float64(w)) > epsilon || math.Abs(d.Height-float64(h)) > epsilon {
			return fmt.Errorf("expected display %dx%d, got %gx%g", w, h, d.Width, d.Height)
		}
		return nil
	})
	sc.Step(`^detection should finish with (\d+) candidates?$`, func(n int) error {
		_, err := tc.waitView(fmt.Sprintf("%d candidates", n), func(v session.View) bool {
			return !v.PendingDetect && v.CandidateCount == n
		})
		return err
	})
	sc.Step(`^candidate (\d+) should be displayed at "([^"]*)"$`, func(i int, quad string) error {
		want, err := parseQuad(quad)
		if err != nil {
			return err
		}
		if i >= len(tc.LastView.DisplayCandidates) {
			return fmt.Errorf("candidate %d missing, have %d", i, len(tc.LastView.DisplayCandidates))
		}
		got, err := pairs(tc.LastView.DisplayCandidates[i])
		if err != nil {
			return err
		}
		return samePoints(want, got)
	})
	sc.Step(`^candidate (-?\d+) should be selected$`, func(i int) error {
		if tc.LastView.Selected != i {
			return fmt.Errorf("expected selected candidate %d, got %d", i, tc.LastView.Selected)
		}
		return nil
	})
	sc.Step(`^the mode should be "([^"]*)"$`, func(mode string) error {
		if string(tc.LastView.Mode) != mode {
			return fmt.Errorf("expected mode %s, got %s", mode, tc.LastView.Mode)
		}
		return nil
	})
	sc.Step(`^the status should be "([^"]*)"$`, func(status string) error {
		_, err := tc.waitView("status "+status, func(v session.View) bool { return v.Status == status })
		return err
	})
	sc.Step(`^the message should be "([^"]*)"$`, func(msg string) error {
		_, err := tc.waitView("message "+msg, func(v session.View) bool { return v.Message == msg })
		return err
	})
	sc.Step(`^a result should be available for download$`, func() error {
		if _, err := tc.waitView("a result", func(v session.View) bool { return v.Result != nil }); err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodGet, tc.url("/sessions/"+tc.SessionID+"/result"), nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("result download failed with status %d", resp.StatusCode)
		}
		if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "scanned_doc.jpg") {
			return fmt.Errorf("unexpected Content-Disposition %q", cd)
		}
		return nil
	})
	sc.Step(`^no result should be available$`, func() error {
		v, err := tc.fetchView()
		if err != nil {
			return err
		}
		if v.Result != nil {
			return fmt.Errorf("unexpected result from %s selection", v.Result.Source)
		}
		return nil
	})
	sc.Step(`^the request should be rejected with status (\d+)$`, func(code int) error {
		if tc.LastStatus != code {
			return fmt.Errorf("expected status %d, got %d: %s", code, tc.LastStatus, tc.LastBody)
		}
		return nil
	})
}

// RegisterPointerSteps registers pointer, mode and execute events.
func (tc *TestContext) RegisterPointerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I click at (-?\d+),(-?\d+)$`, func(x, y int) error {
		tc.warpsSeen = tc.Backend.Count("warp")
		if err := tc.send(session.Event{Type: session.EventPointerDown, X: float64(x), Y: float64(y)}); err != nil {
			return err
		}
		return tc.send(session.Event{Type: session.EventPointerUp})
	})
	sc.Step(`^I drag from (-?\d+),(-?\d+) to (-?\d+),(-?\d+)$`, func(x0, y0, x1, y1 int) error {
		tc.warpsSeen = tc.Backend.Count("warp")
		events := []session.Event{
			{Type: session.EventPointerDown, X: float64(x0), Y: float64(y0)},
			{Type: session.EventPointerMove, X: float64(x1), Y: float64(y1)},
			{Type: session.EventPointerUp},
		}
		for _, ev := range events {
			if err := tc.send(ev); err != nil {
				return err
			}
		}
		return nil
	})
	sc.Step(`^I execute the selection$`, func() error {
		tc.warpsSeen = tc.Backend.Count("warp")
		return tc.send(session.Event{Type: session.EventExecute})
	})
	sc.Step(`^I switch to (auto|manual) mode$`, func(mode string) error {
		return tc.send(session.Event{Type: session.EventMode, Mode: selection.Mode(mode)})
	})
	sc.Step(`^the corners should be "([^"]*)"$`, func(quad string) error {
		want, err := parseQuad(quad)
		if err != nil {
			return err
		}
		if tc.LastView.Corners == nil {
			return fmt.Errorf("no manual corners in view")
		}
		got, err := pairs(tc.LastView.Corners)
		if err != nil {
			return err
		}
		return samePoints(want, got)
	})
}

// RegisterParamSteps registers detection parameter steps.
func (tc *TestContext) RegisterParamSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I move the (threshold1|threshold2|morph_kernel|resize_width) slider to (\d+)$`, func(name string, value int) error {
		p := tc.LastView.Params
		switch name {
		case "threshold1":
			p.Threshold1 = value
		case "threshold2":
			p.Threshold2 = value
		case "morph_kernel":
			p.MorphKernel = value
		case "resize_width":
			p.ResizeWidth = value
		}
		return tc.send(session.Event{Type: session.EventParams, Params: &p})
	})
	sc.Step(`^I release the slider$`, func() error {
		return tc.send(session.Event{Type: session.EventCommit})
	})
}
