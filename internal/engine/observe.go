package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"cua/internal/agent/ports"
	"cua/internal/utils/id"

	"golang.org/x/sync/errgroup"
)

const (
	actionPageInfo     = "getPageInfo"
	actionElements     = "getInteractiveElements"
	actionQuery        = "query"
	actionScreenshot   = "captureScreenshot"
	diagnosticErrorKey = "error"
	unknownError       = "Unknown error"
)

type pageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// observe reads the current page through the extension. Only a missing
// connection is fatal; individual call failures become diagnostics keyed by
// action name so the oracle can reason about them.
func (l *StepLoop) observe(ctx context.Context, taskID string) ports.PageState {
	if !l.channel.HasConnection() {
		return ports.PageState{Diagnostics: map[string]string{
			diagnosticErrorKey: (&NoConnectionError{}).Error(),
		}}
	}

	var (
		state ports.PageState
		mu    sync.Mutex
		g     errgroup.Group
	)
	diag := func(action, msg string) {
		mu.Lock()
		defer mu.Unlock()
		if state.Diagnostics == nil {
			state.Diagnostics = make(map[string]string)
		}
		state.Diagnostics[action] = msg
	}

	g.Go(func() error {
		resp, err := l.call(ctx, id.ObservationCorrelationID(taskID, "info"), actionPageInfo, nil, l.cfg.ObserveTimeout)
		if msg := responseProblem(resp, err); msg != "" {
			diag(actionPageInfo, msg)
			return nil
		}
		var info pageInfo
		if err := resp.DecodeData(&info); err != nil {
			diag(actionPageInfo, err.Error())
			return nil
		}
		mu.Lock()
		state.URL, state.Title = info.URL, info.Title
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		resp, err := l.call(ctx, id.ObservationCorrelationID(taskID, "elements"), actionElements, nil, l.cfg.ObserveTimeout)
		if msg := responseProblem(resp, err); msg != "" {
			diag(actionElements, msg)
			return nil
		}
		elements, err := decodeElements(resp)
		if err != nil {
			diag(actionElements, err.Error())
			return nil
		}
		if len(elements) > l.cfg.MaxElements {
			elements = elements[:l.cfg.MaxElements]
		}
		mu.Lock()
		state.Elements = elements
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	if errors.Is(ctx.Err(), context.Canceled) {
		diag(diagnosticErrorKey, "observation cancelled")
	}
	return state
}

// decodeElements accepts either a bare array or an object wrapping it.
func decodeElements(resp ports.ActionResponse) ([]ports.Element, error) {
	var elements []ports.Element
	if err := resp.DecodeData(&elements); err == nil {
		return elements, nil
	}
	var wrapped struct {
		Elements []ports.Element `json:"elements"`
	}
	if err := resp.DecodeData(&wrapped); err != nil {
		return nil, err
	}
	return wrapped.Elements, nil
}

// decodeText returns string data as is and anything else as raw JSON.
func decodeText(resp ports.ActionResponse) string {
	var s string
	if err := json.Unmarshal(resp.Data, &s); err == nil {
		return s
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return ""
	}
	return string(resp.Data)
}

// responseProblem describes why a call did not yield usable data, or "".
func responseProblem(resp ports.ActionResponse, err error) string {
	if err != nil {
		return err.Error()
	}
	if !resp.OK() {
		if resp.Error != "" {
			return resp.Error
		}
		return unknownError
	}
	return ""
}
