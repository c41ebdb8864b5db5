package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"cua/internal/agent/ports"
	"cua/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCapsElementsAndRecordsDiagnostics(t *testing.T) {
	channel := newFakeChannel()
	channel.handle = func(id, action string, _ map[string]any) (ports.ActionResponse, error) {
		switch action {
		case actionPageInfo:
			return ports.ActionResponse{ID: id, Status: "error", Error: "tab not ready"}, nil
		case actionElements:
			var elements []ports.Element
			for i := 0; i < 30; i++ {
				elements = append(elements, ports.Element{Type: "a"})
			}
			raw, _ := json.Marshal(map[string]any{"elements": elements})
			return ports.ActionResponse{ID: id, Status: ports.ActionStatusSuccess, Data: raw}, nil
		}
		return ports.ActionResponse{}, nil
	}
	cfg := testConfig()
	cfg.MaxElements = 20
	loop := NewStepLoop(channel, &scriptedOracle{}, cfg, WithLogger(logging.Nop()))

	state := loop.observe(context.Background(), "task-9")
	assert.Len(t, state.Elements, 20)
	assert.Equal(t, map[string]string{actionPageInfo: "tab not ready"}, state.Diagnostics)

	info := channel.callsFor(actionPageInfo)
	require.Len(t, info, 1)
	assert.True(t, strings.HasPrefix(info[0].ID, "task-9_info_"))
	assert.Len(t, strings.TrimPrefix(info[0].ID, "task-9_info_"), 8)
	elements := channel.callsFor(actionElements)
	require.Len(t, elements, 1)
	assert.True(t, strings.HasPrefix(elements[0].ID, "task-9_elements_"))
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "body", decodeText(ports.ActionResponse{Data: json.RawMessage(`"body"`)}))
	assert.Equal(t, `{"a":1}`, decodeText(ports.ActionResponse{Data: json.RawMessage(`{"a":1}`)}))
	assert.Equal(t, "", decodeText(ports.ActionResponse{}))
}
