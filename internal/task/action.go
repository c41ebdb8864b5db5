package task

import (
	"encoding/json"
	"fmt"
)

// ActionRecord is one executed and verified action. It is immutable once
// appended to a plan.
type ActionRecord struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// NewActionRecord copies payload so later changes by the caller cannot leak
// into the recorded plan.
func NewActionRecord(action string, payload map[string]any) ActionRecord {
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return ActionRecord{Action: action, Payload: cp}
}

// Description is the short, user-facing label shown while a step runs.
func (a ActionRecord) Description() string {
	switch a.Action {
	case "navigate":
		return "Going to " + a.str("url", "URL")
	case "smartClick", "click":
		if text := a.str("text", ""); text != "" {
			return "Clicking " + text
		}
		return "Clicking " + a.str("description", "element")
	case "smartType", "type":
		return fmt.Sprintf("Typing '%s'", a.str("text", ""))
	case "press":
		return "Pressing " + a.str("key", "key")
	case "download":
		return "Downloading " + a.str("url", "file")
	case "uploadFile":
		return "Uploading file"
	default:
		return a.Action
	}
}

// Summary is the history line handed to the planner for already executed steps.
func (a ActionRecord) Summary() string {
	switch a.Action {
	case "navigate":
		return "Navigate to " + a.str("url", "URL")
	case "smartClick", "click":
		if text := a.str("text", ""); text != "" {
			return fmt.Sprintf("Click element with text '%s'", text)
		}
		if selector := a.str("selector", ""); selector != "" {
			return fmt.Sprintf("Click element matching '%s'", selector)
		}
		return "Click element"
	case "smartType", "type":
		return fmt.Sprintf("Type '%s' into input field", a.str("text", ""))
	case "press":
		return "Press " + a.str("key", "key")
	case "download":
		return "Download file from " + a.str("url", "URL")
	case "uploadFile":
		return "Upload file: " + a.str("filename", "unknown")
	default:
		raw, err := json.Marshal(a.Payload)
		if err != nil || a.Payload == nil {
			raw = []byte("{}")
		}
		return fmt.Sprintf("%s: %s", a.Action, raw)
	}
}

func (a ActionRecord) str(key, fallback string) string {
	v, ok := a.Payload[key]
	if !ok || v == nil {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	if s == "" {
		return fallback
	}
	return s
}
