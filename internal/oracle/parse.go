package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"cua/internal/agent/ports"

	"github.com/kaptinlin/jsonrepair"
)

const defaultCompletionReasoning = "Agent reports goal already satisfied based on page evidence."

var codeFencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\\s*```$")

var smartClickKeys = []string{"selector", "text", "description", "name", "id", "ariaLabel", "role"}

// extractJSONObject tolerates code fences, prose around the object, minor
// syntax damage and a single-element array wrapper.
func extractJSONObject(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	if m := codeFencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	var parsed any
	err := json.Unmarshal([]byte(s), &parsed)
	if err != nil {
		first, last := strings.Index(s, "{"), strings.LastIndex(s, "}")
		if first != -1 && last > first {
			err = json.Unmarshal([]byte(s[first:last+1]), &parsed)
		}
	}
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(s)
		if repairErr != nil {
			return nil, fmt.Errorf("could not parse JSON object from content: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil, fmt.Errorf("could not parse JSON object from content: %w", err)
		}
	}

	if list, ok := parsed.([]any); ok && len(list) == 1 {
		parsed = list[0]
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected JSON type %T", parsed)
	}
	return obj, nil
}

// parsePlan turns raw model output into a validated Plan.
func parsePlan(raw string) (ports.Plan, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return ports.Plan{}, fmt.Errorf("invalid JSON response from LLM: %w", err)
	}

	plan := ports.Plan{
		TaskComplete:    asBool(obj["task_complete"]),
		Reasoning:       asString(obj["reasoning"]),
		ExpectedOutcome: asString(obj["expected_outcome"]),
	}
	if payload, ok := obj["payload"].(map[string]any); ok {
		plan.Payload = payload
	} else {
		plan.Payload = map[string]any{}
	}

	if plan.TaskComplete {
		if plan.Reasoning == "" {
			plan.Reasoning = defaultCompletionReasoning
		}
		return plan, nil
	}

	action, _ := obj["action"].(string)
	action = strings.TrimSpace(action)
	switch action {
	case "click":
		action = "smartClick"
	case "type":
		action = "smartType"
	}
	if action == "" {
		return ports.Plan{}, fmt.Errorf("plan missing 'action' field. Raw: %s", raw)
	}
	plan.Action = action

	if err := normalizePayload(action, plan.Payload); err != nil {
		return ports.Plan{}, err
	}
	return plan, nil
}

func normalizePayload(action string, payload map[string]any) error {
	switch action {
	case "navigate":
		if asString(payload["url"]) == "" {
			return errors.New("navigate action requires 'url' in payload")
		}
	case "smartType":
		if asString(payload["text"]) == "" {
			return errors.New("smartType action requires 'text' in payload")
		}
	case "press":
		if asString(payload["key"]) == "" {
			payload["key"] = "Enter"
		}
	case "smartClick":
		found := false
		for _, key := range smartClickKeys {
			if _, ok := payload[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return errors.New("smartClick requires selector, text, description, name, id, ariaLabel, or role")
		}
		if _, ok := payload["selector"]; !ok {
			if sel := synthesizeSelector(payload); sel != "" {
				payload["selector"] = sel
			}
		}
	}
	return nil
}

func synthesizeSelector(payload map[string]any) string {
	if v, ok := payload["id"]; ok {
		return "#" + asString(v)
	}
	if v, ok := payload["name"]; ok {
		return fmt.Sprintf("[name='%s']", asString(v))
	}
	if v, ok := payload["ariaLabel"]; ok {
		label := asString(v)
		return fmt.Sprintf("[aria-label='%s'], button[aria-label='%s'], a[aria-label='%s']", label, label, label)
	}
	if v, ok := payload["role"]; ok {
		return fmt.Sprintf("[role='%s']", asString(v))
	}
	return ""
}

// parseVerdict never fails: malformed output becomes a failed verdict.
func parseVerdict(raw string) ports.Verdict {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return ports.Verdict{Message: "JSON parse error: " + err.Error()}
	}
	success, ok := obj["success"]
	if !ok {
		return ports.Verdict{Message: "Verification error: verification response missing 'success' field"}
	}

	verdict := ports.Verdict{
		Success:    asBool(success),
		Confidence: 0.5,
		Message:    "No message provided",
		Evidence:   asString(obj["evidence"]),
	}
	if c, ok := asFloat(obj["confidence"]); ok {
		verdict.Confidence = c
	}
	if msg, ok := obj["message"]; ok && msg != nil {
		verdict.Message = asString(msg)
	}
	return verdict
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	case float64:
		return b != 0
	default:
		return false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
