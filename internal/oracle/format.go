package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"cua/internal/agent/ports"
	"cua/internal/task"
)

const (
	maxPromptElements   = 15
	maxElementText      = 50
	maxDiagnosticsChars = 240
)

// FormatPageState renders a page observation as planner context.
func FormatPageState(state ports.PageState) string {
	if msg, ok := state.Diagnostics["error"]; ok {
		return "Error: " + msg
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current URL: %s\n", orUnknown(state.URL))
	fmt.Fprintf(&b, "Page Title: %s\n\n", orUnknown(state.Title))

	if len(state.Diagnostics) > 0 {
		raw, _ := json.Marshal(state.Diagnostics)
		fmt.Fprintf(&b, "Diagnostics: %s\n\n", truncateRunes(string(raw), maxDiagnosticsChars))
	}

	if len(state.Elements) == 0 {
		b.WriteString("No interactive elements found yet.\n")
		return b.String()
	}

	b.WriteString("Interactive Elements (up to 15 shown):\n")
	for i, el := range state.Elements {
		if i == maxPromptElements {
			break
		}
		elType := el.Type
		if elType == "" {
			elType = "unknown"
		}
		fmt.Fprintf(&b, "  %d. <%s>", i+1, elType)
		if el.Text != "" {
			fmt.Fprintf(&b, " text='%s'", truncateRunes(el.Text, maxElementText))
		}
		if el.ID != "" {
			fmt.Fprintf(&b, " id='%s'", el.ID)
		}
		if el.Name != "" {
			fmt.Fprintf(&b, " name='%s'", el.Name)
		}
		if el.Placeholder != "" {
			fmt.Fprintf(&b, " placeholder='%s'", el.Placeholder)
		}
		if el.IsSubmit {
			b.WriteString(" [SUBMIT]")
		}
		if el.IsPDF {
			b.WriteString(" [PDF]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatHistory renders the executed plan as numbered summaries.
func FormatHistory(history []task.ActionRecord) string {
	if len(history) == 0 {
		return "No actions taken yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Actions taken so far (%d steps):\n", len(history))
	for i, rec := range history {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec.Summary())
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
