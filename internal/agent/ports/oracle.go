package ports

import (
	"context"

	"cua/internal/task"
)

// Element is one interactive element reported by the extension.
type Element struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Href        string `json:"href,omitempty"`
	Role        string `json:"role,omitempty"`
	AriaLabel   string `json:"ariaLabel,omitempty"`
	IsSubmit    bool   `json:"isSubmitButton,omitempty"`
	IsPDF       bool   `json:"isPdfLink,omitempty"`
}

// PageState is what the planner sees of the remote page.
type PageState struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
	// Diagnostics holds per-call failures keyed by action name; the key
	// "error" marks an observation that could not be made at all.
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// Plan is the oracle's answer to "what next?". Either TaskComplete is set or
// Action names the next action to dispatch.
type Plan struct {
	TaskComplete    bool           `json:"task_complete"`
	Action          string         `json:"action,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	Reasoning       string         `json:"reasoning,omitempty"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
}

// Verdict is the oracle's judgement of a step or of the whole task.
type Verdict struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
	Evidence   string  `json:"evidence,omitempty"`
}

// FinalEvidence bundles everything the oracle needs to judge completion.
type FinalEvidence struct {
	Description string
	URL         string
	Title       string
	Content     string
	// Screenshot is a base64 PNG, or empty when the capture failed.
	Screenshot string
}

// Oracle plans and verifies steps of a task.
type Oracle interface {
	// PlanNext proposes the next action, or reports the task as complete.
	PlanNext(ctx context.Context, description string, state PageState, history []task.ActionRecord) (Plan, error)

	// Verify judges whether a single executed action reached its expected outcome.
	Verify(ctx context.Context, action task.ActionRecord, expectedOutcome string, state PageState) (Verdict, error)

	// VerifyFinal judges whether the whole task has been accomplished.
	VerifyFinal(ctx context.Context, evidence FinalEvidence) (Verdict, error)
}
