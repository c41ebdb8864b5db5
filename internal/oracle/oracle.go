package oracle

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cua/internal/agent/ports"
	"cua/internal/logging"
	"cua/internal/observability"
	"cua/internal/prompts"
	"cua/internal/task"

	"go.opentelemetry.io/otel/attribute"
)

// Operation labels used for metrics and spans.
const (
	OpPlan        = "plan"
	OpVerify      = "verify"
	OpVerifyFinal = "verify_final"
)

var visionModelPattern = regexp.MustCompile(`^(gpt-4|gpt-5|o\d)`)

// Options tunes an LLMOracle. Zero values are usable.
type Options struct {
	// ContentLimit caps the page text sent for final verification.
	ContentLimit int
	Metrics      *observability.MetricsCollector
	Tracer       *observability.TracerProvider
	Logger       logging.Logger
}

// LLMOracle plans and verifies browser steps with a chat completion model.
type LLMOracle struct {
	client  ports.LLMClient
	prompts *prompts.PromptLoader
	opts    Options
	logger  logging.Logger
}

var _ ports.Oracle = (*LLMOracle)(nil)

// New builds an oracle on top of client using the prompt catalogue in loader.
func New(client ports.LLMClient, loader *prompts.PromptLoader, opts Options) *LLMOracle {
	logger := opts.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("oracle")
	}
	return &LLMOracle{client: client, prompts: loader, opts: opts, logger: logger}
}

// PlanNext asks the model for the single next action.
func (o *LLMOracle) PlanNext(ctx context.Context, description string, state ports.PageState, history []task.ActionRecord) (ports.Plan, error) {
	req, err := o.prompts.Render(prompts.NextAction, map[string]any{
		"task":       description,
		"page_state": FormatPageState(state),
		"history":    FormatHistory(history),
	})
	if err != nil {
		return ports.Plan{}, err
	}

	content, err := o.complete(ctx, OpPlan, req)
	if err != nil {
		return ports.Plan{}, fmt.Errorf("failed to plan next action: %w", err)
	}

	plan, err := parsePlan(content)
	if err != nil {
		o.logger.Warn("Next action planning failed: %v", err)
		return ports.Plan{}, fmt.Errorf("failed to plan next action: %w", err)
	}
	if plan.TaskComplete {
		o.logger.Info("Agent determined task is complete")
	} else {
		o.logger.Info("Planned next action: %s", plan.Action)
	}
	return plan, nil
}

// Verify judges one executed action against its expected outcome.
func (o *LLMOracle) Verify(ctx context.Context, action task.ActionRecord, expectedOutcome string, state ports.PageState) (ports.Verdict, error) {
	req, err := o.prompts.Render(prompts.ActionVerification, map[string]any{
		"action":     action.Summary(),
		"expected":   expectedOutcome,
		"page_state": FormatPageState(state),
	})
	if err != nil {
		return ports.Verdict{}, err
	}

	content, err := o.complete(ctx, OpVerify, req)
	if err != nil {
		return ports.Verdict{}, err
	}
	verdict := parseVerdict(content)
	o.logger.Info("Action verification: %s (confidence: %.2f)", verdictLabel(verdict), verdict.Confidence)
	return verdict, nil
}

// VerifyFinal judges the whole task from page text and, when the model
// supports it, the screenshot.
func (o *LLMOracle) VerifyFinal(ctx context.Context, evidence ports.FinalEvidence) (ports.Verdict, error) {
	dom := Truncate(PageText(evidence.Content), o.opts.ContentLimit)
	req, err := o.prompts.Render(prompts.FinalVerification, map[string]any{
		"task":  evidence.Description,
		"url":   evidence.URL,
		"title": evidence.Title,
		"dom":   dom,
	})
	if err != nil {
		return ports.Verdict{}, err
	}

	if evidence.Screenshot != "" && SupportsVision(o.client.Model()) {
		user := req.Messages[len(req.Messages)-1]
		req.Messages[len(req.Messages)-1] = ports.Message{
			Role: user.Role,
			Parts: []ports.ContentPart{
				{Type: ports.ContentPartText, Text: user.Content},
				{Type: ports.ContentPartImage, ImageURL: screenshotDataURL(evidence.Screenshot)},
			},
		}
	}

	content, err := o.complete(ctx, OpVerifyFinal, req)
	if err != nil {
		return ports.Verdict{}, err
	}
	verdict := parseVerdict(content)
	o.logger.Info("Final verification: %s (confidence: %.2f)", verdictLabel(verdict), verdict.Confidence)
	return verdict, nil
}

func (o *LLMOracle) complete(ctx context.Context, operation string, req ports.CompletionRequest) (string, error) {
	model := o.client.Model()
	ctx, span := o.opts.Tracer.StartSpan(ctx, observability.SpanOracleCall,
		attribute.String(observability.AttrOperation, operation),
		attribute.String(observability.AttrModel, model),
	)

	started := time.Now()
	resp, err := o.client.Complete(ctx, req)
	latency := time.Since(started)

	status := "success"
	var usage ports.TokenUsage
	if err != nil {
		status = "error"
	} else {
		usage = resp.Usage
	}
	o.opts.Metrics.RecordOracleCall(ctx, operation, model, status, latency, usage.PromptTokens, usage.CompletionTokens)
	observability.EndSpan(span, err)

	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// SupportsVision reports whether model accepts image parts.
func SupportsVision(model string) bool {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	return visionModelPattern.MatchString(strings.ToLower(model))
}

func screenshotDataURL(screenshot string) string {
	if strings.HasPrefix(screenshot, "data:") {
		return screenshot
	}
	return "data:image/png;base64," + screenshot
}

func verdictLabel(v ports.Verdict) string {
	if v.Success {
		return "SUCCESS"
	}
	return "FAILED"
}
