package engine

import (
	"context"
	"errors"
	"fmt"

	"cua/internal/agent/ports"
	cuaerrors "cua/internal/errors"
	"cua/internal/task"
	"cua/internal/utils/id"

	"golang.org/x/sync/errgroup"
)

// verifyFinal gathers the page text and a screenshot and asks the oracle
// whether the whole task is done. The screenshot is optional.
func (l *StepLoop) verifyFinal(ctx context.Context, t *task.Task) error {
	t.SetStatus(task.StatusVerifying)
	t.AppendLog(task.LogInfo, "Final verification", "Checking if goal achieved")
	l.logger.Info("Final verification for %s", t.ID())

	state := l.observe(ctx, t.ID())
	if !l.channel.HasConnection() {
		return &FinalVerificationError{Err: ports.ErrNoConnection}
	}

	var (
		content, screenshot string
		screenshotErr       error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := l.call(gctx, id.ObservationCorrelationID(t.ID(), "content"), actionQuery,
			map[string]any{"selector": "body", "limit": l.cfg.ContentLimit}, l.cfg.ContentTimeout)
		if msg := responseProblem(resp, err); msg != "" {
			return fmt.Errorf("content snapshot: %s", msg)
		}
		content = decodeText(resp)
		return nil
	})
	g.Go(func() error {
		resp, err := l.call(gctx, id.ObservationCorrelationID(t.ID(), "screenshot"), actionScreenshot, nil, l.cfg.ScreenshotTimeout)
		if msg := responseProblem(resp, err); msg != "" {
			screenshotErr = cuaerrors.NewDegradedError(errors.New(msg), "screenshot: "+msg)
			return nil
		}
		screenshot = decodeText(resp)
		if screenshot == "" {
			screenshotErr = cuaerrors.NewDegradedError(nil, "screenshot: empty image")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FinalVerificationError{Err: err}
	}
	l.logger.Debug("Final content retrieved: %d chars", len(content))

	if cuaerrors.IsDegraded(screenshotErr) {
		l.logger.Warn("Final verification for %s without screenshot: %v", t.ID(), screenshotErr)
		t.AppendLog(task.LogWarning, "Screenshot unavailable", "Verifying with page text only: "+screenshotErr.Error())
	}

	oracleCtx, cancel := context.WithTimeout(ctx, l.cfg.OracleTimeout)
	defer cancel()
	verdict, err := l.oracle.VerifyFinal(oracleCtx, ports.FinalEvidence{
		Description: t.Description(),
		URL:         state.URL,
		Title:       state.Title,
		Content:     content,
		Screenshot:  screenshot,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FinalVerificationError{Err: err}
	}

	t.SetVerificationResult(verdict.Message)
	if !verdict.Success {
		l.logger.Warn("Final verification failed: %s", verdict.Message)
		t.AppendLog(task.LogWarning, "Final verification failed", verdict.Message)
		return &VerificationFailure{Final: true, Message: verdict.Message}
	}
	l.logger.Info("Final verification passed (confidence %.2f)", verdict.Confidence)
	t.AppendLog(task.LogSuccess, "Task completed successfully", verdict.Message)
	return nil
}
