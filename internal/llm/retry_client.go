package llm

import (
	"context"
	"fmt"
	"time"

	"cua/internal/agent/ports"
	cuaerrors "cua/internal/errors"
	"cua/internal/logging"
)

// retryClient wraps an LLM client with retry logic and circuit breaker
type retryClient struct {
	underlying     ports.LLMClient
	retryConfig    cuaerrors.RetryConfig
	circuitBreaker *cuaerrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps an LLM client with retry and circuit breaker logic
func NewRetryClient(client ports.LLMClient, retryConfig cuaerrors.RetryConfig, circuitBreaker *cuaerrors.CircuitBreaker) ports.LLMClient {
	if circuitBreaker == nil {
		circuitBreaker = cuaerrors.NewCircuitBreaker("llm-"+client.Model(), cuaerrors.DefaultCircuitBreakerConfig())
	}
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.NewComponentLogger("llm-retry"),
	}
}

// Complete executes LLM completion with retry logic
func (c *retryClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	startTime := time.Now()

	resp, err := cuaerrors.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return cuaerrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
			return c.underlying.Complete(ctx, req)
		})
	}, c.logger)

	duration := time.Since(startTime)
	if err != nil {
		c.logger.Warn("LLM request failed after retries (took %v, %s): %v", duration, cuaerrors.GetErrorType(err), err)
		return nil, fmt.Errorf("llm %s: %w", c.underlying.Model(), err)
	}

	if duration > 5*time.Second {
		c.logger.Debug("LLM request succeeded after %v", duration)
	}
	return resp, nil
}

// Model returns the underlying model name
func (c *retryClient) Model() string {
	return c.underlying.Model()
}
