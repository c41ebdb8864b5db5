package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cua/internal/agent/ports"
	cuaerrors "cua/internal/errors"
	"cua/internal/logging"
	id "cua/internal/utils/id"
)

// Config describes an OpenAI-compatible endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Headers    map[string]string

	// Temperature is used when a request leaves its own at zero.
	Temperature float64
}

// OpenAI API compatible client
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	headers    map[string]string

	temperature float64
}

// NewOpenAIClient constructs an LLM client that speaks the OpenAI-compatible
// chat completions API using the provided configuration.
func NewOpenAIClient(model string, config Config) (ports.LLMClient, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("llm model is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &openaiClient{
		model:      model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger("openai"),
		headers:    config.Headers,

		temperature: config.Temperature,
	}, nil
}

func (c *openaiClient) Model() string {
	return c.model
}

func (c *openaiClient) temperatureFor(req ports.CompletionRequest) float64 {
	if req.Temperature != 0 {
		return req.Temperature
	}
	return c.temperature
}

func (c *openaiClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	requestID := id.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = id.NewRequestID()
	}
	prefix := fmt.Sprintf("[req:%s] ", requestID)

	oaiReq := map[string]any{
		"model":       c.model,
		"messages":    convertMessages(req.Messages),
		"temperature": c.temperatureFor(req),
		"stream":      false,
	}
	if req.MaxTokens > 0 {
		oaiReq["max_tokens"] = req.MaxTokens
	}
	if req.ResponseFormat != ports.ResponseFormatText {
		oaiReq["response_format"] = map[string]any{"type": string(req.ResponseFormat)}
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("%sPOST %s/chat/completions model=%s", prefix, c.baseURL, c.model)
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, redactDataURIs(body), "", "  "); err == nil {
		c.logger.Debug("%sRequest Body:\n%s", prefix, prettyJSON.String())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("%sHTTP request failed: %v", prefix, err)
		return nil, wrapRequestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cuaerrors.NewTransientError(err, "failed to read LLM response")
	}

	c.logger.Debug("%sStatus: %d", prefix, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("%sError Response Body: %s", prefix, string(respBody))
		return nil, mapHTTPError(resp.StatusCode, respBody, resp.Header)
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	var prettyResp bytes.Buffer
	if err := json.Indent(&prettyResp, respBody, "", "  "); err == nil {
		c.logger.Debug("%sResponse Body:\n%s", prefix, prettyResp.String())
	}

	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if oaiResp.Error != nil && oaiResp.Error.Message != "" {
		errMsg := oaiResp.Error.Message
		if oaiResp.Error.Type != "" {
			errMsg = fmt.Sprintf("%s: %s", oaiResp.Error.Type, oaiResp.Error.Message)
		}
		return nil, mapHTTPError(resp.StatusCode, []byte(errMsg), resp.Header)
	}

	if len(oaiResp.Choices) == 0 {
		return nil, cuaerrors.NewTransientError(errors.New("no choices in response"), "LLM returned an empty response")
	}

	result := &ports.CompletionResponse{
		Content:    oaiResp.Choices[0].Message.Content,
		StopReason: oaiResp.Choices[0].FinishReason,
		Usage: ports.TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}

	c.logger.Debug("%sUsage: %d prompt + %d completion = %d total tokens",
		prefix,
		result.Usage.PromptTokens,
		result.Usage.CompletionTokens,
		result.Usage.TotalTokens)

	return result, nil
}

func convertMessages(msgs []ports.Message) []map[string]any {
	result := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		entry := map[string]any{"role": msg.Role}
		if len(msg.Parts) == 0 {
			entry["content"] = msg.Content
			result = append(result, entry)
			continue
		}

		parts := make([]map[string]any, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			switch part.Type {
			case ports.ContentPartImage:
				if part.ImageURL == "" {
					continue
				}
				parts = append(parts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url":    part.ImageURL,
						"detail": "high",
					},
				})
			default:
				parts = append(parts, map[string]any{
					"type": "text",
					"text": part.Text,
				})
			}
		}
		entry["content"] = parts
		result = append(result, entry)
	}
	return result
}

func mapHTTPError(status int, body []byte, headers http.Header) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	retryAfter := 0
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			retryAfter = secs
		}
	}
	return cuaerrors.ClassifyHTTPStatus(status, retryAfter, fmt.Errorf("llm api status %d: %s", status, msg))
}

func wrapRequestError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return cuaerrors.NewTransientError(err, fmt.Sprintf("LLM request failed: %v", err))
}

var dataURIPattern = regexp.MustCompile(`data:image/[a-zA-Z+.-]+;base64,[A-Za-z0-9+/=]+`)

// redactDataURIs keeps screenshots out of debug logs.
func redactDataURIs(body []byte) []byte {
	return dataURIPattern.ReplaceAll(body, []byte("data:image/png;base64,<redacted>"))
}
