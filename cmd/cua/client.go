package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to a running cua server.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type executeResult struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	Architecture string `json:"architecture"`
}

type logLine struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Details   string    `json:"details"`
}

type currentStep struct {
	Index       int    `json:"index"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type statusResult struct {
	TaskID        string       `json:"task_id"`
	Status        string       `json:"status"`
	StepsExecuted int          `json:"steps_executed"`
	TotalSteps    int          `json:"total_steps"`
	RetryCount    int          `json:"retry_count"`
	Verification  *string      `json:"verification"`
	Success       bool         `json:"success"`
	Description   string       `json:"description"`
	CurrentStep   *currentStep `json:"current_step"`
	Logs          []logLine    `json:"logs"`
}

func (s statusResult) terminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// apiError carries the server's error message for a non-2xx response.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *apiClient) execute(ctx context.Context, description string) (executeResult, error) {
	var out executeResult
	err := c.do(ctx, http.MethodPost, "/execute", map[string]string{"task": description}, &out)
	return out, err
}

func (c *apiClient) status(ctx context.Context, taskID string) (statusResult, error) {
	var out statusResult
	err := c.do(ctx, http.MethodGet, "/status/"+taskID, nil, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage understands both {"error": ...} and {"detail": ...} bodies.
func errorMessage(body []byte) string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return strings.TrimSpace(string(body))
}
