package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"cua/internal/config"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerURL(t *testing.T) {
	cases := map[string]string{
		"":                      "http://localhost:8000",
		":9000":                 "http://localhost:9000",
		"0.0.0.0:8080":          "http://localhost:8080",
		"127.0.0.1:8000":        "http://127.0.0.1:8000",
		"https://cua.internal/": "https://cua.internal",
		"http://example.com:81": "http://example.com:81",
	}
	for addr, want := range cases {
		assert.Equal(t, want, serverURL(addr), addr)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "cua "+appVersion()+"\n", out.String())
}

// fakeAPI serves /execute and a /status sequence that completes on the second poll.
func fakeAPI(t *testing.T, finalStatus string) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "open example.com", body["task"])
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "task-1", "status": "processing"})
	})
	mux.HandleFunc("GET /status/task-1", func(w http.ResponseWriter, r *http.Request) {
		logs := []map[string]string{{"type": "step", "title": "Step 1: navigate", "details": "Navigate to https://example.com"}}
		resp := map[string]any{"task_id": "task-1", "status": "processing", "logs": logs, "description": "open example.com"}
		if polls.Add(1) > 1 {
			logs = append(logs, map[string]string{"type": "success", "title": "Task completed successfully"})
			resp["logs"] = logs
			resp["status"] = finalStatus
			resp["success"] = finalStatus == "completed"
			resp["verification"] = "Page shows example.com"
			resp["steps_executed"] = 1
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /status/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Task not found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitAndWait(t *testing.T) {
	srv := fakeAPI(t, "completed")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"submit", "--server", srv.URL, "--wait", "--interval", "5ms", "open", "example.com"})

	require.NoError(t, root.Execute())
	text := out.String()
	assert.Contains(t, text, "Submitted task-1 (processing)")
	assert.Contains(t, text, "Step 1: navigate")
	assert.Contains(t, text, "Task completed successfully")
	assert.Contains(t, text, "Verification: Page shows example.com")
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("Step 1: navigate")), "log lines are printed once")
}

func TestSubmitWaitReportsFailure(t *testing.T) {
	srv := fakeAPI(t, "failed")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"submit", "-w", "--server", srv.URL, "--interval", "5ms", "open example.com"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task task-1 failed")
}

func TestStatusNotFound(t *testing.T) {
	srv := fakeAPI(t, "completed")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"status", "--server", srv.URL, "missing"})

	err := root.Execute()
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Task not found", apiErr.Message)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "OPENAI_API_KEY not found in environment", errorMessage([]byte(`{"error":"OPENAI_API_KEY not found in environment"}`)))
	assert.Equal(t, "Task not found", errorMessage([]byte(`{"detail":"Task not found"}`)))
	assert.Equal(t, "bad gateway", errorMessage([]byte("bad gateway\n")))
}

func TestBuildServerServesHealth(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	var cfg config.Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.LLM.APIKey = "sk-test"

	s, err := buildServer(cfg)
	require.NoError(t, err)

	for _, path := range []string{"/health", "/metrics", "/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.False(t, s.channel.HasConnection())
}
