package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cua/internal/bridge"
	"cua/internal/logging"
	"cua/internal/server/app"
	"cua/internal/server/ports"
	"cua/internal/task"

	"github.com/gin-gonic/gin"
)

const (
	serviceName   = "Computer Use Agent API"
	architecture  = "Reactive step-by-step execution with structured outputs"
	missingAPIKey = "OPENAI_API_KEY not found in environment"
)

// APIHandler serves the task API.
type APIHandler struct {
	tasks   *app.TaskService
	channel *bridge.Channel
	health  *app.HealthCheckerImpl
	cfg     RouterConfig
	logger  logging.Logger
	started time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(tasks *app.TaskService, channel *bridge.Channel, cfg RouterConfig, logger logging.Logger) *APIHandler {
	return &APIHandler{
		tasks:   tasks,
		channel: channel,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		started: time.Now(),
	}
}

type rootResponse struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Status       string `json:"status"`
	ActiveTasks  int    `json:"active_tasks"`
	TotalTasks   int    `json:"total_tasks"`
	Architecture string `json:"architecture"`
}

// HandleRoot reports service identity and task counts.
func (h *APIHandler) HandleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, rootResponse{
		Name:         serviceName,
		Version:      h.cfg.Version,
		Status:       "running",
		ActiveTasks:  h.tasks.CountActive(),
		TotalTasks:   h.tasks.Len(),
		Architecture: architecture,
	})
}

type executeRequest struct {
	Task string `json:"task"`
}

type executeResponse struct {
	TaskID       string      `json:"task_id"`
	Status       task.Status `json:"status"`
	Architecture string      `json:"architecture"`
}

// HandleExecute submits a new task and returns immediately.
func (h *APIHandler) HandleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !h.cfg.APIKeyConfigured {
		h.writeJSONError(c, http.StatusBadRequest, missingAPIKey, nil)
		return
	}

	t, err := h.tasks.Submit(c.Request.Context(), req.Task)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, executeResponse{
		TaskID:       t.ID(),
		Status:       task.StatusProcessing,
		Architecture: architecture,
	})
}

type statusResponse struct {
	TaskID        string               `json:"task_id"`
	Status        task.Status          `json:"status"`
	StepsExecuted int                  `json:"steps_executed"`
	TotalSteps    int                  `json:"total_steps"`
	RetryCount    int                  `json:"retry_count"`
	Verification  *string              `json:"verification"`
	Success       bool                 `json:"success"`
	Description   string               `json:"description"`
	CurrentStep   *task.StepDescriptor `json:"current_step"`
	Logs          []task.LogEntry      `json:"logs"`
}

func newStatusResponse(s task.State) statusResponse {
	resp := statusResponse{
		TaskID:        s.ID,
		Status:        s.Status,
		StepsExecuted: s.StepsExecuted,
		TotalSteps:    len(s.Plan),
		RetryCount:    s.RetryCount,
		Success:       s.Status == task.StatusCompleted,
		Description:   s.Description,
		CurrentStep:   s.CurrentStep,
		Logs:          s.Log,
	}
	if s.VerificationResult != "" {
		v := s.VerificationResult
		resp.Verification = &v
	}
	if resp.Logs == nil {
		resp.Logs = []task.LogEntry{}
	}
	return resp
}

// HandleStatus returns the latest snapshot of one task.
func (h *APIHandler) HandleStatus(c *gin.Context) {
	t, err := h.tasks.Get(c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(t.Snapshot()))
}

type taskSummary struct {
	TaskID        string      `json:"task_id"`
	Description   string      `json:"description"`
	Status        task.Status `json:"status"`
	StepsExecuted int         `json:"steps_executed"`
	RetryCount    int         `json:"retry_count"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type listTasksResponse struct {
	Tasks []taskSummary `json:"tasks"`
	Total int           `json:"total"`
}

// HandleListTasks lists every stored task, newest first.
func (h *APIHandler) HandleListTasks(c *gin.Context) {
	tasks := h.tasks.List()
	resp := listTasksResponse{Tasks: make([]taskSummary, 0, len(tasks)), Total: len(tasks)}
	for _, t := range tasks {
		s := t.Snapshot()
		resp.Tasks = append(resp.Tasks, taskSummary{
			TaskID:        s.ID,
			Description:   s.Description,
			Status:        s.Status,
			StepsExecuted: s.StepsExecuted,
			RetryCount:    s.RetryCount,
			CreatedAt:     s.CreatedAt,
			UpdatedAt:     s.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteTask removes a task, cancelling it if it is still running.
func (h *APIHandler) HandleDeleteTask(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.tasks.Delete(taskID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted", "task_id": taskID})
}

// HandleCleanup drops old finished tasks, keeping the newest keep_last_n.
func (h *APIHandler) HandleCleanup(c *gin.Context) {
	keep := h.cfg.KeepLastTasks
	if raw := c.Query("keep_last_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeJSONError(c, http.StatusBadRequest, "keep_last_n must be a non-negative integer", err)
			return
		}
		keep = n
	}
	removed, remaining := h.tasks.Cleanup(keep)
	c.JSON(http.StatusOK, gin.H{
		"message":         fmt.Sprintf("Cleaned up %d old tasks", removed),
		"remaining_tasks": remaining,
	})
}

type healthResponse struct {
	Status             string `json:"status"`
	ExtensionConnected bool   `json:"extension_connected"`
	Connections        int    `json:"connections"`
	ActiveTasks        int    `json:"active_tasks"`
	Uptime             string `json:"uptime"`

	Components []ports.ComponentHealth `json:"components,omitempty"`
}

// HandleHealth reports liveness and extension connectivity.
func (h *APIHandler) HandleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:      "ok",
		ActiveTasks: h.tasks.CountActive(),
		Uptime:      time.Since(h.started).Round(time.Second).String(),
	}
	if h.channel != nil {
		resp.Connections = h.channel.Connections()
		resp.ExtensionConnected = resp.Connections > 0
	}
	if h.health != nil {
		resp.Components = h.health.CheckAll(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}
