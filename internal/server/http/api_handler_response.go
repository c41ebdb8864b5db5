package http

import (
	"errors"
	"net/http"

	"cua/internal/server/app"

	"github.com/gin-gonic/gin"
)

type apiErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *APIHandler) writeJSONError(c *gin.Context, status int, message string, err error) {
	if err != nil {
		h.logger.Warn("HTTP %d - %s: %v", status, message, err)
		_ = c.Error(err)
	} else {
		h.logger.Warn("HTTP %d - %s", status, message)
	}

	resp := apiErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

// writeServiceError maps task service errors onto HTTP statuses. Missing
// tasks use the {"detail": ...} shape clients already poll for.
func (h *APIHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Task not found"})
	case errors.Is(err, app.ErrValidation):
		h.writeJSONError(c, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, app.ErrUnavailable):
		h.writeJSONError(c, http.StatusServiceUnavailable, "Service unavailable", err)
	default:
		h.logger.Error("Unhandled service error: %v", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, apiErrorResponse{Error: "Internal server error"})
	}
}
