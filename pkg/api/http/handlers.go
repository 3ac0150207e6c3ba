package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/internal/application/worker"
	"github.com/aescanero/scaleout/pkg/domain"
)

// JobSubmitRequest pushes a job straight into the worker's mailbox
type JobSubmitRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// JobSubmitResponse is returned once the job is queued
type JobSubmitResponse struct {
	WorkerID    string `json:"worker_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// handleHealth reports healthy while the supervisor is running. A
// restarting worker is degraded but still serving.
func (s *Server) handleHealth(c *gin.Context) {
	st := s.worker.Status()

	status, code := "healthy", http.StatusOK
	switch st.State {
	case worker.StateRunning:
	case worker.StateRestarting:
		status = "degraded"
	default:
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"supervisor": string(st.State),
		},
	})
}

func (s *Server) handleGetWorker(c *gin.Context) {
	c.JSON(http.StatusOK, s.worker.Status())
}

// handleSubmitJob delivers a job to this worker. Execution happens on the
// worker's own goroutine; a busy worker drops the job.
func (s *Server) handleSubmitJob(c *gin.Context) {
	var req JobSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("invalid request", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	id := s.worker.Status().ID
	job := domain.NewJob(id, req.Payload)
	if !job.HasPayload() {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "payload must not be null")
		return
	}

	if err := s.worker.Deliver(c.Request.Context(), job); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			abortWithError(c, http.StatusServiceUnavailable, "WORKER_UNAVAILABLE", err.Error())
			return
		}
		s.logger.Error("failed to deliver job", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "DELIVERY_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, JobSubmitResponse{
		WorkerID:    id,
		Status:      "accepted",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListWorkers(c *gin.Context) {
	if s.tracker == nil {
		abortWithError(c, http.StatusServiceUnavailable, "TRACKER_UNAVAILABLE", "tracker admin is not configured")
		return
	}

	ids, err := s.tracker.Workers(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list workers", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workers": ids,
		"count":   len(ids),
	})
}

func (s *Server) handleListUpdates(c *gin.Context) {
	if s.tracker == nil {
		abortWithError(c, http.StatusServiceUnavailable, "TRACKER_UNAVAILABLE", "tracker admin is not configured")
		return
	}

	updates, err := s.tracker.Updates(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list updates", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"updates": updates,
		"count":   len(updates),
	})
}
