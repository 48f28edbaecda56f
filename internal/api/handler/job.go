package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gaiageo/gaia/internal/domain"
	"github.com/gaiageo/gaia/internal/service"
)

// JobHandler handles job submission and lifecycle endpoints.
type JobHandler struct {
	jobService *service.JobService
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobService: job service instance.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// CreateJob handles POST /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	job, err := h.jobService.Submit(c.Request.Context(), &req)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":       job.ID,
		"status":   string(job.Status),
		"progress": "Job submitted, starting processing...",
	})
}

// ListJobs handles GET /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.jobService.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobService.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondJobError(c, err, "Failed to load job")
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetJobStatus handles GET /api/v1/jobs/:id/status. Lighter than full job
// details, meant for polling.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	status, err := h.jobService.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondJobError(c, err, "Failed to load job status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetJobResult handles GET /api/v1/jobs/:id/result.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) GetJobResult(c *gin.Context) {
	result, err := h.jobService.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotReady) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		respondJobError(c, err, "Failed to load result")
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteJob handles DELETE /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.jobService.DeleteJob(c.Request.Context(), id); err != nil {
		respondJobError(c, err, "Failed to delete job")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Job deleted",
		"job_id":  id,
	})
}

// respondJobError maps service errors to HTTP status codes.
func respondJobError(c *gin.Context, err error, msg string) {
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg + ": " + err.Error()})
}
