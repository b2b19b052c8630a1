package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"logingest/src/apperr"
	"logingest/src/core/ingest"
	"logingest/src/core/job"
)

type InitUploadRequest struct {
	Filename  string `json:"filename" binding:"required"`
	Size      int64  `json:"size" binding:"required"`
	LogFormat string `json:"log_format"`
}

type InitUploadResponse struct {
	JobID        string `json:"job_id"`
	PresignedURL string `json:"presigned_url"`
	ExpiresIn    int    `json:"expires_in"`
}

type CompleteUploadRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

type CompleteUploadResponse struct {
	Message string     `json:"message"`
	JobID   string     `json:"job_id"`
	Status  job.Status `json:"status"`
}

func (h *Handler) InitUpload(c *gin.Context) {
	var req InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}
	if err := ingest.ValidateFilename(req.Filename); err != nil {
		sendValidationError(c, err)
		return
	}
	if err := ingest.ValidateSize(req.Size); err != nil {
		sendValidationError(c, err)
		return
	}
	if req.LogFormat == "" {
		req.LogFormat = string(job.LogFormatJSON)
	}

	res, err := h.ingest.InitUpload(c.Request.Context(), req.Filename, req.Size, req.LogFormat)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.logger.Info("Upload initialized",
		"job_id", res.Job.JobID,
		"filename", req.Filename,
		"size", req.Size,
		"user_id", identity(c).UserID,
	)
	sendJSON(c, http.StatusCreated, InitUploadResponse{
		JobID:        res.Job.JobID,
		PresignedURL: res.URL,
		ExpiresIn:    res.ExpiresIn,
	})
}

func (h *Handler) CompleteUpload(c *gin.Context) {
	var req CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}

	j, err := h.ingest.CompleteUpload(c.Request.Context(), req.JobID)
	if err != nil {
		h.sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, CompleteUploadResponse{
		Message: "Job queued successfully",
		JobID:   j.JobID,
		Status:  j.Status,
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.ingest.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, j)
}

func (h *Handler) ListJobs(c *gin.Context) {
	limit, err := queryInt(c, "limit", ingest.DefaultListLimit)
	if err != nil {
		sendValidationError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		sendValidationError(c, err)
		return
	}

	jobs, total, err := h.ingest.ListJobs(c.Request.Context(), job.ListFilter{
		Status: job.Status(c.Query("status")),
		Type:   job.Type(c.Query("job_type")),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		h.sendError(c, err)
		return
	}

	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	sendJSON(c, http.StatusOK, jobs)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.ErrValidation.WithMessage("%s must be an integer", name)
	}
	return v, nil
}
