package http

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"logingest/src/apperr"
)

const (
	codeInternal    = "INTERNAL_ERROR"
	codeRateLimited = "RATE_LIMIT_EXCEEDED"
	codeTimeout     = "REQUEST_TIMEOUT"
)

// sendError renders err. Domain errors keep their status and message.
// Infrastructure and unknown errors are logged, reported to sentry and
// rendered without detail in production.
func (h *Handler) sendError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if ok && e.Kind() == apperr.KindDomain {
		h.logger.V(1).Info("Request rejected",
			"path", c.FullPath(),
			"code", e.Code,
			"request_id", c.GetString(requestIDKey),
		)
		c.AbortWithStatusJSON(e.Status, ErrorResponse{
			Code:    string(e.Code),
			Message: e.Message,
		})
		return
	}

	h.logger.Error(err, "Request failed", "path", c.FullPath(), "request_id", c.GetString(requestIDKey))
	h.capture(c, err)

	resp := ErrorResponse{Code: codeInternal, Message: "Internal server error"}
	status := http.StatusInternalServerError
	if ok {
		resp = ErrorResponse{Code: string(e.Code), Message: "Service temporarily unavailable"}
		status = http.StatusServiceUnavailable
	}
	if !h.cfg.production() {
		if ok {
			resp.Message = e.Message
		}
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

func (h *Handler) capture(c *gin.Context, err error) {
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(c.Request)
	hub.Scope().SetTag("request_id", c.GetString(requestIDKey))
	hub.CaptureException(err)
}

// sendValidationError renders request binding failures as 422.
func sendValidationError(c *gin.Context, err error) {
	var e *apperr.Error
	if errors.As(err, &e) {
		c.AbortWithStatusJSON(e.Status, ErrorResponse{Code: string(e.Code), Message: e.Message})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ErrorResponse{
		Code:    string(apperr.CodeValidation),
		Message: "Invalid request",
		Details: err.Error(),
	})
}

func (h *Handler) recover(c *gin.Context, recovered interface{}) {
	h.logger.Error(nil, "Panic recovered", "panic", recovered, "path", c.FullPath())
	sentry.CurrentHub().Recover(recovered)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Code:    codeInternal,
		Message: "Internal server error",
	})
}
