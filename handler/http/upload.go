package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"logingest/src/core/ingest"
)

// ReceiveUpload stores the body of a signed PUT when uploads are kept on
// local disk.
func (h *Handler) ReceiveUpload(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := h.uploads.Authorize(key, c.Query("token")); err != nil {
		h.sendError(c, err)
		return
	}

	n, err := h.uploads.Write(key, c.Request.Body, ingest.MaxFileSize)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.logger.Info("Object stored", "key", key, "bytes", n)
	c.Status(http.StatusOK)
}
