package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type ReadinessResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (h *Handler) Root(c *gin.Context) {
	sendJSON(c, http.StatusOK, gin.H{
		"service": h.cfg.AppName,
		"version": h.cfg.Version,
		"health":  "/health",
	})
}

func (h *Handler) Health(c *gin.Context) {
	sendJSON(c, http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.cfg.AppName,
		"version": h.cfg.Version,
	})
}

// Ready probes every dependency and answers 503 when any of them fails.
func (h *Handler) Ready(c *gin.Context) {
	resp := ReadinessResponse{Status: "ready", Components: make(map[string]string, len(h.checks))}
	status := http.StatusOK

	for _, check := range h.checks {
		if err := check.Pinger.Ping(c.Request.Context()); err != nil {
			h.logger.Error(err, "Readiness check failed", "component", check.Name)
			resp.Components[check.Name] = "unhealthy"
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[check.Name] = "healthy"
	}

	sendJSON(c, status, resp)
}

func (h *Handler) Live(c *gin.Context) {
	sendJSON(c, http.StatusOK, gin.H{"status": "alive"})
}
