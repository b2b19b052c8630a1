package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"logingest/src/apperr"
	"logingest/src/core/authz"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	identityKey     = "identity"
	authContextKey  = "auth_context"
)

// RequestID propagates X-Request-ID, generating one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog(logger logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		c.Header("X-Process-Time", latency.String())
		logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(requestIDKey),
		)
	}
}

// Timeout bounds the request context. Handlers observe the deadline through
// the context they pass to services.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, ErrorResponse{
				Code:    codeTimeout,
				Message: "Request timed out",
			})
		}
	}
}

// Authenticate verifies the bearer credential and stores the resolved
// identity. A missing credential is reported as an invalid token.
func (h *Handler) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := bearer(c.GetHeader("Authorization"), h.cfg.TokenPrefix)
		if credential == "" {
			h.sendError(c, apperr.ErrInvalidToken.WithMessage("Missing bearer token"))
			return
		}

		id, err := h.tokens.Verify(credential)
		if err != nil {
			h.sendError(c, err)
			return
		}

		c.Set(identityKey, id)
		c.Set(authContextKey, authz.Resolve(id))
		c.Next()
	}
}

func bearer(header, prefix string) string {
	header = strings.TrimSpace(header)
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) && header[len(prefix)] == ' ' {
		return strings.TrimSpace(header[len(prefix)+1:])
	}
	return ""
}

// RequirePermissions passes when the caller holds any of required.
func RequirePermissions(required ...authz.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authz.RequirePermissions(authContext(c), required...); err != nil {
			abortDenied(c, err)
			return
		}
		c.Next()
	}
}

// RequirePolicy evaluates policy over the route parameters.
func RequirePolicy(policy authz.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := make(map[string]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}
		if err := authz.RequirePolicy(authContext(c), policy, params); err != nil {
			abortDenied(c, err)
			return
		}
		c.Next()
	}
}

func abortDenied(c *gin.Context, err error) {
	e, _ := apperr.As(err)
	c.AbortWithStatusJSON(e.Status, ErrorResponse{Code: string(e.Code), Message: e.Message})
}

func authContext(c *gin.Context) authz.AuthContext {
	if v, ok := c.Get(authContextKey); ok {
		if ctx, ok := v.(authz.AuthContext); ok {
			return ctx
		}
	}
	return authz.AuthContext{}
}

func identity(c *gin.Context) authz.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(authz.Identity); ok {
			return id
		}
	}
	return authz.Identity{}
}
