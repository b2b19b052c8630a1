package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"logingest/src/core/authz"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}

	u, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.issueTokens(c, u.Identity())
}

func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}

	id, err := h.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		h.sendError(c, err)
		return
	}
	u, err := h.users.Active(c.Request.Context(), id.UserID)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.issueTokens(c, u.Identity())
}

func (h *Handler) issueTokens(c *gin.Context, id authz.Identity) {
	access, err := h.tokens.IssueAccess(id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	refresh, err := h.tokens.IssueRefresh(id)
	if err != nil {
		h.sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(h.tokens.AccessTTL().Seconds()),
	})
}

func (h *Handler) Me(c *gin.Context) {
	sendJSON(c, http.StatusOK, identity(c))
}
