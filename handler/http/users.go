package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"logingest/src/core/user"
)

type CreateUserRequest struct {
	Username    string   `json:"username" binding:"required"`
	Email       string   `json:"email" binding:"required"`
	Password    string   `json:"password" binding:"required"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	IsActive    *bool    `json:"is_active"`
	IsSuperuser bool     `json:"is_superuser"`
}

type UpdateProfileRequest struct {
	Email string `json:"email"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type UpdateRolesRequest struct {
	Roles []string `json:"roles" binding:"required"`
}

type UpdatePermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}

type UpdateStatusRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	u, err := h.users.Create(c.Request.Context(), user.CreateParams{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		Roles:       req.Roles,
		Permissions: req.Permissions,
		IsActive:    active,
		IsSuperuser: req.IsSuperuser,
	})
	if err != nil {
		h.sendError(c, err)
		return
	}
	sendJSON(c, http.StatusCreated, u)
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, u)
}

func (h *Handler) ListUsers(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		sendValidationError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		sendValidationError(c, err)
		return
	}

	users, err := h.users.List(c.Request.Context(), offset, limit)
	if err != nil {
		h.sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, users)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}
	h.respondUser(c)(h.users.UpdateProfile(c.Request.Context(), c.Param("user_id"), req.Email))
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}
	if err := h.users.ChangePassword(c.Request.Context(), c.Param("user_id"), req.CurrentPassword, req.NewPassword); err != nil {
		h.sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UpdateRoles(c *gin.Context) {
	var req UpdateRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}
	h.respondUser(c)(h.users.UpdateRoles(c.Request.Context(), c.Param("user_id"), req.Roles))
}

func (h *Handler) UpdatePermissions(c *gin.Context) {
	var req UpdatePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}
	h.respondUser(c)(h.users.UpdatePermissions(c.Request.Context(), c.Param("user_id"), req.Permissions))
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendValidationError(c, err)
		return
	}
	h.respondUser(c)(h.users.UpdateStatus(c.Request.Context(), c.Param("user_id"), *req.IsActive))
}

func (h *Handler) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("user_id")); err != nil {
		h.sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) respondUser(c *gin.Context) func(*user.User, error) {
	return func(u *user.User, err error) {
		if err != nil {
			h.sendError(c, err)
			return
		}
		sendJSON(c, http.StatusOK, u)
	}
}
