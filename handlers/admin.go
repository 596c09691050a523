package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haiphandev/acadflow/authz"
	"github.com/haiphandev/acadflow/services"
)

// AdminHandler handles platform-admin account HTTP requests
type AdminHandler struct {
	authz  *authz.AuthorizationService
	admins *services.PlatformAdminService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(authzSvc *authz.AuthorizationService, admins *services.PlatformAdminService) *AdminHandler {
	return &AdminHandler{authz: authzSvc, admins: admins}
}

// ChangePasswordInput is the password rotation payload.
type ChangePasswordInput struct {
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword handles POST /platform/password. Rotation is self-service
// only and is the one operation that stays reachable while the
// must-change-password interrupt is set.
func (h *AdminHandler) ChangePassword(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input ChangePasswordInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref := authz.ResourceRef{Kind: authz.ResourceUser, ID: principal.ID}
	if err := h.authz.Require(c.Request.Context(), principal, authz.ActionChangePassword, ref); err != nil {
		respondError(c, err)
		return
	}

	if err := h.admins.ChangePassword(c.Request.Context(), principal.ID, input.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password changed"})
}

// RequirePasswordChange handles POST /platform/admins/:id/require-password-change.
// Platform-scoped: only another platform admin can flag a reset.
func (h *AdminHandler) RequirePasswordChange(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ref := authz.ResourceRef{Kind: authz.ResourcePlatform}
	if err := h.authz.Require(c.Request.Context(), principal, authz.ActionPlatformManageEnterprises, ref); err != nil {
		respondError(c, err)
		return
	}

	if err := h.admins.RequirePasswordChange(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password change required"})
}
