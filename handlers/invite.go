package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haiphandev/acadflow/authz"
)

// InviteHandler handles invite-code HTTP requests
type InviteHandler struct {
	authz   *authz.AuthorizationService
	invites *authz.InviteService
}

// NewInviteHandler creates a new InviteHandler
func NewInviteHandler(authzSvc *authz.AuthorizationService, invites *authz.InviteService) *InviteHandler {
	return &InviteHandler{authz: authzSvc, invites: invites}
}

// CreateInviteInput is the invite creation payload.
type CreateInviteInput struct {
	Label     string     `json:"label"`
	MaxUses   *int       `json:"max_uses"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Create handles POST /institutions/:id/invites
func (h *InviteHandler) Create(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input CreateInviteInput
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	institutionID := c.Param("id")
	ref := authz.ResourceRef{Kind: authz.ResourceInstitution, ID: institutionID}
	if err := h.authz.Require(c.Request.Context(), principal, authz.ActionManageInviteCodes, ref); err != nil {
		respondError(c, err)
		return
	}

	invite, err := h.invites.Create(c.Request.Context(), principal.ID, institutionID, input.Label, input.MaxUses, input.ExpiresAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invite)
}

// List handles GET /institutions/:id/invites
func (h *InviteHandler) List(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	institutionID := c.Param("id")
	ref := authz.ResourceRef{Kind: authz.ResourceInstitution, ID: institutionID}
	if err := h.authz.Require(c.Request.Context(), principal, authz.ActionManageInviteCodes, ref); err != nil {
		respondError(c, err)
		return
	}

	invites, err := h.invites.ListByInstitution(c.Request.Context(), institutionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite_codes": invites})
}

// Deactivate handles DELETE /invites/:id
func (h *InviteHandler) Deactivate(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	inviteID := c.Param("id")
	ref := authz.ResourceRef{Kind: authz.ResourceInviteCode, ID: inviteID}
	if err := h.authz.Require(c.Request.Context(), principal, authz.ActionManageInviteCodes, ref); err != nil {
		respondError(c, err)
		return
	}

	if err := h.invites.Deactivate(c.Request.Context(), inviteID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// RedeemInput carries the invite code to redeem.
type RedeemInput struct {
	Code string `json:"code" binding:"required"`
}

// Redeem handles POST /invites/redeem. The redeeming user joins the code's
// institution; no prior membership is required, so there is no Require call
// here beyond authentication.
func (h *InviteHandler) Redeem(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if principal.Kind != authz.PrincipalUser {
		c.JSON(http.StatusForbidden, gin.H{"error": "only users can redeem invite codes"})
		return
	}

	var input RedeemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	invite, err := h.invites.Redeem(c.Request.Context(), principal.ID, input.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"institution_id": invite.InstitutionID})
}
