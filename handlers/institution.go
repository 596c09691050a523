package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/haiphandev/acadflow/authz"
	"github.com/haiphandev/acadflow/services"
)

// InstitutionHandler handles institution-related HTTP requests
type InstitutionHandler struct {
	authz        *authz.AuthorizationService
	institutions *authz.InstitutionService
	users        authz.UserRepository
	billing      *services.BillingService
}

// NewInstitutionHandler creates a new InstitutionHandler
func NewInstitutionHandler(authzSvc *authz.AuthorizationService, institutions *authz.InstitutionService, users authz.UserRepository, billing *services.BillingService) *InstitutionHandler {
	return &InstitutionHandler{authz: authzSvc, institutions: institutions, users: users, billing: billing}
}

// CreateInstitution handles POST /institutions
func (h *InstitutionHandler) CreateInstitution(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input authz.CreateInstitutionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.institutions.CreateInstitution(c.Request.Context(), principal, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

// GetInstitution handles GET /institutions/:id
func (h *InstitutionHandler) GetInstitution(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	inst, err := h.institutions.GetInstitution(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// GetPlan handles GET /institutions/:id/plan
func (h *InstitutionHandler) GetPlan(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	institutionID := c.Param("id")
	ref := authz.ResourceRef{Kind: authz.ResourceInstitution, ID: institutionID}
	if err := h.authz.Require(c.Request.Context(), principal, authz.ActionManageBilling, ref); err != nil {
		respondError(c, err)
		return
	}

	snapshot, err := h.billing.CurrentPlan(c.Request.Context(), institutionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// OverridePlanInput is the platform-admin plan override payload.
type OverridePlanInput struct {
	PlanType    string `json:"plan_type" binding:"required"`
	MaxUsers    *int   `json:"max_users"`
	MaxProjects *int   `json:"max_projects"`
}

// OverridePlan handles PUT /platform/institutions/:id/plan
func (h *InstitutionHandler) OverridePlan(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input OverridePlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	institutionID := c.Param("id")
	inst, err := h.institutions.OverridePlan(c.Request.Context(), principal, institutionID, input.PlanType, input.MaxUsers, input.MaxProjects)
	if err != nil {
		respondError(c, err)
		return
	}

	h.billing.InvalidatePlan(context.WithoutCancel(c.Request.Context()), institutionID)
	c.JSON(http.StatusOK, inst)
}

// ListInstitutions handles GET /platform/institutions
func (h *InstitutionHandler) ListInstitutions(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	institutions, err := h.institutions.ListInstitutions(c.Request.Context(), principal, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"institutions": institutions})
}

// ManageAdminInput grants or revokes institution admin for a user.
type ManageAdminInput struct {
	UserID string `json:"user_id" binding:"required"`
	Grant  bool   `json:"grant"`
}

// ManageAdmins handles POST /institutions/:id/admins
func (h *InstitutionHandler) ManageAdmins(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input ManageAdminInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.institutions.ManageAdmins(c.Request.Context(), principal, c.Param("id"), input.UserID, input.Grant, h.users)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
