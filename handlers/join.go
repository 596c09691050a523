package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haiphandev/acadflow/authz"
)

// JoinRequestHandler handles join-request HTTP requests
type JoinRequestHandler struct {
	authz    *authz.AuthorizationService
	workflow *authz.MembershipWorkflow
}

// NewJoinRequestHandler creates a new JoinRequestHandler
func NewJoinRequestHandler(authzSvc *authz.AuthorizationService, workflow *authz.MembershipWorkflow) *JoinRequestHandler {
	return &JoinRequestHandler{authz: authzSvc, workflow: workflow}
}

// CreateJoinRequestInput is the join request payload.
type CreateJoinRequestInput struct {
	Message string `json:"message"`
}

// Create handles POST /projects/:id/join-requests
func (h *JoinRequestHandler) Create(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input CreateJoinRequestInput
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.workflow.CreateJoinRequest(c.Request.Context(), principal, c.Param("id"), input.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// List handles GET /projects/:id/join-requests
func (h *JoinRequestHandler) List(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	projectID := c.Param("id")
	ref := authz.ResourceRef{Kind: authz.ResourceProject, ID: projectID}
	if err := h.authz.Require(c.Request.Context(), principal, authz.ActionManageMembers, ref); err != nil {
		respondError(c, err)
		return
	}

	requests, err := h.workflow.ListJoinRequests(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"join_requests": requests})
}

// RespondInput is the approve/reject payload.
type RespondInput struct {
	Approve bool `json:"approve"`
}

// Respond handles POST /join-requests/:id/respond
func (h *JoinRequestHandler) Respond(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input RespondInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.workflow.Respond(c.Request.Context(), principal, c.Param("id"), input.Approve)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
