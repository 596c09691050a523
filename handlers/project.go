package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haiphandev/acadflow/authz"
)

// ProjectHandler handles project-related HTTP requests
type ProjectHandler struct {
	authz    *authz.AuthorizationService
	projects *authz.ProjectService
	workflow *authz.MembershipWorkflow
}

// NewProjectHandler creates a new ProjectHandler
func NewProjectHandler(authzSvc *authz.AuthorizationService, projects *authz.ProjectService, workflow *authz.MembershipWorkflow) *ProjectHandler {
	return &ProjectHandler{authz: authzSvc, projects: projects, workflow: workflow}
}

// CreateProject handles POST /institutions/:id/projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input authz.CreateProjectInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.projects.CreateProject(c.Request.Context(), principal, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// GetProject handles GET /projects/:id
func (h *ProjectHandler) GetProject(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	project, err := h.projects.GetProject(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// ListMembers handles GET /projects/:id/members
func (h *ProjectHandler) ListMembers(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	members, err := h.projects.ListMembers(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// RemoveMember handles DELETE /projects/:id/members/:userId
func (h *ProjectHandler) RemoveMember(c *gin.Context) {
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

	if err := h.workflow.RemoveMember(c.Request.Context(), projectID, c.Param("userId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
