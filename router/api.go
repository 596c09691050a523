package router

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/haiphandev/acadflow/authz"
	"github.com/haiphandev/acadflow/handlers"
	"github.com/haiphandev/acadflow/internal/config"
	"github.com/haiphandev/acadflow/services"
)

func NewGinRouter(pg *sql.DB, redisClient *redis.Client) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize authz components (tenancy, roles, quota)
	authzService, quotaGuard, tenancy, roleResolver := authz.NewSimpleBackend(pg)
	instRepo := authz.NewSimpleInstitutionRepository(pg)
	userRepo := authz.NewSimpleUserRepository(pg)
	projectRepo := authz.NewSimpleProjectRepository(pg)

	// Initialize services
	tokenService := services.NewTokenService(config.App.JWTSecret, pg)
	billingService := services.NewBillingService(pg, redisClient)
	adminService := services.NewPlatformAdminService(pg)
	institutionService := authz.NewInstitutionService(pg, authzService, instRepo, billingService)
	projectService := authz.NewProjectService(pg, authzService, quotaGuard, projectRepo)
	membershipWorkflow := authz.NewMembershipWorkflow(pg, tenancy, roleResolver)
	inviteService := authz.NewInviteService(pg, quotaGuard)

	// Initialize handlers
	institutionHandler := handlers.NewInstitutionHandler(authzService, institutionService, userRepo, billingService)
	projectHandler := handlers.NewProjectHandler(authzService, projectService, membershipWorkflow)
	joinHandler := handlers.NewJoinRequestHandler(authzService, membershipWorkflow)
	inviteHandler := handlers.NewInviteHandler(authzService, inviteService)
	adminHandler := handlers.NewAdminHandler(authzService, adminService)

	// Initialize middleware
	authMiddleware := handlers.NewAuthMiddleware(tokenService)

	// PUBLIC ENDPOINTS (no authentication required)
	r.GET("/health", func(c *gin.Context) {
		if err := pg.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// PROTECTED ENDPOINTS (require bearer token)
	protected := r.Group("/")
	protected.Use(authMiddleware.RequireAuth())
	{
		// =====================================================================
		// INSTITUTION MANAGEMENT
		// =====================================================================
		institutionRoutes := protected.Group("/institutions")
		{
			institutionRoutes.POST("", institutionHandler.CreateInstitution)
			institutionRoutes.GET("/:id", institutionHandler.GetInstitution)
			institutionRoutes.GET("/:id/plan", institutionHandler.GetPlan)
			institutionRoutes.POST("/:id/admins", institutionHandler.ManageAdmins)

			// Projects under an institution
			institutionRoutes.POST("/:id/projects", projectHandler.CreateProject)

			// Invite codes scoped to the institution
			institutionRoutes.POST("/:id/invites", inviteHandler.Create)
			institutionRoutes.GET("/:id/invites", inviteHandler.List)
		}

		// =====================================================================
		// PROJECT MANAGEMENT AND MEMBERSHIP WORKFLOW
		// =====================================================================
		projectRoutes := protected.Group("/projects")
		{
			projectRoutes.GET("/:id", projectHandler.GetProject)
			projectRoutes.GET("/:id/members", projectHandler.ListMembers)
			projectRoutes.DELETE("/:id/members/:userId", projectHandler.RemoveMember)

			projectRoutes.POST("/:id/join-requests", joinHandler.Create)
			projectRoutes.GET("/:id/join-requests", joinHandler.List)
		}

		joinRoutes := protected.Group("/join-requests")
		{
			joinRoutes.POST("/:id/respond", joinHandler.Respond)
		}

		// =====================================================================
		// INVITE CODE REDEMPTION
		// =====================================================================
		inviteRoutes := protected.Group("/invites")
		{
			inviteRoutes.POST("/redeem", inviteHandler.Redeem)
			inviteRoutes.DELETE("/:id", inviteHandler.Deactivate)
		}

		// =====================================================================
		// PLATFORM ADMINISTRATION
		// =====================================================================
		platformRoutes := protected.Group("/platform")
		{
			platformRoutes.GET("/institutions", institutionHandler.ListInstitutions)
			platformRoutes.PUT("/institutions/:id/plan", institutionHandler.OverridePlan)
			platformRoutes.POST("/password", adminHandler.ChangePassword)
			platformRoutes.POST("/admins/:id/require-password-change", adminHandler.RequirePasswordChange)
		}
	}

	return r
}
