package handler

import (
	"balance-platform/internal/adapter/http/middleware"
	redisStore "balance-platform/internal/adapter/storage/redis"
	"balance-platform/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	LedgerSvc      ports.LedgerService
	ReportingSvc   ports.ReportingService
	RBACSvc        ports.RBACService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	ledgerHandler := NewLedgerHandler(deps.LedgerSvc)
	dashboardHandler := NewDashboardHandler(deps.ReportingSvc)

	transfers := v1.Group("/transfers", jwtAuth)
	{
		transfers.POST("", rl("transfers"), ledgerHandler.Transfer)
		transfers.POST("/refund", rl("refunds"), ledgerHandler.Refund)
	}

	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("", rl("dashboard"), dashboardHandler.ListTransactions)
		transactions.PATCH("/:id/status", rl("transfers"), ledgerHandler.UpdateStatus)
	}

	v1.GET("/balance", jwtAuth, rl("dashboard"), dashboardHandler.GetBalance)

	dashboard := v1.Group("/dashboard", jwtAuth)
	{
		dashboard.GET("/stats", rl("dashboard"), dashboardHandler.GetStats)
	}

	v1.GET("/audit-logs", jwtAuth, rl("dashboard"), dashboardHandler.ListAuditLogs)

	// --- Role and permission management (JWT-authenticated; the service
	// layer enforces the management capabilities per actor) ---
	rbacHandler := NewRBACHandler(deps.RBACSvc)
	rbac := v1.Group("/rbac", jwtAuth)
	{
		rbac.POST("/roles", rl("rbac"), rbacHandler.CreateRole)
		rbac.GET("/roles", rl("rbac"), rbacHandler.ListRoles)
		rbac.PATCH("/roles/:id/active", rl("rbac"), rbacHandler.SetRoleActive)
		rbac.POST("/permissions", rl("rbac"), rbacHandler.CreatePermission)
		rbac.GET("/permissions", rl("rbac"), rbacHandler.ListPermissions)
		rbac.POST("/grants", rl("rbac"), rbacHandler.GrantPermission)
		rbac.POST("/grants/revoke", rl("rbac"), rbacHandler.RevokePermission)
		rbac.POST("/assignments", rl("rbac"), rbacHandler.AssignRole)
		rbac.POST("/assignments/revoke", rl("rbac"), rbacHandler.RevokeRole)
	}

	return r
}
