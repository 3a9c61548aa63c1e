package router

import (
	"time"

	"polity/internal/handlers"
	"polity/internal/metrics"
	"polity/internal/middleware"
	"polity/internal/services"
	"polity/pkg/config"
	"polity/pkg/jwt"
	"polity/pkg/pubsub"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Dependencies 路由依赖
type Dependencies struct {
	DB    *gorm.DB
	Redis *pubsub.Redis // 未启用时为 nil
	JWT   *jwt.JWTManager
	CORS  config.CORSConfig
	// BaseDomain 租户子域名解析的基础域名
	BaseDomain string
	// Polls 由调用方创建，便于与调度器共用同一实例
	Polls *services.PollService
}

// SetupRouter 设置路由
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS(deps.CORS))
	router.Use(metrics.Middleware())

	registerRoutes(router, deps)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, deps Dependencies) {
	tenantService := services.NewTenantService(deps.DB, deps.BaseDomain)
	userService := services.NewUserService(deps.DB)
	memberService := services.NewMemberService(deps.DB)
	authorityService := services.NewAuthorityService(deps.DB)
	policyService := services.NewPolicyService(deps.DB)
	settingsService := services.NewSettingsService(deps.DB)

	auth := middleware.NewAuthMiddleware(userService, memberService, deps.JWT)

	router.GET("/health", healthCheck)
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api/v1")
	api.GET("/health", healthCheck)

	// 平台管理（跨租户，不解析主机名）
	tenantHandler := handlers.NewTenantHandler(tenantService)
	userHandler := handlers.NewUserHandler(userService)
	schedulerHandler := handlers.NewSchedulerHandler()
	platform := api.Group("", auth.RequireLogin(), auth.RequirePlatformAdmin())
	{
		platform.GET("/tenants", tenantHandler.GetAll)
		platform.POST("/tenants", tenantHandler.Create)
		platform.GET("/tenants/stats", tenantHandler.GetStats)
		platform.GET("/tenants/:id", tenantHandler.GetByID)
		platform.POST("/tenants/:id/activate", tenantHandler.Activate)
		platform.POST("/tenants/:id/deactivate", tenantHandler.Deactivate)

		platform.POST("/users", userHandler.Create)
		platform.GET("/users/:id", userHandler.GetByID)

		platform.GET("/scheduler/status", schedulerHandler.Status)
		platform.POST("/scheduler/sweep", schedulerHandler.Sweep)
		platform.POST("/scheduler/authority-polls", schedulerHandler.StartAuthorityPolls)
	}

	// WebSocket 在升级前自行校验查询参数中的令牌
	wsHandler := handlers.NewWebSocketHandler(deps.Redis, deps.JWT, deps.CORS.AllowOrigins)
	api.GET("/ws/polls", middleware.ResolveTenant(tenantService), wsHandler.PollEvents)

	// 租户内接口：主机名解析租户 + 登录 + 成员身份
	tenant := api.Group("", middleware.ResolveTenant(tenantService), auth.RequireLogin(), auth.RequireMember())
	admin := auth.RequireTenantAdmin()

	tenant.GET("/me", userHandler.Profile)

	pollHandler := handlers.NewPollHandler(deps.Polls)
	polls := tenant.Group("/polls")
	{
		polls.GET("/active", pollHandler.ListActive)
		polls.GET("", pollHandler.List)
		polls.POST("", pollHandler.Create)
		polls.GET("/:id", pollHandler.Get)
		polls.GET("/:id/result", pollHandler.Result)
		polls.POST("/:id/votes", pollHandler.CastVote)
		polls.GET("/:id/votes", pollHandler.Votes)
		polls.GET("/:id/ballot", pollHandler.GetBallot)
		polls.PUT("/:id/ballot", pollHandler.SubmitBallot)
		polls.DELETE("/:id/ballot", pollHandler.RetractBallot)
		polls.POST("/:id/evaluate", admin, pollHandler.Evaluate)
	}

	policyHandler := handlers.NewPolicyHandler(policyService)
	policies := tenant.Group("/policies")
	{
		policies.GET("", policyHandler.List)
		policies.POST("", policyHandler.Create)
		policies.GET("/active", policyHandler.Active)
		policies.GET("/:id", policyHandler.Get)
	}

	authorityHandler := handlers.NewAuthorityHandler(authorityService)
	tenant.GET("/authority", authorityHandler.Get)
	tenant.PUT("/authority", admin, authorityHandler.Set)

	memberHandler := handlers.NewMemberHandler(memberService)
	members := tenant.Group("/members")
	{
		members.GET("", memberHandler.List)
		members.GET("/me", memberHandler.Me)
		members.POST("", admin, memberHandler.Add)
		members.DELETE("/:user_id", admin, memberHandler.Remove)
	}

	settingHandler := handlers.NewSettingHandler(settingsService)
	tenant.GET("/settings", settingHandler.List)
	tenant.PUT("/settings/:key", admin, settingHandler.Update)
}

func healthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "polity",
	})
}
