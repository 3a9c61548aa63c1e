package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polity/internal/database"
	"polity/internal/router"
	"polity/internal/services"
	"polity/pkg/config"
	"polity/pkg/jwt"
	"polity/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting Polity governance service...")

	// 初始化数据库
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
		if err := database.CloseRedis(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	if err := database.Migrate(); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	if err := seedData(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize seed data: %v", err)
	}

	// 缺少全局默认设置时拒绝启动
	settingsService := services.NewSettingsService(database.GetDB())
	if err := settingsService.VerifyDefaults(); err != nil {
		appLogger.Fatalf("Invalid default settings: %v", err)
	}

	gin.SetMode(cfg.Server.Mode)

	// 通知：启用Redis时发布到租户频道，否则只写日志
	var notifier services.Notifier = services.LogNotifier{}
	redis := database.GetRedis()
	if redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redis.Ping(ctx); err != nil {
			appLogger.Warnf("Redis unavailable, notifications will be logged only: %v", err)
			redis = nil
		} else {
			notifier = services.NewRedisNotifier(redis)
		}
		cancel()
	}

	pollService := services.NewPollService(database.GetDB(), notifier)
	tenantService := services.NewTenantService(database.GetDB(), cfg.Tenant.BaseDomain)

	// 启动投票调度器（在路由初始化前）
	if cfg.Scheduler.Enabled {
		var locker services.Locker
		if redis != nil {
			locker = redis
		}
		scheduler := services.NewPollScheduler(pollService, tenantService, locker, cfg.Scheduler)
		services.SetPollScheduler(scheduler)
		if err := scheduler.Start(); err != nil {
			appLogger.Errorf("Failed to start poll scheduler: %v", err)
			// 不影响主服务启动
		}
		defer scheduler.Stop()
	}

	r := router.SetupRouter(router.Dependencies{
		DB:         database.GetDB(),
		Redis:      redis,
		JWT:        jwt.GetJWTManager(),
		CORS:       cfg.CORS,
		BaseDomain: cfg.Tenant.BaseDomain,
		Polls:      pollService,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}
