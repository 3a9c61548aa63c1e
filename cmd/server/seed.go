package main

import (
	"context"
	"errors"
	"fmt"

	"polity/internal/database"
	"polity/internal/models"
	"polity/internal/services"
	"polity/internal/tenancy"
	"polity/pkg/config"
	"polity/pkg/jwt"
	"polity/pkg/logger"

	"gorm.io/gorm"
)

// 全局默认设置
var defaultSettings = []struct {
	key     models.SettingKey
	value   float64
	visible bool
}{
	{models.SettingVotingFrequency, 30, true},
	{models.SettingMinimumParticipation, 50, true},
	{models.SettingVotingDuration, 72, true},
}

// seedData 初始化种子数据
func seedData(cfg *config.Config) error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting seed data initialization...")

	db := database.GetDB()

	// 1. 全局默认设置
	settingsService := services.NewSettingsService(db)
	for _, s := range defaultSettings {
		if err := settingsService.EnsureDefault(s.key, s.value, s.visible); err != nil {
			return fmt.Errorf("初始化默认设置失败: %w", err)
		}
	}

	// 2. 本地开发租户
	tenant, err := createDefaultTenant(db, cfg)
	if err != nil {
		return fmt.Errorf("创建默认租户失败: %w", err)
	}

	// 3. 平台管理员，同时是默认租户的第一个成员
	admin, err := createDefaultAdmin(db, tenant)
	if err != nil {
		return fmt.Errorf("创建默认管理员失败: %w", err)
	}

	if cfg.Server.Mode == "debug" {
		token, err := jwt.GetJWTManager().GenerateToken(admin.ID, tenant.ID, admin.Username, true)
		if err == nil {
			appLogger.WithField("tenant", tenant.Hostname).Infof("开发环境管理员令牌: %s", token)
		}
	}

	appLogger.Info("Seed data initialization completed successfully")
	return nil
}

// createDefaultTenant 创建默认租户
func createDefaultTenant(db *gorm.DB, cfg *config.Config) (*models.Tenant, error) {
	tenantService := services.NewTenantService(db, cfg.Tenant.BaseDomain)
	tenant, err := tenantService.ResolveByHost("localhost")
	if err == nil {
		logger.GetLogger().Info("默认租户已存在，跳过创建")
		return tenant, nil
	}
	if !errors.Is(err, tenancy.ErrTenantResolution) {
		return nil, err
	}
	return tenantService.Create(services.CreateTenantInput{
		Name:     "Default",
		Hostname: "localhost",
	})
}

// createDefaultAdmin 创建默认管理员用户
func createDefaultAdmin(db *gorm.DB, tenant *models.Tenant) (*models.User, error) {
	userService := services.NewUserService(db)
	admin, err := userService.GetByUsername("admin")
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
		admin, err = userService.Create(services.CreateUserInput{
			Username:        "admin",
			Email:           "admin@localhost.localdomain",
			Name:            "Administrator",
			IsPlatformAdmin: true,
		})
		if err != nil {
			return nil, err
		}
	}

	memberService := services.NewMemberService(db)
	scope := tenancy.For(tenant.ID)
	if _, err := memberService.GetMembership(scope, admin.ID); err == nil {
		return admin, nil
	} else if !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	_, err = memberService.AddMember(context.Background(), scope, services.AddMemberInput{
		UserID:        admin.ID,
		Role:          models.RoleMember,
		IsTenantAdmin: true,
	})
	if err != nil {
		return nil, err
	}
	return admin, nil
}
