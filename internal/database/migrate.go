package database

import (
	"polity/internal/models"
	"polity/pkg/logger"

	"gorm.io/gorm"
)

// Models 需要迁移的全部模型，按依赖顺序排列
func Models() []interface{} {
	return []interface{}{
		&models.Tenant{},
		&models.User{},
		&models.Membership{},
		&models.Setting{},
		&models.Policy{},
		&models.Poll{},
		&models.PollSetting{},
		&models.Vote{},
	}
}

// Migrate 执行数据库迁移
func Migrate() error {
	return MigrateDB(DB)
}

// MigrateDB 对指定连接执行迁移
func MigrateDB(db *gorm.DB) error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting database migration...")

	if err := db.AutoMigrate(Models()...); err != nil {
		appLogger.Errorf("Database migration failed: %v", err)
		return err
	}

	appLogger.Info("Database migration completed successfully")
	return nil
}
