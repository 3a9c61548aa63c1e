package database

import (
	"sync"

	"polity/pkg/config"
	"polity/pkg/pubsub"
)

var (
	redisInstance *pubsub.Redis
	redisOnce     sync.Once
)

// GetRedis 获取Redis的单例实例，未启用Redis时返回 nil
func GetRedis() *pubsub.Redis {
	cfg := config.GetConfig()
	if !cfg.Redis.Enabled {
		return nil
	}
	redisOnce.Do(func() {
		redisInstance = pubsub.NewRedis(&pubsub.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	})
	return redisInstance
}

// CloseRedis 关闭Redis连接
func CloseRedis() error {
	if redisInstance != nil {
		return redisInstance.Close()
	}
	return nil
}
