package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis 基于Redis的消息发布与短时锁
type Redis struct {
	client *redis.Client
	prefix string
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// 释放锁时校验令牌，避免误删其他实例在锁过期后重新获取的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedis 创建Redis实例
func NewRedis(config *Config) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisWithClient(client, config.Prefix)
}

// NewRedisWithClient 使用已有客户端创建实例
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "polity"
	}
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping 测试Redis连接
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetClient 获取Redis客户端（用于高级操作）
func (r *Redis) GetClient() *redis.Client {
	return r.client
}

// ChannelKey 获取频道完整键名
func (r *Redis) ChannelKey(channel string) string {
	return fmt.Sprintf("%s:channel:%s", r.prefix, channel)
}

// lockKey 获取锁键名
func (r *Redis) lockKey(name string) string {
	return fmt.Sprintf("%s:lock:%s", r.prefix, name)
}

// Publish 发布消息到指定频道
func (r *Redis) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	if err := r.client.Publish(ctx, r.ChannelKey(channel), data).Err(); err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}
	return nil
}

// Subscribe 订阅指定频道
func (r *Redis) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return r.client.Subscribe(ctx, r.ChannelKey(channel))
}

// TryLock 尝试获取短时锁，成功时返回持有令牌
func (r *Redis) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, r.lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("获取锁失败: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock 释放由 token 持有的锁
func (r *Redis) Unlock(ctx context.Context, name, token string) error {
	if err := unlockScript.Run(ctx, r.client, []string{r.lockKey(name)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	return nil
}
