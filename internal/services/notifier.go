package services

import (
	"context"
	"fmt"
	"time"

	"polity/internal/models"
	"polity/pkg/logger"
	"polity/pkg/pubsub"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NotificationType 通知类型
type NotificationType string

const (
	NotificationPollStarted   NotificationType = "poll_started"
	NotificationPollCompleted NotificationType = "poll_completed"
)

// Notifier 投票开始和结束时通知租户成员。失败只记录日志，不影响投票流程
type Notifier interface {
	NotifyUsers(ctx context.Context, pollType models.PollType, notificationType NotificationType, poll *models.Poll) error
}

// PollNotification 推送给订阅者的消息
type PollNotification struct {
	ID       string             `json:"id"`
	Type     NotificationType   `json:"type"`
	TenantID uint               `json:"tenant_id"`
	PollID   uint               `json:"poll_id"`
	PollType models.PollType    `json:"poll_type"`
	Name     string             `json:"name"`
	Deadline time.Time          `json:"deadline"`
	Active   bool               `json:"active"`
	Outcome  models.PollOutcome `json:"outcome,omitempty"`
	SentAt   time.Time          `json:"sent_at"`
}

// TenantChannel 租户投票通知的频道名
func TenantChannel(tenantID uint) string {
	return fmt.Sprintf("tenant:%d:polls", tenantID)
}

func newPollNotification(pollType models.PollType, notificationType NotificationType, poll *models.Poll) PollNotification {
	msg := PollNotification{
		ID:       uuid.New().String(),
		Type:     notificationType,
		TenantID: poll.TenantID,
		PollID:   poll.ID,
		PollType: pollType,
		Name:     poll.Name,
		Deadline: poll.Deadline,
		Active:   poll.Active,
		SentAt:   time.Now().UTC(),
	}
	if result, err := poll.Result(); err == nil && result != nil {
		msg.Outcome = result.Outcome
	}
	return msg
}

// RedisNotifier 通过Redis发布订阅推送，WebSocket连接订阅同一频道转发给前端
type RedisNotifier struct {
	redis *pubsub.Redis
}

func NewRedisNotifier(redis *pubsub.Redis) *RedisNotifier {
	return &RedisNotifier{redis: redis}
}

func (n *RedisNotifier) NotifyUsers(ctx context.Context, pollType models.PollType, notificationType NotificationType, poll *models.Poll) error {
	msg := newPollNotification(pollType, notificationType, poll)
	if err := n.redis.Publish(ctx, TenantChannel(poll.TenantID), msg); err != nil {
		return err
	}
	logger.ForTenant(poll.TenantID).WithFields(logrus.Fields{
		"poll_id": poll.ID,
		"type":    notificationType,
	}).Debug("投票通知已发布")
	return nil
}

// LogNotifier 未启用Redis时只记录日志
type LogNotifier struct{}

func (LogNotifier) NotifyUsers(ctx context.Context, pollType models.PollType, notificationType NotificationType, poll *models.Poll) error {
	logger.ForTenant(poll.TenantID).WithFields(logrus.Fields{
		"poll_id":   poll.ID,
		"poll_type": pollType,
		"type":      notificationType,
	}).Info("投票通知")
	return nil
}
