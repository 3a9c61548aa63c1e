package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"polity/internal/database"
	"polity/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testClock 可手动推进的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentNotification struct {
	Type   NotificationType
	PollID uint
}

// recordingNotifier 记录发出的通知
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) NotifyUsers(_ context.Context, _ models.PollType, notificationType NotificationType, poll *models.Poll) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Type: notificationType, PollID: poll.ID})
	return n.err
}

func (n *recordingNotifier) count(notificationType NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Type == notificationType {
			c++
		}
	}
	return c
}

// openTestDB 单连接的sqlite数据库，事务之间天然串行
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "polity.db")), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.MigrateDB(db))
	return db
}

// seedDefaults 写入系统默认设置：周期30天、最低参与50%、时长72小时
func seedDefaults(t *testing.T, db *gorm.DB) {
	t.Helper()
	settings := NewSettingsService(db)
	require.NoError(t, settings.EnsureDefault(models.SettingVotingFrequency, 30, true))
	require.NoError(t, settings.EnsureDefault(models.SettingMinimumParticipation, 50, true))
	require.NoError(t, settings.EnsureDefault(models.SettingVotingDuration, 72, true))
}
