package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"polity/internal/metrics"
	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/config"
	"polity/pkg/logger"

	"github.com/avast/retry-go/v4"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Locker 跨实例的短时锁，只用于减少重复工作；正确性由条件更新保证
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, name, token string) error
}

// 调度任务名称
const (
	jobCompletionSweep = "completion_sweep"
	jobAuthorityStart  = "authority_poll_starter"
)

// PollScheduler 周期性结束到期投票，并为到期租户自动发起权威投票。
// 多个实例同时运行是安全的
type PollScheduler struct {
	polls    *PollService
	tenants  *TenantService
	locker   Locker
	cfg      config.SchedulerConfig
	cron     *cron.Cron
	jobs     map[string]cron.EntryID
	jobsLock sync.RWMutex
	running  bool

	statsLock   sync.RWMutex
	lastSweep   *SweepStats
	lastStarter *StarterStats
	startedAt   time.Time
}

// SweepStats 一次扫描的统计
type SweepStats struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Scanned   int       `json:"scanned"`
	Closed    int64     `json:"closed"`
	Skipped   int64     `json:"skipped"` // 被其他实例持有锁
	Failed    int64     `json:"failed"`
}

// StarterStats 一次自动发起的统计
type StarterStats struct {
	StartedAt time.Time `json:"started_at"`
	Tenants   int       `json:"tenants"`
	Started   int       `json:"started"`
	Failed    int       `json:"failed"`
}

// SchedulerStatus 调度器状态
type SchedulerStatus struct {
	Running     bool               `json:"running"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	Jobs        []SchedulerJobInfo `json:"jobs"`
	LastSweep   *SweepStats        `json:"last_sweep,omitempty"`
	LastStarter *StarterStats      `json:"last_starter,omitempty"`
}

// SchedulerJobInfo 定时任务信息
type SchedulerJobInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run"`
}

// NewPollScheduler 创建投票调度器，locker 可以为 nil
func NewPollScheduler(polls *PollService, tenants *TenantService, locker Locker, cfg config.SchedulerConfig) *PollScheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.LockTTLSeconds < 1 {
		cfg.LockTTLSeconds = 30
	}
	cronLogger := cron.PrintfLogger(logger.GetLogger())
	return &PollScheduler{
		polls:   polls,
		tenants: tenants,
		locker:  locker,
		cfg:     cfg,
		cron:    cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		jobs:    make(map[string]cron.EntryID),
	}
}

// Start 启动调度器
func (s *PollScheduler) Start() error {
	s.jobsLock.Lock()
	defer s.jobsLock.Unlock()

	if s.running {
		return fmt.Errorf("调度器已经在运行")
	}

	logger.GetLogger().Info("启动投票调度器")

	sweepID, err := s.cron.AddFunc(s.cfg.SweepSpec, func() {
		s.SweepOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("添加投票结束检查任务失败: %w", err)
	}
	s.jobs[jobCompletionSweep] = sweepID

	starterID, err := s.cron.AddFunc(s.cfg.StarterSpec, func() {
		s.StartAuthorityPollsOnce(context.Background())
	})
	if err != nil {
		s.cron.Remove(sweepID)
		delete(s.jobs, jobCompletionSweep)
		return fmt.Errorf("添加权威投票发起任务失败: %w", err)
	}
	s.jobs[jobAuthorityStart] = starterID

	s.cron.Start()
	s.running = true

	s.statsLock.Lock()
	s.startedAt = time.Now()
	s.statsLock.Unlock()

	logger.GetLogger().WithFields(logrus.Fields{
		"sweep":   s.cfg.SweepSpec,
		"starter": s.cfg.StarterSpec,
		"workers": s.cfg.Workers,
	}).Info("投票调度器启动成功")
	return nil
}

// Stop 停止调度器，等待正在执行的任务结束
func (s *PollScheduler) Stop() {
	s.jobsLock.Lock()
	defer s.jobsLock.Unlock()

	if !s.running {
		return
	}
	logger.GetLogger().Info("停止投票调度器")
	<-s.cron.Stop().Done()
	s.running = false
}

// SweepOnce 扫描全部进行中的投票并结束满足条件的投票。单个投票失败不影响其他投票
func (s *PollScheduler) SweepOnce(ctx context.Context) SweepStats {
	start := time.Now()
	defer metrics.ObserveSweep(start)

	stats := SweepStats{StartedAt: start}
	polls, err := s.polls.ListActiveAcrossTenants(ctx)
	if err != nil {
		metrics.SweepErrors.Inc()
		logger.GetLogger().WithError(err).Error("加载进行中的投票失败")
		stats.Failed = 1
		stats.Duration = time.Since(start).String()
		s.recordSweep(stats)
		return stats
	}
	stats.Scanned = len(polls)

	var closed, skipped, failed atomic.Int64
	jobs := make(chan models.Poll)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for poll := range jobs {
				done, held, err := s.evaluate(ctx, poll)
				switch {
				case err != nil:
					failed.Add(1)
					metrics.SweepErrors.Inc()
					logger.ForTenant(poll.TenantID).WithError(err).
						WithField("poll_id", poll.ID).
						Error("结束投票失败")
				case held:
					skipped.Add(1)
				case done:
					closed.Add(1)
				}
			}
		}()
	}
	for _, poll := range polls {
		jobs <- poll
	}
	close(jobs)
	wg.Wait()

	stats.Closed = closed.Load()
	stats.Skipped = skipped.Load()
	stats.Failed = failed.Load()
	stats.Duration = time.Since(start).String()
	s.recordSweep(stats)

	if stats.Closed > 0 || stats.Failed > 0 {
		logger.GetLogger().WithFields(logrus.Fields{
			"scanned": stats.Scanned,
			"closed":  stats.Closed,
			"skipped": stats.Skipped,
			"failed":  stats.Failed,
		}).Info("投票结束检查完成")
	}
	return stats
}

// evaluate 处理单个投票，返回是否由本次调用关闭、是否因锁被跳过
func (s *PollScheduler) evaluate(ctx context.Context, poll models.Poll) (closed bool, held bool, err error) {
	lockName := fmt.Sprintf("poll:%d", poll.ID)
	if s.locker != nil {
		token, ok, lerr := s.locker.TryLock(ctx, lockName, time.Duration(s.cfg.LockTTLSeconds)*time.Second)
		switch {
		case lerr != nil:
			// 锁服务不可用时照常处理
			logger.GetLogger().WithError(lerr).Warn("获取投票锁失败，继续处理")
		case !ok:
			return false, true, nil
		default:
			defer func() {
				if uerr := s.locker.Unlock(context.Background(), lockName, token); uerr != nil {
					logger.GetLogger().WithError(uerr).Warn("释放投票锁失败")
				}
			}()
		}
	}

	err = retry.Do(func() error {
		completion, err := s.polls.EvaluateCompletion(ctx, tenancy.For(poll.TenantID), poll.ID)
		if err != nil {
			return err
		}
		closed = completion != nil
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(s.cfg.RetryAttempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !IsBusinessError(err)
		}),
	)
	return closed, false, err
}

// StartAuthorityPollsOnce 为所有激活租户检查并自动发起权威投票
func (s *PollScheduler) StartAuthorityPollsOnce(ctx context.Context) StarterStats {
	stats := StarterStats{StartedAt: time.Now()}
	tenants, err := s.tenants.ListActive()
	if err != nil {
		logger.GetLogger().WithError(err).Error("加载租户列表失败")
		stats.Failed = 1
		s.recordStarter(stats)
		return stats
	}
	stats.Tenants = len(tenants)

	for _, tenant := range tenants {
		poll, err := s.polls.StartAuthorityPollIfDue(ctx, tenancy.For(tenant.ID))
		if err != nil {
			stats.Failed++
			logger.ForTenant(tenant.ID).WithError(err).Error("自动发起权威投票失败")
			continue
		}
		if poll != nil {
			stats.Started++
		}
	}
	s.recordStarter(stats)
	return stats
}

func (s *PollScheduler) recordSweep(stats SweepStats) {
	s.statsLock.Lock()
	defer s.statsLock.Unlock()
	s.lastSweep = &stats
}

func (s *PollScheduler) recordStarter(stats StarterStats) {
	s.statsLock.Lock()
	defer s.statsLock.Unlock()
	s.lastStarter = &stats
}

// GetStatus 获取调度器状态
func (s *PollScheduler) GetStatus() SchedulerStatus {
	s.jobsLock.RLock()
	status := SchedulerStatus{Running: s.running, Jobs: make([]SchedulerJobInfo, 0, len(s.jobs))}
	specs := map[string]string{
		jobCompletionSweep: s.cfg.SweepSpec,
		jobAuthorityStart:  s.cfg.StarterSpec,
	}
	for _, name := range []string{jobCompletionSweep, jobAuthorityStart} {
		entryID, ok := s.jobs[name]
		if !ok {
			continue
		}
		entry := s.cron.Entry(entryID)
		status.Jobs = append(status.Jobs, SchedulerJobInfo{
			Name:    name,
			Spec:    specs[name],
			NextRun: entry.Next,
			PrevRun: entry.Prev,
		})
	}
	s.jobsLock.RUnlock()

	s.statsLock.RLock()
	defer s.statsLock.RUnlock()
	if !s.startedAt.IsZero() {
		startedAt := s.startedAt
		status.StartedAt = &startedAt
	}
	status.LastSweep = s.lastSweep
	status.LastStarter = s.lastStarter
	return status
}
