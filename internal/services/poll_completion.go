package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"polity/internal/metrics"
	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errNoLongerDue 事务内复核时提前结束条件已不成立，回滚关闭
var errNoLongerDue = errors.New("投票已不满足提前结束条件")

// Completion 一次成功的结束操作
type Completion struct {
	Poll         *models.Poll        `json:"poll"`
	Result       *models.PollResult  `json:"result"`
	PolicyStatus models.PolicyStatus `json:"policy_status,omitempty"`
}

// EvaluateCompletion 判断投票是否应当结束，应当结束时在一个事务内关闭投票并写入结果。
// 已结束或尚未满足条件时返回 (nil, nil)，重复调用安全
func (s *PollService) EvaluateCompletion(ctx context.Context, scope tenancy.Scope, pollID uint) (*Completion, error) {
	q, err := scope.Apply(s.db.WithContext(ctx).Model(&models.Poll{}))
	if err != nil {
		return nil, err
	}
	var poll models.Poll
	if err := q.First(&poll, pollID).Error; err != nil {
		return nil, notFound(err, "投票")
	}
	if !poll.Active {
		return nil, nil
	}

	reason, err := s.dueReason(s.db.WithContext(ctx), &poll)
	if err != nil || reason == "" {
		return nil, err
	}
	return s.closePoll(ctx, &poll, reason)
}

// dueReason 到达截止时间，或支持提前结束的类型全部有资格的投票人已完成投票
func (s *PollService) dueReason(db *gorm.DB, poll *models.Poll) (string, error) {
	if !s.now().Before(poll.Deadline) {
		return models.CloseReasonDeadline, nil
	}
	if !poll.Type.SupportsEarlyCompletion() {
		return "", nil
	}

	var members []models.Membership
	if err := db.Where("tenant_id = ? AND role = ?", poll.TenantID, models.RoleMember).Find(&members).Error; err != nil {
		return "", err
	}
	var votes []models.Vote
	if err := db.Where("poll_id = ?", poll.ID).Find(&votes).Error; err != nil {
		return "", err
	}
	if collectBallots(poll, votes, members).allComplete() {
		return models.CloseReasonEarly, nil
	}
	return "", nil
}

// closePoll 关闭投票、计算结果、推进政策状态和重新分配权威，全部在一个事务内完成。
// 以 "active = true" 为条件的更新保证并发调用中只有一个能真正关闭投票
func (s *PollService) closePoll(ctx context.Context, poll *models.Poll, reason string) (*Completion, error) {
	tenantScope := tenancy.For(poll.TenantID)
	now := s.now()

	var completion *Completion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Poll{}).
			Where("id = ? AND active = ?", poll.ID, true).
			Updates(map[string]interface{}{
				"active":         false,
				"completed_at":   now,
				"exclusive_slot": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 其他实例已经关闭
			return nil
		}

		var members []models.Membership
		var err error
		if poll.Type == models.PollTypeAuthority {
			members, err = lockVotingMembers(tx, poll.TenantID)
		} else {
			err = tx.Where("tenant_id = ? AND role = ?", poll.TenantID, models.RoleMember).
				Order("id ASC").Find(&members).Error
		}
		if err != nil {
			return err
		}

		var votes []models.Vote
		if err := tx.Where("poll_id = ?", poll.ID).Order("id ASC").Find(&votes).Error; err != nil {
			return err
		}
		// 判断与关闭之间选票可能被撤回或成员发生变动，以事务内读到的数据为准
		if reason == models.CloseReasonEarly && !collectBallots(poll, votes, members).allComplete() {
			return errNoLongerDue
		}

		threshold, err := s.settings.effective(tx, tenantScope, models.SettingMinimumParticipation, &poll.ID)
		if err != nil {
			return err
		}

		result, err := ComputeResult(ResultInput{
			Poll:      poll,
			Votes:     votes,
			Members:   members,
			Threshold: threshold.Value,
			Now:       now,
		})
		if err != nil {
			return err
		}
		result.CloseReason = reason

		completion = &Completion{Result: result}

		if poll.Type == models.PollTypePolicyChange && poll.PolicyID != nil {
			status, err := s.policies.applyOutcome(tx, poll.TenantID, *poll.PolicyID, result.Outcome)
			if err != nil {
				return err
			}
			completion.PolicyStatus = status
		}

		if poll.Type == models.PollTypeAuthority && result.Outcome == models.OutcomeCompleted {
			if err := writeDistribution(tx, members, DistributionUnits(result)); err != nil {
				return err
			}
		}

		summary, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Poll{}).Where("id = ?", poll.ID).
			Update("result_summary", datatypes.JSON(summary)).Error; err != nil {
			return err
		}

		poll.Active = false
		poll.CompletedAt = &now
		poll.ExclusiveSlot = nil
		poll.ResultSummary = datatypes.JSON(summary)
		completion.Poll = poll
		return nil
	})
	if errors.Is(err, errNoLongerDue) {
		logger.ForTenant(poll.TenantID).WithField("poll_id", poll.ID).Debug("提前结束条件已失效，投票继续进行")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if completion == nil {
		return nil, nil
	}

	metrics.PollsCompleted.WithLabelValues(string(poll.Type), string(completion.Result.Outcome)).Inc()
	if poll.Type == models.PollTypeAuthority && completion.Result.Outcome == models.OutcomeCompleted {
		metrics.Redistributions.Inc()
	}
	logger.ForTenant(poll.TenantID).WithFields(logrus.Fields{
		"poll_id":       poll.ID,
		"type":          poll.Type,
		"outcome":       completion.Result.Outcome,
		"reason":        reason,
		"participation": completion.Result.ParticipationPercent,
	}).Info("投票已结束")

	s.notify(ctx, NotificationPollCompleted, poll)
	return completion, nil
}

// ListActiveAcrossTenants 列出所有激活租户中进行中的投票，供调度器扫描
func (s *PollService) ListActiveAcrossTenants(ctx context.Context) ([]models.Poll, error) {
	q, err := tenancy.IgnoreFilter().Apply(s.db.WithContext(ctx).Model(&models.Poll{}))
	if err != nil {
		return nil, err
	}
	activeTenants := s.db.Model(&models.Tenant{}).Select("id").Where("status = ?", models.TenantStatusActive)

	var polls []models.Poll
	err = q.Where("active = ? AND tenant_id IN (?)", true, activeTenants).
		Order("id ASC").
		Find(&polls).Error
	return polls, err
}

// StartAuthorityPollIfDue 距上次权威投票超过设定周期且当前没有进行中的权威投票时自动发起。
// 并发发起产生的冲突视为已由其他实例完成，返回 (nil, nil)
func (s *PollService) StartAuthorityPollIfDue(ctx context.Context, scope tenancy.Scope) (*models.Poll, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var active int64
	if err := db.Model(&models.Poll{}).
		Where("tenant_id = ? AND type = ? AND active = ?", tenantID, models.PollTypeAuthority, true).
		Count(&active).Error; err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, nil
	}

	var voters int64
	if err := db.Model(&models.Membership{}).
		Where("tenant_id = ? AND role = ?", tenantID, models.RoleMember).
		Count(&voters).Error; err != nil {
		return nil, err
	}
	if voters == 0 {
		return nil, nil
	}

	frequency, err := s.settings.VotingFrequency(scope)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var last models.Poll
	err = db.Where("tenant_id = ? AND type = ?", tenantID, models.PollTypeAuthority).
		Order("id DESC").
		First(&last).Error
	switch {
	case err == nil:
		if now.Sub(last.CreatedAt) < frequency {
			return nil, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	poll, err := s.AddPoll(ctx, scope, CreatePollInput{
		Type:      models.PollTypeAuthority,
		Name:      fmt.Sprintf("Authority poll %s", now.Format(time.DateOnly)),
		Scheduled: true,
	})
	if errors.Is(err, ErrConflict) {
		return nil, nil
	}
	return poll, err
}
