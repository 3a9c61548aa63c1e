package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"polity/internal/metrics"
	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PollService 投票生命周期：创建、投票、结束与结果计算
type PollService struct {
	db       *gorm.DB
	settings *SettingsService
	policies *PolicyService
	notifier Notifier
	now      func() time.Time
}

// CreatePollInput 创建投票参数
type CreatePollInput struct {
	Type             models.PollType
	Name             string
	QuestionBody     string
	Options          []string // 单选与份额投票的选项
	PolicyID         *uint    // 政策表决对应的草稿政策
	SettingsOverride map[models.SettingKey]float64
	OwnerUserID      uint
	Scheduled        bool // 由调度器自动发起
}

// CastVoteInput 投一行票
type CastVoteInput struct {
	PollID      uint
	VoterID     uint
	Value       int
	VotedUserID *uint // 权威投票：分配给的成员
	Option      *int  // 份额投票：分配给的选项
}

// Allocation 份额分配中的一项，Target 为成员ID（权威投票）或选项序号（份额投票）
type Allocation struct {
	Target int64 `json:"target"`
	Value  int   `json:"value"`
}

// VoteReceipt 投票回执
type VoteReceipt struct {
	Vote           *models.Vote `json:"vote"`
	BallotTotal    int          `json:"ballot_total"`
	BallotComplete bool         `json:"ballot_complete"`
}

func NewPollService(db *gorm.DB, notifier Notifier) *PollService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &PollService{
		db:       db,
		settings: NewSettingsService(db),
		policies: NewPolicyService(db),
		notifier: notifier,
		now:      utcNow,
	}
}

// SetClock 替换时间来源
func (s *PollService) SetClock(now func() time.Time) {
	s.now = now
}

// AddPoll 创建投票。权威投票和政策表决在同一租户内同时最多一个进行中
func (s *PollService) AddPoll(ctx context.Context, scope tenancy.Scope, input CreatePollInput) (*models.Poll, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	if err := validateCreatePoll(input); err != nil {
		return nil, err
	}

	now := s.now()
	poll := &models.Poll{
		Type:         input.Type,
		Name:         strings.TrimSpace(input.Name),
		QuestionBody: input.QuestionBody,
		OwnerUserID:  input.OwnerUserID,
		PolicyID:     input.PolicyID,
		Active:       true,
	}
	poll.CreatedAt = now
	if err := scope.Stamp(poll); err != nil {
		return nil, err
	}
	if len(input.Options) > 0 {
		payload, err := json.Marshal(models.PollOptions{Options: input.Options})
		if err != nil {
			return nil, err
		}
		poll.OptionsPayload = datatypes.JSON(payload)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !input.Type.AllowsConcurrent() {
			var count int64
			err := tx.Model(&models.Poll{}).
				Where("tenant_id = ? AND type = ? AND active = ?", tenantID, input.Type, true).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: 已有进行中的 %s 投票", ErrConflict, input.Type)
			}
			slot := string(input.Type)
			poll.ExclusiveSlot = &slot
		}

		duration, err := s.creationDuration(tx, scope, input.SettingsOverride)
		if err != nil {
			return err
		}
		poll.Deadline = now.Add(duration)

		if input.Type == models.PollTypePolicyChange {
			if err := s.policies.startVoting(tx, tenantID, *input.PolicyID); err != nil {
				return err
			}
		}

		if err := tx.Create(poll).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: 已有进行中的 %s 投票", ErrConflict, input.Type)
			}
			return err
		}

		if len(input.SettingsOverride) > 0 {
			payload, err := json.Marshal(input.SettingsOverride)
			if err != nil {
				return err
			}
			ps := &models.PollSetting{PollID: poll.ID, SettingsOverridePayload: datatypes.JSON(payload)}
			if err := scope.Stamp(ps); err != nil {
				return err
			}
			if err := tx.Create(ps).Error; err != nil {
				return err
			}
			poll.Setting = ps
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	origin := "api"
	if input.Scheduled {
		origin = "scheduler"
	}
	metrics.PollsCreated.WithLabelValues(string(poll.Type), origin).Inc()
	logger.ForTenant(tenantID).WithFields(logrus.Fields{
		"poll_id":  poll.ID,
		"type":     poll.Type,
		"deadline": poll.Deadline,
		"origin":   origin,
	}).Info("投票已创建")

	s.notify(ctx, NotificationPollStarted, poll)
	return poll, nil
}

// creationDuration 创建时的投票时长，投票覆盖优先
func (s *PollService) creationDuration(tx *gorm.DB, scope tenancy.Scope, overrides map[models.SettingKey]float64) (time.Duration, error) {
	// 提前解析最低参与率，配置缺失时在创建阶段就失败
	if _, ok := overrides[models.SettingMinimumParticipation]; !ok {
		if _, err := s.settings.effective(tx, scope, models.SettingMinimumParticipation, nil); err != nil {
			return 0, err
		}
	}
	if hours, ok := overrides[models.SettingVotingDuration]; ok {
		return hoursToDuration(hours), nil
	}
	setting, err := s.settings.effective(tx, scope, models.SettingVotingDuration, nil)
	if err != nil {
		return 0, err
	}
	return hoursToDuration(setting.Value), nil
}

func validateCreatePoll(input CreatePollInput) error {
	if !input.Type.Valid() {
		return fmt.Errorf("%w: 未知投票类型 %s", ErrInvalidInput, input.Type)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" || len([]rune(name)) > 200 {
		return fmt.Errorf("%w: 投票名称长度必须在1-200个字符之间", ErrInvalidInput)
	}

	switch input.Type {
	case models.PollTypeMultipleChoice, models.PollTypeShare:
		if len(input.Options) < 2 {
			return fmt.Errorf("%w: 至少需要两个选项", ErrInvalidInput)
		}
		for i, opt := range input.Options {
			if strings.TrimSpace(opt) == "" {
				return fmt.Errorf("%w: 第 %d 个选项为空", ErrInvalidInput, i+1)
			}
		}
	default:
		if len(input.Options) > 0 {
			return fmt.Errorf("%w: %s 投票不接受选项", ErrInvalidInput, input.Type)
		}
	}

	if input.Type == models.PollTypePolicyChange {
		if input.PolicyID == nil {
			return fmt.Errorf("%w: 政策表决必须指定政策", ErrInvalidInput)
		}
	} else if input.PolicyID != nil {
		return fmt.Errorf("%w: 只有政策表决可以关联政策", ErrInvalidInput)
	}
	return validateOverrides(input.SettingsOverride)
}

// CastVote 投一行票。单值投票每人一行；分配类投票每个目标一行，
// 同一投票人的份额累计不能超过100，达到100时选票完整
func (s *PollService) CastVote(ctx context.Context, scope tenancy.Scope, input CastVoteInput) (*VoteReceipt, error) {
	var receipt *VoteReceipt
	var pollType models.PollType
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := s.lockPollForVoting(tx, scope, input.PollID)
		if err != nil {
			return err
		}
		pollType = poll.Type
		if _, err := lockEligibleVoter(tx, poll, input.VoterID); err != nil {
			return err
		}

		slot, votedUserID, err := resolveBallotSlot(tx, poll, input)
		if err != nil {
			return err
		}

		var existing []models.Vote
		if err := tx.Where("poll_id = ? AND voter_id = ?", poll.ID, input.VoterID).Find(&existing).Error; err != nil {
			return err
		}
		total := input.Value
		for _, v := range existing {
			if !poll.Type.IsAllocation() || v.BallotSlot == slot {
				return fmt.Errorf("%w: 投票 %d", ErrAlreadyVoted, poll.ID)
			}
			if v.Value != nil {
				total += *v.Value
			}
		}
		if poll.Type.IsAllocation() && total > fullAllocation {
			return fmt.Errorf("%w: 份额之和为 %d，超过100", ErrInvalidAllocation, total)
		}

		value := input.Value
		vote := &models.Vote{
			PollID:      poll.ID,
			VoterID:     input.VoterID,
			BallotSlot:  slot,
			VotedUserID: votedUserID,
			Value:       &value,
			VotedAt:     s.now(),
		}
		vote.SetTenantID(poll.TenantID)
		if err := tx.Create(vote).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: 投票 %d", ErrAlreadyVoted, poll.ID)
			}
			return err
		}

		receipt = &VoteReceipt{Vote: vote, BallotTotal: total, BallotComplete: true}
		if poll.Type.IsAllocation() {
			receipt.BallotComplete = total == fullAllocation
		} else {
			receipt.BallotTotal = 0
		}
		return nil
	})
	if err != nil {
		metrics.VotesRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	metrics.VotesCast.WithLabelValues(string(pollType)).Inc()
	logger.ForTenant(receipt.Vote.TenantID).WithFields(logrus.Fields{
		"poll_id":  input.PollID,
		"voter_id": input.VoterID,
		"slot":     receipt.Vote.BallotSlot,
	}).Debug("投票已记录")
	return receipt, nil
}

// SubmitBallot 一次提交完整的份额分配，替换该投票人之前的全部记录（删除加插入，同一事务）
func (s *PollService) SubmitBallot(ctx context.Context, scope tenancy.Scope, voterID, pollID uint, allocations []Allocation) ([]models.Vote, error) {
	total := 0
	seen := make(map[int64]bool, len(allocations))
	for _, a := range allocations {
		if seen[a.Target] {
			return nil, fmt.Errorf("%w: 目标 %d 重复", ErrInvalidInput, a.Target)
		}
		seen[a.Target] = true
		total += a.Value
	}
	if total != fullAllocation {
		return nil, fmt.Errorf("%w: 份额之和必须为100，当前为 %d", ErrInvalidAllocation, total)
	}

	var votes []models.Vote
	var pollType models.PollType
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := s.lockPollForVoting(tx, scope, pollID)
		if err != nil {
			return err
		}
		pollType = poll.Type
		if !poll.Type.IsAllocation() {
			return fmt.Errorf("%w: %s 投票不是份额分配", ErrInvalidInput, poll.Type)
		}
		if _, err := lockEligibleVoter(tx, poll, voterID); err != nil {
			return err
		}

		votes = make([]models.Vote, 0, len(allocations))
		for _, a := range allocations {
			input := CastVoteInput{PollID: pollID, VoterID: voterID, Value: a.Value}
			if poll.Type == models.PollTypeAuthority {
				if a.Target <= 0 {
					return fmt.Errorf("%w: 无效的成员 %d", ErrInvalidInput, a.Target)
				}
				target := uint(a.Target)
				input.VotedUserID = &target
			} else {
				option := int(a.Target)
				input.Option = &option
			}
			slot, votedUserID, err := resolveBallotSlot(tx, poll, input)
			if err != nil {
				return err
			}
			value := a.Value
			vote := models.Vote{
				PollID:      poll.ID,
				VoterID:     voterID,
				BallotSlot:  slot,
				VotedUserID: votedUserID,
				Value:       &value,
				VotedAt:     s.now(),
			}
			vote.SetTenantID(poll.TenantID)
			votes = append(votes, vote)
		}

		if err := tx.Where("poll_id = ? AND voter_id = ?", poll.ID, voterID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&votes).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: 投票 %d", ErrAlreadyVoted, poll.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		metrics.VotesRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	metrics.VotesCast.WithLabelValues(string(pollType)).Add(float64(len(votes)))
	return votes, nil
}

// RetractBallot 撤回投票人在进行中投票的全部记录，返回删除的行数
func (s *PollService) RetractBallot(ctx context.Context, scope tenancy.Scope, voterID, pollID uint) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := s.lockPollForVoting(tx, scope, pollID)
		if err != nil {
			return err
		}
		res := tx.Where("poll_id = ? AND voter_id = ?", poll.ID, voterID).Delete(&models.Vote{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// lockPollForVoting 共享锁定投票行，防止投票过程中投票被结束；投票必须仍在进行且未过截止时间
func (s *PollService) lockPollForVoting(tx *gorm.DB, scope tenancy.Scope, pollID uint) (*models.Poll, error) {
	q, err := scope.Apply(tx.Model(&models.Poll{}))
	if err != nil {
		return nil, err
	}
	var poll models.Poll
	if err := q.Clauses(clause.Locking{Strength: "SHARE"}).First(&poll, pollID).Error; err != nil {
		return nil, notFound(err, "投票")
	}
	if !poll.Active || !s.now().Before(poll.Deadline) {
		return nil, fmt.Errorf("%w: 投票 %d", ErrPollClosed, poll.ID)
	}
	return &poll, nil
}

// lockEligibleVoter 锁定投票人的成员行，同一投票人的并发投票在此串行
func lockEligibleVoter(tx *gorm.DB, poll *models.Poll, voterID uint) (*models.Membership, error) {
	var m models.Membership
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND user_id = ?", poll.TenantID, voterID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 用户 %d 不是该租户成员", ErrNotEligible, voterID)
		}
		return nil, err
	}
	if !m.CanVote() {
		return nil, fmt.Errorf("%w: 观察者不能投票", ErrNotEligible)
	}
	if !isEligibleVoter(&m, poll) {
		return nil, fmt.Errorf("%w: 投票开始后加入的成员不能参与本次投票", ErrNotEligible)
	}
	return &m, nil
}

// resolveBallotSlot 校验取值并计算唯一索引使用的 BallotSlot
func resolveBallotSlot(tx *gorm.DB, poll *models.Poll, input CastVoteInput) (int64, *uint, error) {
	switch poll.Type {
	case models.PollTypePolicyChange:
		if input.Value != models.PolicyVoteNo && input.Value != models.PolicyVoteYes {
			return 0, nil, fmt.Errorf("%w: 政策表决只接受0（反对）或1（赞成）", ErrInvalidInput)
		}
		return 0, nil, nil

	case models.PollTypeMultipleChoice:
		options, err := poll.Options()
		if err != nil {
			return 0, nil, err
		}
		if input.Value < 0 || input.Value >= len(options) {
			return 0, nil, fmt.Errorf("%w: 选项 %d 不存在", ErrInvalidInput, input.Value)
		}
		return 0, nil, nil

	case models.PollTypeShare:
		if err := validateShareValue(input.Value); err != nil {
			return 0, nil, err
		}
		options, err := poll.Options()
		if err != nil {
			return 0, nil, err
		}
		if input.Option == nil || *input.Option < 0 || *input.Option >= len(options) {
			return 0, nil, fmt.Errorf("%w: 必须指定有效的选项", ErrInvalidInput)
		}
		return int64(*input.Option), nil, nil

	case models.PollTypeAuthority:
		if err := validateShareValue(input.Value); err != nil {
			return 0, nil, err
		}
		if input.VotedUserID == nil {
			return 0, nil, fmt.Errorf("%w: 必须指定分配的成员", ErrInvalidInput)
		}
		var count int64
		err := tx.Model(&models.Membership{}).
			Where("tenant_id = ? AND user_id = ? AND role = ?", poll.TenantID, *input.VotedUserID, models.RoleMember).
			Count(&count).Error
		if err != nil {
			return 0, nil, err
		}
		if count == 0 {
			return 0, nil, fmt.Errorf("%w: 用户 %d 不是可分配权威的成员", ErrInvalidInput, *input.VotedUserID)
		}
		target := *input.VotedUserID
		return int64(target), &target, nil
	}
	return 0, nil, fmt.Errorf("%w: 未知投票类型 %s", ErrInvalidInput, poll.Type)
}

func validateShareValue(value int) error {
	if value < 1 || value > fullAllocation {
		return fmt.Errorf("%w: 单项份额必须在1到100之间", ErrInvalidAllocation)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrInvalidAllocation):
		return "invalid_allocation"
	case errors.Is(err, ErrPollClosed):
		return "poll_closed"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// notify 发送通知，失败只记录
func (s *PollService) notify(ctx context.Context, notificationType NotificationType, poll *models.Poll) {
	if err := s.notifier.NotifyUsers(ctx, poll.Type, notificationType, poll); err != nil {
		metrics.NotificationFailures.WithLabelValues(string(notificationType)).Inc()
		logger.ForTenant(poll.TenantID).WithError(err).WithFields(logrus.Fields{
			"poll_id": poll.ID,
			"type":    notificationType,
		}).Warn("发送投票通知失败")
	}
}
