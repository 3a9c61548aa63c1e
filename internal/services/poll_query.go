package services

import (
	"fmt"

	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/pagination"
)

// PollFilter 投票列表过滤条件
type PollFilter struct {
	Type   models.PollType
	Active *bool
}

// PollResultView 投票及其结果，进行中的投票 Result 为 nil
type PollResultView struct {
	Poll   *models.Poll       `json:"poll"`
	Result *models.PollResult `json:"result"`
}

// GetActivePolls 租户内进行中的投票
func (s *PollService) GetActivePolls(scope tenancy.Scope) ([]models.Poll, error) {
	q, err := scope.Apply(s.db.Model(&models.Poll{}))
	if err != nil {
		return nil, err
	}
	var polls []models.Poll
	err = q.Where("active = ?", true).Order("id ASC").Find(&polls).Error
	return polls, err
}

// GetPoll 获取投票详情
func (s *PollService) GetPoll(scope tenancy.Scope, pollID uint) (*models.Poll, error) {
	q, err := scope.Apply(s.db.Model(&models.Poll{}))
	if err != nil {
		return nil, err
	}
	var poll models.Poll
	if err := q.Preload("Setting").Preload("Policy").First(&poll, pollID).Error; err != nil {
		return nil, notFound(err, "投票")
	}
	return &poll, nil
}

// ListPolls 分页查询投票
func (s *PollService) ListPolls(scope tenancy.Scope, filter PollFilter, page *pagination.PageParams) ([]models.Poll, int64, error) {
	q, err := scope.Apply(s.db.Model(&models.Poll{}))
	if err != nil {
		return nil, 0, err
	}
	if filter.Type != "" {
		if !filter.Type.Valid() {
			return nil, 0, fmt.Errorf("%w: 未知投票类型 %s", ErrInvalidInput, filter.Type)
		}
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Active != nil {
		q = q.Where("active = ?", *filter.Active)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var polls []models.Poll
	if err := q.Order("id DESC").Scopes(page.Paginate()).Find(&polls).Error; err != nil {
		return nil, 0, err
	}
	return polls, total, nil
}

// GetPollResult 获取投票结果
func (s *PollService) GetPollResult(scope tenancy.Scope, pollID uint) (*PollResultView, error) {
	poll, err := s.GetPoll(scope, pollID)
	if err != nil {
		return nil, err
	}
	result, err := poll.Result()
	if err != nil {
		return nil, fmt.Errorf("解析投票结果失败: %w", err)
	}
	return &PollResultView{Poll: poll, Result: result}, nil
}

// GetVotes 投票结束后公开全部选票，用于审计
func (s *PollService) GetVotes(scope tenancy.Scope, pollID uint) ([]models.Vote, error) {
	poll, err := s.GetPoll(scope, pollID)
	if err != nil {
		return nil, err
	}
	if poll.Active {
		return nil, fmt.Errorf("%w: 投票进行中，选票暂不公开", ErrInvalidInput)
	}
	var votes []models.Vote
	err = s.db.Where("tenant_id = ? AND poll_id = ?", poll.TenantID, poll.ID).
		Order("voter_id ASC, ballot_slot ASC").
		Find(&votes).Error
	return votes, err
}

// GetBallot 投票人自己的选票
func (s *PollService) GetBallot(scope tenancy.Scope, pollID, voterID uint) ([]models.Vote, error) {
	poll, err := s.GetPoll(scope, pollID)
	if err != nil {
		return nil, err
	}
	var votes []models.Vote
	err = s.db.Where("tenant_id = ? AND poll_id = ? AND voter_id = ?", poll.TenantID, poll.ID, voterID).
		Order("ballot_slot ASC").
		Find(&votes).Error
	return votes, err
}
