package services

import (
	"errors"
	"fmt"
	"strings"

	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/logger"
	"polity/pkg/pagination"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PolicyService 政策草拟与状态流转
type PolicyService struct {
	db *gorm.DB
}

// CreatePolicyInput 创建政策参数
type CreatePolicyInput struct {
	Title       string
	Body        string
	OwnerUserID uint
}

func NewPolicyService(db *gorm.DB) *PolicyService {
	return &PolicyService{db: db}
}

// Create 创建草稿政策
func (s *PolicyService) Create(scope tenancy.Scope, input CreatePolicyInput) (*models.Policy, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || len([]rune(title)) > 200 {
		return nil, fmt.Errorf("%w: 政策标题长度必须在1-200个字符之间", ErrInvalidInput)
	}
	policy := &models.Policy{
		Title:       title,
		Body:        input.Body,
		OwnerUserID: input.OwnerUserID,
		Status:      models.PolicyStatusDraft,
	}
	if err := scope.Stamp(policy); err != nil {
		return nil, err
	}
	if err := s.db.Create(policy).Error; err != nil {
		return nil, err
	}
	return policy, nil
}

// GetByID 获取政策
func (s *PolicyService) GetByID(scope tenancy.Scope, id uint) (*models.Policy, error) {
	q, err := scope.Apply(s.db.Model(&models.Policy{}))
	if err != nil {
		return nil, err
	}
	var policy models.Policy
	if err := q.First(&policy, id).Error; err != nil {
		return nil, notFound(err, "政策")
	}
	return &policy, nil
}

// List 按状态分页查询
func (s *PolicyService) List(scope tenancy.Scope, status string, page *pagination.PageParams) ([]models.Policy, int64, error) {
	q, err := scope.Apply(s.db.Model(&models.Policy{}))
	if err != nil {
		return nil, 0, err
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var policies []models.Policy
	if err := q.Order("id DESC").Scopes(page.Paginate()).Find(&policies).Error; err != nil {
		return nil, 0, err
	}
	return policies, total, nil
}

// GetActive 获取租户当前生效的政策，没有时返回 ErrNotFound
func (s *PolicyService) GetActive(scope tenancy.Scope) (*models.Policy, error) {
	q, err := scope.Apply(s.db.Model(&models.Policy{}))
	if err != nil {
		return nil, err
	}
	var policy models.Policy
	if err := q.Where("status = ?", models.PolicyStatusActive).First(&policy).Error; err != nil {
		return nil, notFound(err, "生效政策")
	}
	return &policy, nil
}

// startVoting 发起政策表决时草稿转为投票中，在创建投票的事务内调用
func (s *PolicyService) startVoting(tx *gorm.DB, tenantID, policyID uint) error {
	var policy models.Policy
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		First(&policy, policyID).Error
	if err != nil {
		return notFound(err, "政策")
	}
	if policy.Status != models.PolicyStatusDraft {
		return fmt.Errorf("%w: 只有草稿状态的政策可以发起表决，当前状态 %s", ErrInvalidInput, policy.Status)
	}
	return tx.Model(&models.Policy{}).Where("id = ?", policy.ID).
		Update("status", models.PolicyStatusVoting).Error
}

// applyOutcome 在结束投票的事务内根据结果推进政策状态。
// 通过时原生效政策变为 overridden，保证每个租户最多一个生效政策；其他结果一律否决
func (s *PolicyService) applyOutcome(tx *gorm.DB, tenantID, policyID uint, outcome models.PollOutcome) (models.PolicyStatus, error) {
	var policy models.Policy
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		First(&policy, policyID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.ForTenant(tenantID).WithField("policy_id", policyID).Warn("表决对应的政策不存在，跳过状态更新")
			return "", nil
		}
		return "", err
	}
	if policy.Status != models.PolicyStatusVoting {
		logger.ForTenant(tenantID).WithFields(logrus.Fields{
			"policy_id": policyID,
			"status":    policy.Status,
		}).Warn("政策不在投票中，跳过状态更新")
		return policy.Status, nil
	}

	next := models.PolicyStatusRejected
	if outcome == models.OutcomePositive {
		next = models.PolicyStatusActive
		err := tx.Model(&models.Policy{}).
			Where("tenant_id = ? AND status = ? AND id <> ?", tenantID, models.PolicyStatusActive, policy.ID).
			Update("status", models.PolicyStatusOverridden).Error
		if err != nil {
			return "", err
		}
	}
	if err := tx.Model(&models.Policy{}).Where("id = ?", policy.ID).Update("status", next).Error; err != nil {
		return "", err
	}

	logger.ForTenant(tenantID).WithFields(logrus.Fields{
		"policy_id": policy.ID,
		"outcome":   outcome,
		"status":    next,
	}).Info("政策状态已更新")
	return next, nil
}
