package services

import (
	"context"
	"fmt"

	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuthorityService 权威分布的读取与整体替换。
// 分布的每次变更都在一个事务内锁定并更新租户全部成员行
type AuthorityService struct {
	db *gorm.DB
}

// AuthorityEntry 单个成员的权威
type AuthorityEntry struct {
	UserID                  uint    `json:"user_id"`
	Username                string  `json:"username,omitempty"`
	AuthorityPercent        float64 `json:"authority_percent"`
	InitialAuthorityPercent float64 `json:"initial_authority_percent"`
}

// Distribution 租户的权威分布
type Distribution struct {
	TenantID uint             `json:"tenant_id"`
	Total    float64          `json:"total"`
	Members  []AuthorityEntry `json:"members"`
}

func NewAuthorityService(db *gorm.DB) *AuthorityService {
	return &AuthorityService{db: db}
}

// GetDistribution 获取当前权威分布（只含有投票权的成员）
func (s *AuthorityService) GetDistribution(scope tenancy.Scope) (*Distribution, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	var members []models.Membership
	err = s.db.Preload("User").
		Where("tenant_id = ? AND role = ?", tenantID, models.RoleMember).
		Order("user_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}

	dist := &Distribution{TenantID: tenantID, Members: make([]AuthorityEntry, 0, len(members))}
	var total int64
	for _, m := range members {
		entry := AuthorityEntry{
			UserID:                  m.UserID,
			AuthorityPercent:        m.AuthorityPercent,
			InitialAuthorityPercent: m.InitialAuthorityPercent,
		}
		if m.User != nil {
			entry.Username = m.User.Username
		}
		dist.Members = append(dist.Members, entry)
		total += toUnits(m.AuthorityPercent)
	}
	dist.Total = fromUnits(total)
	return dist, nil
}

// SetDistribution 管理员直接覆盖分布，必须覆盖全部有投票权的成员且总和为100
func (s *AuthorityService) SetDistribution(ctx context.Context, scope tenancy.Scope, percents map[uint]float64) error {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return err
	}

	units := make(map[uint]int64, len(percents))
	for userID, percent := range percents {
		if percent < 0 || percent > 100 {
			return fmt.Errorf("%w: 成员 %d 的权威必须在0到100之间", ErrInvalidAllocation, userID)
		}
		units[userID] = toUnits(percent)
	}
	if sumUnits(units) != totalAuthorityUnits {
		return fmt.Errorf("%w: 权威之和必须为100，当前为 %.2f", ErrInvalidAllocation, fromUnits(sumUnits(units)))
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members, err := lockVotingMembers(tx, tenantID)
		if err != nil {
			return err
		}
		if len(members) != len(units) {
			return fmt.Errorf("%w: 必须为全部 %d 名成员指定权威", ErrInvalidAllocation, len(members))
		}
		for _, m := range members {
			if _, ok := units[m.UserID]; !ok {
				return fmt.Errorf("%w: 缺少成员 %d 的权威", ErrInvalidAllocation, m.UserID)
			}
		}
		return writeDistribution(tx, members, units)
	})
	if err != nil {
		return err
	}

	logger.ForTenant(tenantID).WithField("members", len(units)).Info("管理员已覆盖权威分布")
	return nil
}

// lockVotingMembers 按ID顺序锁定租户全部有投票权的成员行，固定加锁顺序避免死锁
func lockVotingMembers(tx *gorm.DB, tenantID uint) ([]models.Membership, error) {
	var members []models.Membership
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND role = ?", tenantID, models.RoleMember).
		Order("id ASC").
		Find(&members).Error
	return members, err
}

// writeDistribution 写入新分布，units 中没有的成员置0
func writeDistribution(tx *gorm.DB, members []models.Membership, units map[uint]int64) error {
	for _, m := range members {
		next := fromUnits(units[m.UserID])
		if toUnits(m.AuthorityPercent) == units[m.UserID] {
			continue
		}
		if err := tx.Model(&models.Membership{}).Where("id = ?", m.ID).
			Update("authority_percent", next).Error; err != nil {
			return err
		}
	}
	return nil
}

// currentUnits 成员当前权威（单位）
func currentUnits(members []models.Membership) map[uint]int64 {
	units := make(map[uint]int64, len(members))
	for _, m := range members {
		units[m.UserID] = toUnits(m.AuthorityPercent)
	}
	return units
}
