package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/logger"
	"polity/pkg/pagination"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MemberService 成员管理。成员变动同时维护权威分布：
// 第一个有投票权的成员获得全部权威，新成员从0开始，移除成员时剩余成员按比例重新归一
type MemberService struct {
	db  *gorm.DB
	now func() time.Time
}

// AddMemberInput 添加成员参数
type AddMemberInput struct {
	UserID             uint
	Role               models.MemberRole
	IsTenantAdmin      bool
	LanguagePreference string
}

func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// SetClock 替换时间来源
func (s *MemberService) SetClock(now func() time.Time) {
	s.now = now
}

// GetMembership 获取用户在租户中的成员身份
func (s *MemberService) GetMembership(scope tenancy.Scope, userID uint) (*models.Membership, error) {
	q, err := scope.Apply(s.db.Model(&models.Membership{}))
	if err != nil {
		return nil, err
	}
	var m models.Membership
	if err := q.Where("user_id = ?", userID).First(&m).Error; err != nil {
		return nil, notFound(err, "成员")
	}
	return &m, nil
}

// List 分页列出成员
func (s *MemberService) List(scope tenancy.Scope, role string, page *pagination.PageParams) ([]models.Membership, int64, error) {
	q, err := scope.Apply(s.db.Model(&models.Membership{}))
	if err != nil {
		return nil, 0, err
	}
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var members []models.Membership
	if err := q.Preload("User").Order("user_id ASC").Scopes(page.Paginate()).Find(&members).Error; err != nil {
		return nil, 0, err
	}
	return members, total, nil
}

// AddMember 添加成员，曾被移除的成员重新加入时恢复原记录并重新计算加入时间
func (s *MemberService) AddMember(ctx context.Context, scope tenancy.Scope, input AddMemberInput) (*models.Membership, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	role := input.Role
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: 未知角色 %s", ErrInvalidInput, role)
	}

	var membership models.Membership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, input.UserID).Error; err != nil {
			return notFound(err, "用户")
		}

		// 锁定现有成员，保证"第一个成员获得全部权威"的判断不被并发添加破坏
		voters, err := lockVotingMembers(tx, tenantID)
		if err != nil {
			return err
		}

		var initial float64
		if role == models.RoleMember && len(voters) == 0 {
			initial = 100
		}

		var existing models.Membership
		err = tx.Unscoped().Where("tenant_id = ? AND user_id = ?", tenantID, input.UserID).First(&existing).Error
		switch {
		case err == nil && !existing.DeletedAt.Valid:
			return fmt.Errorf("%w: 用户已是该租户成员", ErrConflict)
		case err == nil:
			updates := map[string]interface{}{
				"deleted_at":                nil,
				"role":                      role,
				"is_tenant_admin":           input.IsTenantAdmin,
				"authority_percent":         initial,
				"initial_authority_percent": initial,
				"language_preference":       input.LanguagePreference,
				"joined_at":                 s.now(),
			}
			if err := tx.Unscoped().Model(&models.Membership{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return err
			}
			return tx.First(&membership, existing.ID).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		membership = models.Membership{
			UserID:                  input.UserID,
			Role:                    role,
			IsTenantAdmin:           input.IsTenantAdmin,
			AuthorityPercent:        initial,
			InitialAuthorityPercent: initial,
			LanguagePreference:      input.LanguagePreference,
			JoinedAt:                s.now(),
		}
		if err := scope.Stamp(&membership); err != nil {
			return err
		}
		if err := tx.Create(&membership).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: 用户已是该租户成员", ErrConflict)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.ForTenant(tenantID).WithFields(logrus.Fields{
		"user_id":   input.UserID,
		"role":      role,
		"authority": membership.AuthorityPercent,
	}).Info("成员已加入")
	return &membership, nil
}

// RemoveMember 软删除成员，被移除成员的权威按比例分给剩余成员
func (s *MemberService) RemoveMember(ctx context.Context, scope tenancy.Scope, userID uint) error {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		voters, err := lockVotingMembers(tx, tenantID)
		if err != nil {
			return err
		}

		var target models.Membership
		if err := tx.Where("tenant_id = ? AND user_id = ?", tenantID, userID).First(&target).Error; err != nil {
			return notFound(err, "成员")
		}
		if err := tx.Delete(&models.Membership{}, target.ID).Error; err != nil {
			return err
		}
		if target.Role != models.RoleMember {
			return nil
		}

		remaining := make([]models.Membership, 0, len(voters))
		for _, m := range voters {
			if m.ID != target.ID {
				remaining = append(remaining, m)
			}
		}
		if len(remaining) == 0 {
			return nil
		}
		return writeDistribution(tx, remaining, rebalance(currentUnits(remaining)))
	})
	if err != nil {
		return err
	}

	logger.ForTenant(tenantID).WithField("user_id", userID).Info("成员已移除，权威已重新归一")
	return nil
}
