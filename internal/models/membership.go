package models

import (
	"time"

	"gorm.io/gorm"
)

// MemberRole 成员在租户中的角色
type MemberRole string

const (
	RoleMember   MemberRole = "member"   // 可投票
	RoleObserver MemberRole = "observer" // 只读，不参与投票
)

// Valid 角色是否合法
func (r MemberRole) Valid() bool {
	return r == RoleMember || r == RoleObserver
}

// Membership 用户在租户中的成员身份与权威值
// 同一租户内未删除成员的 AuthorityPercent 之和恒为 100
type Membership struct {
	ID                      uint           `gorm:"primarykey" json:"id"`
	TenantID                uint           `gorm:"not null;uniqueIndex:idx_memberships_tenant_user" json:"tenant_id"`
	UserID                  uint           `gorm:"not null;uniqueIndex:idx_memberships_tenant_user;index" json:"user_id"`
	Role                    MemberRole     `gorm:"size:20;not null" json:"role"`
	IsTenantAdmin           bool           `json:"is_tenant_admin"`
	AuthorityPercent        float64        `gorm:"type:decimal(7,2);not null" json:"authority_percent"`
	InitialAuthorityPercent float64        `gorm:"type:decimal(7,2);not null" json:"initial_authority_percent"`
	LanguagePreference      string         `gorm:"size:10" json:"language_preference"`
	JoinedAt                time.Time      `gorm:"not null" json:"joined_at"` // 加入时间，晚于投票创建的成员不能参与该投票
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
	DeletedAt               gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联
	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

// TableName 指定表名
func (Membership) TableName() string {
	return "memberships"
}

func (m *Membership) GetTenantID() uint {
	return m.TenantID
}

func (m *Membership) SetTenantID(tenantID uint) {
	m.TenantID = tenantID
}

// CanVote 是否具备投票角色
func (m *Membership) CanVote() bool {
	return m.Role == RoleMember
}
