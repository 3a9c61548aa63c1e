// Package tenancy 租户隔离。所有租户数据的读写都显式携带 Scope，
// 只有租户解析和跨租户的管理/调度操作使用 IgnoreFilter 绕过过滤。
package tenancy

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTenantResolution 无法确定当前租户，按认证失败处理
	ErrTenantResolution = errors.New("无法解析租户")
	// ErrCrossTenant 试图写入其他租户的数据
	ErrCrossTenant = errors.New("禁止跨租户操作")
)

// Owned 归属于某个租户的实体
type Owned interface {
	GetTenantID() uint
	SetTenantID(tenantID uint)
}

// Scope 数据访问的租户范围
type Scope struct {
	tenantID     uint
	ignoreFilter bool
}

// For 限定在指定租户内
func For(tenantID uint) Scope {
	return Scope{tenantID: tenantID}
}

// IgnoreFilter 不按租户过滤，仅用于租户解析、跨租户管理和调度扫描
func IgnoreFilter() Scope {
	return Scope{ignoreFilter: true}
}

// TenantID 当前租户ID，绕过模式下为0
func (s Scope) TenantID() uint {
	return s.tenantID
}

// IsIgnoreFilter 是否绕过租户过滤
func (s Scope) IsIgnoreFilter() bool {
	return s.ignoreFilter
}

// Validate 校验范围是否可用
func (s Scope) Validate() error {
	if s.ignoreFilter {
		return nil
	}
	if s.tenantID == 0 {
		return ErrTenantResolution
	}
	return nil
}

// RequireTenant 要求一个确定的租户，绕过模式不能用于租户内写操作
func (s Scope) RequireTenant() (uint, error) {
	if s.ignoreFilter || s.tenantID == 0 {
		return 0, ErrTenantResolution
	}
	return s.tenantID, nil
}

// Apply 为查询追加租户条件
func (s Scope) Apply(db *gorm.DB) (*gorm.DB, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ignoreFilter {
		return db, nil
	}
	return db.Where(clause.Eq{
		Column: clause.Column{Table: clause.CurrentTable, Name: "tenant_id"},
		Value:  s.tenantID,
	}), nil
}

// Stamp 插入前为实体补齐租户ID，已设置的租户必须与当前范围一致
func (s Scope) Stamp(entities ...Owned) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, entity := range entities {
		current := entity.GetTenantID()
		switch {
		case s.ignoreFilter:
			if current == 0 {
				return fmt.Errorf("%w: 绕过过滤时必须显式指定租户", ErrTenantResolution)
			}
		case current == 0:
			entity.SetTenantID(s.tenantID)
		case current != s.tenantID:
			return fmt.Errorf("%w: 实体租户 %d 与当前租户 %d 不一致", ErrCrossTenant, current, s.tenantID)
		}
	}
	return nil
}

// Owns 判断实体是否在当前范围内可见
func (s Scope) Owns(entity Owned) bool {
	if s.ignoreFilter {
		return true
	}
	return s.tenantID != 0 && entity.GetTenantID() == s.tenantID
}

func (s Scope) String() string {
	if s.ignoreFilter {
		return "tenant:*"
	}
	return fmt.Sprintf("tenant:%d", s.tenantID)
}
