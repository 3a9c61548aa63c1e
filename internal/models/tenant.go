package models

import "strings"

// Tenant 租户，只做软停用，不物理删除
type Tenant struct {
	BaseModel
	Name     string `json:"name" gorm:"not null;size:100"`
	Hostname string `json:"hostname" gorm:"uniqueIndex;not null;size:255"`
	Language string `json:"language" gorm:"size:10;not null"`
	Status   string `json:"status" gorm:"size:20;not null;index"`

	MemberCount int `json:"member_count" gorm:"-"` // 成员数量，不存储在数据库中
}

// TableName 表名
func (t *Tenant) TableName() string {
	return "tenants"
}

// 租户状态常量
const (
	TenantStatusActive   = "active"
	TenantStatusInactive = "inactive"
)

// IsActive 租户是否可用
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// NormalizeHostname 主机名统一为小写并去掉端口
func NormalizeHostname(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "[") {
		// IPv6
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
		return host
	}
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return strings.TrimSuffix(host, ".")
}
