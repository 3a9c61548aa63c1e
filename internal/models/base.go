package models

import (
	"time"
)

// BaseModel 基础模型
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantOwned 租户归属字段，嵌入后实体即可被 tenancy.Scope 打上租户标记
type TenantOwned struct {
	TenantID uint `json:"tenant_id" gorm:"not null;index"`
}

func (t *TenantOwned) GetTenantID() uint {
	return t.TenantID
}

func (t *TenantOwned) SetTenantID(tenantID uint) {
	t.TenantID = tenantID
}
