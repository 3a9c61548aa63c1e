package models

// User 用户身份信息，登录凭证由外部身份服务负责
type User struct {
	BaseModel
	Username        string `json:"username" gorm:"unique;not null;size:50;index"`
	Email           string `json:"email" gorm:"unique;not null;size:100;index"`
	Name            string `json:"name" gorm:"not null;size:100"`
	Status          string `json:"status" gorm:"size:20;not null"`
	IsPlatformAdmin bool   `json:"is_platform_admin"`
}

// TableName 表名
func (u *User) TableName() string {
	return "users"
}

// 用户状态常量
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)
