package models

// PolicyStatus 政策状态
type PolicyStatus string

const (
	PolicyStatusDraft      PolicyStatus = "draft"      // 草稿
	PolicyStatusVoting     PolicyStatus = "voting"     // 投票中
	PolicyStatusActive     PolicyStatus = "active"     // 生效中，每个租户最多一个
	PolicyStatusRejected   PolicyStatus = "rejected"   // 被否决
	PolicyStatusOverridden PolicyStatus = "overridden" // 被新政策取代
)

// Policy 租户政策
type Policy struct {
	BaseModel
	TenantOwned
	Title       string       `json:"title" gorm:"size:200;not null"`
	Body        string       `json:"body" gorm:"type:text"`
	OwnerUserID uint         `json:"owner_user_id" gorm:"not null"`
	Status      PolicyStatus `json:"status" gorm:"size:20;not null;index"`
}

// TableName 表名
func (Policy) TableName() string {
	return "policies"
}
