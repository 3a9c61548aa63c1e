package models

// SettingKey 设置项，取值范围固定
type SettingKey string

const (
	SettingVotingFrequency      SettingKey = "voting_frequency"                // 权威投票周期（天）
	SettingMinimumParticipation SettingKey = "minimum_authority_participation" // 最低参与权威（百分比）
	SettingVotingDuration       SettingKey = "voting_duration"                 // 投票时长（小时）
)

// SettingKeys 全部设置项
func SettingKeys() []SettingKey {
	return []SettingKey{SettingVotingFrequency, SettingMinimumParticipation, SettingVotingDuration}
}

// Valid 是否为已知设置项
func (k SettingKey) Valid() bool {
	switch k {
	case SettingVotingFrequency, SettingMinimumParticipation, SettingVotingDuration:
		return true
	}
	return false
}

// Setting 设置，TenantID 为空表示系统默认值
type Setting struct {
	BaseModel
	TenantID *uint      `json:"tenant_id" gorm:"uniqueIndex:idx_settings_tenant_key"`
	Key      SettingKey `json:"key" gorm:"size:50;not null;uniqueIndex:idx_settings_tenant_key"`
	Value    float64    `json:"value" gorm:"not null"`
	Visible  bool       `json:"visible"`
}

// TableName 表名
func (Setting) TableName() string {
	return "settings"
}
