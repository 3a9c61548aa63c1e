package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// PollSetting 单个投票对租户设置的覆盖，随投票级联删除
type PollSetting struct {
	ID uint `gorm:"primarykey" json:"id"`
	TenantOwned
	PollID                  uint           `gorm:"not null;uniqueIndex" json:"poll_id"`
	SettingsOverridePayload datatypes.JSON `json:"settings_override_payload"`
	CreatedAt               time.Time      `json:"created_at"`
}

// TableName 表名
func (PollSetting) TableName() string {
	return "poll_settings"
}

// Overrides 解析覆盖项
func (ps *PollSetting) Overrides() (map[SettingKey]float64, error) {
	overrides := make(map[SettingKey]float64)
	if len(ps.SettingsOverridePayload) == 0 {
		return overrides, nil
	}
	if err := json.Unmarshal(ps.SettingsOverridePayload, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}
