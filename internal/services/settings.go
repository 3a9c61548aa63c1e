package services

import (
	"errors"
	"fmt"
	"time"

	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsService 设置读取与更新，按 投票覆盖 → 租户设置 → 系统默认 的顺序取值
type SettingsService struct {
	db *gorm.DB
}

// EffectiveSetting 生效的设置值及来源
type EffectiveSetting struct {
	Key     models.SettingKey `json:"key"`
	Value   float64           `json:"value"`
	Source  string            `json:"source"` // default / tenant / poll
	Visible bool              `json:"visible"`
}

// 设置来源
const (
	SettingSourceDefault = "default"
	SettingSourceTenant  = "tenant"
	SettingSourcePoll    = "poll"
)

func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{db: db}
}

// GetEffectiveSetting 获取生效的设置值，pollID 不为空时优先使用该投票的覆盖值
func (s *SettingsService) GetEffectiveSetting(scope tenancy.Scope, key models.SettingKey, pollID *uint) (float64, error) {
	setting, err := s.effective(s.db, scope, key, pollID)
	if err != nil {
		return 0, err
	}
	return setting.Value, nil
}

// VotingDuration 投票时长
func (s *SettingsService) VotingDuration(scope tenancy.Scope, pollID *uint) (time.Duration, error) {
	hours, err := s.GetEffectiveSetting(scope, models.SettingVotingDuration, pollID)
	if err != nil {
		return 0, err
	}
	return hoursToDuration(hours), nil
}

// MinimumParticipation 最低参与权威（百分比）
func (s *SettingsService) MinimumParticipation(scope tenancy.Scope, pollID *uint) (float64, error) {
	return s.GetEffectiveSetting(scope, models.SettingMinimumParticipation, pollID)
}

// VotingFrequency 权威投票的发起周期
func (s *SettingsService) VotingFrequency(scope tenancy.Scope) (time.Duration, error) {
	days, err := s.GetEffectiveSetting(scope, models.SettingVotingFrequency, nil)
	if err != nil {
		return 0, err
	}
	return hoursToDuration(days * 24), nil
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// effective 在指定连接（可能是事务）上解析设置
func (s *SettingsService) effective(db *gorm.DB, scope tenancy.Scope, key models.SettingKey, pollID *uint) (*EffectiveSetting, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: 未知设置项 %s", ErrInvalidInput, key)
	}
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}

	// 系统默认值必须存在，同时决定是否对租户可见
	var def models.Setting
	if err := db.Where("tenant_id IS NULL AND key = ?", key).First(&def).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 缺少默认设置 %s", ErrConfiguration, key)
		}
		return nil, err
	}
	result := &EffectiveSetting{Key: key, Value: def.Value, Source: SettingSourceDefault, Visible: def.Visible}

	var own models.Setting
	err = db.Where("tenant_id = ? AND key = ?", tenantID, key).First(&own).Error
	switch {
	case err == nil:
		result.Value = own.Value
		result.Source = SettingSourceTenant
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if pollID != nil {
		var ps models.PollSetting
		err := db.Where("tenant_id = ? AND poll_id = ?", tenantID, *pollID).First(&ps).Error
		switch {
		case err == nil:
			overrides, perr := ps.Overrides()
			if perr != nil {
				return nil, fmt.Errorf("解析投票设置覆盖失败: %w", perr)
			}
			if v, ok := overrides[key]; ok {
				result.Value = v
				result.Source = SettingSourcePoll
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}
	return result, nil
}

// ListSettings 列出租户可见的设置及生效值
func (s *SettingsService) ListSettings(scope tenancy.Scope) ([]EffectiveSetting, error) {
	settings := make([]EffectiveSetting, 0, len(models.SettingKeys()))
	for _, key := range models.SettingKeys() {
		setting, err := s.effective(s.db, scope, key, nil)
		if err != nil {
			return nil, err
		}
		if setting.Visible {
			settings = append(settings, *setting)
		}
	}
	return settings, nil
}

// ValidateSettingValue 校验设置取值范围
func ValidateSettingValue(key models.SettingKey, value float64) error {
	switch key {
	case models.SettingMinimumParticipation:
		if value < 0 || value > 100 {
			return fmt.Errorf("%w: %s 必须在 0 到 100 之间", ErrInvalidInput, key)
		}
	case models.SettingVotingDuration, models.SettingVotingFrequency:
		if value <= 0 {
			return fmt.Errorf("%w: %s 必须大于0", ErrInvalidInput, key)
		}
	default:
		return fmt.Errorf("%w: 未知设置项 %s", ErrInvalidInput, key)
	}
	return nil
}

// SetTenantSetting 设置租户级别的值，已存在则覆盖
func (s *SettingsService) SetTenantSetting(scope tenancy.Scope, key models.SettingKey, value float64) (*EffectiveSetting, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	if err := ValidateSettingValue(key, value); err != nil {
		return nil, err
	}

	var def models.Setting
	if err := s.db.Where("tenant_id IS NULL AND key = ?", key).First(&def).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 缺少默认设置 %s", ErrConfiguration, key)
		}
		return nil, err
	}

	setting := models.Setting{TenantID: &tenantID, Key: key, Value: value, Visible: def.Visible}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return nil, err
	}

	logger.ForTenant(tenantID).WithFields(logrus.Fields{
		"key":   key,
		"value": value,
	}).Info("租户设置已更新")
	return s.effective(s.db, scope, key, nil)
}

// EnsureDefault 写入系统默认值，已存在时保持不变
func (s *SettingsService) EnsureDefault(key models.SettingKey, value float64, visible bool) error {
	if err := ValidateSettingValue(key, value); err != nil {
		return err
	}
	var count int64
	if err := s.db.Model(&models.Setting{}).Where("tenant_id IS NULL AND key = ?", key).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.db.Create(&models.Setting{Key: key, Value: value, Visible: visible}).Error
}

// VerifyDefaults 启动时校验全部系统默认值，缺失时直接失败
func (s *SettingsService) VerifyDefaults() error {
	for _, key := range models.SettingKeys() {
		var def models.Setting
		if err := s.db.Where("tenant_id IS NULL AND key = ?", key).First(&def).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: 缺少默认设置 %s", ErrConfiguration, key)
			}
			return err
		}
		if err := ValidateSettingValue(key, def.Value); err != nil {
			return fmt.Errorf("%w: 默认设置 %s 取值无效", ErrConfiguration, key)
		}
	}
	return nil
}

// validateOverrides 校验单个投票的设置覆盖
func validateOverrides(overrides map[models.SettingKey]float64) error {
	for key, value := range overrides {
		if key == models.SettingVotingFrequency {
			return fmt.Errorf("%w: 投票不能覆盖 %s", ErrInvalidInput, key)
		}
		if err := ValidateSettingValue(key, value); err != nil {
			return err
		}
	}
	return nil
}
