package services

import (
	"errors"
	"fmt"
	"strings"

	"polity/internal/tenancy"

	"gorm.io/gorm"
)

// 业务错误，调用方用 errors.Is 判断，具体原因通过 %w 包装携带
var (
	ErrConflict          = errors.New("同类投票正在进行中")
	ErrNotEligible       = errors.New("无投票资格")
	ErrAlreadyVoted      = errors.New("已经投过票")
	ErrInvalidAllocation = errors.New("份额分配无效")
	ErrPollClosed        = errors.New("投票已结束")
	ErrNotFound          = errors.New("记录不存在")
	ErrInvalidInput      = errors.New("参数无效")
	ErrConfiguration     = errors.New("系统配置缺失")
)

// ErrTenantResolution 无法解析租户，按认证失败处理
var ErrTenantResolution = tenancy.ErrTenantResolution

// IsBusinessError 业务规则错误不需要重试
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrConflict, ErrNotEligible, ErrAlreadyVoted, ErrInvalidAllocation,
		ErrPollClosed, ErrNotFound, ErrInvalidInput, ErrConfiguration,
		tenancy.ErrTenantResolution, tenancy.ErrCrossTenant,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// isDuplicateKey 唯一约束冲突。开启 TranslateError 后驱动会返回 gorm.ErrDuplicatedKey，
// 未翻译的驱动错误按消息兜底判断
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// notFound 将 gorm.ErrRecordNotFound 转换为 ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
