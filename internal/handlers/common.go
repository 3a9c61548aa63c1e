package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"polity/internal/services"
	"polity/internal/tenancy"
	pkgerrors "polity/pkg/errors"
	"polity/pkg/logger"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// handleError 把服务层错误转换为统一响应，业务错误直接返回错误信息
func handleError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, tenancy.ErrTenantResolution):
		response.Error(c, pkgerrors.CodeTenantResolution, "无法识别当前租户")
	case errors.Is(err, tenancy.ErrCrossTenant):
		response.Forbidden(c, "无权访问其他租户的数据")
	case errors.Is(err, services.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	case errors.Is(err, services.ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, services.ErrAlreadyVoted):
		response.Error(c, pkgerrors.CodeAlreadyVoted, err.Error())
	case errors.Is(err, services.ErrNotEligible):
		response.Error(c, pkgerrors.CodeNotEligible, err.Error())
	case errors.Is(err, services.ErrInvalidAllocation):
		response.Error(c, pkgerrors.CodeInvalidAllocation, err.Error())
	case errors.Is(err, services.ErrPollClosed):
		response.Error(c, pkgerrors.CodePollClosed, err.Error())
	case errors.Is(err, services.ErrConfiguration):
		logger.GetLogger().WithError(err).Error("系统配置缺失")
		response.Error(c, pkgerrors.CodeConfiguration, "系统配置缺失，请联系管理员")
	default:
		logger.GetLogger().WithError(err).WithField("path", c.FullPath()).Errorf("%s失败", action)
		response.ServerError(c, action+"失败")
	}
}

// bindError 参数绑定失败时返回第一个校验错误
func bindError(c *gin.Context, err error) {
	var validationErr validator.ValidationErrors
	if errors.As(err, &validationErr) && len(validationErr) > 0 {
		fieldErr := validationErr[0]
		switch fieldErr.Tag() {
		case "required":
			response.BadRequest(c, fmt.Sprintf("字段 %s 不能为空", fieldErr.Field()))
		case "oneof":
			response.BadRequest(c, fmt.Sprintf("字段 %s 必须是 %s 之一", fieldErr.Field(), fieldErr.Param()))
		case "min", "max", "gte", "lte":
			response.BadRequest(c, fmt.Sprintf("字段 %s 超出范围（%s %s）", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param()))
		default:
			response.BadRequest(c, fmt.Sprintf("字段 %s 验证失败", fieldErr.Field()))
		}
		return
	}
	response.BadRequest(c, "请求参数格式错误")
}

// parseID 解析路径中的ID参数
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "ID格式错误")
		return 0, false
	}
	return uint(id), true
}
