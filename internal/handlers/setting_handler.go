package handlers

import (
	"polity/internal/middleware"
	"polity/internal/models"
	"polity/internal/services"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// SettingHandler 租户设置接口
type SettingHandler struct {
	settings *services.SettingsService
}

func NewSettingHandler(settings *services.SettingsService) *SettingHandler {
	return &SettingHandler{settings: settings}
}

// UpdateSettingRequest 更新租户设置
type UpdateSettingRequest struct {
	Value *float64 `json:"value" binding:"required"`
}

// List 租户可见的设置及生效值
func (h *SettingHandler) List(c *gin.Context) {
	settings, err := h.settings.ListSettings(middleware.TenantScope(c))
	if err != nil {
		handleError(c, err, "查询设置")
		return
	}
	response.Success(c, settings)
}

// Update 设置租户级别的值
func (h *SettingHandler) Update(c *gin.Context) {
	key := models.SettingKey(c.Param("key"))
	if !key.Valid() {
		response.BadRequest(c, "未知设置项")
		return
	}
	var req UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	setting, err := h.settings.SetTenantSetting(middleware.TenantScope(c), key, *req.Value)
	if err != nil {
		handleError(c, err, "更新设置")
		return
	}
	response.Success(c, setting)
}
