package handlers

import (
	"polity/internal/services"
	"polity/pkg/pagination"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// CreateTenantRequest 请求结构体
type CreateTenantRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Hostname string `json:"hostname" binding:"required,max=255"`
	Language string `json:"language" binding:"omitempty,max=10"`
}

// TenantHandler 租户管理（平台管理员）
type TenantHandler struct {
	service *services.TenantService
}

func NewTenantHandler(service *services.TenantService) *TenantHandler {
	return &TenantHandler{
		service: service,
	}
}

// Create 创建租户
func (h *TenantHandler) Create(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	tenant, err := h.service.Create(services.CreateTenantInput{
		Name:     req.Name,
		Hostname: req.Hostname,
		Language: req.Language,
	})
	if err != nil {
		handleError(c, err, "创建租户")
		return
	}
	response.Success(c, tenant)
}

// GetByID 获取租户
func (h *TenantHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	tenant, err := h.service.GetByID(id)
	if err != nil {
		handleError(c, err, "查询租户")
		return
	}
	response.Success(c, tenant)
}

// GetAll 分页查询，支持按状态筛选、关键词搜索
func (h *TenantHandler) GetAll(c *gin.Context) {
	pageParams := pagination.ParsePageParams(c)

	tenants, total, err := h.service.GetWithFiltersAndPage(c.Query("status"), c.Query("keyword"), pageParams)
	if err != nil {
		handleError(c, err, "查询租户")
		return
	}

	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.Paged(c, tenants, pageInfo)
}

// Activate 激活租户
func (h *TenantHandler) Activate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	tenant, err := h.service.Activate(id)
	if err != nil {
		handleError(c, err, "激活租户")
		return
	}
	response.Message(c, "租户已激活", tenant)
}

// Deactivate 停用租户
func (h *TenantHandler) Deactivate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	tenant, err := h.service.Deactivate(id)
	if err != nil {
		handleError(c, err, "停用租户")
		return
	}
	response.Message(c, "租户已停用", tenant)
}

// GetStats 租户统计
func (h *TenantHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats()
	if err != nil {
		handleError(c, err, "获取统计信息")
		return
	}
	response.Success(c, stats)
}
