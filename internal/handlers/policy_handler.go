package handlers

import (
	"polity/internal/middleware"
	"polity/internal/services"
	"polity/pkg/pagination"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// PolicyHandler 政策接口
type PolicyHandler struct {
	policies *services.PolicyService
}

func NewPolicyHandler(policies *services.PolicyService) *PolicyHandler {
	return &PolicyHandler{policies: policies}
}

// CreatePolicyRequest 创建政策草稿
type CreatePolicyRequest struct {
	Title string `json:"title" binding:"required,min=1,max=200"`
	Body  string `json:"body" binding:"max=20000"`
}

// List 分页查询政策
func (h *PolicyHandler) List(c *gin.Context) {
	pageParams := pagination.ParsePageParams(c)
	policies, total, err := h.policies.List(middleware.TenantScope(c), c.Query("status"), pageParams)
	if err != nil {
		handleError(c, err, "查询政策")
		return
	}
	response.Paged(c, policies, pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total))
}

// Create 创建政策草稿
func (h *PolicyHandler) Create(c *gin.Context) {
	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	policy, err := h.policies.Create(middleware.TenantScope(c), services.CreatePolicyInput{
		Title:       req.Title,
		Body:        req.Body,
		OwnerUserID: middleware.CurrentUserID(c),
	})
	if err != nil {
		handleError(c, err, "创建政策")
		return
	}
	response.Success(c, policy)
}

// Get 政策详情
func (h *PolicyHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	policy, err := h.policies.GetByID(middleware.TenantScope(c), id)
	if err != nil {
		handleError(c, err, "查询政策")
		return
	}
	response.Success(c, policy)
}

// Active 当前生效的政策
func (h *PolicyHandler) Active(c *gin.Context) {
	policy, err := h.policies.GetActive(middleware.TenantScope(c))
	if err != nil {
		handleError(c, err, "查询生效政策")
		return
	}
	response.Success(c, policy)
}
