package handlers

import (
	"polity/internal/middleware"
	"polity/internal/services"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthorityHandler 权威分布接口
type AuthorityHandler struct {
	authority *services.AuthorityService
}

func NewAuthorityHandler(authority *services.AuthorityService) *AuthorityHandler {
	return &AuthorityHandler{authority: authority}
}

// AuthorityEntryRequest 单个成员的权威
type AuthorityEntryRequest struct {
	UserID           uint    `json:"user_id" binding:"required"`
	AuthorityPercent float64 `json:"authority_percent" binding:"gte=0,lte=100"`
}

// SetAuthorityRequest 覆盖权威分布
type SetAuthorityRequest struct {
	Members []AuthorityEntryRequest `json:"members" binding:"required,min=1,dive"`
}

// Get 当前权威分布
func (h *AuthorityHandler) Get(c *gin.Context) {
	dist, err := h.authority.GetDistribution(middleware.TenantScope(c))
	if err != nil {
		handleError(c, err, "查询权威分布")
		return
	}
	response.Success(c, dist)
}

// Set 管理员覆盖权威分布
func (h *AuthorityHandler) Set(c *gin.Context) {
	var req SetAuthorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	percents := make(map[uint]float64, len(req.Members))
	for _, m := range req.Members {
		if _, dup := percents[m.UserID]; dup {
			response.BadRequest(c, "成员重复")
			return
		}
		percents[m.UserID] = m.AuthorityPercent
	}

	scope := middleware.TenantScope(c)
	if err := h.authority.SetDistribution(c.Request.Context(), scope, percents); err != nil {
		handleError(c, err, "设置权威分布")
		return
	}
	dist, err := h.authority.GetDistribution(scope)
	if err != nil {
		handleError(c, err, "查询权威分布")
		return
	}
	response.Success(c, dist)
}
