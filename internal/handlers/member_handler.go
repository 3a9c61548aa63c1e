package handlers

import (
	"polity/internal/middleware"
	"polity/internal/models"
	"polity/internal/services"
	"polity/pkg/pagination"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// MemberHandler 成员接口
type MemberHandler struct {
	members *services.MemberService
}

func NewMemberHandler(members *services.MemberService) *MemberHandler {
	return &MemberHandler{members: members}
}

// AddMemberRequest 添加成员
type AddMemberRequest struct {
	UserID             uint   `json:"user_id" binding:"required"`
	Role               string `json:"role" binding:"omitempty,oneof=member observer"`
	IsTenantAdmin      bool   `json:"is_tenant_admin"`
	LanguagePreference string `json:"language_preference" binding:"max=10"`
}

// List 分页查询成员
func (h *MemberHandler) List(c *gin.Context) {
	pageParams := pagination.ParsePageParams(c)
	members, total, err := h.members.List(middleware.TenantScope(c), c.Query("role"), pageParams)
	if err != nil {
		handleError(c, err, "查询成员")
		return
	}
	response.Paged(c, members, pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total))
}

// Me 当前用户在租户中的成员身份
func (h *MemberHandler) Me(c *gin.Context) {
	membership, err := h.members.GetMembership(middleware.TenantScope(c), middleware.CurrentUserID(c))
	if err != nil {
		handleError(c, err, "查询成员")
		return
	}
	response.Success(c, membership)
}

// Add 添加成员
func (h *MemberHandler) Add(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	membership, err := h.members.AddMember(c.Request.Context(), middleware.TenantScope(c), services.AddMemberInput{
		UserID:             req.UserID,
		Role:               models.MemberRole(req.Role),
		IsTenantAdmin:      req.IsTenantAdmin,
		LanguagePreference: req.LanguagePreference,
	})
	if err != nil {
		handleError(c, err, "添加成员")
		return
	}
	response.Success(c, membership)
}

// Remove 移除成员
func (h *MemberHandler) Remove(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	if err := h.members.RemoveMember(c.Request.Context(), middleware.TenantScope(c), userID); err != nil {
		handleError(c, err, "移除成员")
		return
	}
	response.Message(c, "成员已移除", nil)
}
