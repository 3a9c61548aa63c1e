package handlers

import (
	"polity/internal/middleware"
	"polity/internal/services"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// CreateUserRequest 创建用户
type CreateUserRequest struct {
	Username        string `json:"username" binding:"required,min=3,max=50"`
	Email           string `json:"email" binding:"required,email"`
	Name            string `json:"name" binding:"required,max=100"`
	IsPlatformAdmin bool   `json:"is_platform_admin"`
}

// UserHandler 用户接口
type UserHandler struct {
	service *services.UserService
}

func NewUserHandler(service *services.UserService) *UserHandler {
	return &UserHandler{service: service}
}

// Create 创建用户（平台管理员）
func (h *UserHandler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	user, err := h.service.Create(services.CreateUserInput{
		Username:        req.Username,
		Email:           req.Email,
		Name:            req.Name,
		IsPlatformAdmin: req.IsPlatformAdmin,
	})
	if err != nil {
		handleError(c, err, "创建用户")
		return
	}
	response.Success(c, user)
}

// GetByID 获取用户
func (h *UserHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	user, err := h.service.GetByID(id)
	if err != nil {
		handleError(c, err, "查询用户")
		return
	}
	response.Success(c, user)
}

// Profile 当前登录用户及其在当前租户的成员身份
func (h *UserHandler) Profile(c *gin.Context) {
	user, err := h.service.GetByID(middleware.CurrentUserID(c))
	if err != nil {
		handleError(c, err, "查询用户")
		return
	}
	response.Success(c, gin.H{
		"user":       user,
		"tenant":     middleware.CurrentTenant(c),
		"membership": middleware.CurrentMembership(c),
	})
}
