package middleware

import (
	"errors"

	"polity/internal/models"
	"polity/internal/services"
	"polity/internal/tenancy"
	pkgerrors "polity/pkg/errors"
	"polity/pkg/logger"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// 上下文键
const (
	ContextTenant     = "tenant"
	ContextTenantID   = "tenant_id"
	ContextUser       = "user"
	ContextUserID     = "user_id"
	ContextMembership = "membership"
	ContextClaims     = "claims"
)

// ResolveTenant 根据请求的 Host 解析租户，无法解析时按认证失败处理
func ResolveTenant(tenants *services.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, err := tenants.ResolveByHost(c.Request.Host)
		if err != nil {
			if errors.Is(err, tenancy.ErrTenantResolution) {
				response.Error(c, pkgerrors.CodeTenantResolution, "无法识别当前租户")
			} else {
				logger.GetLogger().WithError(err).Error("解析租户失败")
				response.ServerError(c, "解析租户失败")
			}
			c.Abort()
			return
		}

		c.Set(ContextTenant, tenant)
		c.Set(ContextTenantID, tenant.ID)
		c.Next()
	}
}

// TenantScope 当前请求的租户范围，未解析租户时返回空范围，服务层会拒绝
func TenantScope(c *gin.Context) tenancy.Scope {
	if id, ok := c.Get(ContextTenantID); ok {
		return tenancy.For(id.(uint))
	}
	return tenancy.Scope{}
}

// CurrentTenant 当前请求解析出的租户
func CurrentTenant(c *gin.Context) *models.Tenant {
	if t, ok := c.Get(ContextTenant); ok {
		return t.(*models.Tenant)
	}
	return nil
}

// CurrentUserID 当前登录用户ID
func CurrentUserID(c *gin.Context) uint {
	return c.GetUint(ContextUserID)
}

// CurrentMembership 当前用户在租户中的成员身份，可能为 nil（平台管理员）
func CurrentMembership(c *gin.Context) *models.Membership {
	if m, ok := c.Get(ContextMembership); ok {
		return m.(*models.Membership)
	}
	return nil
}
