package middleware

import (
	"errors"
	"strings"

	"polity/internal/models"
	"polity/internal/services"
	"polity/pkg/jwt"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 认证与权限中间件
type AuthMiddleware struct {
	userService   *services.UserService
	memberService *services.MemberService
	jwtManager    *jwt.JWTManager
}

func NewAuthMiddleware(userService *services.UserService, memberService *services.MemberService, jwtManager *jwt.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{
		userService:   userService,
		memberService: memberService,
		jwtManager:    jwtManager,
	}
}

// RequireLogin 校验令牌。已解析租户时，令牌必须属于该租户（平台管理员除外），
// 并加载当前用户的成员身份
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "认证头格式错误")
			c.Abort()
			return
		}

		claims, err := m.jwtManager.VerifyToken(authHeader[7:])
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}

		user, err := m.userService.GetByID(claims.UserID)
		if err != nil {
			response.Unauthorized(c, "用户不存在")
			c.Abort()
			return
		}
		if user.Status != models.UserStatusActive {
			response.Unauthorized(c, "用户已被禁用")
			c.Abort()
			return
		}

		if tenant := CurrentTenant(c); tenant != nil {
			if claims.TenantID != tenant.ID && !user.IsPlatformAdmin {
				response.Unauthorized(c, "令牌不属于当前租户")
				c.Abort()
				return
			}
			membership, err := m.memberService.GetMembership(TenantScope(c), user.ID)
			switch {
			case err == nil:
				c.Set(ContextMembership, membership)
			case !errors.Is(err, services.ErrNotFound):
				response.ServerError(c, "加载成员信息失败")
				c.Abort()
				return
			}
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// RequireMember 要求是当前租户的成员（观察者也可以），平台管理员放行
func (m *AuthMiddleware) RequireMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPlatformAdmin(c) || CurrentMembership(c) != nil {
			c.Next()
			return
		}
		response.Forbidden(c, "不是该租户的成员")
		c.Abort()
	}
}

// RequireTenantAdmin 要求租户管理员
func (m *AuthMiddleware) RequireTenantAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPlatformAdmin(c) {
			c.Next()
			return
		}
		if membership := CurrentMembership(c); membership != nil && membership.IsTenantAdmin {
			c.Next()
			return
		}
		response.Forbidden(c, "需要管理员权限")
		c.Abort()
	}
}

// RequirePlatformAdmin 要求平台管理员
func (m *AuthMiddleware) RequirePlatformAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextUser); !exists {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}
		if !isPlatformAdmin(c) {
			response.Forbidden(c, "需要平台管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

func isPlatformAdmin(c *gin.Context) bool {
	user, ok := c.Get(ContextUser)
	return ok && user.(*models.User).IsPlatformAdmin
}
