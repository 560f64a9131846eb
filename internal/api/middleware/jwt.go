package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"taskmanager/internal/api/auth"
	"taskmanager/internal/model"
)

// TokenCookie 是登录后写入的令牌 Cookie 名称。
const TokenCookie = "token"

// UserResolver 根据令牌中的用户 ID 查询当前用户。
type UserResolver interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
}

// AuthMiddleware 校验 JWT，并将调用方身份写入上下文。
//
// 令牌优先取 "token" Cookie，其次取 Authorization: Bearer 头。
// 用户身份（是否管理员、邮箱）以数据库中的当前记录为准；
// 不存在或已停用的用户一律拒绝。
//
// 写入上下文的键: userID (uint)、isAdmin (bool)、email (string)。
func AuthMiddleware(jwtSecret string, users UserResolver) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			abortUnauthorized(c, "Not authorized. No token provided.")
			return
		}

		uid, err := auth.ParseToken(secret, tokenStr)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortUnauthorized(c, "Token expired. Please login again.")
				return
			}
			abortUnauthorized(c, "Not authorized. Try login again.")
			return
		}

		user, err := users.FindByID(c.Request.Context(), uid)
		if err != nil || user == nil {
			abortUnauthorized(c, "User not found.")
			return
		}
		if !user.IsActive {
			abortUnauthorized(c, "User account has been deactivated.")
			return
		}

		c.Set("userID", user.ID)
		c.Set("isAdmin", user.IsAdmin)
		c.Set("email", user.Email)
		c.Next()
	}
}

// AdminOnly 只允许管理员继续访问，必须放在 AuthMiddleware 之后。
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("isAdmin") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"status":  false,
				"message": "Not authorized as admin. Try login as admin.",
			})
			return
		}
		c.Next()
	}
}

// CallerFrom 从上下文中取出已认证的调用方。
func CallerFrom(c *gin.Context) model.Caller {
	return model.Caller{
		UserID:  c.GetUint("userID"),
		Email:   c.GetString("email"),
		IsAdmin: c.GetBool("isAdmin"),
	}
}

func extractToken(c *gin.Context) string {
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": false, "message": message})
}
