// Package middleware 提供 HTTP 请求的中间件
// 包括 JWT 认证、CORS 跨域、日志记录等
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatmate-server/internal/model"
	"chatmate-server/pkg/jwt"
	"chatmate-server/pkg/response"
	"chatmate-server/pkg/util"
)

// 上下文中的键
const (
	ctxUserID   = "user_id"
	ctxEmail    = "email"
	ctxName     = "name"
	ctxToken    = "token"
	ctxTokenExp = "token_exp"
)

// TokenChecker 检查 Token 是否已登出
type TokenChecker interface {
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
}

// AuthMiddleware 创建 JWT 认证中间件
// 验证 Bearer Token（WebSocket 握手时也接受 ?token= 参数），并将身份信息存入上下文
// 参数:
//   - jwtService: JWT 服务实例，用于解析和验证 Token
//   - checker: 黑名单检查
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func AuthMiddleware(jwtService *jwt.JWTService, checker TokenChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		// 签名、过期时间和 Token 类型，Refresh Token 不能访问接口
		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token 无效或已过期")
			c.Abort()
			return
		}

		// 用户登出后 Token 进入黑名单
		if checker.IsTokenBlacklisted(c.Request.Context(), util.HashToken(tokenString)) {
			response.Unauthorized(c, "Token 已失效，请重新登录")
			c.Abort()
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxName, claims.Name)
		c.Set(ctxToken, tokenString)
		if claims.ExpiresAt != nil {
			c.Set(ctxTokenExp, claims.ExpiresAt.Time)
		}

		c.Next()
	}
}

// extractToken 读取 Authorization: Bearer <token>，没有时读取 token 查询参数
func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query("token")
		return token, token != ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUserID 从上下文获取用户 ID，未认证返回空字符串
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// GetIdentity 从上下文构造身份信息，未认证返回 nil
func GetIdentity(c *gin.Context) *model.Identity {
	userID := GetUserID(c)
	if userID == "" {
		return nil
	}
	return model.NewIdentity(userID, c.GetString(ctxEmail), c.GetString(ctxName))
}

// GetToken 当前请求使用的 Token 及其过期时间
func GetToken(c *gin.Context) (string, time.Time, bool) {
	token := c.GetString(ctxToken)
	if token == "" {
		return "", time.Time{}, false
	}
	return token, c.GetTime(ctxTokenExp), true
}
