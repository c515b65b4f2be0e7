// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"chatmate-server/internal/middleware"
	"chatmate-server/internal/service"
	"chatmate-server/pkg/jwt"
	"chatmate-server/pkg/logger"
	"chatmate-server/pkg/response"
	"chatmate-server/pkg/util"
)

// AuthHandler 认证请求处理器
// 处理用户注册、登录、刷新和登出
type AuthHandler struct {
	authService *service.AuthService
	jwtService  *jwt.JWTService
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(authService *service.AuthService, jwtService *jwt.JWTService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		jwtService:  jwtService,
	}
}

// Register 用户注册，成功后直接返回 Token
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	// ShouldBindJSON 会自动验证 binding 标签中的规则
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrEmailExists) {
			response.UserExists(c)
			return
		}
		logger.Errorf("register %s failed: %v", req.Email, err)
		response.InternalError(c, "注册失败")
		return
	}

	response.SuccessWithMessage(c, "注册成功", result)
}

// Login 用户登录
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			response.UserNotFound(c)
		case errors.Is(err, service.ErrPasswordWrong):
			response.PasswordWrong(c)
		default:
			logger.Errorf("login %s failed: %v", req.Email, err)
			response.InternalError(c, "登录失败")
		}
		return
	}

	response.SuccessWithMessage(c, "登录成功", result)
}

// LogoutRequest 登出请求，可以同时作废 Refresh Token
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout 用户登出，将 Token 加入黑名单
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token, expireAt, ok := middleware.GetToken(c)
	if !ok {
		response.BadRequest(c, "无法获取 Token 信息")
		return
	}

	ctx := c.Request.Context()
	if err := h.authService.Logout(ctx, util.HashToken(token), expireAt); err != nil {
		logger.Errorf("logout failed: %v", err)
		response.InternalError(c, "登出失败")
		return
	}

	// 请求体可选
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		if claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken); err == nil && claims.ExpiresAt != nil {
			if err := h.authService.Logout(ctx, util.HashToken(req.RefreshToken), claims.ExpiresAt.Time); err != nil {
				logger.Warnf("revoke refresh token failed: %v", err)
			}
		}
	}

	response.SuccessWithMessage(c, "登出成功", nil)
}

// RefreshTokenRequest 刷新 Token 请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken 使用 Refresh Token 获取新的 Access Token
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	result, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.Unauthorized(c, "Refresh Token 无效或已过期")
		return
	}

	response.Success(c, result)
}
