package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"chatmate-server/internal/middleware"
	"chatmate-server/internal/service"
	"chatmate-server/pkg/response"
)

// ConnectionCounter 统计用户在线的 WebSocket 连接
type ConnectionCounter interface {
	CountConnections(ctx context.Context, ownerID string) (int64, error)
}

// UserHandler 用户请求处理器
type UserHandler struct {
	userService *service.UserService
	presence    ConnectionCounter
}

// NewUserHandler 创建 UserHandler 实例
func NewUserHandler(userService *service.UserService, presence ConnectionCounter) *UserHandler {
	return &UserHandler{
		userService: userService,
		presence:    presence,
	}
}

// GetProfile 获取当前用户资料
// @Router /api/v1/user/profile [get]
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, err := h.userService.GetProfile(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.UserNotFound(c)
			return
		}
		respondError(c, err, "获取用户信息失败")
		return
	}

	response.Success(c, user)
}

// UpdateProfile 更新显示名称和头像
// @Router /api/v1/user/profile [put]
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	user, err := h.userService.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.UserNotFound(c)
			return
		}
		respondError(c, err, "更新用户信息失败")
		return
	}

	response.Success(c, user)
}

// ChangePassword 修改密码
// @Router /api/v1/user/password [put]
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req service.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	err := h.userService.ChangePassword(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			response.UserNotFound(c)
		case errors.Is(err, service.ErrPasswordWrong):
			response.ErrorWithCode(c, 400, response.CodePasswordWrong, "旧密码错误")
		default:
			respondError(c, err, "修改密码失败")
		}
		return
	}

	response.SuccessWithMessage(c, "密码修改成功", nil)
}

// Connections 当前用户在所有实例上的 WebSocket 连接数
// @Router /api/v1/user/connections [get]
func (h *UserHandler) Connections(c *gin.Context) {
	n, err := h.presence.CountConnections(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err, "获取在线状态失败")
		return
	}

	response.Success(c, gin.H{"connections": n})
}
