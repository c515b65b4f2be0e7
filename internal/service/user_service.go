package service

import (
	"context"
	"strings"

	"chatmate-server/internal/model"
	"chatmate-server/internal/repository"
	"chatmate-server/pkg/util"
)

// UserService 用户服务
// 处理用户资料的查询和更新
type UserService struct {
	users UserStore
}

// NewUserService 创建 UserService 实例
func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

// GetProfile 获取用户资料
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//
// 返回:
//   - *model.User: 用户信息
//   - error: 用户不存在返回 ErrUserNotFound
func (s *UserService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfileRequest 更新用户资料请求
type UpdateProfileRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=100"`  // 显示名称
	PhotoURL *string `json:"photo_url" binding:"omitempty,url"` // 头像 URL
}

// UpdateProfile 更新用户资料，只修改请求中出现的字段
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*model.User, error) {
	if _, err := s.GetProfile(ctx, userID); err != nil {
		return nil, err
	}

	upd := repository.ProfileUpdate{PhotoURL: req.PhotoURL}
	if req.Name != nil {
		upd.Name = util.StringPtr(strings.TrimSpace(*req.Name))
	}
	if upd.Name == nil && upd.PhotoURL == nil {
		return s.GetProfile(ctx, userID)
	}

	if err := s.users.UpdateProfile(ctx, userID, upd); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`       // 旧密码
	NewPassword string `json:"new_password" binding:"required,min=6"` // 新密码
}

// ChangePassword 修改密码
// 返回:
//   - error: 旧密码错误返回 ErrPasswordWrong
func (s *UserService) ChangePassword(ctx context.Context, userID string, req *ChangePasswordRequest) error {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	if !util.CheckPassword(req.OldPassword, user.PasswordHash) {
		return ErrPasswordWrong
	}

	newHash, err := util.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.users.UpdateProfile(ctx, userID, repository.ProfileUpdate{PasswordHash: &newHash})
}
