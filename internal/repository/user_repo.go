package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"chatmate-server/internal/model"
)

// UserRepository 用户数据访问层
// 负责 users 表的读写
type UserRepository struct {
	db *gorm.DB // GORM 数据库连接实例
}

// NewUserRepository 创建 UserRepository 实例
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 创建新用户
// 邮箱已存在时返回 ErrEmailExists
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	exists, err := r.ExistsByEmail(ctx, user.Email)
	if err != nil {
		return err
	}
	if exists {
		return ErrEmailExists
	}
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID 根据 ID 获取用户
// 返回:
//   - *model.User: 用户对象，未找到返回 nil
//   - error: 数据库错误
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByEmail 根据邮箱获取用户
// 用于登录验证
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ExistsByEmail 检查邮箱是否已注册
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

// UpdateLastLogin 记录最近登录时间
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error
}

// UpdateProfile 更新显示名称、头像或密码
// 只更新非 nil 的字段
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) error {
	fields := map[string]interface{}{}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	if upd.PhotoURL != nil {
		fields["photo_url"] = *upd.PhotoURL
	}
	if upd.PasswordHash != nil {
		fields["password_hash"] = *upd.PasswordHash
	}
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}
