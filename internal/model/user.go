// Package model 定义了与数据库表对应的数据结构
// 以及在各层之间传递的内存对象
package model

import (
	"time"
)

// DefaultDisplayName 身份信息缺少昵称时使用的显示名
const DefaultDisplayName = "使用者"

// User 用户模型
// 对应数据库表 users
// 存储用户的基本信息，包括认证凭据
type User struct {
	// ID 用户唯一标识（uuid 字符串），即文档路径 users/{ownerId} 中的 ownerId
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Email 用户邮箱，用于登录，全局唯一
	Email string `gorm:"size:100;uniqueIndex;not null" json:"email"`

	// Name 显示名称
	Name string `gorm:"size:100" json:"name"`

	// PhotoURL 头像地址，可选
	PhotoURL *string `gorm:"size:500" json:"photo_url,omitempty"`

	// PasswordHash 密码的 bcrypt 哈希值
	// 永远不要存储明文密码！
	PasswordHash string `gorm:"size:255;not null" json:"-"`

	// CreatedAt 创建时间，由 GORM 自动填充
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// LastLoginAt 最近一次登录时间
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// UpdatedAt 更新时间，由 GORM 自动更新
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
// GORM 会使用这个方法返回的表名，而不是默认的复数形式
func (User) TableName() string {
	return "users"
}

// Identity 已认证用户的身份信息
// 由认证中间件根据 Token 构造，显式传入各个会话组件
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// NewIdentity 构造身份信息，昵称为空时使用默认显示名
func NewIdentity(id, email, name string) *Identity {
	if name == "" {
		name = DefaultDisplayName
	}
	return &Identity{ID: id, Email: email, Name: name}
}
