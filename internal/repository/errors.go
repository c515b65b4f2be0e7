// Package repository 提供数据访问层的实现
// 包含基于 GORM 的 MySQL 实现和进程内的内存实现
package repository

import "errors"

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmailExists     = errors.New("email already registered")
)

// MessageUpdate 消息的可更新字段，nil 表示不修改
type MessageUpdate struct {
	Text         *string
	IsGenerating *bool
}

// ProfileUpdate 用户资料的可更新字段，nil 表示不修改
type ProfileUpdate struct {
	Name         *string
	PhotoURL     *string
	PasswordHash *string
}
