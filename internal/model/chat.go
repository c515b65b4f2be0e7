package model

import (
	"time"
)

// Chat 聊天会话模型
// 对应数据库表 chats，逻辑路径 users/{ownerId}/chats/{chatId}
// 只有 MessageCount > 0 的会话才会出现在会话列表中
type Chat struct {
	// ID 会话唯一标识，由存储层生成
	ID string `gorm:"primaryKey;size:36" json:"chat_id"`

	// UserID 所属用户ID
	UserID string `gorm:"size:36;index:idx_chats_user_activity,priority:1;not null" json:"user_id"`

	// Title 会话标题，默认为空
	Title string `gorm:"size:200" json:"title"`

	// LastText 最后一条消息的文本缓存，用于列表展示
	LastText string `gorm:"type:text" json:"last_text"`

	// MessageCount 会话内消息数量
	// 每次追加消息时在同一事务中 +1，清空时归零
	MessageCount int `gorm:"not null;default:0" json:"message_count"`

	// CreatedAt 创建时间
	CreatedAt time.Time `gorm:"type:datetime(6)" json:"created_at"`

	// LastActivity 最后活跃时间，列表按它倒序排列
	LastActivity time.Time `gorm:"type:datetime(6);index:idx_chats_user_activity,priority:2" json:"last_activity"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `gorm:"type:datetime(6)" json:"updated_at"`
}

// TableName 指定表名
func (Chat) TableName() string {
	return "chats"
}

// ChatTopic 会话列表变更通知的主题
func ChatTopic(ownerID string) string {
	return "chat:" + ownerID + ":list"
}

// MessageTopic 某个会话消息变更通知的主题
func MessageTopic(ownerID, chatID string) string {
	return "chat:" + ownerID + ":" + chatID + ":messages"
}
