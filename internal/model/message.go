package model

import (
	"time"
)

// MessageRole 消息角色常量
const (
	MessageRoleUser      = "user"      // 用户消息
	MessageRoleAssistant = "assistant" // AI 助手响应
	MessageRoleSystem    = "system"    // 系统消息
)

// WelcomeMessageID 欢迎语的保留ID
// 欢迎语不落库，构建对话上下文时按此ID排除
const WelcomeMessageID = "welcome"

// Message 消息模型
// 对应数据库表 messages，逻辑路径 users/{ownerId}/chats/{chatId}/messages/{messageId}
type Message struct {
	// ID 消息唯一标识，由存储层生成
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Seq 写入序号，仅用于同一时间戳下的稳定排序
	Seq int64 `gorm:"autoIncrement;uniqueIndex" json:"-"`

	// ChatID 所属会话ID
	ChatID string `gorm:"size:36;index:idx_messages_chat_ts,priority:1;not null" json:"chat_id"`

	// UserID 所属用户ID
	UserID string `gorm:"size:36;index;not null" json:"user_id"`

	// Text 消息内容
	Text string `gorm:"type:text;not null" json:"text"`

	// IsUser 是否为用户发送
	IsUser bool `gorm:"not null" json:"is_user"`

	// IsGenerating 回复是否仍在生成中
	IsGenerating bool `gorm:"not null;default:false" json:"is_generating,omitempty"`

	// Timestamp 服务端写入时间，会话内消息按它排序
	Timestamp time.Time `gorm:"type:datetime(6);index:idx_messages_chat_ts,priority:2" json:"timestamp"`

	// CreatedAt 创建时间
	CreatedAt time.Time `gorm:"type:datetime(6)" json:"created_at"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `gorm:"type:datetime(6)" json:"updated_at"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}

// Role 返回消息在对话上下文中的角色
func (m *Message) Role() string {
	if m.IsUser {
		return MessageRoleUser
	}
	return MessageRoleAssistant
}

// IsWelcome 是否为不落库的欢迎语
func (m *Message) IsWelcome() bool {
	return m.ID == WelcomeMessageID
}

// NewWelcomeMessage 构造欢迎语
func NewWelcomeMessage(chatID, text string) *Message {
	now := time.Now()
	return &Message{
		ID:        WelcomeMessageID,
		ChatID:    chatID,
		Text:      text,
		IsUser:    false,
		Timestamp: now,
		CreatedAt: now,
	}
}

// Turn 发送给补全接口的一轮对话
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
