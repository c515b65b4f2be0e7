// Package store 实现分层文档存储 users/{ownerId}/chats/{chatId}/messages/{messageId}
//
// 写操作委托给 repository 层的事务实现，写入成功后在变更主题上发布通知。
// 订阅方收到通知后重新查询，投递完整的有序快照（整体替换，不是增量补丁）。
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatmate-server/internal/model"
	"chatmate-server/internal/repository"
	"chatmate-server/pkg/logger"
	"chatmate-server/pkg/util"
)

var (
	ErrChatNotFound    = repository.ErrChatNotFound
	ErrMessageNotFound = repository.ErrMessageNotFound
	ErrInvalidArgument = errors.New("invalid argument")
)

// ChatBackend 会话表的持久化实现
type ChatBackend interface {
	CreateChat(ctx context.Context, chat *model.Chat) error
	GetChat(ctx context.Context, ownerID, chatID string) (*model.Chat, error)
	UpdateChatTitle(ctx context.Context, ownerID, chatID, title string, at time.Time) error
	ListActiveChats(ctx context.Context, ownerID string) ([]*model.Chat, error)
	DeleteChats(ctx context.Context, ownerID string, chatIDs []string) (int64, error)
}

// MessageBackend 消息表的持久化实现
// AppendMessage 与 ClearMessages 必须在单个事务中同时维护父会话字段
type MessageBackend interface {
	AppendMessage(ctx context.Context, msg *model.Message) error
	UpdateMessage(ctx context.Context, ownerID, chatID, messageID string, upd repository.MessageUpdate, at time.Time) error
	ListMessages(ctx context.Context, ownerID, chatID string) ([]*model.Message, error)
	ClearMessages(ctx context.Context, ownerID, chatID string, at time.Time) error
}

// Notifier 变更通知通道
// WatchChanges 返回前订阅必须已经生效
type Notifier interface {
	NotifyChange(ctx context.Context, topic string) error
	WatchChanges(ctx context.Context, topic string) (<-chan struct{}, func(), error)
}

// DocumentStore 文档存储适配器
type DocumentStore struct {
	chats    ChatBackend
	messages MessageBackend
	notifier Notifier
	now      func() time.Time
}

// New 创建文档存储
func New(chats ChatBackend, messages MessageBackend, notifier Notifier) *DocumentStore {
	return &DocumentStore{
		chats:    chats,
		messages: messages,
		notifier: notifier,
		now:      time.Now,
	}
}

// ==================== 会话 ====================

// CreateSession 为用户分配一个新会话，初始消息数为 0
// 返回:
//   - string: 新会话ID
//   - error: 存储错误
func (s *DocumentStore) CreateSession(ctx context.Context, ownerID string) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("create session: %w: empty owner id", ErrInvalidArgument)
	}

	now := s.now()
	chat := &model.Chat{
		ID:           util.GenerateUUID(),
		UserID:       ownerID,
		MessageCount: 0,
		CreatedAt:    now,
		LastActivity: now,
		UpdatedAt:    now,
	}
	if err := s.chats.CreateChat(ctx, chat); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	// 空会话不出现在列表中，无需通知列表订阅方
	return chat.ID, nil
}

// GetSession 获取会话
// 会话不存在时返回 ErrChatNotFound
func (s *DocumentStore) GetSession(ctx context.Context, ownerID, chatID string) (*model.Chat, error) {
	chat, err := s.chats.GetChat(ctx, ownerID, chatID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", chatID, err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

// SessionExists 检查会话是否存在
func (s *DocumentStore) SessionExists(ctx context.Context, ownerID, chatID string) (bool, error) {
	chat, err := s.chats.GetChat(ctx, ownerID, chatID)
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", chatID, err)
	}
	return chat != nil, nil
}

// UpdateSessionTitle 修改会话标题
func (s *DocumentStore) UpdateSessionTitle(ctx context.Context, ownerID, chatID, title string) error {
	if err := s.chats.UpdateChatTitle(ctx, ownerID, chatID, strings.TrimSpace(title), s.now()); err != nil {
		return fmt.Errorf("update session %s: %w", chatID, err)
	}
	s.notify(ctx, model.ChatTopic(ownerID))
	return nil
}

// ListSessions 获取会话列表（仅有消息的会话，按最后活跃时间倒序）
func (s *DocumentStore) ListSessions(ctx context.Context, ownerID string) ([]*model.Chat, error) {
	chats, err := s.chats.ListActiveChats(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return chats, nil
}

// DeleteSession 删除会话及其全部消息
func (s *DocumentStore) DeleteSession(ctx context.Context, ownerID, chatID string) error {
	n, err := s.DeleteSessions(ctx, ownerID, []string{chatID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteSessions 批量删除会话，不存在的ID被忽略
// 返回:
//   - int64: 实际删除的数量
func (s *DocumentStore) DeleteSessions(ctx context.Context, ownerID string, chatIDs []string) (int64, error) {
	n, err := s.chats.DeleteChats(ctx, ownerID, chatIDs)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	if n > 0 {
		s.notify(ctx, model.ChatTopic(ownerID))
		for _, id := range chatIDs {
			s.notify(ctx, model.MessageTopic(ownerID, id))
		}
	}
	return n, nil
}

// ==================== 消息 ====================

// AddMessage 追加一条消息
// 消息插入与父会话的 lastText / lastActivity / messageCount+1 在同一事务中完成
// 返回:
//   - string: 新消息ID
//   - error: 会话不存在时为 ErrChatNotFound
func (s *DocumentStore) AddMessage(ctx context.Context, ownerID, chatID, text string, isUser bool) (string, error) {
	if ownerID == "" || chatID == "" {
		return "", fmt.Errorf("add message: %w: empty owner or chat id", ErrInvalidArgument)
	}

	now := s.now()
	msg := &model.Message{
		ID:        util.GenerateUUID(),
		ChatID:    chatID,
		UserID:    ownerID,
		Text:      text,
		IsUser:    isUser,
		Timestamp: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("add message to %s: %w", chatID, err)
	}

	s.notify(ctx, model.MessageTopic(ownerID, chatID))
	s.notify(ctx, model.ChatTopic(ownerID))
	return msg.ID, nil
}

// UpdateMessage 更新消息文本或生成中标记
func (s *DocumentStore) UpdateMessage(ctx context.Context, ownerID, chatID, messageID string, upd repository.MessageUpdate) error {
	if err := s.messages.UpdateMessage(ctx, ownerID, chatID, messageID, upd, s.now()); err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}
	s.notify(ctx, model.MessageTopic(ownerID, chatID))
	return nil
}

// ListMessages 获取会话全部消息，按时间戳正序
func (s *DocumentStore) ListMessages(ctx context.Context, ownerID, chatID string) ([]*model.Message, error) {
	msgs, err := s.messages.ListMessages(ctx, ownerID, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	return msgs, nil
}

// ClearMessages 删除会话的全部消息并把计数归零
func (s *DocumentStore) ClearMessages(ctx context.Context, ownerID, chatID string) error {
	if err := s.messages.ClearMessages(ctx, ownerID, chatID, s.now()); err != nil {
		return fmt.Errorf("clear messages of %s: %w", chatID, err)
	}
	s.notify(ctx, model.MessageTopic(ownerID, chatID))
	s.notify(ctx, model.ChatTopic(ownerID))
	return nil
}

// notify 发布变更通知
// 写入已经提交，通知失败只记录日志，不影响写操作的结果
func (s *DocumentStore) notify(ctx context.Context, topic string) {
	if err := s.notifier.NotifyChange(context.WithoutCancel(ctx), topic); err != nil {
		logger.Warnf("publish change on %s failed: %v", topic, err)
	}
}
