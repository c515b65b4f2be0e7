package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatmate-server/internal/model"
)

// ChatRepository 会话数据访问层
// 负责 chats 表的读写，删除会话时在同一事务中级联删除消息
type ChatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建 ChatRepository 实例
func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// CreateChat 创建新会话
// 参数:
//   - ctx: 上下文
//   - chat: 会话对象，ID 与时间字段由调用方填充
//
// 返回:
//   - error: 数据库错误
func (r *ChatRepository) CreateChat(ctx context.Context, chat *model.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

// GetChat 获取用户的某个会话
// 返回:
//   - *model.Chat: 会话对象，未找到返回 nil
//   - error: 数据库错误
func (r *ChatRepository) GetChat(ctx context.Context, ownerID, chatID string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, ownerID).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &chat, nil
}

// UpdateChatTitle 修改会话标题
// 会话不存在时返回 ErrChatNotFound
func (r *ChatRepository) UpdateChatTitle(ctx context.Context, ownerID, chatID, title string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockChat(tx, ownerID, chatID); err != nil {
			return err
		}
		return tx.Model(&model.Chat{}).
			Where("id = ? AND user_id = ?", chatID, ownerID).
			Updates(map[string]interface{}{
				"title":      title,
				"updated_at": at,
			}).Error
	})
}

// ListActiveChats 获取用户的会话列表
// 只返回有消息的会话，按最后活跃时间倒序
func (r *ChatRepository) ListActiveChats(ctx context.Context, ownerID string) ([]*model.Chat, error) {
	var chats []*model.Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND message_count > 0", ownerID).
		Order("last_activity DESC").
		Find(&chats).Error
	return chats, err
}

// DeleteChats 批量删除会话及其全部消息
// 消息与会话在同一事务中删除，不存在的ID被忽略
// 返回:
//   - int64: 实际删除的会话数
//   - error: 数据库错误
func (r *ChatRepository) DeleteChats(ctx context.Context, ownerID string, chatIDs []string) (int64, error) {
	if len(chatIDs) == 0 {
		return 0, nil
	}

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND chat_id IN ?", ownerID, chatIDs).
			Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("user_id = ? AND id IN ?", ownerID, chatIDs).Delete(&model.Chat{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// lockChat 在事务中锁定会话行，会话不存在时返回 ErrChatNotFound
func lockChat(tx *gorm.DB, ownerID, chatID string) error {
	var chat model.Chat
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ? AND user_id = ?", chatID, ownerID).
		First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChatNotFound
	}
	return err
}
