package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"chatmate-server/internal/model"
)

// MessageRepository 消息数据访问层
// 追加、清空消息时在同一事务中维护父会话的计数与缓存字段
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建 MessageRepository 实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// AppendMessage 追加一条消息
// 在同一事务中：
//  1. 更新父会话的 last_text、last_activity，message_count 恰好 +1
//  2. 插入消息
//
// 父会话不存在时整个事务回滚并返回 ErrChatNotFound
func (r *MessageRepository) AppendMessage(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Chat{}).
			Where("id = ? AND user_id = ?", msg.ChatID, msg.UserID).
			Updates(map[string]interface{}{
				"last_text":     msg.Text,
				"last_activity": msg.Timestamp,
				"updated_at":    msg.Timestamp,
				"message_count": gorm.Expr("message_count + ?", 1),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrChatNotFound
		}
		return tx.Create(msg).Error
	})
}

// UpdateMessage 更新消息的文本或生成中标记
// 消息不存在时返回 ErrMessageNotFound
func (r *MessageRepository) UpdateMessage(ctx context.Context, ownerID, chatID, messageID string, upd MessageUpdate, at time.Time) error {
	fields := map[string]interface{}{"updated_at": at}
	if upd.Text != nil {
		fields["text"] = *upd.Text
	}
	if upd.IsGenerating != nil {
		fields["is_generating"] = *upd.IsGenerating
	}

	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND chat_id = ? AND user_id = ?", messageID, chatID, ownerID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessages 获取会话的全部消息
// 按时间戳正序，时间戳相同时按写入顺序
func (r *MessageRepository) ListMessages(ctx context.Context, ownerID, chatID string) ([]*model.Message, error) {
	var messages []*model.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, ownerID).
		Order("timestamp ASC").
		Order("seq ASC").
		Find(&messages).Error
	return messages, err
}

// ClearMessages 清空会话的全部消息
// 在同一事务中删除消息并把会话的计数与缓存字段归零
func (r *MessageRepository) ClearMessages(ctx context.Context, ownerID, chatID string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockChat(tx, ownerID, chatID); err != nil {
			return err
		}
		if err := tx.Where("chat_id = ? AND user_id = ?", chatID, ownerID).
			Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Chat{}).
			Where("id = ? AND user_id = ?", chatID, ownerID).
			Updates(map[string]interface{}{
				"message_count": 0,
				"last_text":     "",
				"updated_at":    at,
			}).Error
	})
}
