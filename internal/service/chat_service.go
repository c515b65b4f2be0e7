package service

import (
	"context"
	"errors"

	"chatmate-server/internal/config"
	"chatmate-server/internal/model"
	"chatmate-server/internal/repository"
	"chatmate-server/internal/store"
	"chatmate-server/pkg/logger"
	"chatmate-server/pkg/util"
)

// ChatService REST 接口使用的会话服务
// 与 WebSocket 工作区共用同一个存储和发送守卫
type ChatService struct {
	store  *store.DocumentStore
	ex     *exchange
	prefs  *PreferenceService
	active ActiveChatStore
}

// NewChatService 创建 ChatService 实例
func NewChatService(st *store.DocumentStore, client CompletionClient, guard *SendGuard, prefs *PreferenceService, active ActiveChatStore, cfg config.ChatConfig) *ChatService {
	return &ChatService{
		store: st,
		ex: &exchange{
			store:    st,
			client:   client,
			guard:    guard,
			maxInput: cfg.MaxInputLength,
		},
		prefs:  prefs,
		active: active,
	}
}

// ==================== 会话 ====================

// ListChats 有消息的会话，按最后活跃时间倒序
func (s *ChatService) ListChats(ctx context.Context, ownerID string) ([]*model.Chat, error) {
	return s.store.ListSessions(ctx, ownerID)
}

// CreateChat 新建空会话，并记为当前会话
func (s *ChatService) CreateChat(ctx context.Context, ownerID string) (*model.Chat, error) {
	id, err := s.store.CreateSession(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if s.active != nil {
		if err := s.active.SetActiveChat(ctx, ownerID, id); err != nil {
			logger.Warnf("save active chat failed: %v", err)
		}
	}
	return s.store.GetSession(ctx, ownerID, id)
}

// GetChat 获取会话详情
// 返回:
//   - error: 不存在时为 ErrChatNotFound
func (s *ChatService) GetChat(ctx context.Context, ownerID, chatID string) (*model.Chat, error) {
	chat, err := s.store.GetSession(ctx, ownerID, chatID)
	if err != nil {
		return nil, mapChatErr(err)
	}
	return chat, nil
}

// UpdateChatRequest 修改会话请求
type UpdateChatRequest struct {
	Title string `json:"title" binding:"max=200"`
}

// RenameChat 修改会话标题
func (s *ChatService) RenameChat(ctx context.Context, ownerID, chatID string, req *UpdateChatRequest) (*model.Chat, error) {
	if err := s.store.UpdateSessionTitle(ctx, ownerID, chatID, req.Title); err != nil {
		return nil, mapChatErr(err)
	}
	return s.GetChat(ctx, ownerID, chatID)
}

// DeleteChat 删除会话及其消息
func (s *ChatService) DeleteChat(ctx context.Context, ownerID, chatID string) error {
	if err := s.store.DeleteSession(ctx, ownerID, chatID); err != nil {
		return mapChatErr(err)
	}
	s.forgetActive(ctx, ownerID, chatID)
	return nil
}

// BatchDeleteRequest 批量删除请求
type BatchDeleteRequest struct {
	ChatIDs []string `json:"chat_ids" binding:"required,min=1,max=100"`
}

// BatchDeleteChats 批量删除会话，不存在的ID被忽略
// 返回:
//   - int64: 实际删除的数量
func (s *ChatService) BatchDeleteChats(ctx context.Context, ownerID string, req *BatchDeleteRequest) (int64, error) {
	n, err := s.store.DeleteSessions(ctx, ownerID, req.ChatIDs)
	if err != nil {
		return 0, err
	}
	for _, id := range req.ChatIDs {
		s.forgetActive(ctx, ownerID, id)
	}
	return n, nil
}

// forgetActive 被删除的会话如果是当前会话则清除记录
func (s *ChatService) forgetActive(ctx context.Context, ownerID, chatID string) {
	if s.active == nil {
		return
	}
	current, err := s.active.GetActiveChat(ctx, ownerID)
	if err != nil || current != chatID {
		return
	}
	if err := s.active.SetActiveChat(ctx, ownerID, ""); err != nil {
		logger.Warnf("clear active chat failed: %v", err)
	}
}

// ==================== 消息 ====================

// ListMessages 会话全部消息，按时间正序
func (s *ChatService) ListMessages(ctx context.Context, ownerID, chatID string) ([]*model.Message, error) {
	if _, err := s.GetChat(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, ownerID, chatID)
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Text    string `json:"text" binding:"required"`
	ModelID string `json:"model_id"` // 为空时使用用户已选模型
}

// SendMessage 同步发送一条消息，返回助手回复
// 参数:
//   - ctx: 上下文
//   - ownerID: 用户ID
//   - chatID: 会话ID
//   - req: 发送请求
//
// 返回:
//   - *model.Message: 已落库的助手回复
//   - error: 校验错误或远程调用错误
func (s *ChatService) SendMessage(ctx context.Context, ownerID, chatID string, req *SendMessageRequest) (*model.Message, error) {
	if util.IsBlank(req.Text) {
		return nil, ErrEmptyInput
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = s.prefs.LoadModel(ctx, ownerID)
	} else if _, ok := s.prefs.Catalog().Find(modelID); !ok {
		return nil, ErrUnknownModel
	}

	if _, err := s.GetChat(ctx, ownerID, chatID); err != nil {
		return nil, err
	}

	text, release, err := s.ex.prepare(ownerID, chatID, req.Text)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.ex.run(ctx, ownerID, chatID, text, modelID, func(ctx context.Context) ([]*model.Message, error) {
		return s.store.ListMessages(ctx, ownerID, chatID)
	})
}

// UpdateMessageRequest 修改消息请求，只修改出现的字段
type UpdateMessageRequest struct {
	Text         *string `json:"text"`
	IsGenerating *bool   `json:"is_generating"`
}

// UpdateMessage 修改消息文本或生成中标记
func (s *ChatService) UpdateMessage(ctx context.Context, ownerID, chatID, messageID string, req *UpdateMessageRequest) error {
	err := s.store.UpdateMessage(ctx, ownerID, chatID, messageID, repository.MessageUpdate{
		Text:         req.Text,
		IsGenerating: req.IsGenerating,
	})
	return mapChatErr(err)
}

// ClearMessages 清空会话消息
func (s *ChatService) ClearMessages(ctx context.Context, ownerID, chatID string) error {
	return mapChatErr(s.store.ClearMessages(ctx, ownerID, chatID))
}

// mapChatErr 把存储层的不存在错误转换为业务错误
func mapChatErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrChatNotFound):
		return ErrChatNotFound
	case errors.Is(err, store.ErrMessageNotFound):
		return ErrMessageNotFound
	}
	return err
}
