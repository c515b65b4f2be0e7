package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatmate-server/internal/model"
)

// MemoryRepository 进程内的会话与消息存储
// 单个互斥锁保护全部数据，因此每个方法天然是原子的
type MemoryRepository struct {
	mu       sync.RWMutex
	chats    map[string]*model.Chat
	messages map[string][]*model.Message // chatID -> 按写入顺序
	seq      int64
}

// NewMemoryRepository 创建内存存储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		chats:    make(map[string]*model.Chat),
		messages: make(map[string][]*model.Message),
	}
}

// CreateChat 创建新会话
func (m *MemoryRepository) CreateChat(ctx context.Context, chat *model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *chat
	m.chats[chat.ID] = &cp
	return nil
}

// GetChat 获取用户的某个会话，未找到返回 nil
func (m *MemoryRepository) GetChat(ctx context.Context, ownerID, chatID string) (*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.ownedChat(ownerID, chatID)
	if !ok {
		return nil, nil
	}
	cp := *chat
	return &cp, nil
}

// UpdateChatTitle 修改会话标题
func (m *MemoryRepository) UpdateChatTitle(ctx context.Context, ownerID, chatID, title string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.ownedChat(ownerID, chatID)
	if !ok {
		return ErrChatNotFound
	}
	chat.Title = title
	chat.UpdatedAt = at
	return nil
}

// ListActiveChats 获取有消息的会话，按最后活跃时间倒序
func (m *MemoryRepository) ListActiveChats(ctx context.Context, ownerID string) ([]*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]*model.Chat, 0)
	for _, chat := range m.chats {
		if chat.UserID == ownerID && chat.MessageCount > 0 {
			cp := *chat
			chats = append(chats, &cp)
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].LastActivity.Equal(chats[j].LastActivity) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].LastActivity.After(chats[j].LastActivity)
	})
	return chats, nil
}

// DeleteChats 批量删除会话及其消息
func (m *MemoryRepository) DeleteChats(ctx context.Context, ownerID string, chatIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for _, id := range chatIDs {
		if _, ok := m.ownedChat(ownerID, id); !ok {
			continue
		}
		delete(m.chats, id)
		delete(m.messages, id)
		deleted++
	}
	return deleted, nil
}

// AppendMessage 追加消息并更新父会话
func (m *MemoryRepository) AppendMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.ownedChat(msg.UserID, msg.ChatID)
	if !ok {
		return ErrChatNotFound
	}

	m.seq++
	cp := *msg
	cp.Seq = m.seq
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], &cp)
	msg.Seq = cp.Seq

	chat.LastText = msg.Text
	chat.LastActivity = msg.Timestamp
	chat.UpdatedAt = msg.Timestamp
	chat.MessageCount++
	return nil
}

// UpdateMessage 更新消息的文本或生成中标记
func (m *MemoryRepository) UpdateMessage(ctx context.Context, ownerID, chatID, messageID string, upd MessageUpdate, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ownedChat(ownerID, chatID); !ok {
		return ErrMessageNotFound
	}
	for _, msg := range m.messages[chatID] {
		if msg.ID != messageID {
			continue
		}
		if upd.Text != nil {
			msg.Text = *upd.Text
		}
		if upd.IsGenerating != nil {
			msg.IsGenerating = *upd.IsGenerating
		}
		msg.UpdatedAt = at
		return nil
	}
	return ErrMessageNotFound
}

// ListMessages 获取会话的全部消息，按时间戳正序
func (m *MemoryRepository) ListMessages(ctx context.Context, ownerID, chatID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.ownedChat(ownerID, chatID); !ok {
		return []*model.Message{}, nil
	}

	list := make([]*model.Message, 0, len(m.messages[chatID]))
	for _, msg := range m.messages[chatID] {
		cp := *msg
		list = append(list, &cp)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Seq < list[j].Seq
		}
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	return list, nil
}

// ClearMessages 清空会话消息并归零计数
func (m *MemoryRepository) ClearMessages(ctx context.Context, ownerID, chatID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.ownedChat(ownerID, chatID)
	if !ok {
		return ErrChatNotFound
	}
	delete(m.messages, chatID)
	chat.MessageCount = 0
	chat.LastText = ""
	chat.UpdatedAt = at
	return nil
}

func (m *MemoryRepository) ownedChat(ownerID, chatID string) (*model.Chat, bool) {
	chat, ok := m.chats[chatID]
	if !ok || chat.UserID != ownerID {
		return nil, false
	}
	return chat, true
}

// MemoryUserRepository 进程内的用户存储
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*model.User
}

// NewMemoryUserRepository 创建内存用户存储
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*model.User)}
}

// Create 创建新用户，邮箱已存在时返回 ErrEmailExists
func (m *MemoryUserRepository) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrEmailExists
		}
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

// GetByID 根据 ID 获取用户，未找到返回 nil
func (m *MemoryUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// GetByEmail 根据邮箱获取用户，未找到返回 nil
func (m *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// UpdateLastLogin 记录最近登录时间
func (m *MemoryUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

// UpdateProfile 更新显示名称与头像
func (m *MemoryUserRepository) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.PhotoURL != nil {
		photo := *upd.PhotoURL
		u.PhotoURL = &photo
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	u.UpdatedAt = time.Now()
	return nil
}
