package service

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"chatmate-server/internal/model"
	"chatmate-server/pkg/logger"
)

// SessionStore 会话管理器依赖的存储能力
type SessionStore interface {
	CreateSession(ctx context.Context, ownerID string) (string, error)
	SessionExists(ctx context.Context, ownerID, chatID string) (bool, error)
}

// SessionState 会话管理器的可观察状态
type SessionState struct {
	ChatID       string    `json:"chat_id"`
	Initializing bool      `json:"initializing"`
	Error        *AppError `json:"error,omitempty"`
}

// SessionManager 管理"当前会话"
// 决定复用还是新建会话，并保证同一会话ID同时只有一个初始化流程
type SessionManager struct {
	store    SessionStore
	identity *model.Identity
	inits    singleflight.Group

	mu           sync.Mutex
	current      string
	generation   uint64 // 每次切换会话递增，用于识别过期的初始化结果
	initializing bool
	err          *AppError
	onChange     func(SessionState)
}

// NewSessionManager 创建 SessionManager
// identity 为 nil 表示未登录，创建与初始化都会被拒绝
func NewSessionManager(store SessionStore, identity *model.Identity) *SessionManager {
	return &SessionManager{store: store, identity: identity}
}

// OnChange 注册状态变化回调
func (m *SessionManager) OnChange(fn func(SessionState)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// CurrentChatID 当前会话ID，没有时为空
func (m *SessionManager) CurrentChatID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// State 当前状态快照
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// SwitchToChat 切换当前会话，chatID 为空表示不绑定任何会话
// ID 变化时清除错误并作废进行中的初始化；不访问存储
func (m *SessionManager) SwitchToChat(chatID string) {
	m.mu.Lock()
	if chatID == m.current {
		m.mu.Unlock()
		return
	}
	m.inits.Forget(initKey(m.current))
	m.current = chatID
	m.generation++
	m.initializing = false
	m.err = nil
	state, fn := m.stateLocked(), m.onChange
	m.mu.Unlock()

	emit(fn, state)
}

// CreateNewChat 新建会话并设为当前会话
func (m *SessionManager) CreateNewChat(ctx context.Context) (string, error) {
	if m.identity == nil {
		return "", m.fail(m.currentGeneration(), ErrNotAuthenticated)
	}

	id, err := m.store.CreateSession(ctx, m.identity.ID)
	if err != nil {
		logger.Errorf("create chat for %s failed: %v", m.identity.ID, err)
		return "", m.fail(m.currentGeneration(), err)
	}

	m.SwitchToChat(id)
	return id, nil
}

// InitializeChat 确保当前会话可用
//  1. 没有当前会话：新建一个
//  2. 当前会话在存储中不存在：新建一个替代它
//  3. 当前会话存在：什么也不做
//
// 同一会话ID的并发调用共享同一次初始化的结果
// 返回:
//   - string: 初始化完成后的当前会话ID
//   - error: *AppError
func (m *SessionManager) InitializeChat(ctx context.Context) (string, error) {
	if m.identity == nil {
		return "", m.fail(m.currentGeneration(), ErrNotAuthenticated)
	}

	m.mu.Lock()
	current, gen := m.current, m.generation
	m.mu.Unlock()

	v, err, _ := m.inits.Do(initKey(current), func() (interface{}, error) {
		return m.initialize(ctx, current, gen)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *SessionManager) initialize(ctx context.Context, current string, gen uint64) (string, error) {
	m.setInitializing(gen, true)
	defer m.setInitializing(gen, false)

	if current != "" {
		exists, err := m.store.SessionExists(ctx, m.identity.ID, current)
		if err != nil {
			logger.Errorf("check chat %s failed: %v", current, err)
			return "", m.fail(gen, err)
		}
		if exists {
			return current, nil
		}
		logger.Infof("chat %s no longer exists, creating a replacement", current)
	}

	id, err := m.store.CreateSession(ctx, m.identity.ID)
	if err != nil {
		logger.Errorf("create chat for %s failed: %v", m.identity.ID, err)
		return "", m.fail(gen, err)
	}

	m.adopt(gen, id)
	return id, nil
}

// adopt 初始化新建的会话成为当前会话
// 初始化期间已经切换过会话时结果作废
func (m *SessionManager) adopt(gen uint64, id string) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		logger.Debugf("discard stale initialization result %s", id)
		return
	}
	m.current = id
	m.err = nil
	state, fn := m.stateLocked(), m.onChange
	m.mu.Unlock()

	emit(fn, state)
}

func (m *SessionManager) setInitializing(gen uint64, v bool) {
	m.mu.Lock()
	if m.generation != gen || m.initializing == v {
		m.mu.Unlock()
		return
	}
	m.initializing = v
	if v {
		m.err = nil
	}
	state, fn := m.stateLocked(), m.onChange
	m.mu.Unlock()

	emit(fn, state)
}

// fail 记录错误并返回统一后的错误
func (m *SessionManager) fail(gen uint64, err error) error {
	appErr := Normalize(err)

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return appErr
	}
	m.err = appErr
	m.initializing = false
	state, fn := m.stateLocked(), m.onChange
	m.mu.Unlock()

	emit(fn, state)
	return appErr
}

func (m *SessionManager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *SessionManager) stateLocked() SessionState {
	return SessionState{ChatID: m.current, Initializing: m.initializing, Error: m.err}
}

func initKey(chatID string) string {
	return "chat:" + chatID
}

func emit[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}
