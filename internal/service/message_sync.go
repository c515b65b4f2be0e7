package service

import (
	"context"
	"sync"

	"chatmate-server/internal/model"
	"chatmate-server/internal/store"
	"chatmate-server/pkg/logger"
)

// MessageSource 消息订阅能力
type MessageSource interface {
	MessageStore
	SubscribeToMessages(ctx context.Context, ownerID, chatID string) (*store.Subscription[*model.Message], error)
}

// SyncState 消息同步器的可观察状态
type SyncState struct {
	ChatID   string           `json:"chat_id"`
	Messages []*model.Message `json:"messages"`
	Syncing  bool             `json:"syncing"` // 已绑定会话，首个快照尚未到达
	Sending  bool             `json:"sending"` // 当前会话有发送在进行中
	Error    *AppError        `json:"error,omitempty"`
}

// SyncOptions 消息同步器的可选参数
type SyncOptions struct {
	WelcomeText    string        // 空会话展示的欢迎语，为空则不注入
	MaxInputLength int           // 单条输入最大字符数，<=0 不限制
	DefaultModel   func() string // 发送时未指定模型则使用它
}

// MessageSynchronizer 把会话的消息订阅转换为内存中的有序列表
// 每次快照整体替换列表；发送流程见 SendMessage
type MessageSynchronizer struct {
	source   MessageSource
	identity *model.Identity
	ex       *exchange
	opts     SyncOptions

	mu       sync.Mutex
	chatID   string
	bindGen  uint64
	sub      *store.Subscription[*model.Message]
	messages []*model.Message
	syncing  bool
	sending  bool
	err      *AppError
	onChange func(SyncState)
}

// NewMessageSynchronizer 创建 MessageSynchronizer
// guard 在所有连接间共享，保证同一会话的发送串行
func NewMessageSynchronizer(source MessageSource, client CompletionClient, guard *SendGuard, identity *model.Identity, opts SyncOptions) *MessageSynchronizer {
	return &MessageSynchronizer{
		source:   source,
		identity: identity,
		ex: &exchange{
			store:    source,
			client:   client,
			guard:    guard,
			maxInput: opts.MaxInputLength,
		},
		opts: opts,
	}
}

// OnChange 注册状态变化回调
// 回调在内部 goroutine 中执行，不能阻塞
func (s *MessageSynchronizer) OnChange(fn func(SyncState)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// State 当前状态快照
func (s *MessageSynchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Messages 当前消息列表（可能包含欢迎语）
func (s *MessageSynchronizer) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Message(nil), s.messages...)
}

// Bind 订阅指定会话的消息，替换之前的订阅
// ctx 决定订阅的生命周期，通常是连接级别的上下文
// chatID 为空时只取消之前的订阅
func (s *MessageSynchronizer) Bind(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if chatID == s.chatID && (s.sub != nil || chatID == "") {
		s.mu.Unlock()
		return nil
	}
	prev := s.sub
	s.bindGen++
	gen := s.bindGen
	s.chatID = chatID
	s.sub = nil
	s.messages = nil
	s.syncing = chatID != ""
	s.sending = false
	s.err = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	if chatID == "" {
		s.emit()
		return nil
	}
	if s.identity == nil {
		return s.fail(gen, ErrNotAuthenticated)
	}

	s.emit()

	sub, err := s.source.SubscribeToMessages(ctx, s.identity.ID, chatID)
	if err != nil {
		logger.Errorf("subscribe to chat %s failed: %v", chatID, err)
		return s.fail(gen, err)
	}

	s.mu.Lock()
	if s.bindGen != gen {
		// 订阅期间又切换了会话
		s.mu.Unlock()
		sub.Cancel()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	go s.consume(gen, sub)
	return nil
}

func (s *MessageSynchronizer) consume(gen uint64, sub *store.Subscription[*model.Message]) {
	for snap := range sub.Updates() {
		s.apply(gen, snap)
	}
}

// apply 用快照整体替换消息列表
func (s *MessageSynchronizer) apply(gen uint64, snap store.Snapshot[*model.Message]) {
	s.mu.Lock()
	if s.bindGen != gen {
		s.mu.Unlock()
		return
	}
	s.syncing = false
	if snap.Err != nil {
		logger.Warnf("message snapshot for chat %s failed: %v", s.chatID, snap.Err)
		s.err = Normalize(snap.Err)
	} else {
		s.err = nil
		s.messages = s.withWelcome(snap.Items)
	}
	state, fn := s.stateLocked(), s.onChange
	s.mu.Unlock()

	emit(fn, state)
}

// withWelcome 持久化消息为空时注入欢迎语
func (s *MessageSynchronizer) withWelcome(items []*model.Message) []*model.Message {
	if len(items) > 0 || s.opts.WelcomeText == "" {
		return items
	}
	return []*model.Message{model.NewWelcomeMessage(s.chatID, s.opts.WelcomeText)}
}

// SendMessage 在当前会话发送一条消息并等待回复落库
// 空白输入或未绑定会话时什么也不做
// 参数:
//   - ctx: 上下文
//   - text: 用户输入，首尾空白会被去掉
//   - modelID: 模型ID，为空时使用 DefaultModel
//
// 返回:
//   - error: *AppError；失败时 Sending 同样会被清除
func (s *MessageSynchronizer) SendMessage(ctx context.Context, text, modelID string) error {
	s.mu.Lock()
	chatID, gen := s.chatID, s.bindGen
	s.mu.Unlock()

	if chatID == "" {
		return nil
	}
	if s.identity == nil {
		return s.fail(gen, ErrNotAuthenticated)
	}

	trimmed, release, err := s.ex.prepare(s.identity.ID, chatID, text)
	if err != nil {
		return Normalize(err)
	}
	if release == nil {
		return nil
	}
	defer release()

	if modelID == "" && s.opts.DefaultModel != nil {
		modelID = s.opts.DefaultModel()
	}

	s.setSending(gen, true)
	defer s.setSending(gen, false)

	// 上下文总是取已持久化的消息，订阅快照可能还没追上上一轮
	_, err = s.ex.run(ctx, s.identity.ID, chatID, trimmed, modelID, func(ctx context.Context) ([]*model.Message, error) {
		return s.source.ListMessages(ctx, s.identity.ID, chatID)
	})
	if err != nil {
		return s.fail(gen, err)
	}
	return nil
}

// ClearMessages 删除当前会话的全部消息
// 会话的消息计数同时归零，订阅随后投递空列表
func (s *MessageSynchronizer) ClearMessages(ctx context.Context) error {
	s.mu.Lock()
	chatID, gen := s.chatID, s.bindGen
	s.mu.Unlock()

	if chatID == "" {
		return nil
	}
	if s.identity == nil {
		return s.fail(gen, ErrNotAuthenticated)
	}

	if err := s.source.ClearMessages(ctx, s.identity.ID, chatID); err != nil {
		logger.Errorf("clear chat %s failed: %v", chatID, err)
		return s.fail(gen, err)
	}
	return nil
}

// Close 取消订阅
func (s *MessageSynchronizer) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.bindGen++
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

func (s *MessageSynchronizer) setSending(gen uint64, v bool) {
	s.mu.Lock()
	if s.bindGen != gen {
		s.mu.Unlock()
		return
	}
	s.sending = v
	if v {
		s.err = nil
	}
	state, fn := s.stateLocked(), s.onChange
	s.mu.Unlock()

	emit(fn, state)
}

func (s *MessageSynchronizer) fail(gen uint64, err error) error {
	appErr := Normalize(err)

	s.mu.Lock()
	if s.bindGen != gen {
		s.mu.Unlock()
		return appErr
	}
	s.err = appErr
	s.syncing = false
	state, fn := s.stateLocked(), s.onChange
	s.mu.Unlock()

	emit(fn, state)
	return appErr
}

func (s *MessageSynchronizer) emit() {
	s.mu.Lock()
	state, fn := s.stateLocked(), s.onChange
	s.mu.Unlock()
	emit(fn, state)
}

func (s *MessageSynchronizer) stateLocked() SyncState {
	return SyncState{
		ChatID:   s.chatID,
		Messages: append([]*model.Message(nil), s.messages...),
		Syncing:  s.syncing,
		Sending:  s.sending,
		Error:    s.err,
	}
}
