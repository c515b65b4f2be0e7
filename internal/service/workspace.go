package service

import (
	"context"
	"strings"
	"sync"

	"chatmate-server/internal/config"
	"chatmate-server/internal/model"
	"chatmate-server/internal/store"
	"chatmate-server/pkg/logger"
)

// ActiveChatStore 记录用户最近使用的会话，重连后恢复
type ActiveChatStore interface {
	GetActiveChat(ctx context.Context, ownerID string) (string, error)
	SetActiveChat(ctx context.Context, ownerID, chatID string) error
}

// WorkspaceEvents 工作区向连接推送的事件
type WorkspaceEvents interface {
	SessionChanged(state SessionState)
	MessagesChanged(state SyncState)
	ChatsChanged(chats []*model.Chat, err *AppError)
	ModelChanged(modelID string)
	VoiceChanged(state VoiceState)
}

// WorkspaceDeps 所有工作区共享的依赖
type WorkspaceDeps struct {
	Store       *store.DocumentStore
	Completion  CompletionClient
	Preferences *PreferenceService
	ActiveChats ActiveChatStore
	Guard       *SendGuard
	Chat        config.ChatConfig
}

// Workspace 一个已登录连接的聊天工作区
// 把会话管理、消息同步、模型选择、语音对话组合在同一个身份下
type Workspace struct {
	ctx      context.Context
	cancel   context.CancelFunc
	deps     WorkspaceDeps
	identity *model.Identity
	events   WorkspaceEvents

	sessions *SessionManager
	messages *MessageSynchronizer
	models   *ModelSelection
	voice    *VoiceConversation

	bindMu  sync.Mutex // 串行化会话变化的处理，保证最后绑定的是最新会话
	boundID string

	mu       sync.Mutex
	chatsSub *store.Subscription[*model.Chat]
}

// NewWorkspace 创建工作区
// 参数:
//   - ctx: 连接级别上下文，结束时工作区内所有订阅随之释放
//   - deps: 共享依赖
//   - identity: 当前用户
//   - player: 设备上的播放资源
//   - events: 事件接收方
func NewWorkspace(ctx context.Context, deps WorkspaceDeps, identity *model.Identity, player AudioPlayer, events WorkspaceEvents) *Workspace {
	ctx, cancel := context.WithCancel(ctx)

	w := &Workspace{
		ctx:      ctx,
		cancel:   cancel,
		deps:     deps,
		identity: identity,
		events:   events,
	}

	w.models = NewModelSelection(deps.Preferences, identity)
	w.sessions = NewSessionManager(deps.Store, identity)
	w.messages = NewMessageSynchronizer(deps.Store, deps.Completion, deps.Guard, identity, SyncOptions{
		WelcomeText:    deps.Chat.WelcomeText,
		MaxInputLength: deps.Chat.MaxInputLength,
		DefaultModel:   w.models.Current,
	})
	w.voice = NewVoiceConversation(deps.Completion, player, identity, deps.Chat.VoiceHistory, w.models.Current)

	w.sessions.OnChange(w.onSessionChange)
	w.messages.OnChange(events.MessagesChanged)
	w.models.OnChange(events.ModelChanged)
	w.voice.OnChange(events.VoiceChanged)

	return w
}

// Start 恢复模型选择和上次使用的会话，并推送初始状态
// 恢复的会话已被删除时立即用新会话替换它
func (w *Workspace) Start(ctx context.Context) {
	w.events.ModelChanged(w.models.Load(ctx))

	if w.deps.ActiveChats != nil && w.identity != nil {
		chatID, err := w.deps.ActiveChats.GetActiveChat(ctx, w.identity.ID)
		if err != nil {
			logger.Warnf("restore active chat for %s failed: %v", w.identity.ID, err)
		}
		if chatID != "" {
			w.sessions.SwitchToChat(chatID)
			if _, err := w.sessions.InitializeChat(ctx); err != nil {
				logger.Warnf("initialize restored chat %s failed: %v", chatID, err)
			}
		}
	}

	w.events.SessionChanged(w.sessions.State())
	w.events.VoiceChanged(w.voice.State())
}

// Sessions 会话管理
func (w *Workspace) Sessions() *SessionManager { return w.sessions }

// Messages 当前会话的消息同步
func (w *Workspace) Messages() *MessageSynchronizer { return w.messages }

// Models 模型选择
func (w *Workspace) Models() *ModelSelection { return w.models }

// Voice 语音对话
func (w *Workspace) Voice() *VoiceConversation { return w.voice }

// onSessionChange 当前会话变化时重新绑定消息订阅
// 通知可能来自多个 goroutine 且顺序不定，所以不信任参数里的快照，
// 加锁后重新读取会话管理器的最新状态再推送和绑定
func (w *Workspace) onSessionChange(SessionState) {
	w.bindMu.Lock()
	defer w.bindMu.Unlock()

	state := w.sessions.State()
	w.events.SessionChanged(state)

	if state.ChatID == w.boundID {
		return
	}
	w.boundID = state.ChatID

	if err := w.messages.Bind(w.ctx, state.ChatID); err != nil {
		logger.Warnf("bind chat %s failed: %v", state.ChatID, err)
	}
	if w.deps.ActiveChats != nil && w.identity != nil && state.ChatID != "" {
		if err := w.deps.ActiveChats.SetActiveChat(w.ctx, w.identity.ID, state.ChatID); err != nil {
			logger.Warnf("save active chat failed: %v", err)
		}
	}
}

// Send 发送消息，空白输入什么也不做
// 发送前校验模型，并确保当前会话存在；会话已被删除时先换成新会话
// 参数:
//   - text: 用户输入
//   - modelID: 模型ID，为空时使用当前选择的模型
//
// 返回:
//   - error: *AppError
func (w *Workspace) Send(ctx context.Context, text, modelID string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if modelID != "" {
		if _, ok := w.deps.Preferences.Catalog().Find(modelID); !ok {
			return Normalize(ErrUnknownModel)
		}
	}
	if _, err := w.sessions.InitializeChat(ctx); err != nil {
		return err
	}
	return w.messages.SendMessage(ctx, text, modelID)
}

// WatchChats 订阅会话列表，重复调用只保留一个订阅
func (w *Workspace) WatchChats(ctx context.Context) error {
	if w.identity == nil {
		return Normalize(ErrNotAuthenticated)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chatsSub != nil {
		return nil
	}

	sub, err := w.deps.Store.SubscribeToChatList(w.ctx, w.identity.ID)
	if err != nil {
		return Normalize(err)
	}
	w.chatsSub = sub

	go func() {
		for snap := range sub.Updates() {
			if snap.Err != nil {
				w.events.ChatsChanged(nil, Normalize(snap.Err))
				continue
			}
			w.events.ChatsChanged(snap.Items, nil)
		}
	}()
	return nil
}

// Close 释放所有订阅并停止播放
func (w *Workspace) Close() {
	w.mu.Lock()
	sub := w.chatsSub
	w.chatsSub = nil
	w.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	w.messages.Close()
	w.cancel()
}
