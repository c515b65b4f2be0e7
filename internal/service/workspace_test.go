package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmate-server/internal/cache"
	"chatmate-server/internal/config"
	"chatmate-server/internal/model"
)

type recordingEvents struct {
	mu       sync.Mutex
	sessions []SessionState
	syncs    []SyncState
	chats    [][]*model.Chat
	models   []string
	voices   []VoiceState
}

func (r *recordingEvents) SessionChanged(s SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *recordingEvents) MessagesChanged(s SyncState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs = append(r.syncs, s)
}

func (r *recordingEvents) ChatsChanged(chats []*model.Chat, err *AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, chats)
}

func (r *recordingEvents) ModelChanged(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, id)
}

func (r *recordingEvents) VoiceChanged(s VoiceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices = append(r.voices, s)
}

func (r *recordingEvents) lastChats() []*model.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chats) == 0 {
		return nil
	}
	return r.chats[len(r.chats)-1]
}

func newTestWorkspace(t *testing.T, mem *cache.MemoryCache, client CompletionClient) (*Workspace, *recordingEvents) {
	t.Helper()
	events := &recordingEvents{}
	deps := WorkspaceDeps{
		Store:       newTestStore(),
		Completion:  client,
		Preferences: NewPreferenceService(mem, model.DefaultCatalog()),
		ActiveChats: mem,
		Guard:       NewSendGuard(),
		Chat:        config.ChatConfig{WelcomeText: testWelcome, MaxInputLength: 1000, VoiceHistory: 5},
	}
	w := NewWorkspace(context.Background(), deps, testIdentity(), &fakePlayer{}, events)
	t.Cleanup(w.Close)
	return w, events
}

func TestWorkspace_SendInitializesChat(t *testing.T) {
	mem := cache.NewMemoryCache()
	client := &fakeCompletion{replies: []string{"hello"}}
	w, events := newTestWorkspace(t, mem, client)
	w.Start(context.Background())

	require.NoError(t, w.WatchChats(context.Background()))
	require.NoError(t, w.Send(context.Background(), "hi", ""))

	chatID := w.Sessions().CurrentChatID()
	require.NotEmpty(t, chatID)

	// 新会话成为下次连接恢复的会话
	active, err := mem.GetActiveChat(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, chatID, active)

	require.Eventually(t, func() bool { return len(w.Messages().Messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		chats := events.lastChats()
		return len(chats) == 1 && chats[0].MessageCount == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"gpt-3.5-turbo"}, client.models)
}

func TestWorkspace_StartRestoresState(t *testing.T) {
	mem := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, mem.SetPreference(ctx, "u1", PreferenceSelectedModel, "gpt-4"))

	w, events := newTestWorkspace(t, mem, &fakeCompletion{})
	chatID, err := w.deps.Store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, mem.SetActiveChat(ctx, "u1", chatID))

	w.Start(ctx)

	assert.Equal(t, "gpt-4", w.Models().Current())
	assert.Equal(t, chatID, w.Sessions().CurrentChatID())
	assert.Equal(t, chatID, w.Messages().State().ChatID)

	events.mu.Lock()
	assert.Contains(t, events.models, "gpt-4")
	events.mu.Unlock()
}

func TestWorkspace_StartReplacesDeletedChat(t *testing.T) {
	mem := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, mem.SetActiveChat(ctx, "u1", "previous"))

	w, _ := newTestWorkspace(t, mem, &fakeCompletion{})
	w.Start(ctx)

	id := w.Sessions().CurrentChatID()
	require.NotEmpty(t, id)
	assert.NotEqual(t, "previous", id)
	assert.Equal(t, id, w.Messages().State().ChatID)

	active, err := mem.GetActiveChat(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, id, active)
}

func TestWorkspace_SendReplacesDeletedChat(t *testing.T) {
	ctx := context.Background()
	client := &fakeCompletion{replies: []string{"hello"}}
	w, _ := newTestWorkspace(t, cache.NewMemoryCache(), client)
	w.Start(ctx)

	w.Sessions().SwitchToChat("deleted-chat")
	require.NoError(t, w.Send(ctx, "hi", ""))

	id := w.Sessions().CurrentChatID()
	require.NotEmpty(t, id)
	assert.NotEqual(t, "deleted-chat", id)

	msgs, err := w.deps.Store.ListMessages(ctx, "u1", id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, "hello", msgs[1].Text)
}

func TestWorkspace_SendRejectsUnknownModel(t *testing.T) {
	ctx := context.Background()
	client := &fakeCompletion{}
	w, _ := newTestWorkspace(t, cache.NewMemoryCache(), client)
	w.Start(ctx)

	err := w.Send(ctx, "hi", "gpt-9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownModel))
	assert.Equal(t, KindValidation, Normalize(err).Kind)

	assert.Equal(t, int32(0), atomic.LoadInt32(&client.calls))
	// 校验失败不会顺带创建会话
	assert.Empty(t, w.Sessions().CurrentChatID())
}

func TestWorkspace_BlankSendCreatesNothing(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWorkspace(t, cache.NewMemoryCache(), &fakeCompletion{})
	w.Start(ctx)

	require.NoError(t, w.Send(ctx, "   ", ""))
	assert.Empty(t, w.Sessions().CurrentChatID())
}

// gatedEvents 第一次收到非空会话时阻塞，直到 release 关闭；之后的通知不受影响
type gatedEvents struct {
	recordingEvents
	gated   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func (g *gatedEvents) SessionChanged(s SessionState) {
	if s.ChatID != "" && g.gated.CompareAndSwap(false, true) {
		close(g.reached)
		<-g.release
	}
	g.recordingEvents.SessionChanged(s)
}

func TestWorkspace_LateSessionNotificationDoesNotRebindOldChat(t *testing.T) {
	ctx := context.Background()
	events := &gatedEvents{reached: make(chan struct{}), release: make(chan struct{})}
	deps := WorkspaceDeps{
		Store:       newTestStore(),
		Completion:  &fakeCompletion{},
		Preferences: NewPreferenceService(cache.NewMemoryCache(), model.DefaultCatalog()),
		Guard:       NewSendGuard(),
		Chat:        config.ChatConfig{WelcomeText: testWelcome, MaxInputLength: 1000, VoiceHistory: 5},
	}
	w := NewWorkspace(ctx, deps, testIdentity(), &fakePlayer{}, events)
	t.Cleanup(w.Close)

	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		_, _ = w.Sessions().InitializeChat(ctx)
	}()
	<-events.reached

	// 初始化的通知还卡在推送中，此时用户切到另一个会话
	other, err := deps.Store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	switchDone := make(chan struct{})
	go func() {
		defer close(switchDone)
		w.Sessions().SwitchToChat(other)
	}()
	require.Eventually(t, func() bool { return w.Sessions().CurrentChatID() == other }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	close(events.release)
	<-initDone
	<-switchDone

	assert.Equal(t, other, w.Sessions().CurrentChatID())
	assert.Equal(t, other, w.Messages().State().ChatID)

	events.mu.Lock()
	last := events.sessions[len(events.sessions)-1]
	events.mu.Unlock()
	assert.Equal(t, other, last.ChatID)
}
