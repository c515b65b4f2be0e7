package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmate-server/internal/cache"
	"chatmate-server/internal/config"
	"chatmate-server/internal/model"
	"chatmate-server/internal/repository"
	"chatmate-server/internal/service"
	"chatmate-server/internal/store"
)

// stubCompletion 固定回复的补全客户端
type stubCompletion struct {
	reply string
	calls int32
}

func (s *stubCompletion) Complete(ctx context.Context, modelID string, turns []model.Turn) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.reply, nil
}

func (s *stubCompletion) Synthesize(ctx context.Context, text string) (string, error) {
	n := atomic.LoadInt32(&s.calls)
	return fmt.Sprintf("file:///tmp/audio/%032x.mp3", n), nil
}

func newTestDeps(client service.CompletionClient) (service.WorkspaceDeps, *cache.MemoryCache) {
	mc := cache.NewMemoryCache()
	repo := repository.NewMemoryRepository()
	return service.WorkspaceDeps{
		Store:       store.New(repo, repo, mc),
		Completion:  client,
		Preferences: service.NewPreferenceService(mc, model.DefaultCatalog()),
		ActiveChats: mc,
		Guard:       service.NewSendGuard(),
		Chat: config.ChatConfig{
			WelcomeText:    "welcome",
			MaxInputLength: 100,
			VoiceHistory:   5,
		},
	}, mc
}

// newAttachedClient 创建没有底层连接的客户端，下行消息留在 send 通道中
func newAttachedClient(t *testing.T, deps service.WorkspaceDeps) *Client {
	t.Helper()
	identity := model.NewIdentity("u1", "u1@example.com", "tester")
	c := NewClient(context.Background(), NewHub(nil), nil, identity)
	ws := service.NewWorkspace(c.ctx, deps, identity, c, c)
	c.Attach(ws)
	t.Cleanup(c.Close)
	return c
}

// nextOfType 读取下行消息直到遇到指定类型且满足条件
func nextOfType(t *testing.T, c *Client, msgType string, match func(json.RawMessage) bool) inboundMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data, ok := <-c.send:
			require.True(t, ok, "send channel closed")
			var msg inboundMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			if msg.Type == msgType && (match == nil || match(msg.Payload)) {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message received", msgType)
		}
	}
}

func send(c *Client, msgType string, payload interface{}, id string) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	c.handleMessage(&inboundMessage{Type: msgType, Payload: raw, MessageID: id})
}

func TestClient_AttachPushesInitialState(t *testing.T) {
	deps, _ := newTestDeps(&stubCompletion{reply: "ok"})
	c := newAttachedClient(t, deps)

	msg := nextOfType(t, c, TypeModelState, nil)
	var state ModelStatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, model.DefaultCatalog().Default().ID, state.ModelID)
	assert.NotEmpty(t, state.Models)

	nextOfType(t, c, TypeSessionState, nil)
	nextOfType(t, c, TypeVoiceState, nil)
}

func TestClient_PingEchoesMessageID(t *testing.T) {
	deps, _ := newTestDeps(&stubCompletion{reply: "ok"})
	c := newAttachedClient(t, deps)

	send(c, TypePing, nil, "m-1")

	msg := nextOfType(t, c, TypePong, nil)
	assert.Equal(t, "m-1", msg.MessageID)
}

func TestClient_SendWithoutChatInitializesAndReplies(t *testing.T) {
	deps, _ := newTestDeps(&stubCompletion{reply: "hello back"})
	c := newAttachedClient(t, deps)

	send(c, TypeChatSend, &ChatSendPayload{Text: "hi"}, "m-2")

	msg := nextOfType(t, c, TypeMessagesSnapshot, func(raw json.RawMessage) bool {
		var state service.SyncState
		if json.Unmarshal(raw, &state) != nil {
			return false
		}
		for _, m := range state.Messages {
			if !m.IsUser && m.Text == "hello back" {
				return true
			}
		}
		return false
	})

	var state service.SyncState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.NotEmpty(t, state.ChatID)

	texts := make([]string, 0, len(state.Messages))
	for _, m := range state.Messages {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"hi", "hello back"}, texts)
}

func TestClient_InvalidPayloadRepliesValidationError(t *testing.T) {
	deps, _ := newTestDeps(&stubCompletion{reply: "ok"})
	c := newAttachedClient(t, deps)

	send(c, TypeChatSwitch, &ChatSwitchPayload{}, "m-3")

	msg := nextOfType(t, c, TypeError, nil)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, service.KindValidation, p.Kind)
	assert.Equal(t, TypeChatSwitch, p.Request)
	assert.Equal(t, "m-3", msg.MessageID)
}

func TestClient_UnknownTypeRepliesError(t *testing.T) {
	deps, _ := newTestDeps(&stubCompletion{reply: "ok"})
	c := newAttachedClient(t, deps)

	send(c, "terminal:input", nil, "")

	msg := nextOfType(t, c, TypeError, nil)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "terminal:input", p.Request)
}

func TestClient_UnknownModelSelectionFails(t *testing.T) {
	deps, _ := newTestDeps(&stubCompletion{reply: "ok"})
	c := newAttachedClient(t, deps)

	send(c, TypeModelSelect, &ModelSelectPayload{ModelID: "no-such-model"}, "m-4")

	msg := nextOfType(t, c, TypeError, nil)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, service.KindValidation, p.Kind)
	assert.Equal(t, TypeModelSelect, p.Request)
}

func TestClient_SendWithUnknownModelFails(t *testing.T) {
	client := &stubCompletion{reply: "ok"}
	deps, _ := newTestDeps(client)
	c := newAttachedClient(t, deps)

	send(c, TypeChatSend, &ChatSendPayload{Text: "hi", ModelID: "no-such-model"}, "m-5")

	msg := nextOfType(t, c, TypeError, nil)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, service.KindValidation, p.Kind)
	assert.Equal(t, TypeChatSend, p.Request)
	assert.Equal(t, "m-5", msg.MessageID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&client.calls))
}

func TestClient_VoiceInputThenPlay(t *testing.T) {
	deps, _ := newTestDeps(&stubCompletion{reply: "spoken"})
	c := newAttachedClient(t, deps)

	send(c, TypeVoiceInput, &VoiceInputPayload{Text: "question"}, "")

	msg := nextOfType(t, c, TypeVoiceState, func(raw json.RawMessage) bool {
		var state service.VoiceState
		return json.Unmarshal(raw, &state) == nil && len(state.Messages) == 1 && !state.Processing
	})
	var state service.VoiceState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, "spoken", state.Messages[0].AssistantText)

	send(c, TypeVoicePlay, &VoiceTargetPayload{ID: state.Messages[0].ID}, "")

	play := nextOfType(t, c, TypeAudioPlay, nil)
	var p AudioPlayPayload
	require.NoError(t, json.Unmarshal(play.Payload, &p))
	assert.Regexp(t, `^/api/v1/audio/[0-9a-f]{32}\.mp3$`, p.URL)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	deps, _ := newTestDeps(&stubCompletion{reply: "ok"})
	c := newAttachedClient(t, deps)

	c.Close()
	c.Close()

	assert.ErrorIs(t, c.SendMessage(NewMessage(TypePong, nil)), ErrClientClosed)
	assert.ErrorIs(t, c.Stop(context.Background()), ErrClientClosed)
}

func TestClient_PlayRejectsEmptyURI(t *testing.T) {
	c := NewClient(context.Background(), NewHub(nil), nil, nil)
	defer c.Close()

	assert.ErrorIs(t, c.Play(context.Background(), ""), service.ErrVoiceNotFound)
}

func TestClient_CommandsBeforeAttachNeedAuth(t *testing.T) {
	c := NewClient(context.Background(), NewHub(nil), nil, nil)
	defer c.Close()

	send(c, TypeChatInit, nil, "")

	msg := nextOfType(t, c, TypeError, nil)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, service.KindAuth, p.Kind)
}
