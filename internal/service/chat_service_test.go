package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmate-server/internal/cache"
	"chatmate-server/internal/config"
	"chatmate-server/internal/model"
)

func newTestChatService(client CompletionClient) (*ChatService, *cache.MemoryCache) {
	mem := cache.NewMemoryCache()
	prefs := NewPreferenceService(mem, model.DefaultCatalog())
	svc := NewChatService(newTestStore(), client, NewSendGuard(), prefs, mem, config.ChatConfig{MaxInputLength: 1000})
	return svc, mem
}

func TestChatService_SendReturnsAssistantMessage(t *testing.T) {
	client := &fakeCompletion{replies: []string{"hello"}}
	svc, mem := newTestChatService(client)
	ctx := context.Background()
	require.NoError(t, mem.SetPreference(ctx, "u1", PreferenceSelectedModel, "gpt-4"))

	chat, err := svc.CreateChat(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, chat.MessageCount)

	// 空会话不出现在列表中
	chats, err := svc.ListChats(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, chats)

	reply, err := svc.SendMessage(ctx, "u1", chat.ID, &SendMessageRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Text)
	assert.False(t, reply.IsUser)
	assert.Equal(t, []string{"gpt-4"}, client.models)

	msgs, err := svc.ListMessages(ctx, "u1", chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, reply.ID, msgs[1].ID)

	chats, err = svc.ListChats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "hello", chats[0].LastText)
}

func TestChatService_SendValidation(t *testing.T) {
	svc, _ := newTestChatService(&fakeCompletion{})
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, "u1", "missing", &SendMessageRequest{Text: "hi"})
	assert.True(t, errors.Is(err, ErrChatNotFound))

	chat, err := svc.CreateChat(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, "u1", chat.ID, &SendMessageRequest{Text: "  "})
	assert.True(t, errors.Is(err, ErrEmptyInput))

	_, err = svc.SendMessage(ctx, "u1", chat.ID, &SendMessageRequest{Text: "hi", ModelID: "gpt-9"})
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestChatService_RenameAndDelete(t *testing.T) {
	svc, mem := newTestChatService(&fakeCompletion{})
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "u1")
	require.NoError(t, err)

	active, err := mem.GetActiveChat(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, active)

	renamed, err := svc.RenameChat(ctx, "u1", chat.ID, &UpdateChatRequest{Title: " 周末计划 "})
	require.NoError(t, err)
	assert.Equal(t, "周末计划", renamed.Title)

	require.NoError(t, svc.DeleteChat(ctx, "u1", chat.ID))
	_, err = svc.GetChat(ctx, "u1", chat.ID)
	assert.True(t, errors.Is(err, ErrChatNotFound))

	active, err = mem.GetActiveChat(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.True(t, errors.Is(svc.DeleteChat(ctx, "u1", chat.ID), ErrChatNotFound))
}

func TestChatService_BatchDeleteAndClear(t *testing.T) {
	svc, _ := newTestChatService(&fakeCompletion{})
	ctx := context.Background()

	a, err := svc.CreateChat(ctx, "u1")
	require.NoError(t, err)
	b, err := svc.CreateChat(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, "u1", a.ID, &SendMessageRequest{Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, svc.ClearMessages(ctx, "u1", a.ID))

	cleared, err := svc.GetChat(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cleared.MessageCount)

	n, err := svc.BatchDeleteChats(ctx, "u1", &BatchDeleteRequest{ChatIDs: []string{a.ID, b.ID, "missing"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestChatService_UpdateMessage(t *testing.T) {
	svc, _ := newTestChatService(&fakeCompletion{replies: []string{"draft"}})
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "u1")
	require.NoError(t, err)
	reply, err := svc.SendMessage(ctx, "u1", chat.ID, &SendMessageRequest{Text: "hi"})
	require.NoError(t, err)

	text := "final"
	require.NoError(t, svc.UpdateMessage(ctx, "u1", chat.ID, reply.ID, &UpdateMessageRequest{Text: &text}))

	msgs, err := svc.ListMessages(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", msgs[1].Text)

	err = svc.UpdateMessage(ctx, "u1", chat.ID, "missing", &UpdateMessageRequest{Text: &text})
	assert.True(t, errors.Is(err, ErrMessageNotFound))
}
