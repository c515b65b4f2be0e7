package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmate-server/internal/model"
)

func newTestVoice(client *fakeCompletion, player *fakePlayer) *VoiceConversation {
	return NewVoiceConversation(client, player, testIdentity(), 5, func() string { return "gpt-4" })
}

func TestVoiceConversation_ProcessPrependsEntry(t *testing.T) {
	client := &fakeCompletion{replies: []string{"r1", "r2"}}
	v := newTestVoice(client, &fakePlayer{})

	first, err := v.ProcessVoiceInput(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "q1", first.UserText)
	assert.Equal(t, "r1", first.AssistantText)
	assert.Equal(t, "file:///tmp/audio/1.mp3", first.AudioURI)

	_, err = v.ProcessVoiceInput(context.Background(), "q2")
	require.NoError(t, err)

	list := v.List()
	require.Len(t, list, 2)
	assert.Equal(t, "q2", list[0].UserText)
	assert.Equal(t, "q1", list[1].UserText)
	assert.Equal(t, []string{"gpt-4", "gpt-4"}, client.models)
	assert.False(t, v.State().Processing)
}

func TestVoiceConversation_ContextWindowOldestFirst(t *testing.T) {
	client := &fakeCompletion{}
	v := newTestVoice(client, &fakePlayer{})

	for i := 1; i <= 6; i++ {
		_, err := v.ProcessVoiceInput(context.Background(), fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}
	_, err := v.ProcessVoiceInput(context.Background(), "q7")
	require.NoError(t, err)

	turns := client.lastTurns()
	require.Len(t, turns, 11)
	// q1 已经超出窗口
	assert.Equal(t, model.Turn{Role: model.MessageRoleUser, Content: "q2"}, turns[0])
	assert.Equal(t, model.Turn{Role: model.MessageRoleAssistant, Content: "reply-2"}, turns[1])
	assert.Equal(t, model.Turn{Role: model.MessageRoleUser, Content: "q6"}, turns[8])
	assert.Equal(t, model.Turn{Role: model.MessageRoleUser, Content: "q7"}, turns[10])

	// 展示列表本身不截断
	assert.Len(t, v.List(), 7)
}

func TestVoiceConversation_RejectsBlankInput(t *testing.T) {
	client := &fakeCompletion{}
	v := newTestVoice(client, &fakePlayer{})

	_, err := v.ProcessVoiceInput(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrEmptyInput))
	assert.EqualValues(t, 0, atomic.LoadInt32(&client.calls))
}

func TestVoiceConversation_RejectsOverlappingTurn(t *testing.T) {
	client := &fakeCompletion{
		hold:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	v := newTestVoice(client, &fakePlayer{})

	done := make(chan error, 1)
	go func() {
		_, err := v.ProcessVoiceInput(context.Background(), "first")
		done <- err
	}()
	<-client.started

	_, err := v.ProcessVoiceInput(context.Background(), "second")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVoiceBusy))
	assert.EqualValues(t, 1, atomic.LoadInt32(&client.calls))

	close(client.hold)
	require.NoError(t, <-done)
	assert.Len(t, v.List(), 1)
}

func TestVoiceConversation_FailureLeavesNoEntry(t *testing.T) {
	client := &fakeCompletion{synthErr: &CompletionError{StatusCode: 429, Body: "rate limited"}}
	v := newTestVoice(client, &fakePlayer{})

	_, err := v.ProcessVoiceInput(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, KindRemote, Normalize(err).Kind)
	assert.Empty(t, v.List())

	state := v.State()
	assert.False(t, state.Processing)
	require.NotNil(t, state.Error)

	// 失败后可以继续下一轮
	client.synthErr = nil
	_, err = v.ProcessVoiceInput(context.Background(), "hi")
	require.NoError(t, err)
	assert.Nil(t, v.State().Error)
}

func TestVoiceConversation_RequiresIdentity(t *testing.T) {
	client := &fakeCompletion{}
	v := NewVoiceConversation(client, &fakePlayer{}, nil, 5, nil)

	_, err := v.ProcessVoiceInput(context.Background(), "hi")
	assert.Equal(t, KindAuth, Normalize(err).Kind)
	assert.EqualValues(t, 0, atomic.LoadInt32(&client.calls))
}

func playingIDs(list []model.VoiceMessage) []string {
	var ids []string
	for _, m := range list {
		if m.IsPlaying {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func TestVoiceConversation_PlaybackIsExclusive(t *testing.T) {
	player := &fakePlayer{}
	v := newTestVoice(&fakeCompletion{}, player)
	ctx := context.Background()

	m1, err := v.ProcessVoiceInput(ctx, "q1")
	require.NoError(t, err)
	m2, err := v.ProcessVoiceInput(ctx, "q2")
	require.NoError(t, err)

	require.NoError(t, v.Play(ctx, m1.ID))
	assert.Equal(t, []string{m1.ID}, playingIDs(v.List()))
	assert.Equal(t, 0, player.stopCount())

	// 切换播放先停止上一段
	require.NoError(t, v.Play(ctx, m2.ID))
	assert.Equal(t, []string{m2.ID}, playingIDs(v.List()))
	assert.Equal(t, 1, player.stopCount())
	assert.Equal(t, []string{m1.AudioURI, m2.AudioURI}, player.plays)

	v.PlaybackFinished(m2.ID)
	assert.Empty(t, playingIDs(v.List()))

	require.NoError(t, v.Play(ctx, m1.ID))
	require.NoError(t, v.Stop(ctx))
	assert.Empty(t, playingIDs(v.List()))

	err = v.Play(ctx, "missing")
	assert.True(t, errors.Is(err, ErrVoiceNotFound))
}

func TestVoiceConversation_ClearStopsPlayback(t *testing.T) {
	player := &fakePlayer{}
	v := newTestVoice(&fakeCompletion{}, player)
	ctx := context.Background()

	m, err := v.ProcessVoiceInput(ctx, "q1")
	require.NoError(t, err)
	require.NoError(t, v.Play(ctx, m.ID))

	require.NoError(t, v.Clear(ctx))
	assert.Empty(t, v.List())
	assert.Equal(t, 1, player.stopCount())
}

func TestVoiceConversation_TurnFinishingAfterClearIsDropped(t *testing.T) {
	client := &fakeCompletion{
		hold:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	v := newTestVoice(client, &fakePlayer{})
	ctx := context.Background()

	type result struct {
		msg *model.VoiceMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := v.ProcessVoiceInput(ctx, "q1")
		done <- result{m, err}
	}()
	<-client.started

	require.NoError(t, v.Clear(ctx))
	close(client.hold)

	r := <-done
	require.NoError(t, r.err)
	assert.Nil(t, r.msg)
	assert.Empty(t, v.List())
	assert.False(t, v.State().Processing)

	// 清空之后的新一轮正常记录，且上下文里没有被丢弃的那一轮
	client.mu.Lock()
	client.hold, client.started = nil, nil
	client.mu.Unlock()
	m, err := v.ProcessVoiceInput(ctx, "q2")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Len(t, v.List(), 1)
	assert.Equal(t, []model.Turn{{Role: model.MessageRoleUser, Content: "q2"}}, client.lastTurns())
}
