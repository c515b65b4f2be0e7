package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"chatmate-server/internal/model"
	"chatmate-server/pkg/logger"
	"chatmate-server/pkg/util"
)

// AudioPlayer 独占的音频播放资源
// WebSocket 连接把播放命令转发给设备
type AudioPlayer interface {
	Play(ctx context.Context, uri string) error
	Stop(ctx context.Context) error
}

// VoiceState 语音对话的可观察状态
type VoiceState struct {
	Messages   []model.VoiceMessage `json:"messages"` // 最新的在前
	Processing bool                 `json:"processing"`
	Error      *AppError            `json:"error,omitempty"`
}

// VoiceConversation 内存中的语音问答记录
// 同一时刻只处理一轮语音输入，重叠的输入直接拒绝
type VoiceConversation struct {
	client   CompletionClient
	player   AudioPlayer
	identity *model.Identity
	window   int
	modelOf  func() string

	playMu sync.Mutex // 持有期间独占播放资源

	mu         sync.Mutex
	messages   []*model.VoiceMessage
	clearGen   uint64 // 每次 Clear 加一，清空前开始的一轮结果作废
	processing bool
	err        *AppError
	onChange   func(VoiceState)
}

// NewVoiceConversation 创建 VoiceConversation
// 参数:
//   - client: 补全与语音合成客户端
//   - player: 播放资源
//   - identity: 当前用户，nil 表示未登录
//   - window: 构建上下文时携带的最近轮数
//   - modelOf: 返回当前选择的模型
func NewVoiceConversation(client CompletionClient, player AudioPlayer, identity *model.Identity, window int, modelOf func() string) *VoiceConversation {
	return &VoiceConversation{
		client:   client,
		player:   player,
		identity: identity,
		window:   window,
		modelOf:  modelOf,
	}
}

// OnChange 注册状态变化回调
func (v *VoiceConversation) OnChange(fn func(VoiceState)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// State 当前状态快照
func (v *VoiceConversation) State() VoiceState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

// List 全部语音记录，最新的在前
func (v *VoiceConversation) List() []model.VoiceMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.listLocked()
}

// ProcessVoiceInput 处理一轮语音输入（已完成语音识别的文本）
// 补全、语音合成任一步失败都不会留下记录；处理期间记录被清空时结果丢弃
// 返回:
//   - *model.VoiceMessage: 新增的记录，结果被丢弃时为 nil
//   - error: *AppError，上一轮未结束时为 ErrVoiceBusy
func (v *VoiceConversation) ProcessVoiceInput(ctx context.Context, text string) (*model.VoiceMessage, error) {
	if v.identity == nil {
		return nil, v.fail(ErrNotAuthenticated)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, Normalize(ErrEmptyInput)
	}

	v.mu.Lock()
	if v.processing {
		v.mu.Unlock()
		return nil, Normalize(ErrVoiceBusy)
	}
	v.processing = true
	v.err = nil
	gen := v.clearGen
	turns := v.contextLocked(text)
	state, fn := v.stateLocked(), v.onChange
	v.mu.Unlock()
	emit(fn, state)

	defer func() {
		v.mu.Lock()
		v.processing = false
		state, fn := v.stateLocked(), v.onChange
		v.mu.Unlock()
		emit(fn, state)
	}()

	modelID := ""
	if v.modelOf != nil {
		modelID = v.modelOf()
	}

	reply, err := v.client.Complete(ctx, modelID, turns)
	if err != nil {
		logger.Errorf("voice completion failed: %v", err)
		return nil, v.fail(err)
	}

	uri, err := v.client.Synthesize(ctx, reply)
	if err != nil {
		logger.Errorf("voice synthesis failed: %v", err)
		return nil, v.fail(err)
	}

	msg := &model.VoiceMessage{
		ID:            util.GenerateUUID(),
		UserText:      text,
		AssistantText: reply,
		AudioURI:      uri,
		CreatedAt:     time.Now(),
	}

	v.mu.Lock()
	if v.clearGen != gen {
		v.mu.Unlock()
		logger.Debugf("discard voice turn finished after clear")
		return nil, nil
	}
	v.messages = append([]*model.VoiceMessage{msg}, v.messages...)
	out := *msg
	v.mu.Unlock()

	return &out, nil
}

// contextLocked 最近 window 轮（最旧的在前）加上本轮输入
func (v *VoiceConversation) contextLocked(text string) []model.Turn {
	n := len(v.messages)
	if v.window >= 0 && n > v.window {
		n = v.window
	}

	turns := make([]model.Turn, 0, 2*n+1)
	for i := n - 1; i >= 0; i-- {
		m := v.messages[i]
		turns = append(turns,
			model.Turn{Role: model.MessageRoleUser, Content: m.UserText},
			model.Turn{Role: model.MessageRoleAssistant, Content: m.AssistantText},
		)
	}
	return append(turns, model.Turn{Role: model.MessageRoleUser, Content: text})
}

// ==================== 播放 ====================

// Play 播放指定记录的音频
// 先停止正在播放的音频，再独占播放资源
func (v *VoiceConversation) Play(ctx context.Context, id string) error {
	v.playMu.Lock()
	defer v.playMu.Unlock()

	v.mu.Lock()
	target := v.findLocked(id)
	wasPlaying := v.playingLocked()
	v.mu.Unlock()

	if target == nil || target.AudioURI == "" {
		return Normalize(ErrVoiceNotFound)
	}

	if wasPlaying {
		if err := v.player.Stop(ctx); err != nil {
			logger.Warnf("stop previous playback failed: %v", err)
		}
		v.setPlaying("")
	}

	if err := v.player.Play(ctx, target.AudioURI); err != nil {
		logger.Errorf("play voice %s failed: %v", id, err)
		return v.fail(err)
	}

	v.setPlaying(id)
	return nil
}

// Stop 停止播放
func (v *VoiceConversation) Stop(ctx context.Context) error {
	v.playMu.Lock()
	defer v.playMu.Unlock()

	v.setPlaying("")
	if err := v.player.Stop(ctx); err != nil {
		return v.fail(err)
	}
	return nil
}

// PlaybackFinished 设备报告播放结束
func (v *VoiceConversation) PlaybackFinished(id string) {
	v.mu.Lock()
	target := v.findLocked(id)
	if target == nil || !target.IsPlaying {
		v.mu.Unlock()
		return
	}
	target.IsPlaying = false
	state, fn := v.stateLocked(), v.onChange
	v.mu.Unlock()

	emit(fn, state)
}

// Clear 停止播放并清空记录
func (v *VoiceConversation) Clear(ctx context.Context) error {
	v.playMu.Lock()
	defer v.playMu.Unlock()

	v.mu.Lock()
	wasPlaying := v.playingLocked()
	v.messages = nil
	v.clearGen++
	v.err = nil
	state, fn := v.stateLocked(), v.onChange
	v.mu.Unlock()

	if wasPlaying {
		if err := v.player.Stop(ctx); err != nil {
			logger.Warnf("stop playback on clear failed: %v", err)
		}
	}

	emit(fn, state)
	return nil
}

// setPlaying 在一次操作中设置播放标记，其余记录全部清除
func (v *VoiceConversation) setPlaying(id string) {
	v.mu.Lock()
	for _, m := range v.messages {
		m.IsPlaying = id != "" && m.ID == id
	}
	state, fn := v.stateLocked(), v.onChange
	v.mu.Unlock()

	emit(fn, state)
}

func (v *VoiceConversation) playingLocked() bool {
	for _, m := range v.messages {
		if m.IsPlaying {
			return true
		}
	}
	return false
}

func (v *VoiceConversation) findLocked(id string) *model.VoiceMessage {
	for _, m := range v.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (v *VoiceConversation) fail(err error) error {
	appErr := Normalize(err)

	v.mu.Lock()
	v.err = appErr
	state, fn := v.stateLocked(), v.onChange
	v.mu.Unlock()

	emit(fn, state)
	return appErr
}

func (v *VoiceConversation) listLocked() []model.VoiceMessage {
	out := make([]model.VoiceMessage, 0, len(v.messages))
	for _, m := range v.messages {
		out = append(out, *m)
	}
	return out
}

func (v *VoiceConversation) stateLocked() VoiceState {
	return VoiceState{
		Messages:   v.listLocked(),
		Processing: v.processing,
		Error:      v.err,
	}
}
