package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatmate-server/internal/metrics"
	"chatmate-server/internal/model"
	"chatmate-server/pkg/logger"
	"chatmate-server/pkg/util"
)

// MessageStore 发送消息依赖的存储能力
type MessageStore interface {
	AddMessage(ctx context.Context, ownerID, chatID, text string, isUser bool) (string, error)
	ListMessages(ctx context.Context, ownerID, chatID string) ([]*model.Message, error)
	ClearMessages(ctx context.Context, ownerID, chatID string) error
}

// SendGuard 按会话串行化发送
// 同一会话同时只允许一次发送，后来者直接被拒绝而不是排队
type SendGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewSendGuard 创建 SendGuard
func NewSendGuard() *SendGuard {
	return &SendGuard{inflight: make(map[string]struct{})}
}

// TryAcquire 尝试占用会话的发送权
func (g *SendGuard) TryAcquire(ownerID, chatID string) bool {
	key := ownerID + "/" + chatID

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[key]; busy {
		return false
	}
	g.inflight[key] = struct{}{}
	return true
}

// Release 释放会话的发送权
func (g *SendGuard) Release(ownerID, chatID string) {
	g.mu.Lock()
	delete(g.inflight, ownerID+"/"+chatID)
	g.mu.Unlock()
}

// Busy 会话是否有发送在进行中
func (g *SendGuard) Busy(ownerID, chatID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inflight[ownerID+"/"+chatID]
	return busy
}

// historyFunc 返回构建上下文用的已持久化消息
type historyFunc func(ctx context.Context) ([]*model.Message, error)

// exchange 一次"用户消息 → 补全 → 助手消息"往返
// WebSocket 工作区和 REST 接口共用
type exchange struct {
	store    MessageStore
	client   CompletionClient
	guard    *SendGuard
	maxInput int
}

// prepare 校验输入并占用会话的发送权
// 空白输入返回空字符串和 nil release，调用方直接忽略即可
func (e *exchange) prepare(ownerID, chatID, text string) (string, func(), error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, nil
	}
	if e.maxInput > 0 && util.RuneLen(trimmed) > e.maxInput {
		return "", nil, fmt.Errorf("%w: 最多 %d 个字符", ErrInputTooLong, e.maxInput)
	}
	if !e.guard.TryAcquire(ownerID, chatID) {
		return "", nil, ErrSendInProgress
	}
	return trimmed, func() { e.guard.Release(ownerID, chatID) }, nil
}

// run 按顺序执行：
//  1. 持久化用户消息
//  2. 用已有消息加上本轮输入构建上下文
//  3. 调用补全接口
//  4. 持久化助手回复
//
// 任何一步失败都立即返回，不会留下"生成中"的助手消息
func (e *exchange) run(ctx context.Context, ownerID, chatID, text, modelID string, history historyFunc) (*model.Message, error) {
	userMsgID, err := e.store.AddMessage(ctx, ownerID, chatID, text, true)
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	metrics.ObserveMessage(true)

	prior, err := history(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := buildTranscript(prior, userMsgID, text)

	reply, err := e.client.Complete(ctx, modelID, turns)
	if err != nil {
		logger.Errorf("completion for chat %s failed: %v", chatID, err)
		return nil, err
	}

	replyID, err := e.store.AddMessage(ctx, ownerID, chatID, reply, false)
	if err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	metrics.ObserveMessage(false)

	return &model.Message{
		ID:        replyID,
		ChatID:    chatID,
		UserID:    ownerID,
		Text:      reply,
		IsUser:    false,
		Timestamp: time.Now(),
	}, nil
}

// buildTranscript 构建发送给补全接口的上下文
// 排除欢迎语和刚写入的用户消息（它可能已经通过订阅到达），最后追加本轮输入
func buildTranscript(history []*model.Message, userMsgID, text string) []model.Turn {
	turns := make([]model.Turn, 0, len(history)+1)
	for _, m := range history {
		if m.IsWelcome() || m.ID == userMsgID || m.IsGenerating {
			continue
		}
		turns = append(turns, model.Turn{Role: m.Role(), Content: m.Text})
	}
	return append(turns, model.Turn{Role: model.MessageRoleUser, Content: text})
}
