package store

import (
	"context"
	"fmt"
	"sync"

	"chatmate-server/internal/model"
)

// Snapshot 一次完整的有序快照
// Err 非空时 Items 为空，订阅继续，下一次变更会重新尝试
type Snapshot[T any] struct {
	Items []T
	Err   error
}

// Subscription 快照订阅
// 订阅时投递一次当前快照，之后每次变更再投递一次
// 消费方来不及读取时，旧快照被新快照替换
type Subscription[T any] struct {
	updates chan Snapshot[T]
	done    chan struct{}
	once    sync.Once
	stop    func()
	wg      sync.WaitGroup
}

// Updates 快照通道，Cancel 之后被关闭
func (s *Subscription[T]) Updates() <-chan Snapshot[T] {
	return s.updates
}

// Cancel 释放订阅，可重复调用
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.stop()
	})
	s.wg.Wait()
}

func subscribe[T any](ctx context.Context, n Notifier, topic string, query func(context.Context) ([]T, error)) (*Subscription[T], error) {
	signals, stop, err := n.WatchChanges(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", topic, err)
	}

	sub := &Subscription[T]{
		updates: make(chan Snapshot[T], 1),
		done:    make(chan struct{}),
		stop:    stop,
	}

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(sub.updates)

		// 先订阅再查询，查询之后的变更一定会触发下一次快照
		sub.deliver(ctx, query)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				sub.deliver(ctx, query)
			}
		}
	}()

	// 外部 ctx 结束时同样释放底层订阅
	go func() {
		select {
		case <-ctx.Done():
			sub.once.Do(func() {
				close(sub.done)
				sub.stop()
			})
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (s *Subscription[T]) deliver(ctx context.Context, query func(context.Context) ([]T, error)) {
	items, err := query(ctx)
	snap := Snapshot[T]{Items: items, Err: err}
	if err != nil {
		snap.Items = nil
	}

	// 只有本 goroutine 写入，丢弃未读的旧快照后发送不会阻塞
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}

// SubscribeToMessages 订阅会话消息
// 每次投递会话当前全部消息，按时间戳正序
func (s *DocumentStore) SubscribeToMessages(ctx context.Context, ownerID, chatID string) (*Subscription[*model.Message], error) {
	return subscribe(ctx, s.notifier, model.MessageTopic(ownerID, chatID), func(ctx context.Context) ([]*model.Message, error) {
		return s.ListMessages(ctx, ownerID, chatID)
	})
}

// SubscribeToChatList 订阅会话列表
// 每次投递有消息的会话，按最后活跃时间倒序
func (s *DocumentStore) SubscribeToChatList(ctx context.Context, ownerID string) (*Subscription[*model.Chat], error) {
	return subscribe(ctx, s.notifier, model.ChatTopic(ownerID), func(ctx context.Context) ([]*model.Chat, error) {
		return s.ListSessions(ctx, ownerID)
	})
}
