package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"chatmate-server/internal/cache"
	"chatmate-server/internal/model"
	"chatmate-server/internal/repository"
	"chatmate-server/internal/store"
)

func newTestStore() *store.DocumentStore {
	repo := repository.NewMemoryRepository()
	return store.New(repo, repo, cache.NewMemoryCache())
}

func testIdentity() *model.Identity {
	return model.NewIdentity("u1", "u1@example.com", "tester")
}

// fakeCompletion 可编程的补全客户端
type fakeCompletion struct {
	mu       sync.Mutex
	replies  []string
	err      error
	synthErr error
	turns    [][]model.Turn
	models   []string
	calls    int32
	synths   int32
	hold     chan struct{} // 非 nil 时 Complete 等待它关闭
	started  chan struct{} // 每次进入 Complete 时写入
}

func (f *fakeCompletion) Complete(ctx context.Context, modelID string, turns []model.Turn) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)

	f.mu.Lock()
	f.turns = append(f.turns, append([]model.Turn(nil), turns...))
	f.models = append(f.models, modelID)
	hold, started := f.hold, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return fmt.Sprintf("reply-%d", n), nil
	}
	return f.replies[(int(n)-1)%len(f.replies)], nil
}

func (f *fakeCompletion) Synthesize(ctx context.Context, text string) (string, error) {
	n := atomic.AddInt32(&f.synths, 1)
	if f.synthErr != nil {
		return "", f.synthErr
	}
	return fmt.Sprintf("file:///tmp/audio/%d.mp3", n), nil
}

func (f *fakeCompletion) lastTurns() []model.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.turns) == 0 {
		return nil
	}
	return f.turns[len(f.turns)-1]
}

// fakePlayer 记录播放命令
type fakePlayer struct {
	mu    sync.Mutex
	plays []string
	stops int
	err   error
}

func (p *fakePlayer) Play(ctx context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.plays = append(p.plays, uri)
	return nil
}

func (p *fakePlayer) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}
