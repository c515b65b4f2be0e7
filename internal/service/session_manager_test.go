package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSessionStore 统计存储往返次数，可按会话ID阻塞
type countingSessionStore struct {
	mu        sync.Mutex
	existing  map[string]bool
	hold      map[string]chan struct{}
	createErr error
	creates   int32
	checks    int32
}

func newCountingSessionStore(existing ...string) *countingSessionStore {
	s := &countingSessionStore{
		existing: make(map[string]bool),
		hold:     make(map[string]chan struct{}),
	}
	for _, id := range existing {
		s.existing[id] = true
	}
	return s
}

func (s *countingSessionStore) CreateSession(ctx context.Context, ownerID string) (string, error) {
	n := atomic.AddInt32(&s.creates, 1)
	if s.createErr != nil {
		return "", s.createErr
	}
	id := fmt.Sprintf("chat-%d", n)

	s.mu.Lock()
	s.existing[id] = true
	s.mu.Unlock()
	return id, nil
}

func (s *countingSessionStore) SessionExists(ctx context.Context, ownerID, chatID string) (bool, error) {
	atomic.AddInt32(&s.checks, 1)

	s.mu.Lock()
	hold := s.hold[chatID]
	s.mu.Unlock()
	if hold != nil {
		<-hold
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[chatID], nil
}

func (s *countingSessionStore) block(chatID string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold[chatID] = ch
	s.mu.Unlock()
	return ch
}

func TestSessionManager_RequiresIdentity(t *testing.T) {
	st := newCountingSessionStore()
	m := NewSessionManager(st, nil)

	_, err := m.CreateNewChat(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindAuth, Normalize(err).Kind)

	_, err = m.InitializeChat(context.Background())
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
	assert.EqualValues(t, 0, atomic.LoadInt32(&st.creates))
	require.NotNil(t, m.State().Error)
}

func TestSessionManager_InitializeCreatesWhenUnbound(t *testing.T) {
	st := newCountingSessionStore()
	m := NewSessionManager(st, testIdentity())

	id, err := m.InitializeChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "chat-1", id)
	assert.Equal(t, "chat-1", m.CurrentChatID())
	assert.False(t, m.State().Initializing)
	assert.EqualValues(t, 0, atomic.LoadInt32(&st.checks))
}

func TestSessionManager_InitializeKeepsExistingChat(t *testing.T) {
	st := newCountingSessionStore("c1")
	m := NewSessionManager(st, testIdentity())
	m.SwitchToChat("c1")

	id, err := m.InitializeChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
	assert.EqualValues(t, 0, atomic.LoadInt32(&st.creates))
	assert.EqualValues(t, 1, atomic.LoadInt32(&st.checks))
}

func TestSessionManager_InitializeReplacesMissingChat(t *testing.T) {
	st := newCountingSessionStore()
	m := NewSessionManager(st, testIdentity())
	m.SwitchToChat("gone")

	id, err := m.InitializeChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "chat-1", id)
	assert.Equal(t, "chat-1", m.CurrentChatID())
}

func TestSessionManager_ConcurrentInitializeSharesOneRoundTrip(t *testing.T) {
	st := newCountingSessionStore("c1")
	release := st.block("c1")
	m := NewSessionManager(st, testIdentity())
	m.SwitchToChat("c1")

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	run := func(i int) {
		defer wg.Done()
		results[i], errs[i] = m.InitializeChat(context.Background())
	}

	wg.Add(1)
	go run(0)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&st.checks) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.State().Initializing)

	wg.Add(1)
	go run(1)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "c1", results[0])
	assert.Equal(t, "c1", results[1])
	assert.EqualValues(t, 1, atomic.LoadInt32(&st.checks))
	assert.EqualValues(t, 0, atomic.LoadInt32(&st.creates))
	assert.False(t, m.State().Initializing)
}

func TestSessionManager_SwitchDiscardsInFlightInitialization(t *testing.T) {
	// A 已经不存在，初始化会尝试替换它
	st := newCountingSessionStore("B")
	releaseA := st.block("A")
	m := NewSessionManager(st, testIdentity())
	m.SwitchToChat("A")

	done := make(chan string, 1)
	go func() {
		id, _ := m.InitializeChat(context.Background())
		done <- id
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&st.checks) == 1 }, time.Second, 5*time.Millisecond)

	m.SwitchToChat("B")
	assert.False(t, m.State().Initializing)

	// B 的初始化不被 A 的进行中状态短路
	id, err := m.InitializeChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", id)
	assert.EqualValues(t, 2, atomic.LoadInt32(&st.checks))

	close(releaseA)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("initialization of A did not finish")
	}

	// A 的过期结果不会覆盖当前会话
	assert.Equal(t, "B", m.CurrentChatID())
	assert.False(t, m.State().Initializing)
}

func TestSessionManager_FailureReleasesGuard(t *testing.T) {
	st := newCountingSessionStore()
	st.createErr = errors.New("store unavailable")
	m := NewSessionManager(st, testIdentity())

	_, err := m.InitializeChat(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindRemote, Normalize(err).Kind)

	state := m.State()
	assert.False(t, state.Initializing)
	require.NotNil(t, state.Error)

	// 守卫已释放，可以重试
	st.createErr = nil
	id, err := m.InitializeChat(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Nil(t, m.State().Error)
}

func TestSessionManager_CreateNewChatSwitches(t *testing.T) {
	st := newCountingSessionStore("c1")
	m := NewSessionManager(st, testIdentity())
	m.SwitchToChat("c1")

	var states []SessionState
	m.OnChange(func(s SessionState) { states = append(states, s) })

	id, err := m.CreateNewChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, m.CurrentChatID())
	require.NotEmpty(t, states)
	assert.Equal(t, id, states[len(states)-1].ChatID)
}
