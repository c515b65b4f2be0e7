package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmate-server/internal/cache"
	"chatmate-server/internal/model"
)

func startHub(t *testing.T, presence Presence) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(presence)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func TestHub_RegisterTracksPresence(t *testing.T) {
	mc := cache.NewMemoryCache()
	hub, _ := startHub(t, mc)
	identity := model.NewIdentity("u1", "u1@example.com", "tester")

	a := NewClient(context.Background(), hub, nil, identity)
	b := NewClient(context.Background(), hub, nil, identity)
	hub.Register(a)
	hub.Register(b)

	require.Eventually(t, func() bool {
		n, _ := mc.CountConnections(context.Background(), "u1")
		return hub.ClientCount("u1") == 2 && n == 2
	}, time.Second, 10*time.Millisecond)

	hub.Unregister(a)
	hub.Unregister(a)

	require.Eventually(t, func() bool {
		n, _ := mc.CountConnections(context.Background(), "u1")
		return hub.ClientCount("u1") == 1 && n == 1
	}, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, a.SendMessage(NewMessage(TypePong, nil)), ErrClientClosed)
}

func TestHub_StopClosesAllClients(t *testing.T) {
	mc := cache.NewMemoryCache()
	hub, cancel := startHub(t, mc)
	identity := model.NewIdentity("u2", "u2@example.com", "tester")

	c := NewClient(context.Background(), hub, nil, identity)
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ClientCount("u2") == 1 }, time.Second, 10*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		return c.SendMessage(NewMessage(TypePong, nil)) == ErrClientClosed
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, _ := mc.CountConnections(context.Background(), "u2")
		return hub.ClientCount("u2") == 0 && n == 0
	}, time.Second, 10*time.Millisecond)

	// Hub 停止后注册的连接立即关闭
	late := NewClient(context.Background(), hub, nil, identity)
	hub.Register(late)
	assert.ErrorIs(t, late.SendMessage(NewMessage(TypePong, nil)), ErrClientClosed)
}

func TestHub_NilPresence(t *testing.T) {
	hub, _ := startHub(t, nil)

	c := NewClient(context.Background(), hub, nil, model.NewIdentity("u3", "", ""))
	hub.Register(c)

	require.Eventually(t, func() bool { return hub.ClientCount("u3") == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount("nobody"))

	hub.Unregister(c)
	require.Eventually(t, func() bool { return hub.ClientCount("u3") == 0 }, time.Second, 10*time.Millisecond)
}
