package websocket

import (
	"context"
	"sync"
	"time"

	"chatmate-server/internal/metrics"
	"chatmate-server/pkg/logger"
)

// Presence 记录用户的在线连接
type Presence interface {
	MarkConnectionOnline(ctx context.Context, ownerID, connID string) error
	MarkConnectionOffline(ctx context.Context, ownerID, connID string) error
}

// presenceTimeout 单次在线状态写入的超时
const presenceTimeout = 3 * time.Second

// Hub 是 WebSocket 连接的中心管理器
// 负责：
// 1. 管理所有手机端连接（一个用户可以有多个设备）
// 2. 同步在线状态
// 3. 服务关闭时断开全部连接
type Hub struct {
	// 用户ID -> 该用户的所有连接
	clients map[string][]*Client

	// 注册通道
	register chan *Client

	// 注销通道
	unregister chan *Client

	// 互斥锁，保护 clients
	mu sync.RWMutex

	presence Presence
	done     chan struct{}
}

// NewHub 创建 Hub 实例
// presence 为 nil 时不记录在线状态
func NewHub(presence Presence) *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   presence,
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 的主循环，ctx 结束时断开全部连接并返回
// 应该在单独的 goroutine 中运行
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	owner := client.OwnerID()
	h.clients[owner] = append(h.clients[owner], client)
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	h.markPresence(client, true)
	logger.Infof("Mobile client registered: userID=%s, conn=%s", owner, client.ID())
}

// unregisterClient 注销客户端
// 同一连接重复注销时只处理一次
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	owner := client.OwnerID()
	clients := h.clients[owner]
	found := false
	for i, c := range clients {
		if c == client {
			h.clients[owner] = append(clients[:i], clients[i+1:]...)
			found = true
			break
		}
	}
	// 如果没有连接了，删除 key
	if len(h.clients[owner]) == 0 {
		delete(h.clients, owner)
	}
	h.mu.Unlock()

	if !found {
		return
	}

	client.Close()
	metrics.ConnectedClients.Dec()
	h.markPresence(client, false)
	logger.Infof("Mobile client unregistered: userID=%s, conn=%s", owner, client.ID())
}

// closeAll 断开全部连接
func (h *Hub) closeAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string][]*Client)
	h.mu.Unlock()

	for _, clients := range all {
		for _, c := range clients {
			c.Close()
			metrics.ConnectedClients.Dec()
			h.markPresence(c, false)
		}
	}
}

// markPresence 更新缓存中的在线状态，失败只记录日志
func (h *Hub) markPresence(client *Client, online bool) {
	if h.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if online {
		err = h.presence.MarkConnectionOnline(ctx, client.OwnerID(), client.ID())
	} else {
		err = h.presence.MarkConnectionOffline(ctx, client.OwnerID(), client.ID())
	}
	if err != nil {
		logger.Warnf("Failed to update presence for %s: %v", client.OwnerID(), err)
	}
}

// ClientCount 返回用户在本实例上的连接数
func (h *Hub) ClientCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}
