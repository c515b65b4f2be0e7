package cache

import (
	"context"
	"sync"
	"time"
)

var _ Cache = (*MemoryCache)(nil)

// MemoryCache 进程内实现的缓存
// storage.driver = memory 时使用，也用于测试
type MemoryCache struct {
	mu          sync.Mutex
	watchers    map[string]map[int]chan struct{}
	nextWatcher int
	blacklist   map[string]time.Time
	prefs       map[string]map[string]string
	activeChats map[string]string
	connections map[string]map[string]struct{}
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		watchers:    make(map[string]map[int]chan struct{}),
		blacklist:   make(map[string]time.Time),
		prefs:       make(map[string]map[string]string),
		activeChats: make(map[string]string),
		connections: make(map[string]map[string]struct{}),
	}
}

// ==================== 变更通知 ====================

// NotifyChange 向主题的所有订阅者发送信号
// 订阅者尚有未消费的信号时合并
func (c *MemoryCache) NotifyChange(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.watchers[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// WatchChanges 订阅主题
func (c *MemoryCache) WatchChanges(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextWatcher
	c.nextWatcher++

	ch := make(chan struct{}, 1)
	if c.watchers[topic] == nil {
		c.watchers[topic] = make(map[int]chan struct{})
	}
	c.watchers[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.watchers[topic], id)
			if len(c.watchers[topic]) == 0 {
				delete(c.watchers, topic)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// WatcherCount 返回主题当前的订阅者数量
func (c *MemoryCache) WatcherCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers[topic])
}

// ==================== JWT 黑名单 ====================

// BlacklistToken 将 Token 加入黑名单
func (c *MemoryCache) BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error {
	if time.Until(expireAt) <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blacklist[tokenHash] = expireAt
	return nil
}

// IsTokenBlacklisted 检查 Token 是否在黑名单中
func (c *MemoryCache) IsTokenBlacklisted(ctx context.Context, tokenHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	expireAt, ok := c.blacklist[tokenHash]
	if !ok {
		return false
	}
	if time.Now().After(expireAt) {
		delete(c.blacklist, tokenHash)
		return false
	}
	return true
}

// ==================== 用户偏好 ====================

// GetPreference 读取偏好值
func (c *MemoryCache) GetPreference(ctx context.Context, ownerID, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs[ownerID][key], nil
}

// SetPreference 写入偏好值
func (c *MemoryCache) SetPreference(ctx context.Context, ownerID, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prefs[ownerID] == nil {
		c.prefs[ownerID] = make(map[string]string)
	}
	c.prefs[ownerID][key] = value
	return nil
}

// ==================== 当前会话 ====================

// SetActiveChat 记录用户最近打开的会话
func (c *MemoryCache) SetActiveChat(ctx context.Context, ownerID, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chatID == "" {
		delete(c.activeChats, ownerID)
		return nil
	}
	c.activeChats[ownerID] = chatID
	return nil
}

// GetActiveChat 获取用户最近打开的会话
func (c *MemoryCache) GetActiveChat(ctx context.Context, ownerID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeChats[ownerID], nil
}

// ==================== 在线连接 ====================

// MarkConnectionOnline 登记一个在线连接
func (c *MemoryCache) MarkConnectionOnline(ctx context.Context, ownerID, connID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connections[ownerID] == nil {
		c.connections[ownerID] = make(map[string]struct{})
	}
	c.connections[ownerID][connID] = struct{}{}
	return nil
}

// MarkConnectionOffline 移除一个在线连接
func (c *MemoryCache) MarkConnectionOffline(ctx context.Context, ownerID, connID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.connections[ownerID], connID)
	if len(c.connections[ownerID]) == 0 {
		delete(c.connections, ownerID)
	}
	return nil
}

// CountConnections 统计用户的在线连接数
func (c *MemoryCache) CountConnections(ctx context.Context, ownerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.connections[ownerID])), nil
}

// Ping 内存实现始终可用
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close 内存实现无需释放资源
func (c *MemoryCache) Close() error {
	return nil
}
