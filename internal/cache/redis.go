// Package cache 提供 Redis 缓存操作的封装
// 处理变更通知、JWT 黑名单、用户偏好、在线连接等需要快速访问的数据
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chatmate-server/internal/config"
)

// Cache 缓存层提供的全部能力
// RedisCache 用于生产部署，MemoryCache 用于单机开发和测试
type Cache interface {
	NotifyChange(ctx context.Context, topic string) error
	WatchChanges(ctx context.Context, topic string) (<-chan struct{}, func(), error)
	BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
	GetPreference(ctx context.Context, ownerID, key string) (string, error)
	SetPreference(ctx context.Context, ownerID, key, value string) error
	SetActiveChat(ctx context.Context, ownerID, chatID string) error
	GetActiveChat(ctx context.Context, ownerID string) (string, error)
	MarkConnectionOnline(ctx context.Context, ownerID, connID string) error
	MarkConnectionOffline(ctx context.Context, ownerID, connID string) error
	CountConnections(ctx context.Context, ownerID string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ Cache = (*RedisCache)(nil)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例
// 参数:
//   - cfg: 应用配置（包含 Redis 连接信息）
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg *config.Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// ==================== 变更通知 ====================
// 文档存储每次写入后在对应主题上发布一条通知
// 订阅方收到通知后重新查询完整快照，因此通知本身不携带数据

// NotifyChange 发布变更通知
// 参数:
//   - ctx: 上下文
//   - topic: 通知主题，如 chat:{owner}:list
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) NotifyChange(ctx context.Context, topic string) error {
	return c.client.Publish(ctx, topic, time.Now().UnixNano()).Err()
}

// WatchChanges 订阅变更通知
// 返回前确认订阅已生效，调用方之后查询到的快照不会漏掉任何变更
// 连续的多条通知会合并成一次信号
// 参数:
//   - ctx: 上下文
//   - topic: 通知主题
//
// 返回:
//   - <-chan struct{}: 变更信号
//   - func(): 取消订阅，可重复调用
//   - error: 订阅失败
func (c *RedisCache) WatchChanges(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	pubsub := c.client.Subscribe(ctx, topic)

	// 等待订阅确认
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	signals := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(signals)
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case signals <- struct{}{}:
				default:
					// 已有未消费的信号，合并
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}
	return signals, cancel, nil
}

// ==================== JWT 黑名单 ====================
// 用于实现 Token 强制失效（登出）功能

// BlacklistToken 将 Token 加入黑名单
// 登出时调用，使当前 Token 失效
// 参数:
//   - ctx: 上下文
//   - tokenHash: Token 的哈希值（不存储原始 Token）
//   - expireAt: Token 的原始过期时间
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error {
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		// Token 已过期，无需加入黑名单
		return nil
	}

	// TTL 设置为 Token 的剩余有效期，过期后自动删除
	return c.client.Set(ctx, blacklistKey(tokenHash), "1", ttl).Err()
}

// IsTokenBlacklisted 检查 Token 是否在黑名单中
// JWT 验证中间件调用
func (c *RedisCache) IsTokenBlacklisted(ctx context.Context, tokenHash string) bool {
	return c.client.Exists(ctx, blacklistKey(tokenHash)).Val() > 0
}

// ==================== 用户偏好 ====================
// 每个用户一个 Hash：user:{owner}:prefs

// GetPreference 读取偏好值
// 不存在时返回空字符串
func (c *RedisCache) GetPreference(ctx context.Context, ownerID, key string) (string, error) {
	val, err := c.client.HGet(ctx, prefsKey(ownerID), key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// SetPreference 写入偏好值
func (c *RedisCache) SetPreference(ctx context.Context, ownerID, key, value string) error {
	return c.client.HSet(ctx, prefsKey(ownerID), key, value).Err()
}

// ==================== 当前会话 ====================

// SetActiveChat 记录用户最近打开的会话
// 重新连接时用于恢复当前会话，30 天未使用自动过期
func (c *RedisCache) SetActiveChat(ctx context.Context, ownerID, chatID string) error {
	if chatID == "" {
		return c.client.Del(ctx, activeChatKey(ownerID)).Err()
	}
	return c.client.Set(ctx, activeChatKey(ownerID), chatID, 30*24*time.Hour).Err()
}

// GetActiveChat 获取用户最近打开的会话
// 没有记录时返回空字符串
func (c *RedisCache) GetActiveChat(ctx context.Context, ownerID string) (string, error) {
	val, err := c.client.Get(ctx, activeChatKey(ownerID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// ==================== 在线连接 ====================
// 使用 Redis Set 存储用户当前的 WebSocket 连接

// MarkConnectionOnline 登记一个在线连接
func (c *RedisCache) MarkConnectionOnline(ctx context.Context, ownerID, connID string) error {
	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, connectionsKey(ownerID), connID)
	// 进程异常退出时靠过期时间兜底清理
	pipe.Expire(ctx, connectionsKey(ownerID), 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkConnectionOffline 移除一个在线连接
func (c *RedisCache) MarkConnectionOffline(ctx context.Context, ownerID, connID string) error {
	return c.client.SRem(ctx, connectionsKey(ownerID), connID).Err()
}

// CountConnections 统计用户的在线连接数
func (c *RedisCache) CountConnections(ctx context.Context, ownerID string) (int64, error) {
	return c.client.SCard(ctx, connectionsKey(ownerID)).Result()
}

// ==================== 通用方法 ====================

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func blacklistKey(tokenHash string) string {
	return fmt.Sprintf("jwt:blacklist:%s", tokenHash)
}

func prefsKey(ownerID string) string {
	return fmt.Sprintf("user:%s:prefs", ownerID)
}

func activeChatKey(ownerID string) string {
	return fmt.Sprintf("user:%s:active_chat", ownerID)
}

func connectionsKey(ownerID string) string {
	return fmt.Sprintf("user:%s:connections", ownerID)
}
