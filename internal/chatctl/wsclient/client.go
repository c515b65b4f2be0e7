// Package wsclient 处理 chatctl 与服务器的 WebSocket 连接
package wsclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClosed 连接已关闭
var ErrClosed = errors.New("连接已关闭")

// Message WebSocket 消息结构
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// outbound 上行消息
type outbound struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// 心跳间隔
const pingInterval = 30 * time.Second

// Client WebSocket 客户端
type Client struct {
	url       string
	conn      *websocket.Conn
	sendChan  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onMessage func(*Message) // 消息回调
	onClose   func()         // 连接关闭回调
}

// NewClient 创建 WebSocket 客户端
// 参数:
//   - serverURL: HTTP 服务器地址（如 http://localhost:8080）
//   - token: 访问令牌，握手时放在 token 查询参数中
func NewClient(serverURL, token string) *Client {
	// 将 HTTP URL 转换为 WebSocket URL
	wsURL := strings.Replace(serverURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = fmt.Sprintf("%s/ws/mobile?token=%s", strings.TrimRight(wsURL, "/"), url.QueryEscape(token))

	return &Client{
		url:      wsURL,
		sendChan: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// OnMessage 设置消息回调，必须在 Connect 之前调用
func (c *Client) OnMessage(handler func(*Message)) {
	c.onMessage = handler
}

// OnClose 设置连接关闭回调，必须在 Connect 之前调用
func (c *Client) OnClose(handler func()) {
	c.onClose = handler
}

// Connect 连接到服务器
func (c *Client) Connect() error {
	conn, resp, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 401 {
			return fmt.Errorf("连接被拒绝，请重新登录: %w", err)
		}
		return fmt.Errorf("连接失败: %w", err)
	}
	c.conn = conn

	go c.readPump()
	go c.writePump()
	return nil
}

// Send 发送一条指令，返回消息ID
func (c *Client) Send(msgType string, payload interface{}) (string, error) {
	id := uuid.NewString()
	data, err := json.Marshal(&outbound{
		Type:      msgType,
		Payload:   payload,
		MessageID: id,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}

	select {
	case <-c.done:
		return "", ErrClosed
	default:
	}

	select {
	case c.sendChan <- data:
		return id, nil
	case <-c.done:
		return "", ErrClosed
	default:
		return "", fmt.Errorf("发送缓冲区已满")
	}
}

// Done 连接关闭时关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close 断开连接，可重复调用
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.conn.Close()
		}
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// readPump 读取消息
func (c *Client) readPump() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(&msg)
		}
	}
}

// writePump 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.sendChan:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			data, _ := json.Marshal(&outbound{Type: "ping", Timestamp: time.Now().UnixMilli()})
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
