package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatmate-server/internal/model"
	"chatmate-server/internal/service"
	"chatmate-server/pkg/logger"
)

// ErrClientClosed 连接已关闭，无法再下发指令
var ErrClientClosed = errors.New("连接已关闭")

// audioPathPrefix 音频下载地址前缀，对应 GET /api/v1/audio/:name
const audioPathPrefix = "/api/v1/audio/"

// Client 表示一个手机端 WebSocket 连接
// 同时是工作区的事件接收方和设备播放资源
type Client struct {
	hub       *Hub            // 所属的 Hub
	conn      *websocket.Conn // WebSocket 连接
	send      chan []byte     // 发送消息的通道
	id        string          // 连接ID，用于在线状态
	identity  *model.Identity // 当前用户
	workspace *service.Workspace

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // 保护 send 通道的关闭
	closed bool
}

// 连接配置常量
const (
	// 写超时时间
	writeWait = 10 * time.Second

	// 等待 Pong 响应的超时时间
	pongWait = 60 * time.Second

	// 发送 Ping 的间隔（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 消息最大大小（64KB）
	maxMessageSize = 64 * 1024

	// 发送缓冲区大小
	sendBufferSize = 256
)

// NewClient 创建新的客户端
// 参数:
//   - ctx: 连接级别上下文，连接关闭时取消
//   - hub: 所属的 Hub
//   - conn: 已升级的连接，测试中可以为 nil
//   - identity: 已认证的用户
func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, identity *model.Identity) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		id:       uuid.NewString(),
		identity: identity,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Attach 绑定工作区并推送初始状态
// 连接已关闭时直接释放工作区
func (c *Client) Attach(workspace *service.Workspace) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.workspace = workspace
	}
	c.mu.Unlock()

	if closed {
		workspace.Close()
		return
	}
	workspace.Start(c.ctx)
}

// ID 返回连接ID
func (c *Client) ID() string {
	return c.id
}

// OwnerID 返回连接所属用户ID
func (c *Client) OwnerID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.ID
}

// ReadPump 读取 WebSocket 消息的 goroutine
// 每个客户端连接启动一个 ReadPump
// 负责从 WebSocket 读取指令并交给工作区
func (c *Client) ReadPump() {
	// 确保退出时清理资源
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	// 每次收到 Pong，重置读取超时
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warnf("WebSocket read error: %v", err)
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debugf("Failed to parse message: %v", err)
			c.sendError("", "", service.Normalize(service.ErrInvalidRequest))
			continue
		}

		c.handleMessage(&msg)
	}
}

// WritePump 写入 WebSocket 消息的 goroutine
// 每个客户端连接启动一个 WritePump
// 负责从 send 通道读取消息并写入 WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				// send 通道已关闭
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 向客户端发送消息
// 缓冲区满时丢弃；快照类消息后续会被更新的快照覆盖
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		logger.Warnf("Client %s send buffer full, dropping %s", c.id, msg.Type)
		return nil
	}
}

// handleMessage 处理接收到的指令
// 可能等待远程调用的指令在独立 goroutine 中执行，读循环不被阻塞
func (c *Client) handleMessage(msg *inboundMessage) {
	if msg.Type == TypePing {
		c.SendMessage(NewMessageWithID(TypePong, nil, msg.MessageID))
		return
	}
	if c.workspace == nil {
		c.sendError(msg.Type, msg.MessageID, service.Normalize(service.ErrNotAuthenticated))
		return
	}

	ws := c.workspace
	switch msg.Type {
	case TypeChatSwitch:
		p, err := decodePayload[ChatSwitchPayload](msg.Payload)
		if err != nil || p.ChatID == "" {
			c.sendError(msg.Type, msg.MessageID, service.Normalize(service.ErrInvalidRequest))
			return
		}
		ws.Sessions().SwitchToChat(p.ChatID)

	case TypeChatNew:
		c.async(msg, func(ctx context.Context) error {
			_, err := ws.Sessions().CreateNewChat(ctx)
			return err
		})

	case TypeChatInit:
		c.async(msg, func(ctx context.Context) error {
			_, err := ws.Sessions().InitializeChat(ctx)
			return err
		})

	case TypeChatSend:
		p, err := decodePayload[ChatSendPayload](msg.Payload)
		if err != nil {
			c.sendError(msg.Type, msg.MessageID, service.Normalize(service.ErrInvalidRequest))
			return
		}
		c.async(msg, func(ctx context.Context) error {
			return ws.Send(ctx, p.Text, p.ModelID)
		})

	case TypeChatClear:
		c.async(msg, ws.Messages().ClearMessages)

	case TypeChatsWatch:
		if err := ws.WatchChats(c.ctx); err != nil {
			c.sendError(msg.Type, msg.MessageID, service.Normalize(err))
		}

	case TypeModelSelect:
		p, err := decodePayload[ModelSelectPayload](msg.Payload)
		if err != nil {
			c.sendError(msg.Type, msg.MessageID, service.Normalize(service.ErrInvalidRequest))
			return
		}
		c.async(msg, func(ctx context.Context) error {
			return ws.Models().Select(ctx, p.ModelID)
		})

	case TypeVoiceInput:
		p, err := decodePayload[VoiceInputPayload](msg.Payload)
		if err != nil {
			c.sendError(msg.Type, msg.MessageID, service.Normalize(service.ErrInvalidRequest))
			return
		}
		c.async(msg, func(ctx context.Context) error {
			_, err := ws.Voice().ProcessVoiceInput(ctx, p.Text)
			return err
		})

	case TypeVoicePlay:
		p, err := decodePayload[VoiceTargetPayload](msg.Payload)
		if err != nil {
			c.sendError(msg.Type, msg.MessageID, service.Normalize(service.ErrInvalidRequest))
			return
		}
		c.async(msg, func(ctx context.Context) error {
			return ws.Voice().Play(ctx, p.ID)
		})

	case TypeVoiceStop:
		c.async(msg, ws.Voice().Stop)

	case TypeVoiceFinished:
		p, err := decodePayload[VoiceTargetPayload](msg.Payload)
		if err != nil {
			c.sendError(msg.Type, msg.MessageID, service.Normalize(service.ErrInvalidRequest))
			return
		}
		ws.Voice().PlaybackFinished(p.ID)

	case TypeVoiceClear:
		c.async(msg, ws.Voice().Clear)

	default:
		logger.Debugf("Unknown message type: %s", msg.Type)
		c.sendError(msg.Type, msg.MessageID, service.Normalize(service.ErrInvalidRequest))
	}
}

// async 在独立 goroutine 中执行指令，失败时回复 error
func (c *Client) async(msg *inboundMessage, fn func(ctx context.Context) error) {
	msgType, msgID := msg.Type, msg.MessageID
	go func() {
		if err := fn(c.ctx); err != nil {
			c.sendError(msgType, msgID, service.Normalize(err))
		}
	}()
}

// sendError 回复一条 error 消息
func (c *Client) sendError(request, messageID string, appErr *service.AppError) {
	if appErr == nil {
		return
	}
	c.SendMessage(NewMessageWithID(TypeError, &ErrorPayload{
		Kind:    appErr.Kind,
		Message: appErr.Message,
		Request: request,
	}, messageID))
}

// Close 关闭客户端连接，释放工作区
// 可重复调用
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	workspace := c.workspace
	c.mu.Unlock()

	if workspace != nil {
		workspace.Close()
	}
	c.cancel()
}

// ==================== 工作区事件 ====================

var _ service.WorkspaceEvents = (*Client)(nil)

// SessionChanged 推送会话状态
func (c *Client) SessionChanged(state service.SessionState) {
	c.SendMessage(NewMessage(TypeSessionState, state))
}

// MessagesChanged 推送当前会话的消息快照
func (c *Client) MessagesChanged(state service.SyncState) {
	c.SendMessage(NewMessage(TypeMessagesSnapshot, state))
}

// ChatsChanged 推送会话列表快照，订阅出错时只带错误
func (c *Client) ChatsChanged(chats []*model.Chat, err *service.AppError) {
	c.SendMessage(NewMessage(TypeChatsSnapshot, &ChatsSnapshotPayload{Chats: chats, Error: err}))
}

// ModelChanged 推送当前模型和可选模型列表
func (c *Client) ModelChanged(modelID string) {
	payload := &ModelStatePayload{ModelID: modelID}
	if c.workspace != nil {
		payload.Models = c.workspace.Models().Catalog()
	}
	c.SendMessage(NewMessage(TypeModelState, payload))
}

// VoiceChanged 推送语音对话状态
func (c *Client) VoiceChanged(state service.VoiceState) {
	c.SendMessage(NewMessage(TypeVoiceState, state))
}

// ==================== 播放资源 ====================

var _ service.AudioPlayer = (*Client)(nil)

// Play 让设备播放一段合成音频
func (c *Client) Play(ctx context.Context, uri string) error {
	name := service.AudioName(uri)
	if name == "" {
		return service.ErrVoiceNotFound
	}
	return c.SendMessage(NewMessage(TypeAudioPlay, &AudioPlayPayload{URL: audioPathPrefix + name}))
}

// Stop 让设备停止播放
func (c *Client) Stop(ctx context.Context) error {
	return c.SendMessage(NewMessage(TypeAudioStop, nil))
}
