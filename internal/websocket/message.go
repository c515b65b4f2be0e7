// Package websocket 提供 WebSocket 通信功能
// 手机端通过一条连接驱动自己的聊天工作区，并接收状态快照
package websocket

import (
	"encoding/json"
	"time"

	"chatmate-server/internal/model"
	"chatmate-server/internal/service"
)

// MessageType 消息类型常量
const (
	// 手机端 → 服务端：会话
	TypeChatSwitch = "chat:switch" // 切换到已有会话
	TypeChatNew    = "chat:new"    // 新建会话
	TypeChatInit   = "chat:init"   // 复用或新建当前会话
	TypeChatSend   = "chat:send"   // 发送消息
	TypeChatClear  = "chat:clear"  // 清空当前会话的消息
	TypeChatsWatch = "chats:watch" // 订阅会话列表

	// 手机端 → 服务端：模型与语音
	TypeModelSelect   = "model:select"   // 选择模型
	TypeVoiceInput    = "voice:input"    // 一轮语音输入（已转写）
	TypeVoicePlay     = "voice:play"     // 播放某条回复
	TypeVoiceStop     = "voice:stop"     // 停止播放
	TypeVoiceFinished = "voice:finished" // 设备播放结束
	TypeVoiceClear    = "voice:clear"    // 清空语音记录
	TypePing          = "ping"           // 心跳

	// 服务端 → 手机端
	TypeSessionState     = "session:state"     // 当前会话状态
	TypeMessagesSnapshot = "messages:snapshot" // 当前会话的完整消息列表
	TypeChatsSnapshot    = "chats:snapshot"    // 会话列表
	TypeModelState       = "model:state"       // 当前模型
	TypeVoiceState       = "voice:state"       // 语音对话状态
	TypeAudioPlay        = "audio:play"        // 让设备播放音频
	TypeAudioStop        = "audio:stop"        // 让设备停止播放

	// 通用
	TypeError = "error" // 错误消息
	TypePong  = "pong"  // 心跳响应
)

// Message WebSocket 消息结构
// 所有下行消息都使用这个统一的结构
type Message struct {
	Type      string      `json:"type"`                 // 消息类型
	Payload   interface{} `json:"payload"`              // 消息内容
	Timestamp int64       `json:"timestamp"`            // 时间戳（毫秒）
	MessageID string      `json:"message_id,omitempty"` // 消息ID，用于追踪
}

// inboundMessage 上行消息，Payload 延迟到分发时按类型解析
type inboundMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
}

// NewMessage 创建新消息
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewMessageWithID 创建带消息ID的新消息，ID 通常回显请求的 message_id
func NewMessageWithID(msgType string, payload interface{}, messageID string) *Message {
	msg := NewMessage(msgType, payload)
	msg.MessageID = messageID
	return msg
}

// decodePayload 解析上行消息的 Payload，空 Payload 得到零值
func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// ==================== Payload 类型定义 ====================

// ChatSwitchPayload 切换会话
type ChatSwitchPayload struct {
	ChatID string `json:"chat_id"`
}

// ChatSendPayload 发送消息，model_id 为空时使用当前选择的模型
type ChatSendPayload struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// ModelSelectPayload 选择模型
type ModelSelectPayload struct {
	ModelID string `json:"model_id"`
}

// VoiceInputPayload 语音输入
type VoiceInputPayload struct {
	Text string `json:"text"`
}

// VoiceTargetPayload 指定一条语音记录
type VoiceTargetPayload struct {
	ID string `json:"id"`
}

// ChatsSnapshotPayload 会话列表快照
type ChatsSnapshotPayload struct {
	Chats []*model.Chat     `json:"chats"`
	Error *service.AppError `json:"error,omitempty"`
}

// ModelStatePayload 当前模型与可选目录
type ModelStatePayload struct {
	ModelID string            `json:"model_id"`
	Models  []model.ModelInfo `json:"models"`
}

// AudioPlayPayload 播放指令
type AudioPlayPayload struct {
	URL string `json:"url"` // 相对下载地址，形如 /api/v1/audio/{name}
}

// ErrorPayload 错误消息 Payload
type ErrorPayload struct {
	Kind    service.ErrorKind `json:"kind"`              // 错误分类
	Message string            `json:"message"`           // 可展示的错误信息
	Request string            `json:"request,omitempty"` // 触发错误的上行消息类型
}
