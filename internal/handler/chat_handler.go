package handler

import (
	"github.com/gin-gonic/gin"

	"chatmate-server/internal/middleware"
	"chatmate-server/internal/service"
	"chatmate-server/pkg/response"
)

// ChatHandler 会话与消息请求处理器
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ==================== 会话 ====================

// ListChats 有消息的会话列表，按最后活跃时间倒序
// @Router /api/v1/chats [get]
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chatService.ListChats(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err, "获取会话列表失败")
		return
	}

	response.Success(c, gin.H{"chats": chats})
}

// CreateChat 新建空会话
// @Router /api/v1/chats [post]
func (h *ChatHandler) CreateChat(c *gin.Context) {
	chat, err := h.chatService.CreateChat(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err, "创建会话失败")
		return
	}

	response.Created(c, chat)
}

// GetChat 会话详情
// @Router /api/v1/chats/{id} [get]
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chatService.GetChat(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "获取会话失败")
		return
	}

	response.Success(c, chat)
}

// UpdateChat 修改会话标题
// @Router /api/v1/chats/{id} [put]
func (h *ChatHandler) UpdateChat(c *gin.Context) {
	var req service.UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	chat, err := h.chatService.RenameChat(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err, "修改会话失败")
		return
	}

	response.Success(c, chat)
}

// DeleteChat 删除会话及其消息
// @Router /api/v1/chats/{id} [delete]
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.chatService.DeleteChat(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		respondError(c, err, "删除会话失败")
		return
	}

	response.SuccessWithMessage(c, "会话已删除", nil)
}

// BatchDeleteChats 批量删除会话
// @Router /api/v1/chats/batch-delete [post]
func (h *ChatHandler) BatchDeleteChats(c *gin.Context) {
	var req service.BatchDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	n, err := h.chatService.BatchDeleteChats(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		respondError(c, err, "删除会话失败")
		return
	}

	response.Success(c, gin.H{"deleted": n})
}

// ==================== 消息 ====================

// ListMessages 会话消息，按时间正序
// @Router /api/v1/chats/{id}/messages [get]
func (h *ChatHandler) ListMessages(c *gin.Context) {
	msgs, err := h.chatService.ListMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "获取消息失败")
		return
	}

	response.Success(c, gin.H{"messages": msgs})
}

// SendMessage 发送消息并同步等待回复
// @Router /api/v1/chats/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	reply, err := h.chatService.SendMessage(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err, "发送消息失败")
		return
	}

	response.Success(c, reply)
}

// UpdateMessage 修改消息文本或生成中标记
// @Router /api/v1/chats/{id}/messages/{message_id} [patch]
func (h *ChatHandler) UpdateMessage(c *gin.Context) {
	var req service.UpdateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	err := h.chatService.UpdateMessage(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Param("message_id"), &req)
	if err != nil {
		respondError(c, err, "修改消息失败")
		return
	}

	response.SuccessWithMessage(c, "消息已更新", nil)
}

// ClearMessages 清空会话消息
// @Router /api/v1/chats/{id}/messages [delete]
func (h *ChatHandler) ClearMessages(c *gin.Context) {
	if err := h.chatService.ClearMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		respondError(c, err, "清空消息失败")
		return
	}

	response.SuccessWithMessage(c, "消息已清空", nil)
}
