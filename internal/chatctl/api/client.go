// Package api 封装 chatctl 与服务器的 HTTP API 交互
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatmate-server/internal/model"
)

// ErrUnauthorized 凭证无效或已过期
var ErrUnauthorized = errors.New("未登录或登录已过期")

// Client API 客户端
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient 创建 API 客户端
// 参数:
//   - baseURL: 例如 http://localhost:8080
//   - accessToken: 需要鉴权的接口使用，可以为空
func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		// 同步发送需要等待补全完成
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// WithToken 返回使用新 Token 的客户端
func (c *Client) WithToken(accessToken string) *Client {
	cp := *c
	cp.accessToken = accessToken
	return &cp
}

// APIResponse 通用响应
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError 服务器返回的业务错误
type APIError struct {
	Status  int    // HTTP 状态码
	Code    int    // 业务状态码
	Message string // 错误信息
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 错误 (%d): %s", e.Code, e.Message)
}

// ==================== 认证 ====================

// TokenResponse 登录 / 注册响应
type TokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	User         *model.User `json:"user"`
}

// Login 使用邮箱密码登录
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	return &out, err
}

// Register 注册并登录
func (c *Client) Register(ctx context.Context, email, password, name string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	}, &out)
	return &out, err
}

// Refresh 用 Refresh Token 换取新的 Access Token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, &out)
	return out.AccessToken, err
}

// Logout 登出，同时作废 Refresh Token
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/auth/logout", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
}

// ==================== 会话 ====================

// ListChats 有消息的会话，最近活跃的在前
func (c *Client) ListChats(ctx context.Context) ([]*model.Chat, error) {
	var out struct {
		Chats []*model.Chat `json:"chats"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/chats", nil, &out)
	return out.Chats, err
}

// CreateChat 新建空会话
func (c *Client) CreateChat(ctx context.Context) (*model.Chat, error) {
	var out model.Chat
	err := c.call(ctx, http.MethodPost, "/api/v1/chats", nil, &out)
	return &out, err
}

// DeleteChats 删除会话，返回实际删除的数量
func (c *Client) DeleteChats(ctx context.Context, chatIDs []string) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/chats/batch-delete", map[string][]string{
		"chat_ids": chatIDs,
	}, &out)
	return out.Deleted, err
}

// ListMessages 会话消息，按时间正序
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]*model.Message, error) {
	var out struct {
		Messages []*model.Message `json:"messages"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/chats/"+chatID+"/messages", nil, &out)
	return out.Messages, err
}

// SendMessage 发送消息并等待回复
// modelID 为空时使用已选模型
func (c *Client) SendMessage(ctx context.Context, chatID, text, modelID string) (*model.Message, error) {
	var out model.Message
	err := c.call(ctx, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", map[string]string{
		"text":     text,
		"model_id": modelID,
	}, &out)
	return &out, err
}

// ==================== 模型 ====================

// ListModels 模型目录
func (c *Client) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	var out struct {
		Models []model.ModelInfo `json:"models"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/models", nil, &out)
	return out.Models, err
}

// Connections 当前账号在线的 WebSocket 连接数
func (c *Client) Connections(ctx context.Context) (int64, error) {
	var out struct {
		Connections int64 `json:"connections"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/user/connections", nil, &out)
	return out.Connections, err
}

// SelectedModel 已选模型
func (c *Client) SelectedModel(ctx context.Context) (string, error) {
	var out struct {
		ModelID string `json:"model_id"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/models/selected", nil, &out)
	return out.ModelID, err
}

// SelectModel 切换模型
func (c *Client) SelectModel(ctx context.Context, modelID string) error {
	return c.call(ctx, http.MethodPut, "/api/v1/models/selected", map[string]string{
		"model_id": modelID,
	}, nil)
}

// ==================== 通用请求封装 ====================

// call 发送请求并把 data 解析到 out，out 为 nil 时忽略 data
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("解析响应失败 (HTTP %d): %w", resp.StatusCode, err)
	}
	if apiResp.Code != 0 {
		return &APIError{Status: resp.StatusCode, Code: apiResp.Code, Message: apiResp.Message}
	}

	if out == nil || len(apiResp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}
