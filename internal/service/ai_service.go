package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"chatmate-server/internal/config"
	"chatmate-server/internal/metrics"
	"chatmate-server/internal/model"
	"chatmate-server/pkg/logger"
	"chatmate-server/pkg/util"
)

// CompletionClient 补全与语音合成客户端
// 每次调用都是一次独立的请求/响应，不保存状态
type CompletionClient interface {
	// Complete 根据有序的对话轮次生成一段回复
	Complete(ctx context.Context, modelID string, turns []model.Turn) (string, error)
	// Synthesize 把文本合成为音频，返回本地文件 URI (file://...)
	Synthesize(ctx context.Context, text string) (string, error)
}

// CompletionError 上游接口返回的错误
type CompletionError struct {
	StatusCode int    // HTTP 状态码，传输层错误时为 0
	Body       string // 上游返回的错误内容
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("failed to call AI service: %s", e.Body)
	}
	return fmt.Sprintf("AI service returned status %d: %s", e.StatusCode, e.Body)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// AIService 基于 go-openai 的补全与语音合成实现
type AIService struct {
	client *openai.Client
	cfg    config.OpenAIConfig
}

// NewAIService 创建 AIService 实例
func NewAIService(cfg config.OpenAIConfig) *AIService {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &AIService{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}
}

// Complete 调用 chat completion 接口
// 参数:
//   - ctx: 上下文
//   - modelID: 模型ID，如 gpt-3.5-turbo
//   - turns: 按时间正序的对话轮次
//
// 返回:
//   - string: 生成的回复
//   - error: 上游错误统一为 *CompletionError
func (s *AIService) Complete(ctx context.Context, modelID string, turns []model.Turn) (reply string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveRemoteCall("completion", start, err) }()

	if s.cfg.APIKey == "" {
		return "", &CompletionError{Body: "AI service not configured (missing API Key)"}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", toCompletionError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &CompletionError{StatusCode: http.StatusOK, Body: "AI returned no content"}
	}

	reply = strings.TrimSpace(resp.Choices[0].Message.Content)
	logger.Debugf("completion ok: model=%s turns=%d reply_len=%d", modelID, len(turns), len(reply))
	return reply, nil
}

// Synthesize 调用语音合成接口，音频写入本地缓存目录
// 返回:
//   - string: 音频文件 URI，如 file:///data/audio/xxx.mp3
//   - error: 上游错误统一为 *CompletionError
func (s *AIService) Synthesize(ctx context.Context, text string) (uri string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveRemoteCall("speech", start, err) }()

	if s.cfg.APIKey == "" {
		return "", &CompletionError{Body: "AI service not configured (missing API Key)"}
	}

	audio, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.cfg.TTSVoice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", toCompletionError(err)
	}
	defer audio.Close()

	if err := os.MkdirAll(s.cfg.AudioDir, 0755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	path := filepath.Join(s.cfg.AudioDir, util.GenerateUUID()+".mp3")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, audio); err != nil {
		os.Remove(path)
		return "", &CompletionError{Body: "read audio stream failed", Err: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// AudioName 从音频 URI 中取出文件名，用于拼接下载地址
func AudioName(uri string) string {
	if uri == "" {
		return ""
	}
	return filepath.Base(strings.TrimPrefix(uri, "file://"))
}

// toCompletionError 把 go-openai 的错误统一转换为 CompletionError
func toCompletionError(err error) *CompletionError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CompletionError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := reqErr.Error()
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &CompletionError{StatusCode: reqErr.HTTPStatusCode, Body: body, Err: err}
	}

	return &CompletionError{Body: err.Error(), Err: err}
}
