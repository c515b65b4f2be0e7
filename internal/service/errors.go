// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatmate-server/internal/repository"
)

// 业务错误
var (
	ErrNotAuthenticated = errors.New("尚未登录")
	ErrChatNotFound     = errors.New("会话不存在")
	ErrEmptyInput       = errors.New("输入内容不能为空")
	ErrInputTooLong     = errors.New("输入内容超过长度限制")
	ErrSendInProgress   = errors.New("上一条消息仍在发送中")
	ErrVoiceBusy        = errors.New("上一轮语音对话仍在处理中")
	ErrUnknownModel     = errors.New("模型不存在")
	ErrVoiceNotFound    = errors.New("语音记录不存在")
	ErrMessageNotFound  = errors.New("消息不存在")
	ErrInvalidRequest   = errors.New("请求格式不正确")
)

// ErrorKind 错误分类
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"       // 未登录，拒绝操作
	KindRemote     ErrorKind = "remote"     // 补全、语音合成或存储调用失败
	KindNotFound   ErrorKind = "not_found"  // 引用的资源不存在
	KindValidation ErrorKind = "validation" // 输入为空、超长或重复提交
)

// AppError 对外暴露的统一错误
// Message 可以直接展示给用户，Err 保留原始错误用于日志
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Normalize 把任意错误转换为 AppError
// 原始的传输层错误不会离开组件边界
func Normalize(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return &AppError{Kind: KindAuth, Message: ErrNotAuthenticated.Error(), Err: err}
	case errors.Is(err, ErrEmptyInput),
		errors.Is(err, ErrInputTooLong),
		errors.Is(err, ErrSendInProgress),
		errors.Is(err, ErrVoiceBusy),
		errors.Is(err, ErrUnknownModel),
		errors.Is(err, ErrInvalidRequest):
		return &AppError{Kind: KindValidation, Message: rootMessage(err), Err: err}
	case errors.Is(err, ErrChatNotFound), errors.Is(err, repository.ErrChatNotFound):
		return &AppError{Kind: KindNotFound, Message: ErrChatNotFound.Error(), Err: err}
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, repository.ErrMessageNotFound):
		return &AppError{Kind: KindNotFound, Message: ErrMessageNotFound.Error(), Err: err}
	case errors.Is(err, ErrVoiceNotFound):
		return &AppError{Kind: KindNotFound, Message: ErrVoiceNotFound.Error(), Err: err}
	}

	var compErr *CompletionError
	if errors.As(err, &compErr) {
		msg := "AI 服务暂时不可用，请稍后再试"
		if compErr.StatusCode != 0 {
			msg = fmt.Sprintf("AI 服务请求失败 (%d)", compErr.StatusCode)
		}
		return &AppError{Kind: KindRemote, Message: msg, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Kind: KindRemote, Message: "请求超时，请稍后再试", Err: err}
	}

	return &AppError{Kind: KindRemote, Message: "操作失败，请稍后再试", Err: err}
}

// rootMessage 取被包装的业务错误的提示文字
// 形如 "%w: 细节" 的包装保留细节，例如长度上限；外层的调用路径前缀被去掉
func rootMessage(err error) string {
	for _, sentinel := range []error{
		ErrEmptyInput, ErrInputTooLong, ErrSendInProgress, ErrVoiceBusy, ErrUnknownModel, ErrInvalidRequest,
	} {
		if !errors.Is(err, sentinel) {
			continue
		}
		for e := err; e != nil; e = errors.Unwrap(e) {
			if strings.HasPrefix(e.Error(), sentinel.Error()) {
				return e.Error()
			}
		}
		return sentinel.Error()
	}
	return err.Error()
}
