// Package response 提供统一的 HTTP 响应格式
// 所有 API 都使用相同的响应结构，便于前端处理
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
// code: 业务状态码（0 表示成功）
// message: 提示信息
// data: 响应数据
type Response struct {
	Code    int         `json:"code"`           // 业务状态码
	Message string      `json:"message"`        // 提示信息
	Data    interface{} `json:"data,omitempty"` // 响应数据，可选
}

// 业务状态码定义
const (
	CodeSuccess          = 0    // 成功
	CodeBadRequest       = 1000 // 请求参数错误
	CodeUnauthorized     = 1001 // 未授权
	CodeNotFound         = 1003 // 资源不存在
	CodeInternalError    = 1004 // 服务器内部错误
	CodeUserExists       = 1101 // 用户已存在
	CodeUserNotFound     = 1102 // 用户不存在
	CodePasswordWrong    = 1103 // 密码错误
	CodeChatNotFound     = 1301 // 会话不存在
	CodeInvalidInput     = 1302 // 输入为空或超长
	CodeOperationBusy    = 1303 // 相同操作仍在进行中
	CodeUnknownModel     = 1401 // 模型不在目录中
	CodeCompletionFailed = 1501 // 补全 / 语音合成接口调用失败
)

// Success 返回成功响应
// 参数:
//   - c: Gin 上下文
//   - data: 响应数据，可以是任意类型
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 返回成功响应（带自定义消息）
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// ErrorWithCode 返回错误响应（带业务状态码）
// 参数:
//   - c: Gin 上下文
//   - httpCode: HTTP 状态码
//   - bizCode: 业务状态码
//   - message: 错误信息
func ErrorWithCode(c *gin.Context, httpCode, bizCode int, message string) {
	c.JSON(httpCode, Response{
		Code:    bizCode,
		Message: message,
	})
}

// BadRequest 返回 400 错误（请求参数错误）
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    CodeBadRequest,
		Message: message,
	})
}

// Unauthorized 返回 401 错误（未授权）
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}

// NotFound 返回 404 错误（资源不存在）
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Code:    CodeNotFound,
		Message: message,
	})
}

// InternalError 返回 500 错误（服务器内部错误）
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Code:    CodeInternalError,
		Message: message,
	})
}

// UserExists 返回用户已存在错误
func UserExists(c *gin.Context) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    CodeUserExists,
		Message: "邮箱已被注册",
	})
}

// UserNotFound 返回用户不存在错误
func UserNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{
		Code:    CodeUserNotFound,
		Message: "用户不存在",
	})
}

// PasswordWrong 返回密码错误
func PasswordWrong(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodePasswordWrong,
		Message: "密码错误",
	})
}

// ChatNotFound 返回会话不存在错误
func ChatNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{
		Code:    CodeChatNotFound,
		Message: "会话不存在",
	})
}

// InvalidInput 返回输入校验失败错误
func InvalidInput(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    CodeInvalidInput,
		Message: message,
	})
}

// OperationBusy 返回操作进行中错误
func OperationBusy(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Code:    CodeOperationBusy,
		Message: message,
	})
}

// UnknownModel 返回模型不存在错误
func UnknownModel(c *gin.Context) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    CodeUnknownModel,
		Message: "模型不存在",
	})
}

// CompletionFailed 返回上游 AI 接口调用失败
func CompletionFailed(c *gin.Context, message string) {
	c.JSON(http.StatusBadGateway, Response{
		Code:    CodeCompletionFailed,
		Message: message,
	})
}

// Created 返回 201 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "创建成功",
		Data:    data,
	})
}
