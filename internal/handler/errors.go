package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"chatmate-server/internal/service"
	"chatmate-server/pkg/logger"
	"chatmate-server/pkg/response"
)

// respondError 把业务错误转换为统一响应
// fallback 是未识别错误时展示给用户的提示
func respondError(c *gin.Context, err error, fallback string) {
	appErr := service.Normalize(err)

	switch {
	case errors.Is(err, service.ErrNotAuthenticated):
		response.Unauthorized(c, appErr.Message)
	case errors.Is(err, service.ErrChatNotFound):
		response.ChatNotFound(c)
	case errors.Is(err, service.ErrSendInProgress), errors.Is(err, service.ErrVoiceBusy):
		response.OperationBusy(c, appErr.Message)
	case errors.Is(err, service.ErrUnknownModel):
		response.UnknownModel(c)
	case appErr.Kind == service.KindValidation:
		response.InvalidInput(c, appErr.Message)
	case appErr.Kind == service.KindNotFound:
		response.NotFound(c, appErr.Message)
	default:
		var compErr *service.CompletionError
		if errors.As(err, &compErr) {
			logger.Warnf("%s %s: %v", c.Request.Method, c.FullPath(), err)
			response.CompletionFailed(c, appErr.Message)
			return
		}
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		response.InternalError(c, fallback)
	}
}
