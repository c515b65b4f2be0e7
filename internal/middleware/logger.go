package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"chatmate-server/pkg/logger"
)

// LoggerMiddleware 创建请求日志中间件
// 记录每个请求的方法、路径、状态码和耗时
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"status":  status,
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
			"method":  c.Request.Method,
			"path":    path,
		})
		if userID := GetUserID(c); userID != "" {
			entry = entry.WithField("user_id", userID)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			entry = entry.WithField("error", errs)
		}

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
	}
}

// RecoveryMiddleware 创建 panic 恢复中间件
// 捕获处理器中的 panic，防止程序崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    http.StatusInternalServerError,
					"message": "服务器内部错误",
				})
			}
		}()

		c.Next()
	}
}
