// Package logger 封装 logrus，提供全局的结构化日志
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// Init 初始化全局日志
// 参数:
//   - level: 日志级别 debug/info/warn/error
//   - format: 日志格式 json/text
func Init(level, format string) {
	log = newLogger(level, format, os.Stdout)
}

func newLogger(level, format string, out io.Writer) *logrus.Logger {
	l := logrus.New()

	// 设置日志级别
	switch level {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	// 设置日志格式
	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	l.SetOutput(out)
	return l
}

// L 返回全局 logger，未初始化时返回 logrus 的标准 logger
func L() *logrus.Logger {
	if log == nil {
		return logrus.StandardLogger()
	}
	return log
}

// WithFields 携带字段记录日志
func WithFields(fields logrus.Fields) *logrus.Entry {
	return L().WithFields(fields)
}

func Debugf(format string, args ...interface{}) {
	L().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	L().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	L().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	L().Errorf(format, args...)
}

// Fatalf 记录日志后退出进程，仅在启动阶段使用
func Fatalf(format string, args ...interface{}) {
	if log == nil {
		fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
		os.Exit(1)
	}
	log.Fatalf(format, args...)
}
