// Package util 提供通用工具函数
package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword 使用 bcrypt 哈希密码
// bcrypt 是一种专门为密码哈希设计的算法，自动添加盐值
// 参数:
//   - password: 明文密码
//
// 返回:
//   - string: 密码哈希值
//   - error: 哈希错误
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword 验证密码是否匹配
// 参数:
//   - password: 用户输入的明文密码
//   - hash: 数据库中存储的哈希值
//
// 返回:
//   - bool: 是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// HashToken 计算 Token 的 SHA256 哈希值
// 黑名单只保存哈希，不保存原始 Token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// GenerateUUID 生成 UUID
// 使用 Google 的 uuid 库生成 UUID v4
// 返回:
//   - string: UUID 字符串（不含连字符）
func GenerateUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsBlank 字符串去掉首尾空白后是否为空
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// RuneLen 按字符（而不是字节）计算长度
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// StringPtr 返回字符串的指针
// 用于可选字段的赋值
func StringPtr(s string) *string {
	return &s
}
