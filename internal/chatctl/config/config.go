// Package config 管理 chatctl 客户端配置
// 配置保存在 ~/.chatmate/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config CLI 配置结构
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Chat   ChatConfig   `mapstructure:"chat"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	URL string `mapstructure:"url"` // HTTP API 地址
}

// AuthConfig 登录凭证
type AuthConfig struct {
	AccessToken  string `mapstructure:"access_token"`  // 用户访问 Token
	RefreshToken string `mapstructure:"refresh_token"` // 刷新 Token
	Email        string `mapstructure:"email"`         // 登录邮箱
}

// ChatConfig 本地会话状态
type ChatConfig struct {
	CurrentID string `mapstructure:"current_id"` // send 未指定会话时使用
}

// Store 一份已加载的配置文件
type Store struct {
	v    *viper.Viper
	path string
	cfg  Config
}

// DefaultDir 默认配置目录 ~/.chatmate
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("获取用户目录失败: %w", err)
	}
	return filepath.Join(home, ".chatmate"), nil
}

// Load 加载配置目录下的 config.yaml，不存在时创建
// 参数:
//   - dir: 配置目录
//
// 返回:
//   - *Store: 配置
//   - error: 目录无法创建或文件无法解析
func Load(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("创建配置目录失败: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// CHATMATE_SERVER_URL 覆盖服务器地址
	v.SetEnvPrefix("chatmate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("auth.access_token", "")
	v.SetDefault("auth.refresh_token", "")
	v.SetDefault("auth.email", "")
	v.SetDefault("chat.current_id", "")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("创建配置文件失败: %w", err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	s := &Store{v: v, path: path}
	if err := v.Unmarshal(&s.cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return s, nil
}

// Get 当前配置
func (s *Store) Get() Config {
	return s.cfg
}

// Path 配置文件路径
func (s *Store) Path() string {
	return s.path
}

// SetServerURL 修改服务器地址（只影响本次运行，SaveAuth 等写入时一并保存）
func (s *Store) SetServerURL(url string) {
	url = strings.TrimRight(url, "/")
	s.v.Set("server.url", url)
	s.cfg.Server.URL = url
}

// SaveAuth 保存登录凭证
func (s *Store) SaveAuth(email, accessToken, refreshToken string) error {
	s.v.Set("auth.email", email)
	s.v.Set("auth.access_token", accessToken)
	s.v.Set("auth.refresh_token", refreshToken)
	s.cfg.Auth = AuthConfig{AccessToken: accessToken, RefreshToken: refreshToken, Email: email}
	return s.v.WriteConfig()
}

// SaveAccessToken 刷新后只更新访问 Token
func (s *Store) SaveAccessToken(accessToken string) error {
	s.v.Set("auth.access_token", accessToken)
	s.cfg.Auth.AccessToken = accessToken
	return s.v.WriteConfig()
}

// SaveCurrentChat 保存当前会话
func (s *Store) SaveCurrentChat(chatID string) error {
	s.v.Set("chat.current_id", chatID)
	s.cfg.Chat.CurrentID = chatID
	return s.v.WriteConfig()
}

// Clear 清除本地凭证和会话
func (s *Store) Clear() error {
	s.v.Set("auth.email", "")
	s.v.Set("auth.access_token", "")
	s.v.Set("auth.refresh_token", "")
	s.v.Set("chat.current_id", "")
	s.cfg.Auth = AuthConfig{}
	s.cfg.Chat = ChatConfig{}
	return s.v.WriteConfig()
}

// IsLoggedIn 检查是否已登录
func (s *Store) IsLoggedIn() bool {
	return s.cfg.Auth.AccessToken != ""
}
