// Package cmd 实现 chatctl 命令
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatmate-server/internal/chatctl/api"
	"chatmate-server/internal/chatctl/config"
)

var (
	store     *config.Store
	serverURL string
	configDir string
)

var rootCmd = &cobra.Command{
	Use:   "chatmate",
	Short: "ChatMate 命令行客户端",
	Long: `ChatMate 命令行客户端

在终端中登录账号、管理会话、发送消息和切换模型。
首次使用请先运行 'chatmate login'。`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "服务器地址 (默认: http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "配置目录 (默认: ~/.chatmate)")
}

func initConfig(cmd *cobra.Command, args []string) error {
	dir := configDir
	if dir == "" {
		d, err := config.DefaultDir()
		if err != nil {
			return err
		}
		dir = d
	}

	s, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}
	if serverURL != "" {
		s.SetServerURL(serverURL)
	}
	store = s
	return nil
}

// newClient 使用已保存凭证的 API 客户端
func newClient() (*api.Client, error) {
	if !store.IsLoggedIn() {
		return nil, errors.New("当前未登录，请先运行 'chatmate login'")
	}
	cfg := store.Get()
	return api.NewClient(cfg.Server.URL, cfg.Auth.AccessToken), nil
}

// withAuth 执行需要登录的请求
// Access Token 过期时用 Refresh Token 换取新 Token 后重试一次
func withAuth(ctx context.Context, fn func(c *api.Client) error) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	err = fn(c)
	if !errors.Is(err, api.ErrUnauthorized) {
		return err
	}

	refresh := store.Get().Auth.RefreshToken
	if refresh == "" {
		return err
	}
	token, rerr := c.Refresh(ctx, refresh)
	if rerr != nil {
		return fmt.Errorf("登录已过期，请重新运行 'chatmate login': %w", rerr)
	}
	if err := store.SaveAccessToken(token); err != nil {
		return fmt.Errorf("保存 Token 失败: %w", err)
	}
	return fn(c.WithToken(token))
}
