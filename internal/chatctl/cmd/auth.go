package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatmate-server/internal/chatctl/api"
)

var (
	loginEmail   string
	registerName string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "使用邮箱和密码登录",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password, err := promptCredentials(loginEmail)
		if err != nil {
			return err
		}

		client := api.NewClient(store.Get().Server.URL, "")
		tokens, err := client.Login(cmd.Context(), email, password)
		if err != nil {
			return fmt.Errorf("登录失败: %w", err)
		}
		return saveLogin(email, tokens)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "注册新账号并登录",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password, err := promptCredentials(loginEmail)
		if err != nil {
			return err
		}

		client := api.NewClient(store.Get().Server.URL, "")
		tokens, err := client.Register(cmd.Context(), email, password, registerName)
		if err != nil {
			return fmt.Errorf("注册失败: %w", err)
		}
		return saveLogin(email, tokens)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "登出并清除本地凭证",
	Long: `登出当前账号并清除本地保存的 token。

登出后需要重新运行 'chatmate login' 才能使用。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !store.IsLoggedIn() {
			fmt.Println("当前未登录")
			return nil
		}

		// 服务端登出失败不影响清除本地凭证
		c, _ := newClient()
		if err := c.Logout(cmd.Context(), store.Get().Auth.RefreshToken); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  服务端登出失败: %v\n", err)
		}

		if err := store.Clear(); err != nil {
			return fmt.Errorf("清除凭证失败: %w", err)
		}
		fmt.Println("✓ 已登出并清除本地凭证")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示当前登录状态和配置",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := store.Get()
		fmt.Printf("服务器:   %s\n", cfg.Server.URL)
		fmt.Printf("配置文件: %s\n", store.Path())
		if !store.IsLoggedIn() {
			fmt.Println("登录状态: ✗ 未登录")
			return
		}
		fmt.Printf("登录状态: ✓ %s\n", cfg.Auth.Email)
		if cfg.Chat.CurrentID != "" {
			fmt.Printf("当前会话: %s\n", cfg.Chat.CurrentID)
		}

		var n int64
		err := withAuth(cmd.Context(), func(c *api.Client) error {
			var err error
			n, err = c.Connections(cmd.Context())
			return err
		})
		if err != nil {
			fmt.Printf("在线设备: 未知 (%v)\n", err)
			return
		}
		fmt.Printf("在线设备: %d\n", n)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "登录邮箱")
	registerCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "登录邮箱")
	registerCmd.Flags().StringVarP(&registerName, "name", "n", "", "显示名称")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, statusCmd)
}

// promptCredentials 读取邮箱和密码，密码输入不回显
func promptCredentials(email string) (string, string, error) {
	if email == "" {
		fmt.Print("邮箱: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return "", "", errors.New("邮箱不能为空")
	}

	fmt.Print("密码: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("读取密码失败: %w", err)
	}
	password := strings.TrimSpace(string(passwordBytes))
	if password == "" {
		return "", "", errors.New("密码不能为空")
	}
	return email, password, nil
}

func saveLogin(email string, tokens *api.TokenResponse) error {
	if err := store.SaveAuth(email, tokens.AccessToken, tokens.RefreshToken); err != nil {
		return fmt.Errorf("保存登录信息失败: %w", err)
	}

	name := email
	if tokens.User != nil && tokens.User.Name != "" {
		name = tokens.User.Name
	}
	fmt.Printf("✅ 登录成功，欢迎 %s\n", name)
	return nil
}
