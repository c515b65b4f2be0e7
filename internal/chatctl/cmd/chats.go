package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chatmate-server/internal/chatctl/api"
	"chatmate-server/internal/model"
)

// codeChatNotFound 服务端会话不存在的业务码
const codeChatNotFound = 1301

var (
	sendChatID  string
	sendModelID string
	sendNewChat bool
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "管理会话",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出会话，最近活跃的在前",
	RunE: func(cmd *cobra.Command, args []string) error {
		var chats []*model.Chat
		err := withAuth(cmd.Context(), func(c *api.Client) error {
			var err error
			chats, err = c.ListChats(cmd.Context())
			return err
		})
		if err != nil {
			return err
		}

		if len(chats) == 0 {
			fmt.Println("还没有会话")
			return nil
		}

		current := store.Get().Chat.CurrentID
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\t消息\t最后活跃\t内容")
		for _, chat := range chats {
			mark := ""
			if chat.ID == current {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", mark, chat.ID, chat.MessageCount,
				chat.LastActivity.Local().Format("01-02 15:04"), preview(chatLabel(chat), 40))
		}
		return w.Flush()
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>...",
	Short: "删除会话",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int64
		err := withAuth(cmd.Context(), func(c *api.Client) error {
			var err error
			n, err = c.DeleteChats(cmd.Context(), args)
			return err
		})
		if err != nil {
			return err
		}

		for _, id := range args {
			if id == store.Get().Chat.CurrentID {
				if err := store.SaveCurrentChat(""); err != nil {
					return err
				}
			}
		}
		fmt.Printf("✓ 已删除 %d 个会话\n", n)
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show [chat-id]",
	Short: "显示会话消息，默认当前会话",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID := store.Get().Chat.CurrentID
		if len(args) == 1 {
			chatID = args[0]
		}
		if chatID == "" {
			return errors.New("没有当前会话，请指定会话ID")
		}

		var msgs []*model.Message
		err := withAuth(cmd.Context(), func(c *api.Client) error {
			var err error
			msgs, err = c.ListMessages(cmd.Context(), chatID)
			return err
		})
		if err != nil {
			return err
		}

		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "发送一条消息并等待回复",
	Long: `发送一条消息并等待回复。

默认发送到当前会话；没有当前会话或使用 --new 时先新建会话。`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		ctx := cmd.Context()

		return withAuth(ctx, func(c *api.Client) error {
			chatID, err := resolveChat(ctx, c)
			if err != nil {
				return err
			}

			reply, err := c.SendMessage(ctx, chatID, text, sendModelID)
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.Code == codeChatNotFound && sendChatID == "" {
				// 保存的会话已被删除，换一个新会话重试
				if err := store.SaveCurrentChat(""); err != nil {
					return err
				}
				if chatID, err = resolveChat(ctx, c); err != nil {
					return err
				}
				reply, err = c.SendMessage(ctx, chatID, text, sendModelID)
			}
			if err != nil {
				return err
			}

			printMessage(reply)
			return nil
		})
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendChatID, "chat", "c", "", "会话ID")
	sendCmd.Flags().StringVarP(&sendModelID, "model", "m", "", "模型ID，默认使用已选模型")
	sendCmd.Flags().BoolVar(&sendNewChat, "new", false, "新建会话")

	chatsCmd.AddCommand(chatsListCmd, chatsDeleteCmd, chatsShowCmd)
	rootCmd.AddCommand(chatsCmd, sendCmd)
}

// resolveChat 决定发送目标：--chat > 当前会话 > 新建
func resolveChat(ctx context.Context, c *api.Client) (string, error) {
	if sendChatID != "" {
		return sendChatID, nil
	}
	if current := store.Get().Chat.CurrentID; current != "" && !sendNewChat {
		return current, nil
	}

	chat, err := c.CreateChat(ctx)
	if err != nil {
		return "", fmt.Errorf("新建会话失败: %w", err)
	}
	if err := store.SaveCurrentChat(chat.ID); err != nil {
		return "", err
	}
	return chat.ID, nil
}

func printMessage(m *model.Message) {
	who := "🤖"
	if m.IsUser {
		who = "🧑"
	}
	fmt.Printf("%s [%s] %s\n", who, m.Timestamp.Local().Format(time.TimeOnly), m.Text)
}

func chatLabel(chat *model.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return chat.LastText
}

// preview 截断为最多 n 个字符，换行替换为空格
func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
