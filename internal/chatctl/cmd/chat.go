package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"chatmate-server/internal/chatctl/api"
	"chatmate-server/internal/chatctl/wsclient"
	"chatmate-server/internal/model"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式聊天",
	Long: `进入交互式聊天，通过 WebSocket 实时同步当前会话。

输入文字后回车发送。可用指令:
  /new          新建会话
  /clear        清空当前会话
  /model <id>   切换模型
  /quit         退出`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// wsError 下行 error 消息
type wsError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// chatView 交互式会话的终端输出状态
type chatView struct {
	mu      sync.Mutex
	chatID  string
	seen    map[string]bool
	primed  bool
	modelID string
}

func runChat(cmd *cobra.Command, args []string) error {
	// 握手前确认 Token 有效，必要时刷新
	if err := withAuth(cmd.Context(), func(c *api.Client) error {
		_, err := c.SelectedModel(cmd.Context())
		return err
	}); err != nil {
		return err
	}

	cfg := store.Get()
	view := &chatView{seen: make(map[string]bool)}

	ws := wsclient.NewClient(cfg.Server.URL, cfg.Auth.AccessToken)
	ws.OnMessage(view.handle)
	if err := ws.Connect(); err != nil {
		return err
	}
	defer ws.Close()

	if cfg.Chat.CurrentID != "" {
		ws.Send("chat:switch", map[string]string{"chat_id": cfg.Chat.CurrentID})
	}
	// 本地记录的会话可能已在别处删除，由服务端校验并在需要时换成新会话
	ws.Send("chat:init", nil)

	fmt.Println("已连接，输入消息后回车发送，/quit 退出")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-sigChan:
			fmt.Println()
			return nil

		case <-ws.Done():
			return fmt.Errorf("连接已断开")

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatchLine(ws, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// dispatchLine 把一行输入转换为指令，返回是否退出
func dispatchLine(ws *wsclient.Client, line string) bool {
	var err error
	switch {
	case line == "":
		return false
	case line == "/quit" || line == "/exit":
		return true
	case line == "/new":
		_, err = ws.Send("chat:new", nil)
	case line == "/clear":
		_, err = ws.Send("chat:clear", nil)
	case strings.HasPrefix(line, "/model "):
		_, err = ws.Send("model:select", map[string]string{
			"model_id": strings.TrimSpace(strings.TrimPrefix(line, "/model ")),
		})
	default:
		_, err = ws.Send("chat:send", map[string]string{"text": line})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
	}
	return false
}

// handle 处理下行消息
func (v *chatView) handle(msg *wsclient.Message) {
	switch msg.Type {
	case "session:state":
		var state struct {
			ChatID string `json:"chat_id"`
		}
		if json.Unmarshal(msg.Payload, &state) == nil {
			v.switchTo(state.ChatID)
		}

	case "messages:snapshot":
		var state struct {
			ChatID   string           `json:"chat_id"`
			Messages []*model.Message `json:"messages"`
			Sending  bool             `json:"sending"`
			Error    *wsError         `json:"error"`
		}
		if json.Unmarshal(msg.Payload, &state) != nil {
			return
		}
		v.printNew(state.ChatID, state.Messages)
		if state.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ %s\n", state.Error.Message)
		}

	case "model:state":
		var state struct {
			ModelID string `json:"model_id"`
		}
		if json.Unmarshal(msg.Payload, &state) == nil {
			v.mu.Lock()
			changed := state.ModelID != v.modelID
			v.modelID = state.ModelID
			v.mu.Unlock()
			if changed {
				fmt.Printf("模型: %s\n", state.ModelID)
			}
		}

	case "error":
		var e wsError
		if json.Unmarshal(msg.Payload, &e) == nil {
			fmt.Fprintf(os.Stderr, "✗ %s\n", e.Message)
		}
	}
}

// switchTo 当前会话变化时重置已显示记录，并记住会话
func (v *chatView) switchTo(chatID string) {
	v.mu.Lock()
	changed := chatID != v.chatID
	if changed {
		v.chatID = chatID
		v.seen = make(map[string]bool)
		v.primed = false
	}
	v.mu.Unlock()

	if changed && chatID != "" {
		if err := store.SaveCurrentChat(chatID); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  保存当前会话失败: %v\n", err)
		}
		fmt.Printf("── 会话 %s ──\n", chatID)
	}
}

// printNew 显示新出现的回复；第一次快照显示全部历史
func (v *chatView) printNew(chatID string, msgs []*model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if chatID != v.chatID {
		return
	}

	for _, m := range msgs {
		if v.seen[m.ID] || m.IsGenerating {
			continue
		}
		v.seen[m.ID] = true
		if !v.primed || !m.IsUser {
			printMessage(m)
		}
	}
	v.primed = true
}
