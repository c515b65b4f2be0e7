// Package main 是 chatmate 命令行客户端的入口点
package main

import "chatmate-server/internal/chatctl/cmd"

func main() {
	cmd.Execute()
}
