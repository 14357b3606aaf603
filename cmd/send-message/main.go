package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/danmakubot/danmaku-bridge/internal/conf"
	"github.com/danmakubot/danmaku-bridge/internal/mcp"
)

// send-message queues one danmaku through a running bridge
func main() {
	_ = godotenv.Load()

	args := os.Args[1:]
	req := mcp.SendRequest{}

	for len(args) > 1 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-p":
			p, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Printf("Error: invalid priority %q\n", args[1])
				os.Exit(1)
			}
			req.Priority = p
		case "-s":
			req.Preset = args[1]
		case "-u":
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				fmt.Printf("Error: invalid user id %q\n", args[1])
				os.Exit(1)
			}
			req.UserID = id
		default:
			fmt.Printf("Error: unknown flag %s\n", args[0])
			os.Exit(1)
		}
		args = args[2:]
	}

	if len(args) == 0 {
		fmt.Println("Usage: send-message [-p priority] [-s preset] [-u user_id] <text>")
		os.Exit(1)
	}
	req.Text = strings.Join(args, " ")

	cfg := conf.LoadFromEnv()
	client := mcp.NewClient(cfg.API.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg, err := client.Send(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Queued %s (priority %d, %s)\n", msg.ID, msg.Priority, msg.Status)
}
