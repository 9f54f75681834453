// Command chat runs the direct-message chat server.
//
// Usage:
//
//	chat [serve|migrate] [flags]
//
// Settings come from CHAT_* environment variables; flags override them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yebrai/dmchat/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Stdout, os.Args[1:]); err != nil {
		log.Fatalf("chat: %v", err)
	}
}
