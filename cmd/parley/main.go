package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/parley-chat/parley/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "parley",
		Usage: "Chat relay that puts an AI agent in every conversation",
		Commands: []*cli.Command{
			serveHwd.cmd(),
			taskHwd.cmd(),
			providerHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
