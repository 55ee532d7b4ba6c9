package channel

import (
	"context"
	"strings"

	"github.com/parley-chat/parley/internal/pkg/logs"
)

const consolePrefix = "console:"

// Console is a loopback channel for local runs and tests. It claims
// addresses of the form "console:<name>" and logs outbound traffic instead
// of delivering it anywhere.
type Console struct {
	id string
}

func NewConsole(id string) *Console {
	if id == "" {
		id = "console"
	}
	return &Console{id: id}
}

func (c *Console) ID() string { return c.id }

func (c *Console) SendMessage(ctx context.Context, address string, text string) error {
	logs.CtxInfo(ctx, "[channel:console] -> %s: %s", address, text)
	return nil
}

func (c *Console) SendPhoto(ctx context.Context, address string, path string, caption string) error {
	logs.CtxInfo(ctx, "[channel:console] -> %s: photo %s (%s)", address, path, caption)
	return nil
}

func (c *Console) HandlesAddress(address string) bool {
	return strings.HasPrefix(address, consolePrefix)
}

func (c *Console) HandlesGroup(folder string) bool {
	return strings.HasPrefix(folder, "console-") || folder == "main"
}
