package channel

import (
	"context"
	"errors"
)

var ErrNoChannelForAddress = errors.New("no channel handles address")

// Channel is the boundary to one chat platform connector. The orchestration
// core only ever sends through this interface; protocol details (sockets,
// formatting, rate limits) live behind it.
type Channel interface {
	// ID returns the unique configured channel identifier.
	ID() string

	// SendMessage delivers text to the platform-specific target address.
	SendMessage(ctx context.Context, address string, text string) error

	// SendPhoto delivers an image file with an optional caption.
	SendPhoto(ctx context.Context, address string, path string, caption string) error

	// HandlesAddress reports whether the address belongs to this platform.
	HandlesAddress(address string) bool

	// HandlesGroup reports whether the group folder was created from this
	// platform's traffic.
	HandlesGroup(folder string) bool
}
