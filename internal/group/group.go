package group

import (
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/consts"
)

// Group identifies one addressable chat context. Folder is the stable,
// filesystem-safe namespace key; it never changes after creation.
type Group struct {
	Folder  string `json:"folder"`
	Name    string `json:"name"`
	Address string `json:"address"`

	// TriggerPrefix gates activation outside the privileged main group.
	// Empty means every message activates the agent.
	TriggerPrefix string `json:"trigger_prefix,omitempty"`

	// Per-group sandbox overrides.
	ExtraMounts []MountOverride `json:"extra_mounts,omitempty"`
	TimeoutSec  int             `json:"timeout_sec,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type MountOverride struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Session is the backend continuation token for one (group, provider) pair.
type Session struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (g *Group) Privileged() bool {
	return g.Folder == consts.MainGroupFolder
}

// Activates reports whether text triggers an agent run for this group and
// returns the prompt with the trigger prefix stripped.
func (g *Group) Activates(text string) (string, bool) {
	if g.Privileged() || g.TriggerPrefix == "" {
		return text, true
	}
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, g.TriggerPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, g.TriggerPrefix)), true
}

// FolderFromAddress derives a filesystem-safe folder identifier from an
// external address.
func FolderFromAddress(address string) string {
	folder := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, address)
	folder = strings.Trim(folder, "-")
	if folder == "" {
		folder = "group"
	}
	return folder
}
