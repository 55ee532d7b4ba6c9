package provider

import (
	"fmt"
	"strings"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/sandbox"
)

// Provider translates a generic invocation into backend-specific sandbox
// settings and absorbs the backend's output quirks. The Launcher and the
// Registry stay backend-agnostic; adding a backend means implementing this
// interface only.
type Provider interface {
	// Name returns the configured provider instance identifier, used as the
	// registry lookup key and the audit/metrics tag.
	Name() string

	// Translate resolves the base sandbox config (runtime, caps, group
	// mounts) into the final one: image, credential and session-state
	// mounts, backend env.
	Translate(base sandbox.Config, inv sandbox.Invocation) sandbox.Config

	// Decode parses raw sandbox stdout into the wire response shape.
	Decode(raw []byte) (*sandbox.WireResponse, error)
}

// FromConfig builds the concrete backend variant for one provider entry.
func FromConfig(pc config.ProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(pc.Type)) {
	case "claude":
		return &claudeProvider{cfg: pc}, nil
	case "codex":
		return &codexProvider{cfg: pc}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", pc.Type)
	}
}
