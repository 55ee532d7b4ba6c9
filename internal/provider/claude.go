package provider

import (
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/sandbox"
)

const (
	credentialsTarget = "/credentials"
	sessionsTarget    = "/sessions"
)

// claudeProvider runs the claude agent image. Its output follows the wire
// protocol exactly, so the default decoder applies.
type claudeProvider struct {
	cfg config.ProviderConfig
}

var _ Provider = (*claudeProvider)(nil)

func (p *claudeProvider) Name() string { return p.cfg.ID }

func (p *claudeProvider) Translate(base sandbox.Config, inv sandbox.Invocation) sandbox.Config {
	return translateCommon(p.cfg, base)
}

func (p *claudeProvider) Decode(raw []byte) (*sandbox.WireResponse, error) {
	return sandbox.DecodeOutput(raw)
}

// translateCommon applies the mount and env layout shared by both backends.
func translateCommon(pc config.ProviderConfig, base sandbox.Config) sandbox.Config {
	out := base
	out.Image = pc.Image
	out.ProviderTag = pc.ID

	out.Mounts = append([]sandbox.Mount{}, base.Mounts...)
	if pc.CredentialsDir != "" {
		out.Mounts = append(out.Mounts, sandbox.Mount{
			Source:   pc.CredentialsDir,
			Target:   credentialsTarget,
			ReadOnly: true,
		})
	}
	if pc.SessionsDir != "" {
		out.Mounts = append(out.Mounts, sandbox.Mount{
			Source: pc.SessionsDir,
			Target: sessionsTarget,
		})
	}

	if len(pc.Env) > 0 {
		env := make(map[string]string, len(base.Env)+len(pc.Env))
		for k, v := range base.Env {
			env[k] = v
		}
		for k, v := range pc.Env {
			env[k] = v
		}
		out.Env = env
	}
	return out
}
