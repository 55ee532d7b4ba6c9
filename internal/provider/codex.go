package provider

import (
	"github.com/bytedance/sonic"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/sandbox"
)

// codexProvider runs the codex agent image. Older codex images emit
// snake_case session fields, so its decoder normalizes both spellings.
type codexProvider struct {
	cfg config.ProviderConfig
}

var _ Provider = (*codexProvider)(nil)

func (p *codexProvider) Name() string { return p.cfg.ID }

func (p *codexProvider) Translate(base sandbox.Config, inv sandbox.Invocation) sandbox.Config {
	return translateCommon(p.cfg, base)
}

type codexWire struct {
	Status          string  `json:"status"`
	Result          *string `json:"result"`
	NewSessionID    string  `json:"newSessionId"`
	NewSessionSnake string  `json:"new_session_id"`
	SessionIDSnake  string  `json:"session_id"`
	Error           string  `json:"error"`
}

func (p *codexProvider) Decode(raw []byte) (*sandbox.WireResponse, error) {
	payload, _ := sandbox.ExtractPayload(string(raw))
	resp, err := sandbox.DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	if resp.NewSessionID != "" {
		return resp, nil
	}

	var alt codexWire
	if err := sonic.UnmarshalString(payload, &alt); err == nil {
		if alt.NewSessionSnake != "" {
			resp.NewSessionID = alt.NewSessionSnake
		} else if alt.SessionIDSnake != "" {
			resp.NewSessionID = alt.SessionIDSnake
		}
	}
	return resp, nil
}
