package sandbox

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	// Sentinel lines bracketing the final JSON payload on stdout.
	OutputStartSentinel = "---OUTPUT_START---"
	OutputEndSentinel   = "---OUTPUT_END---"

	snippetLen = 400
)

// ExtractPayload locates the result JSON in raw stdout: the text between the
// two sentinel lines when both are present, otherwise the last non-empty
// line (legacy output without sentinels).
func ExtractPayload(raw string) (string, bool) {
	lines := strings.Split(raw, "\n")

	start, end := -1, -1
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case OutputStartSentinel:
			if start < 0 {
				start = i
			}
		case OutputEndSentinel:
			if start >= 0 {
				end = i
			}
		}
	}
	if start >= 0 && end > start {
		return strings.TrimSpace(strings.Join(lines[start+1:end], "\n")), true
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line, false
		}
	}
	return "", false
}

// DecodePayload parses the extracted payload into the wire response shape.
func DecodePayload(payload string) (*WireResponse, error) {
	if payload == "" {
		return nil, fmt.Errorf("empty sandbox output")
	}
	var resp WireResponse
	if err := sonic.UnmarshalString(payload, &resp); err != nil {
		return nil, fmt.Errorf("parse sandbox output: %w", err)
	}
	if resp.Status != string(StatusSuccess) && resp.Status != string(StatusError) {
		return nil, fmt.Errorf("sandbox output has unknown status %q", resp.Status)
	}
	return &resp, nil
}

// DecodeOutput is the default decoder: sentinel extraction followed by JSON
// parsing. Provider backends with quirkier output wrap or replace it.
func DecodeOutput(raw []byte) (*WireResponse, error) {
	payload, _ := ExtractPayload(string(raw))
	return DecodePayload(payload)
}

// Snippet truncates s for inclusion in error details.
func Snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= snippetLen {
		return s
	}
	return s[:snippetLen] + "..."
}
