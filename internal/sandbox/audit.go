package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/pkg/logs"
)

// writeAudit records one invocation in its own file. Full captured streams
// are included only in verbose mode; otherwise only the stderr tail, and
// only on failure.
func (l *Launcher) writeAudit(cfg Config, inv Invocation, resp *Response, stdout, stderr *limitedBuffer) {
	if l.auditDir == "" {
		return
	}
	if err := os.MkdirAll(l.auditDir, 0o755); err != nil {
		logs.Warn("[sandbox] create audit dir: %v", err)
		return
	}

	now := time.Now()
	name := fmt.Sprintf("%s-%s.log", now.Format("20060102-150405.000"), sanitizeFileName(inv.GroupFolder))

	var b strings.Builder
	fmt.Fprintf(&b, "time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "group: %s\n", inv.GroupFolder)
	fmt.Fprintf(&b, "provider: %s\n", cfg.ProviderTag)
	fmt.Fprintf(&b, "unattended: %v\n", inv.Unattended)
	fmt.Fprintf(&b, "duration_ms: %d\n", resp.Duration.Milliseconds())
	fmt.Fprintf(&b, "exit_code: %d\n", resp.ExitCode)
	fmt.Fprintf(&b, "status: %s\n", resp.Status)
	if resp.ErrorDetail != "" {
		fmt.Fprintf(&b, "error: %s\n", resp.ErrorDetail)
	}

	if l.verbose {
		fmt.Fprintf(&b, "\n--- stdout ---\n%s\n--- stderr ---\n%s\n", stdout.String(), stderr.String())
	} else if resp.Status == StatusError {
		fmt.Fprintf(&b, "\n--- stderr tail ---\n%s\n", stderr.Tail(stderrTailBytes))
	}

	path := filepath.Join(l.auditDir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		logs.Warn("[sandbox] write audit file %s: %v", path, err)
	}
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
