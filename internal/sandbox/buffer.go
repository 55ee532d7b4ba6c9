package sandbox

import (
	"bytes"
	"sync"

	"github.com/parley-chat/parley/internal/pkg/logs"
)

// limitedBuffer keeps only the first max bytes and then discards, while
// still accepting writes so the child process never blocks on a full pipe.
type limitedBuffer struct {
	mu        sync.Mutex
	max       int
	data      []byte
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max, data: make([]byte, 0, min(max, 64*1024))}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return len(p), nil
	}
	remaining := b.max - len(b.data)
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.data = append(b.data, p[:remaining]...)
		b.truncated = true
	} else {
		b.data = append(b.data, p...)
	}
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

func (b *limitedBuffer) String() string { return string(b.Bytes()) }

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Tail returns the last n bytes, aligned to the following line break when
// one exists.
func (b *limitedBuffer) Tail(n int) string {
	data := b.Bytes()
	if len(data) <= n {
		return string(data)
	}
	tail := data[len(data)-n:]
	if idx := bytes.IndexByte(tail, '\n'); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return string(tail)
}

// stderrLogger tees child stderr into the log, line by line, on the way to
// the capped diagnostic buffer.
type stderrLogger struct {
	group   string
	sink    *limitedBuffer
	pending []byte
}

func newStderrLogger(group string, sink *limitedBuffer) *stderrLogger {
	return &stderrLogger{group: group, sink: sink}
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	_, _ = w.sink.Write(p)

	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(w.pending[:idx], "\r")
		if len(line) > 0 {
			logs.Debug("[sandbox:%s] stderr: %s", w.group, line)
		}
		w.pending = w.pending[idx+1:]
	}
	return len(p), nil
}

// flush logs any trailing partial line after the process exits.
func (w *stderrLogger) flush() {
	if len(w.pending) > 0 {
		logs.Debug("[sandbox:%s] stderr: %s", w.group, w.pending)
		w.pending = nil
	}
}
