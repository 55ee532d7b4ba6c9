package logs

import "context"

type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Logger is the minimal logging surface the rest of the process depends on.
// The default implementation wraps logrus; tests may swap in a capture logger
// via SetLogger.
type Logger interface {
	SetLevel(level LogLevel)
	GetLevel() LogLevel

	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})

	CtxDebug(ctx context.Context, format string, v ...interface{})
	CtxInfo(ctx context.Context, format string, v ...interface{})
	CtxWarn(ctx context.Context, format string, v ...interface{})
	CtxError(ctx context.Context, format string, v ...interface{})

	NewLogID() string
	GetLogID(ctx context.Context) string
	SetLogID(ctx context.Context, logID string) context.Context

	Flush()
}
