package logs

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

type lineFormatter struct {
	enableColor bool
}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05,000")
	level := strings.ToUpper(entry.Level.String())
	if f.enableColor {
		level = colorizeLevel(entry.Level, level)
	}

	skip := 9
	if entry.Context != nil {
		skip = 8
	}
	_, file, line, ok := runtime.Caller(skip)
	if ok {
		file = shortFilePath(file)
	}

	var logID any = ""
	if entry.Context != nil {
		if id := entry.Context.Value(ctxKeyLogID); id != nil {
			logID = id
		}
	}

	logLine := fmt.Sprintf("%s %s %s:%d %s %s\n",
		level,
		timestamp,
		file,
		line,
		logID,
		entry.Message,
	)
	return []byte(logLine), nil
}

// shortFilePath returns "dir/file.go" (two-level) when a parent directory
// exists, otherwise just "file.go".
func shortFilePath(fullPath string) string {
	dir, file := filepath.Split(fullPath)
	if dir == "" {
		return file
	}
	return filepath.Base(filepath.Clean(dir)) + "/" + file
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(p []byte) []byte {
	return ansiPattern.ReplaceAll(p, nil)
}

func shouldColorizeStdout(output string) bool {
	if output == "file" {
		return false
	}
	return !color.NoColor
}

var (
	colorDebug = color.New(color.FgCyan)
	colorInfo  = color.New(color.FgGreen)
	colorWarn  = color.New(color.FgYellow)
	colorError = color.New(color.FgRed)
)

func colorizeLevel(level logrus.Level, text string) string {
	switch level {
	case logrus.DebugLevel:
		return colorDebug.Sprint(text)
	case logrus.InfoLevel:
		return colorInfo.Sprint(text)
	case logrus.WarnLevel:
		return colorWarn.Sprint(text)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorError.Sprint(text)
	default:
		return text
	}
}
