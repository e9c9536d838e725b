package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

var (
	// logger is the global logger instance
	logger *Logger
	once   sync.Once
)

// Logger wraps logrus with colored console output for run reports
type Logger struct {
	*logrus.Logger
	out    io.Writer
	green  *color.Color
	red    *color.Color
	cyan   *color.Color
	yellow *color.Color
	bold   *color.Color
}

// New returns the process-wide logger
func New() *Logger {
	once.Do(func() {
		logger = newLogger(os.Stdout)

		if os.Getenv("DEBUG") == "true" {
			logger.SetLevel(logrus.DebugLevel)
			logger.Logger.Info("Debug logging enabled")
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}
	})
	return logger
}

// NewConsole returns a standalone logger printing report lines to out
func NewConsole(out io.Writer) *Logger {
	return newLogger(out)
}

func newLogger(out io.Writer) *Logger {
	l := &Logger{
		Logger: logrus.New(),
		out:    out,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		cyan:   color.New(color.FgCyan),
		yellow: color.New(color.FgYellow),
		bold:   color.New(color.Bold),
	}
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006/01/02 15:04:05",
		FullTimestamp:   true,
		DisableSorting:  true,
	})
	return l
}

// Component returns an entry tagged with the component name
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Pass prints a green check line
func (l *Logger) Pass(format string, args ...interface{}) {
	l.green.Fprintf(l.out, "✔ %s\n", fmt.Sprintf(format, args...))
}

// Fail prints a red cross line
func (l *Logger) Fail(format string, args ...interface{}) {
	l.red.Fprintf(l.out, "✘ %s\n", fmt.Sprintf(format, args...))
}

// Skip prints a yellow line for steps that never ran
func (l *Logger) Skip(format string, args ...interface{}) {
	l.yellow.Fprintf(l.out, "- %s\n", fmt.Sprintf(format, args...))
}

// Title prints a bold header line
func (l *Logger) Title(format string, args ...interface{}) {
	l.bold.Fprintf(l.out, "%s\n", fmt.Sprintf(format, args...))
}

// Note prints a cyan detail line
func (l *Logger) Note(format string, args ...interface{}) {
	l.cyan.Fprintf(l.out, "  %s\n", fmt.Sprintf(format, args...))
}

// IsDebugEnabled returns whether debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.GetLevel() == logrus.DebugLevel
}
