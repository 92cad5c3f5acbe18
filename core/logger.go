package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) logLevel {
	switch strings.ToLower(s) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// StdLogger is the production Logger implementation. It writes one line per
// entry, JSON or key=value text by format, and can scope output to a named
// component via WithComponent.
type StdLogger struct {
	mu        sync.Mutex
	out       io.Writer
	level     logLevel
	format    string
	component string
}

// NewLogger creates a logger from the logging configuration.
func NewLogger(cfg LoggingConfig) *StdLogger {
	return &StdLogger{
		out:    os.Stdout,
		level:  parseLevel(cfg.Level),
		format: cfg.Format,
	}
}

// NewTestLogger returns a debug-level text logger writing to w. Intended
// for tests.
func NewTestLogger(w io.Writer) *StdLogger {
	return &StdLogger{out: w, level: levelDebug, format: "text"}
}

// WithComponent returns a logger that stamps every entry with the component
// name.
func (l *StdLogger) WithComponent(component string) Logger {
	return &StdLogger{
		out:       l.out,
		level:     l.level,
		format:    l.format,
		component: component,
	}
}

func (l *StdLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(levelDebug, "debug", msg, fields)
}

func (l *StdLogger) Info(msg string, fields map[string]interface{}) {
	l.log(levelInfo, "info", msg, fields)
}

func (l *StdLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(levelWarn, "warn", msg, fields)
}

func (l *StdLogger) Error(msg string, fields map[string]interface{}) {
	l.log(levelError, "error", msg, fields)
}

func (l *StdLogger) log(lv logLevel, name, msg string, fields map[string]interface{}) {
	if lv < l.level {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "text" {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s", now, strings.ToUpper(name))
		if l.component != "" {
			fmt.Fprintf(&b, " [%s]", l.component)
		}
		fmt.Fprintf(&b, " %s", msg)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
		fmt.Fprintln(l.out, b.String())
		return
	}

	entry := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = now
	entry["level"] = name
	entry["msg"] = msg
	if l.component != "" {
		entry["component"] = l.component
	}
	data, err := json.Marshal(entry)
	if err != nil {
		// Field values that cannot marshal fall back to a minimal entry.
		data, _ = json.Marshal(map[string]interface{}{
			"ts": now, "level": name, "msg": msg, "marshal_error": err.Error(),
		})
	}
	l.out.Write(append(data, '\n'))
}
