package log

import (
	"context"
	"fmt"
	stdlog "log"
	"strings"
)

// logControlCharReplacer escapes control characters that can be used for log
// injection (CWE-117).
var logControlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func sanitizeLogString(s string) string {
	return logControlCharReplacer.Replace(s)
}

// GoLogger writes entries through the standard library logger.
//
// Messages and string field values are sanitized to prevent log injection.
type GoLogger struct {
	Level  Level
	fields []Field
	groups []string
	out    *stdlog.Logger
}

// NewGoLogger returns a GoLogger writing to the standard logger at the given level.
func NewGoLogger(level Level) *GoLogger {
	return &GoLogger{Level: level}
}

// Log implements Logger.
func (l *GoLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if !l.Enabled(level) {
		return
	}

	line := l.format(level, msg, fields)

	if l.out != nil {
		l.out.Print(line)
		return
	}

	stdlog.Print(line)
}

// With returns a child logger carrying additional fields.
//
//nolint:ireturn
func (l *GoLogger) With(fields ...Field) Logger {
	if l == nil {
		return &GoLogger{}
	}

	child := l.clone()
	child.fields = append(child.fields, fields...)

	return child
}

// WithGroup returns a child logger whose subsequent fields are prefixed by name.
//
//nolint:ireturn
func (l *GoLogger) WithGroup(name string) Logger {
	if l == nil {
		return &GoLogger{}
	}

	child := l.clone()
	if name != "" {
		child.groups = append(child.groups, name)
	}

	return child
}

// Enabled reports whether entries at level would be written.
func (l *GoLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}

	return l.Level >= level
}

// Sync is a no-op; the standard logger is unbuffered.
func (l *GoLogger) Sync(_ context.Context) error { return nil }

func (l *GoLogger) clone() *GoLogger {
	fields := make([]Field, len(l.fields))
	copy(fields, l.fields)

	groups := make([]string, len(l.groups))
	copy(groups, l.groups)

	return &GoLogger{Level: l.Level, fields: fields, groups: groups, out: l.out}
}

func (l *GoLogger) format(level Level, msg string, fields []Field) string {
	parts := make([]string, 0, 2+len(l.fields)+len(fields))
	parts = append(parts, fmt.Sprintf("[%s]", level.String()), sanitizeLogString(msg))

	prefix := strings.Join(l.groups, ".")
	if prefix != "" {
		prefix += "."
	}

	for _, f := range append(append([]Field{}, l.fields...), fields...) {
		parts = append(parts, fmt.Sprintf("%s%s=%s", prefix, sanitizeLogString(f.Key), formatValue(f.Value)))
	}

	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return sanitizeLogString(val)
	case error:
		if val == nil {
			return "<nil>"
		}

		return sanitizeLogString(val.Error())
	default:
		return sanitizeLogString(fmt.Sprint(val))
	}
}
