package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one buffered log call made while serving a request.
type Entry struct {
	Level   string
	Message string
	At      time.Time
	Attrs   []slog.Attr
}

// Logger collects entries and attributes for a single unit of work so they
// can be emitted as one structured line by Flush.
type Logger struct {
	mu      sync.Mutex
	attrs   []slog.Attr
	entries []Entry
}

func New(attrs ...slog.Attr) *Logger {
	return &Logger{attrs: append([]slog.Attr(nil), attrs...)}
}

// Add attaches attributes to the flushed line.
func (l *Logger) Add(attrs ...slog.Attr) {
	l.mu.Lock()
	l.attrs = append(l.attrs, attrs...)
	l.mu.Unlock()
}

func (l *Logger) Debug(message string, attrs ...slog.Attr) { l.append("debug", message, attrs) }
func (l *Logger) Info(message string, attrs ...slog.Attr)  { l.append("info", message, attrs) }
func (l *Logger) Warn(message string, attrs ...slog.Attr)  { l.append("warn", message, attrs) }
func (l *Logger) Error(message string, attrs ...slog.Attr) { l.append("error", message, attrs) }

// Level reports the most severe level recorded so far.
func (l *Logger) Level() slog.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	level := slog.LevelInfo
	for _, entry := range l.entries {
		switch entry.Level {
		case "error":
			return slog.LevelError
		case "warn":
			level = slog.LevelWarn
		}
	}
	return level
}

// Flush returns every attribute plus the buffered entries as one group and
// resets the entries.
func (l *Logger) Flush() slog.Attr {
	l.mu.Lock()
	entries := l.entries
	l.entries = nil
	attrs := append([]slog.Attr(nil), l.attrs...)
	l.mu.Unlock()

	args := make([]any, 0, len(attrs)+1)
	for _, attr := range attrs {
		args = append(args, attr)
	}
	if len(entries) > 0 {
		args = append(args, slog.Any("entries", entriesToPayload(entries)))
	}
	return slog.Group("", args...)
}

func (l *Logger) append(level, message string, attrs []slog.Attr) {
	l.mu.Lock()
	l.entries = append(l.entries, Entry{
		Level:   level,
		Message: message,
		At:      time.Now(),
		Attrs:   append([]slog.Attr(nil), attrs...),
	})
	l.mu.Unlock()
}

func entriesToPayload(entries []Entry) []map[string]any {
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := attrsToMap(entry.Attrs)
		item["message"] = entry.Message
		item["level"] = entry.Level
		item["at"] = entry.At
		payload = append(payload, item)
	}
	return payload
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	result := map[string]any{}
	for _, attr := range attrs {
		if attr.Key == "" {
			if attr.Value.Kind() == slog.KindGroup {
				for key, value := range attrsToMap(attr.Value.Group()) {
					result[key] = value
				}
			}
			continue
		}
		if attr.Value.Kind() == slog.KindGroup {
			result[attr.Key] = attrsToMap(attr.Value.Group())
			continue
		}
		result[attr.Key] = attr.Value.Resolve().Any()
	}
	return result
}
