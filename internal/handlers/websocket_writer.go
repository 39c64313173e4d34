package handlers

import (
	"strings"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor/levels"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/arbor/writers"

	"github.com/ternarybob/quaero/internal/push"
)

const defaultLogStreamBufferSize = 1000

// defaultLogExcludePatterns drops noisy per-connection chatter that would
// otherwise drown the live log stream in its own traffic.
var defaultLogExcludePatterns = []string{
	"push channel subscriber connected",
	"push channel subscriber disconnected",
	"failed to push message to subscriber",
}

// WebSocketWriter is an arbor writer that forwards log entries to every
// push-channel subscriber via the push service's all-subscriber broadcast.
type WebSocketWriter struct {
	pusher          *push.Service
	writer          writers.IChannelWriter
	minLevel        levels.LogLevel
	excludePatterns []string
}

// NewWebSocketWriter creates an arbor writer that streams logs to push
// channel subscribers, filtered by minEventLevel.
func NewWebSocketWriter(pusher *push.Service, config models.WriterConfiguration, minEventLevel string) (*WebSocketWriter, error) {
	w := &WebSocketWriter{
		pusher:          pusher,
		minLevel:        parseLogLevel(minEventLevel),
		excludePatterns: defaultLogExcludePatterns,
	}

	processor := func(entry models.LogEvent) error {
		arborLevel := plogToArborLevel(entry.Level)
		if arborLevel < w.minLevel {
			return nil
		}
		for _, pattern := range w.excludePatterns {
			if strings.Contains(entry.Message, pattern) {
				return nil
			}
		}

		w.pusher.PushLogEntry(push.LogEntry{
			Timestamp: entry.Timestamp.Format("15:04:05"),
			Level:     mapLevel(arborLevel),
			Message:   entry.Message,
		})
		return nil
	}

	cw, err := writers.NewChannelWriter(config, defaultLogStreamBufferSize, processor)
	if err != nil {
		return nil, err
	}
	cw.Start()

	w.writer = cw
	return w, nil
}

func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}

// Write implements writers.IWriter.
func (w *WebSocketWriter) Write(data []byte) (int, error) {
	return w.writer.Write(data)
}

// WithLevel updates the minimum level broadcast and returns self, satisfying
// writers.IWriter's level-typed signature (phuslu/log.Level, via arbor).
func (w *WebSocketWriter) WithLevel(level plog.Level) writers.IWriter {
	w.minLevel = plogToArborLevel(level)
	return w
}

// GetFilePath returns empty string; this writer is not file-based.
func (w *WebSocketWriter) GetFilePath() string {
	return ""
}

// Close drains the buffer and stops the underlying channel writer.
func (w *WebSocketWriter) Close() error {
	return w.writer.Close()
}
