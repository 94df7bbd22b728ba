package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type logEntry struct {
	log *zap.Logger
}

func (l *logEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	l.log.Info("request completed",
		zap.Int("status", status),
		zap.Int("bytes", bytes),
		zap.Duration("elapsed", elapsed),
	)
}

func (l *logEntry) Panic(v any, stack []byte) {
	l.log.Error("request panicked", zap.Any("panic", v), zap.ByteString("stack", stack))
}

// logFormatter adapts chi's request logger to zap.
type logFormatter struct {
	log *zap.Logger
}

func (f *logFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &logEntry{log: f.log.With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)}
}
