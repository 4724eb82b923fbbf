// Package logger provides slog-based logging helpers shared by all packages.
package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
)

// Module provides the application logger via fx
var Module = fx.Module("logger",
	fx.Provide(
		NewLogger,
		NewHTTPLogger,
	),
)

// Scope returns a slog attribute tagging log lines with a component scope,
// e.g. log.With(logger.Scope("router.svc"))
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error returns a slog attribute for an error value
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewLogger creates the application *slog.Logger.
// Level comes from LOG_LEVEL (debug/info/warn/error, default info).
// GO_ENV=production switches to the JSON handler; otherwise text.
func NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// HTTPLogger writes one JSON line per HTTP request to a dedicated log file.
// Disabled (no-op) when HTTP_LOG_FILE is unset.
type HTTPLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewHTTPLogger opens the HTTP request log file named by HTTP_LOG_FILE.
func NewHTTPLogger(log *slog.Logger) *HTTPLogger {
	path := os.Getenv("HTTP_LOG_FILE")
	if path == "" {
		return &HTTPLogger{}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn("failed to open HTTP log file, request logging to file disabled",
			slog.String("path", path), Error(err))
		return &HTTPLogger{}
	}
	return &HTTPLogger{file: file}
}

type httpLogEntry struct {
	Time      string `json:"time"`
	IP        string `json:"ip"`
	Method    string `json:"method"`
	URI       string `json:"uri"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// LogRequest appends a request entry to the HTTP log file.
func (h *HTTPLogger) LogRequest(ip, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	if h.file == nil {
		return
	}

	entry := httpLogEntry{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		IP:        ip,
		Method:    method,
		URI:       uri,
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		UserAgent: userAgent,
		RequestID: requestID,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.file.Write(append(line, '\n'))
}

// Close closes the underlying log file, if any.
func (h *HTTPLogger) Close() error {
	if h.file == nil {
		return nil
	}
	return h.file.Close()
}
