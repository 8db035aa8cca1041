// Package observability provides structured logging with sensitive-data
// redaction and Prometheus metrics for the execution harness.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `json:"level" yaml:"level"`

	// Format is "json" (production) or "text" (development).
	Format string `json:"format" yaml:"format"`

	// Output defaults to os.Stdout.
	Output io.Writer `json:"-" yaml:"-"`

	// AddSource includes file and line in records.
	AddSource bool `json:"add_source" yaml:"add_source"`

	// RedactPatterns are additional regexes redacted from log output on
	// top of the defaults.
	RedactPatterns []string `json:"redact_patterns,omitempty" yaml:"redact_patterns"`
}

// ContextKey is the type for log correlation context keys.
type ContextKey string

const (
	SessionIDKey ContextKey = "session_id"
	OrgIDKey     ContextKey = "org_id"
	AgentIDKey   ContextKey = "agent_id"
	ChannelKey   ContextKey = "channel"
)

// defaultRedactPatterns covers the secrets most likely to leak into log
// lines: provider API keys, bearer tokens, passwords.
var defaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9]{40,}`,
}

// NewLogger creates a structured slog logger with redaction applied to
// every record through the handler, so call sites stay plain slog.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	redacts := make([]*regexp.Regexp, 0, len(defaultRedactPatterns)+len(cfg.RedactPatterns))
	for _, pattern := range append(append([]string{}, defaultRedactPatterns...), cfg.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Value.Kind() == slog.KindString {
				attr.Value = slog.StringValue(redact(redacts, attr.Value.String()))
			}
			return attr
		},
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

func redact(redacts []*regexp.Regexp, s string) string {
	for _, re := range redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithContext returns a logger carrying the correlation ids present in the
// context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, key := range []ContextKey{SessionIDKey, OrgIDKey, AgentIDKey, ChannelKey} {
		if value, ok := ctx.Value(key).(string); ok && value != "" {
			logger = logger.With(string(key), value)
		}
	}
	return logger
}

// ContextWith attaches correlation ids for downstream log lines.
func ContextWith(ctx context.Context, sessionID, orgID, agentID, channel string) context.Context {
	if sessionID != "" {
		ctx = context.WithValue(ctx, SessionIDKey, sessionID)
	}
	if orgID != "" {
		ctx = context.WithValue(ctx, OrgIDKey, orgID)
	}
	if agentID != "" {
		ctx = context.WithValue(ctx, AgentIDKey, agentID)
	}
	if channel != "" {
		ctx = context.WithValue(ctx, ChannelKey, channel)
	}
	return ctx
}
