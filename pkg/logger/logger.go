package logger

import (
	"io"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

type LogFields map[string]interface{}

type Logger interface {
	WithFields(fields LogFields) Logger

	Info(action, message string)
	Debug(action, message string)
	Warn(action, message string)
	Error(action string, err error)
}

// zapLogger writes entries in the service log schema:
// timestamp, level, service, action, message, hostname and, when present,
// request_id, session_id, error{msg,stack} and a free-form fields object.
type zapLogger struct {
	base       *zap.Logger
	baseFields LogFields
}

// NewLogger creates a new structured JSON logger for a specific service.
func NewLogger(serviceName string) Logger {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))
	return NewWithWriter(serviceName, os.Stdout, level)
}

// NewWithWriter builds a logger writing JSON lines to w at or above minLevel.
func NewWithWriter(serviceName string, w io.Writer, minLevel LogLevel) Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zapLevel(minLevel),
	)

	base := zap.New(core).With(
		zap.String("service", serviceName),
		zap.String("hostname", host),
	)

	return &zapLogger{
		base:       base,
		baseFields: make(LogFields),
	}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() Logger {
	return &zapLogger{base: zap.NewNop(), baseFields: make(LogFields)}
}

// ParseLevel maps LOG_LEVEL values onto a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func zapLevel(l LogLevel) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithFields creates a new logger instance that inherits the base fields
// and adds the new fields.
func (l *zapLogger) WithFields(fields LogFields) Logger {
	newFields := make(LogFields, len(l.baseFields)+len(fields))
	for k, v := range l.baseFields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &zapLogger{
		base:       l.base,
		baseFields: newFields,
	}
}

func (l *zapLogger) Info(action, message string) {
	l.base.Info(message, l.fields(action)...)
}

func (l *zapLogger) Debug(action, message string) {
	l.base.Debug(message, l.fields(action)...)
}

func (l *zapLogger) Warn(action, message string) {
	l.base.Warn(message, l.fields(action)...)
}

// Error logs an error, including a trimmed stack trace.
func (l *zapLogger) Error(action string, err error) {
	if err == nil {
		return
	}
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	fields := append(l.fields(action), zap.Dict("error",
		zap.String("msg", err.Error()),
		zap.String("stack", cleanStack(string(buf[:n]))),
	))
	l.base.Error(err.Error(), fields...)
}

func (l *zapLogger) fields(action string) []zap.Field {
	out := make([]zap.Field, 0, len(l.baseFields)+2)
	out = append(out, zap.String("action", action))

	extra := make([]zap.Field, 0, len(l.baseFields))
	for k, v := range l.baseFields {
		switch k {
		case "request_id", "session_id":
			if s, ok := v.(string); ok {
				out = append(out, zap.String(k, s))
				continue
			}
		}
		extra = append(extra, zap.Any(k, v))
	}
	if len(extra) > 0 {
		out = append(out, zap.Dict("fields", extra...))
	}
	return out
}

// cleanStack simplifies the stack trace, removing Go internals.
func cleanStack(stack string) string {
	lines := strings.Split(stack, "\n")
	var cleaned []string

	if len(lines) > 0 {
		cleaned = append(cleaned, lines[0])
	}

	for i := 1; i < len(lines); i += 2 {
		if i+1 >= len(lines) {
			break
		}

		funcName := lines[i]
		filePath := lines[i+1]

		if strings.HasPrefix(funcName, "runtime.") ||
			strings.HasPrefix(funcName, "testing.") ||
			strings.Contains(funcName, "logger.") ||
			strings.Contains(filePath, "runtime/panic.go") {
			continue
		}

		cleaned = append(cleaned, funcName)
		cleaned = append(cleaned, "    "+strings.TrimSpace(filePath))
	}

	return strings.Join(cleaned, "\n")
}
