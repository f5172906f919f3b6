package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/hookline/internal/domain"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type requestIDKey struct{}

// NewLogger builds the JSON production logger shared by every hookline
// process. component is attached to every entry.
func NewLogger(level string, component string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	opts := []zap.Option{zap.AddCaller()}
	if component = strings.TrimSpace(component); component != "" {
		opts = append(opts, zap.Fields(zap.String("component", component)))
	}

	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	requestID, ok := ctx.Value(requestIDKey{}).(string)
	if !ok || requestID == "" {
		return "", false
	}
	return requestID, true
}

// WithContextLogger decorates logger with the request id and the active
// trace id found in ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	var fields []zap.Field
	if requestID, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, zap.String("requestId", requestID))
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			fields = append(fields, zap.String("traceId", sc.TraceID().String()))
		}
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// TaskFields are the log fields identifying a queue task.
func TaskFields(task domain.QueueTask) []zap.Field {
	switch t := task.(type) {
	case domain.MessageTask:
		return []zap.Field{
			zap.String("taskType", string(t.Kind())),
			zap.String("msgId", t.MsgID),
			zap.String("appId", t.AppID),
			zap.String("endpointId", t.EndpointID),
			zap.Int("attemptCount", t.AttemptCount),
			zap.Stringer("trigger", t.TriggerType),
		}
	case domain.MessageBatchTask:
		return []zap.Field{
			zap.String("taskType", string(t.Kind())),
			zap.String("msgId", t.MsgID),
			zap.String("appId", t.AppID),
			zap.Stringer("trigger", t.TriggerType),
		}
	case nil:
		return nil
	default:
		return []zap.Field{zap.String("taskType", string(t.Kind()))}
	}
}
