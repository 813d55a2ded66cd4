package audithook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// LogRecorder writes each event as one structured log record. Critical
// events are logged at Error, warnings at Warn, the rest at Info.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// StreamRecorder appends each event to the Redis stream key, trimmed to
// maxLen entries. A maxLen of zero leaves the stream unbounded. jobqctl
// reads "<key prefix>:audit" by default.
func StreamRecorder(client goredis.UniversalClient, key string, maxLen int64) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		meta, err := json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("audit_hook: encode metadata: %w", err)
		}
		args := &goredis.XAddArgs{
			Stream: key,
			MaxLen: maxLen,
			Values: map[string]any{
				"action":      evt.Action,
				"resource":    evt.Resource,
				"resource_id": evt.ResourceID,
				"category":    evt.Category,
				"outcome":     evt.Outcome,
				"severity":    evt.Severity,
				"reason":      evt.Reason,
				"metadata":    string(meta),
				"at":          evt.At.UnixMilli(),
			},
		}
		if err := client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("audit_hook: xadd %s: %w", key, err)
		}
		return nil
	})
}
