package events

import (
	"context"

	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/observability"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ZapAuditLogger writes audit events as structured log lines
type ZapAuditLogger struct {
	logger *zap.Logger
}

// NewZapAuditLogger creates an audit logger. A nil logger falls back to the service logger.
func NewZapAuditLogger(logger *zap.Logger) domain.AuditLogger {
	return &ZapAuditLogger{logger: logger}
}

// LogEvent implements domain.AuditLogger
func (l *ZapAuditLogger) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	logger := l.logger
	if logger == nil {
		logger = observability.GetLogger(ctx)
	}

	fields := []zap.Field{
		zap.String("event_type", string(event.EventType)),
		zap.Bool("success", event.Success),
		zap.Time("event_time", event.Timestamp),
	}
	if event.Identifier != "" {
		fields = append(fields, zap.String("identifier", maskIdentifier(event.Identifier)))
	}
	if event.ProfileID != "" {
		fields = append(fields, zap.String("profile_id", event.ProfileID))
	}
	if event.DeviceID != "" {
		fields = append(fields, zap.String("device_id", event.DeviceID))
	}
	if event.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", event.UserAgent))
	}
	if event.ErrorMsg != "" {
		fields = append(fields, zap.String("error", event.ErrorMsg))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	if event.Success {
		logger.Info("audit", fields...)
	} else {
		logger.Warn("audit", fields...)
	}
	return nil
}

// maskIdentifier keeps the last four digits of a mobile number
func maskIdentifier(identifier string) string {
	if len(identifier) <= 4 {
		return identifier
	}
	masked := make([]byte, len(identifier))
	for i := range masked {
		if i < len(identifier)-4 {
			masked[i] = '*'
		} else {
			masked[i] = identifier[i]
		}
	}
	return string(masked)
}

// MultiAuditLogger fans an event out to several loggers
type MultiAuditLogger []domain.AuditLogger

// LogEvent implements domain.AuditLogger. Every logger is called even if one fails.
func (m MultiAuditLogger) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	var err error
	for _, l := range m {
		err = multierr.Append(err, l.LogEvent(ctx, event))
	}
	return err
}
