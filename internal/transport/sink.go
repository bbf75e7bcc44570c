package transport

import (
	"go.uber.org/zap"

	"github.com/infinityCounter2/vh-surveil/internal/models"
)

// AlertPublisher is anything alerts can be handed to.
type AlertPublisher interface {
	Publish(alert models.Alert)
}

// LogSink writes every alert to the log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(alert models.Alert) {
	fields := []zap.Field{
		zap.String("alert_type", string(alert.Type)),
		zap.String("key", alert.Key()),
		zap.String("order_id", alert.OrderID),
		zap.Int64("timestamp", alert.Timestamp),
		zap.String("evidence", alert.Evidence),
	}
	if alert.Type == models.AlertTypePriceDeviation {
		fields = append(fields, zap.Float64("price", alert.Price))
	}

	s.logger.Info("Alert raised", fields...)
}

// MultiSink hands each alert to every sink in order.
type MultiSink []AlertPublisher

func (m MultiSink) Publish(alert models.Alert) {
	for _, s := range m {
		s.Publish(alert)
	}
}
