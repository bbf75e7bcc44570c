package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/infinityCounter2/vh-surveil/internal/logic"
	"github.com/infinityCounter2/vh-surveil/internal/metrics"
	"github.com/infinityCounter2/vh-surveil/internal/models"
)

// Source yields raw order envelopes. Poll reports false with a nil error
// when nothing arrived within timeout.
type Source interface {
	Poll(ctx context.Context, timeout time.Duration) ([]byte, bool, error)
}

// Sink receives alerts. Delivery is best effort and never reported back.
type Sink interface {
	Publish(alert models.Alert)
}

type RunnerParams struct {
	Detector logic.Detector
	Source   Source
	Sink     Sink
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	// PollTimeout bounds each wait for the next message.
	//
	// Defaults to 1s.
	PollTimeout time.Duration
	// ErrorBackoff is how long to wait after a failed poll.
	//
	// Defaults to 100ms.
	ErrorBackoff time.Duration
}

// Runner feeds one detector from one source, one event at a time.
type Runner struct {
	p      RunnerParams
	logger *zap.Logger
}

func NewRunner(p RunnerParams) *Runner {
	if p.PollTimeout <= 0 {
		p.PollTimeout = time.Second
	}
	if p.ErrorBackoff <= 0 {
		p.ErrorBackoff = 100 * time.Millisecond
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New(prometheus.NewRegistry())
	}

	return &Runner{
		p:      p,
		logger: p.Logger.Named(p.Detector.Name()),
	}
}

// Run consumes until ctx is done. Poll errors are logged and retried,
// they never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Detector started", zap.String("window", r.p.Detector.Store().Policy().String()))

	for {
		if ctx.Err() != nil {
			r.logger.Info("Detector stopped")
			return nil
		}

		raw, ok, err := r.p.Source.Poll(ctx, r.p.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.logger.Error("Failed to poll for order events", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(r.p.ErrorBackoff):
			}
			continue
		}
		if !ok {
			continue
		}

		r.Handle(raw)
	}
}

// Handle decodes one envelope and runs it through the detector.
// Envelopes that fail to decode are skipped without touching any window.
func (r *Runner) Handle(raw []byte) (models.Alert, bool) {
	name := r.p.Detector.Name()

	ev, err := models.DecodeOrderEvent(raw, r.p.Detector.Requires())
	if err != nil {
		r.logger.Warn("Skipping order event", zap.Error(err), zap.ByteString("payload", raw))
		r.p.Metrics.EventsRejected.WithLabelValues(name, RejectReason(err)).Inc()
		return models.Alert{}, false
	}

	return Evaluate(r.p.Detector, ev, r.p.Sink, r.logger, r.p.Metrics)
}

// Evaluate runs an already decoded event through d and publishes any
// resulting alert to sink. Callers serialise calls per detector.
func Evaluate(d logic.Detector, ev models.OrderEvent, sink Sink, logger *zap.Logger, m *metrics.Metrics) (models.Alert, bool) {
	name := d.Name()
	key := d.Key(ev)

	alert, fired := d.Process(ev)
	m.EventsProcessed.WithLabelValues(name).Inc()
	m.WindowKeys.WithLabelValues(name).Set(float64(d.Store().Len()))

	logger.Debug("Order event evaluated",
		zap.String("key", key),
		zap.String("order_id", ev.OrderID),
		zap.String("order_type", string(ev.OrderType)),
		zap.Int("window", d.Store().Size(key)),
		zap.Bool("alert", fired),
	)

	if !fired {
		return models.Alert{}, false
	}

	m.Alerts.WithLabelValues(name).Inc()
	sink.Publish(alert)

	return alert, true
}

// RejectReason maps a decode error onto a metrics label.
func RejectReason(err error) string {
	if errors.Is(err, models.ErrMissingField) {
		return metrics.ReasonMissingField
	}
	return metrics.ReasonDecode
}
