package feed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infinityCounter2/vh-surveil/internal/models"
)

// Producer delivers generated orders to the order feed.
type Producer interface {
	Send(ctx context.Context, orders ...models.OrderEvent) error
}

type SimulatorParams struct {
	// Symbols generated orders are spread across.
	//
	// Defaults to AAPL, MSFT, GOOG, TSLA, AMZN.
	Symbols []string
	// Users is the size of the user id pool, ids run from
	// user_1000 upwards.
	//
	// Defaults to 9000.
	Users int
	// ExecuteWeight is the chance an order is an EXECUTE rather than
	// one of BUY/SELL/CANCEL.
	ExecuteWeight float64
	// Interval between generated orders.
	//
	// Defaults to 500ms.
	Interval time.Duration

	// Rand and Now are overridable for tests.
	Rand *rand.Rand
	Now  func() time.Time
}

// Simulator generates a random order feed.
type Simulator struct {
	p SimulatorParams
}

func NewSimulator(p SimulatorParams) *Simulator {
	if len(p.Symbols) == 0 {
		p.Symbols = []string{"AAPL", "MSFT", "GOOG", "TSLA", "AMZN"}
	}
	if p.Users <= 0 {
		p.Users = 9000
	}
	if p.Interval <= 0 {
		p.Interval = 500 * time.Millisecond
	}
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	return &Simulator{p: p}
}

var baseTypes = []models.OrderType{models.OrderTypeBuy, models.OrderTypeSell, models.OrderTypeCancel}

// Next returns a random order stamped with the current time.
func (s *Simulator) Next() models.OrderEvent {
	r := s.p.Rand

	typ := baseTypes[r.IntN(len(baseTypes))]
	if s.p.ExecuteWeight > 0 && r.Float64() < s.p.ExecuteWeight {
		typ = models.OrderTypeExecute
	}

	return models.OrderEvent{
		OrderID:   "ORD-" + uuid.NewString(),
		OrderType: typ,
		// 100.0 to 199.9 in 0.1 steps.
		Price:     100.0 + float64(r.IntN(1000))/10.0,
		Symbol:    s.p.Symbols[r.IntN(len(s.p.Symbols))],
		Quantity:  int64(r.IntN(10)+1) * 100,
		Timestamp: s.p.Now().UnixMilli(),
		UserID:    fmt.Sprintf("user_%d", 1000+r.IntN(s.p.Users)),
	}
}

// Burst returns n orders of one type for a single user sharing a
// timestamp, enough to trip the per-user detectors on demand.
func (s *Simulator) Burst(user string, n int, typ models.OrderType) []models.OrderEvent {
	ts := s.p.Now().UnixMilli()
	orders := make([]models.OrderEvent, n)
	for i := range orders {
		ev := s.Next()
		ev.UserID = user
		ev.OrderType = typ
		ev.Timestamp = ts
		orders[i] = ev
	}
	return orders
}

// Run sends one order per interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, producer Producer, logger *zap.Logger) error {
	ticker := time.NewTicker(s.p.Interval)
	defer ticker.Stop()

	logger.Info("Feed simulator started", zap.Duration("interval", s.p.Interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			order := s.Next()
			if err := producer.Send(ctx, order); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("Failed to send order", zap.Error(err))
				continue
			}
			logger.Debug("Order sent",
				zap.String("order_id", order.OrderID),
				zap.String("order_type", string(order.OrderType)),
				zap.String("user_id", order.UserID),
				zap.String("symbol", order.Symbol),
			)
		}
	}
}
