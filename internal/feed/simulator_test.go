package feed

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/infinityCounter2/vh-surveil/internal/logic"
	"github.com/infinityCounter2/vh-surveil/internal/models"
)

func fixedSimulator(p SimulatorParams) *Simulator {
	p.Rand = rand.New(rand.NewPCG(1, 2))
	p.Now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return NewSimulator(p)
}

func TestSimulator_Next(t *testing.T) {
	sim := fixedSimulator(SimulatorParams{Symbols: []string{"AAPL", "MSFT"}, Users: 10})

	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		ev := sim.Next()

		require.True(t, strings.HasPrefix(ev.OrderID, "ORD-"), "OrderID prefix mismatch")
		_, dup := seen[ev.OrderID]
		require.False(t, dup, "Order ids should be unique")
		seen[ev.OrderID] = struct{}{}

		require.Contains(t, []models.OrderType{models.OrderTypeBuy, models.OrderTypeSell, models.OrderTypeCancel}, ev.OrderType, "Unexpected order type")
		require.GreaterOrEqual(t, ev.Price, 100.0, "Price below range")
		require.Less(t, ev.Price, 200.0, "Price above range")
		require.Contains(t, []string{"AAPL", "MSFT"}, ev.Symbol, "Unexpected symbol")
		require.Zero(t, ev.Quantity%100, "Quantity should be a multiple of 100")
		require.True(t, ev.Quantity >= 100 && ev.Quantity <= 1000, "Quantity out of range")
		require.Equal(t, int64(1_700_000_000_000), ev.Timestamp, "Timestamp mismatch")
		require.Contains(t, []string{"user_1000", "user_1001", "user_1002", "user_1003", "user_1004",
			"user_1005", "user_1006", "user_1007", "user_1008", "user_1009"}, ev.UserID, "Unexpected user")
	}
}

func TestSimulator_ExecuteWeight(t *testing.T) {
	sim := fixedSimulator(SimulatorParams{ExecuteWeight: 1})

	for i := 0; i < 20; i++ {
		require.Equal(t, models.OrderTypeExecute, sim.Next().OrderType, "Every order should be an EXECUTE")
	}
}

func TestSimulator_BurstTripsSpoofing(t *testing.T) {
	sim := fixedSimulator(SimulatorParams{})
	d := logic.NewSpoofingDetector(logic.SpoofingParams{})

	fired := false
	for _, ev := range sim.Burst("user_42", 3, models.OrderTypeCancel) {
		require.Equal(t, "user_42", ev.UserID, "Burst user mismatch")
		_, fired = d.Process(ev)
	}
	require.True(t, fired, "Three cancels in one instant should be flagged")
}

type countingProducer struct {
	mtx    sync.Mutex
	orders []models.OrderEvent
	cancel context.CancelFunc
	limit  int
}

func (c *countingProducer) Send(_ context.Context, orders ...models.OrderEvent) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.orders = append(c.orders, orders...)
	if len(c.orders) >= c.limit {
		c.cancel()
	}
	return nil
}

func TestSimulator_Run(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	producer := &countingProducer{cancel: cancel, limit: 3}
	sim := NewSimulator(SimulatorParams{Interval: time.Millisecond})

	require.NoError(t, sim.Run(ctx, producer, zap.NewNop()), "Run should stop cleanly")
	require.GreaterOrEqual(t, len(producer.orders), 3, "Expected at least three orders")
}
