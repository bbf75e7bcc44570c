package logic

import (
	"fmt"
	"time"

	"github.com/infinityCounter2/vh-surveil/internal/models"
)

type QuoteStuffingParams struct {
	// Window is how far back from the newest event a user's
	// orders are counted.
	//
	// Defaults to 3s.
	Window time.Duration
	// MaxOrders is the number of new orders in the window
	// that must be exceeded to flag.
	//
	// Defaults to 15.
	MaxOrders int
	// CancelRatio is the cancels to new orders ratio that
	// must be exceeded to flag.
	//
	// Defaults to 0.8.
	CancelRatio float64
}

// QuoteStuffingDetector flags users flooding the book with orders
// they mostly cancel.
type QuoteStuffingDetector struct {
	p     QuoteStuffingParams
	store *WindowStore
}

func NewQuoteStuffingDetector(p QuoteStuffingParams) *QuoteStuffingDetector {
	if p.Window <= 0 {
		p.Window = 3 * time.Second
	}
	if p.MaxOrders <= 0 {
		p.MaxOrders = 15
	}
	if p.CancelRatio <= 0 {
		p.CancelRatio = 0.8
	}

	return &QuoteStuffingDetector{
		p:     p,
		store: NewWindowStore(WindowStoreParams{Policy: TimeBound(p.Window.Milliseconds())}),
	}
}

func (d *QuoteStuffingDetector) Name() string {
	return string(models.AlertTypeQuoteStuffing)
}

func (d *QuoteStuffingDetector) Requires() models.FieldMask {
	return models.FieldTimestamp | models.FieldUserID
}

func (d *QuoteStuffingDetector) Key(ev models.OrderEvent) string {
	return ev.UserID
}

func (d *QuoteStuffingDetector) Store() *WindowStore {
	return d.store
}

// orderCounts buckets a window by order type.
type orderCounts struct {
	newOrders int
	cancels   int
	// executes is counted but plays no part in the rule.
	executes int
}

func countOrders(window Window) orderCounts {
	var c orderCounts
	for ev := range window.Events() {
		switch {
		case ev.OrderType.IsNewOrder():
			c.newOrders++
		case ev.OrderType == models.OrderTypeCancel:
			c.cancels++
		case ev.OrderType == models.OrderTypeExecute:
			c.executes++
		}
	}
	return c
}

func (d *QuoteStuffingDetector) Process(ev models.OrderEvent) (models.Alert, bool) {
	window := d.store.Record(ev.UserID, ev)
	c := countOrders(window)

	highOrderRate := c.newOrders > d.p.MaxOrders
	highCancelRatio := c.newOrders > 0 && float64(c.cancels) > d.p.CancelRatio*float64(c.newOrders)
	if !highOrderRate || !highCancelRatio {
		return models.Alert{}, false
	}

	return models.Alert{
		Type:      models.AlertTypeQuoteStuffing,
		UserID:    ev.UserID,
		Symbol:    ev.Symbol,
		OrderID:   ev.OrderID,
		Timestamp: ev.Timestamp,
		Evidence: fmt.Sprintf("Too many orders in short window (%d orders in %dms: %d new, %d cancels)",
			window.Len(), d.p.Window.Milliseconds(), c.newOrders, c.cancels),
	}, true
}
